// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// StreamID identifies one SSE stream within a session.
type StreamID = string

// EventID identifies one event within a stream. Event IDs are opaque to
// clients but ordered within their stream.
type EventID = string

// EventStore persists outbound SSE events so a client reconnecting with
// Last-Event-ID can be replayed everything it missed. Events must be stored
// before they are written to the wire.
type EventStore interface {
	// StoreEvent persists a message on the given stream and returns the
	// event ID to put on the wire.
	StoreEvent(ctx context.Context, streamID StreamID, msg JSONRPCMessage) (EventID, error)

	// ReplayEventsAfter sends every stored event of lastEventID's stream
	// that follows lastEventID, in order, and returns the stream ID so the
	// caller can attach to the live stream.
	ReplayEventsAfter(ctx context.Context, lastEventID EventID, send func(EventID, JSONRPCMessage) error) (StreamID, error)
}

// formatEventID renders the canonical <streamID>_<index> event ID.
func formatEventID(streamID StreamID, index int) EventID {
	return fmt.Sprintf("%s_%d", streamID, index)
}

// parseEventID splits an event ID into stream ID and index.
func parseEventID(eventID EventID) (StreamID, int, error) {
	idx := strings.LastIndex(eventID, "_")
	if idx <= 0 {
		return "", 0, fmt.Errorf("invalid event id %q", eventID)
	}
	index, err := strconv.Atoi(eventID[idx+1:])
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("invalid event id %q", eventID)
	}
	return eventID[:idx], index, nil
}

// storedEvent is one persisted event inside the memory store.
type storedEvent struct {
	index int
	data  json.RawMessage
}

// MemoryEventStore is an in-memory EventStore with a per-stream cap. When a
// stream exceeds the cap its oldest events are dropped; replays that reach
// into the dropped range fail, which surfaces to the client as a failed
// resume rather than a silent gap.
type MemoryEventStore struct {
	mu        sync.Mutex
	streams   map[StreamID][]storedEvent
	nextIndex map[StreamID]int
	maxEvents int
}

// defaultMaxEventsPerStream caps retained events per stream.
const defaultMaxEventsPerStream = 256

// MemoryEventStoreOption configures a MemoryEventStore.
type MemoryEventStoreOption func(*MemoryEventStore)

// WithMaxEventsPerStream sets the per-stream retention cap.
func WithMaxEventsPerStream(n int) MemoryEventStoreOption {
	return func(s *MemoryEventStore) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore(opts ...MemoryEventStoreOption) *MemoryEventStore {
	s := &MemoryEventStore{
		streams:   make(map[StreamID][]storedEvent),
		nextIndex: make(map[StreamID]int),
		maxEvents: defaultMaxEventsPerStream,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreEvent implements EventStore.
func (s *MemoryEventStore) StoreEvent(ctx context.Context, streamID StreamID, msg JSONRPCMessage) (EventID, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.nextIndex[streamID]
	s.nextIndex[streamID] = index + 1

	events := append(s.streams[streamID], storedEvent{index: index, data: data})
	if len(events) > s.maxEvents {
		events = events[len(events)-s.maxEvents:]
	}
	s.streams[streamID] = events

	return formatEventID(streamID, index), nil
}

// ReplayEventsAfter implements EventStore.
func (s *MemoryEventStore) ReplayEventsAfter(ctx context.Context, lastEventID EventID, send func(EventID, JSONRPCMessage) error) (StreamID, error) {
	streamID, lastIndex, err := parseEventID(lastEventID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	events, ok := s.streams[streamID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("unknown stream for event id %q", lastEventID)
	}
	// Copy under lock; send callbacks may block on the network.
	var replay []storedEvent
	for _, event := range events {
		if event.index > lastIndex {
			replay = append(replay, event)
		}
	}
	if len(events) > 0 && events[0].index > lastIndex+1 {
		s.mu.Unlock()
		return "", fmt.Errorf("events after %q already evicted", lastEventID)
	}
	s.mu.Unlock()

	for _, event := range replay {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := send(formatEventID(streamID, event.index), json.RawMessage(event.data)); err != nil {
			return "", err
		}
	}
	return streamID, nil
}

// DropStream forgets all events of a stream, typically once its session ends.
func (s *MemoryEventStore) DropStream(streamID StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamID)
	delete(s.nextIndex, streamID)
}
