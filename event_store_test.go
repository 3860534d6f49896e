// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventID(t *testing.T) {
	stream, index, err := parseEventID("stream-a_7")
	require.NoError(t, err)
	assert.Equal(t, "stream-a", stream)
	assert.Equal(t, 7, index)

	// Stream IDs may themselves contain underscores.
	stream, index, err = parseEventID("a_b_12")
	require.NoError(t, err)
	assert.Equal(t, "a_b", stream)
	assert.Equal(t, 12, index)

	for _, bad := range []string{"", "noindex", "_5", "stream_", "stream_-1", "stream_x"} {
		_, _, err := parseEventID(bad)
		require.Error(t, err, "event id %q should be rejected", bad)
	}
}

func TestMemoryEventStoreReplay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	var ids []EventID
	for i := 0; i < 5; i++ {
		id, err := store.StoreEvent(ctx, "stream-a", NewJSONRPCNotification(Notification{Method: "test/event"}))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var replayed []EventID
	streamID, err := store.ReplayEventsAfter(ctx, ids[1], func(id EventID, msg JSONRPCMessage) error {
		replayed = append(replayed, id)
		raw, ok := msg.(json.RawMessage)
		require.True(t, ok)
		assert.True(t, json.Valid(raw))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stream-a", streamID)
	assert.Equal(t, ids[2:], replayed)
}

func TestMemoryEventStoreReplayFromTail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	var last EventID
	for i := 0; i < 3; i++ {
		var err error
		last, err = store.StoreEvent(ctx, "stream-a", NewJSONRPCNotification(Notification{Method: "test/event"}))
		require.NoError(t, err)
	}

	count := 0
	_, err := store.ReplayEventsAfter(ctx, last, func(EventID, JSONRPCMessage) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryEventStoreStreamsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	idA, err := store.StoreEvent(ctx, "stream-a", NewJSONRPCNotification(Notification{Method: "a"}))
	require.NoError(t, err)
	_, err = store.StoreEvent(ctx, "stream-b", NewJSONRPCNotification(Notification{Method: "b"}))
	require.NoError(t, err)
	_, err = store.StoreEvent(ctx, "stream-a", NewJSONRPCNotification(Notification{Method: "a"}))
	require.NoError(t, err)

	var replayed []EventID
	streamID, err := store.ReplayEventsAfter(ctx, idA, func(id EventID, msg JSONRPCMessage) error {
		replayed = append(replayed, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stream-a", streamID)
	require.Len(t, replayed, 1)
	assert.Equal(t, formatEventID("stream-a", 1), replayed[0])
}

func TestMemoryEventStoreEvictionBreaksReplay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore(WithMaxEventsPerStream(4))

	var first EventID
	for i := 0; i < 10; i++ {
		id, err := store.StoreEvent(ctx, "stream-a", NewJSONRPCNotification(Notification{Method: "test/event"}))
		require.NoError(t, err)
		if i == 0 {
			first = id
		}
	}

	// The requested resume point fell out of the retention window; failing
	// loudly beats silently skipping events.
	_, err := store.ReplayEventsAfter(ctx, first, func(EventID, JSONRPCMessage) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evicted")
}

func TestMemoryEventStoreUnknownStream(t *testing.T) {
	_, err := NewMemoryEventStore().ReplayEventsAfter(context.Background(), "ghost_0",
		func(EventID, JSONRPCMessage) error { return nil })
	require.Error(t, err)
}

func TestMemoryEventStoreDropStream(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	id, err := store.StoreEvent(ctx, "stream-a", NewJSONRPCNotification(Notification{Method: "test/event"}))
	require.NoError(t, err)

	store.DropStream("stream-a")
	_, err = store.ReplayEventsAfter(ctx, id, func(EventID, JSONRPCMessage) error { return nil })
	require.Error(t, err)
}

func TestMemoryEventStoreSendFailureStopsReplay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore()

	var first EventID
	for i := 0; i < 3; i++ {
		id, err := store.StoreEvent(ctx, "stream-a", NewJSONRPCNotification(Notification{Method: "test/event"}))
		require.NoError(t, err)
		if i == 0 {
			first = id
		}
	}

	calls := 0
	_, err := store.ReplayEventsAfter(ctx, first, func(EventID, JSONRPCMessage) error {
		calls++
		return fmt.Errorf("connection gone")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
