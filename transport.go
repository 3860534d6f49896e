// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"sync"
)

// Transport moves JSON-RPC messages between two protocol endpoints. A
// Transport carries exactly one session; callbacks installed through
// SetHandlers fire on an unspecified goroutine.
type Transport interface {
	// Start begins reading messages. It must be called once, after
	// SetHandlers, and before any Send.
	Start(ctx context.Context) error

	// Send transmits a message to the peer. It may be called concurrently.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Close tears the connection down. Pending reads stop and the onClose
	// callback fires. Close is idempotent.
	Close() error

	// SetHandlers installs the message, error and close callbacks. Any of
	// them may be nil.
	SetHandlers(onMessage func(JSONRPCMessage), onError func(error), onClose func())

	// SessionID returns the session identifier once known, or "".
	SessionID() string

	// SetProtocolVersion records the negotiated protocol version so the
	// transport can advertise it on subsequent exchanges.
	SetProtocolVersion(version string)
}

// transportHandlers is embedded by transports to hold their callbacks.
type transportHandlers struct {
	mu        sync.RWMutex
	onMessage func(JSONRPCMessage)
	onError   func(error)
	onClose   func()
}

// SetHandlers implements the Transport callback installation.
func (h *transportHandlers) SetHandlers(onMessage func(JSONRPCMessage), onError func(error), onClose func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = onMessage
	h.onError = onError
	h.onClose = onClose
}

func (h *transportHandlers) dispatchMessage(msg JSONRPCMessage) {
	h.mu.RLock()
	handler := h.onMessage
	h.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

func (h *transportHandlers) dispatchError(err error) {
	h.mu.RLock()
	handler := h.onError
	h.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

func (h *transportHandlers) dispatchClose() {
	h.mu.RLock()
	handler := h.onClose
	h.mu.RUnlock()
	if handler != nil {
		handler()
	}
}

// InMemoryTransport is an in-process Transport wired directly to a peer
// transport. It is mainly used for tests and embedding a server and client in
// the same process.
type InMemoryTransport struct {
	transportHandlers

	peer *InMemoryTransport

	mu              sync.Mutex
	queue           []JSONRPCMessage
	started         bool
	closed          bool
	done            chan struct{}
	sessionID       string
	protocolVersion string
}

// NewInMemoryTransports creates a connected pair of in-memory transports.
// Messages sent on one are delivered to the handlers of the other.
func NewInMemoryTransports() (*InMemoryTransport, *InMemoryTransport) {
	a := &InMemoryTransport{done: make(chan struct{})}
	b := &InMemoryTransport{done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Start implements Transport. Messages queued before Start are flushed to the
// peer in order.
func (t *InMemoryTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.started = true
	queued := t.queue
	t.queue = nil
	t.mu.Unlock()

	for _, msg := range queued {
		t.peer.deliver(msg)
	}
	return nil
}

// Send implements Transport.
func (t *InMemoryTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	if !t.started {
		t.queue = append(t.queue, msg)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	t.peer.deliver(msg)
	return nil
}

// deliver hands a message from the peer to this side's message handler.
func (t *InMemoryTransport) deliver(msg JSONRPCMessage) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.dispatchMessage(msg)
}

// Close implements Transport. Both sides of the pair observe the close.
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.dispatchClose()
	if t.peer != nil {
		t.peer.closeFromPeer()
	}
	return nil
}

func (t *InMemoryTransport) closeFromPeer() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.dispatchClose()
}

// SessionID implements Transport.
func (t *InMemoryTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SetSessionID assigns the session identifier for both sides of the pair.
func (t *InMemoryTransport) SetSessionID(id string) {
	t.mu.Lock()
	t.sessionID = id
	t.mu.Unlock()
}

// SetProtocolVersion implements Transport.
func (t *InMemoryTransport) SetProtocolVersion(version string) {
	t.mu.Lock()
	t.protocolVersion = version
	t.mu.Unlock()
}
