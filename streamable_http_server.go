// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// HTTP headers defined by the streamable HTTP transport.
const (
	headerSessionID       = "Mcp-Session-Id"
	headerProtocolVersion = "Mcp-Protocol-Version"
	headerLastEventID     = "Last-Event-ID"
)

const (
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
)

// maxPostBodySize bounds a single POST body.
const maxPostBodySize = 8 << 20

// httpServerConfig carries the transport settings chosen through ServerOption
// functions.
type httpServerConfig struct {
	// stateless disables sessions entirely: every POST is independent,
	// GET and DELETE are rejected.
	stateless bool
	// enableSSE selects SSE responses for POSTs carrying requests. When
	// false the server answers with plain JSON bodies.
	enableSSE bool
	// enableGET allows the standalone GET stream.
	enableGET bool
	// eventStore persists SSE events for resumability. Nil disables resume.
	eventStore EventStore
	// rateLimit, when set, throttles inbound HTTP requests per session.
	// Each session gets its own token bucket.
	rateLimit *sessionRateLimit
	// sessionIDGenerator produces new session IDs.
	sessionIDGenerator func() string
}

// httpServerHandler is the HTTP entry point of a streamable MCP server. It
// owns the session table and routes POST, GET and DELETE to the per-session
// transports.
type httpServerHandler struct {
	config httpServerConfig
	logger Logger

	// newSession builds the server-side session bound to a fresh transport.
	newSession func(t *streamableServerTransport) (*ServerSession, error)
	// onTerminated observes explicit session termination.
	onTerminated func(sessionID string)

	sessions sync.Map // sessionID -> *streamableServerTransport
}

// newHTTPServerHandler creates the HTTP handler with the given config.
func newHTTPServerHandler(config httpServerConfig, logger Logger) *httpServerHandler {
	if config.sessionIDGenerator == nil {
		config.sessionIDGenerator = uuid.NewString
	}
	if logger == nil {
		logger = GetDefaultLogger()
	}
	return &httpServerHandler{config: config, logger: logger}
}

// sessionRateLimit parameterizes the token bucket each session receives.
type sessionRateLimit struct {
	limit rate.Limit
	burst int
}

// ServeHTTP implements http.Handler.
func (h *httpServerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// acceptsBoth reports whether the Accept header admits both JSON and SSE.
func acceptsBoth(r *http.Request) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	return acceptContains(accept, contentTypeJSON) && acceptContains(accept, contentTypeSSE)
}

// acceptContains matches a media type against an Accept header, honoring
// */* and type/* wildcards.
func acceptContains(accept, mediaType string) bool {
	if accept == "" {
		return false
	}
	mainType, subType, _ := strings.Cut(mediaType, "/")
	for _, part := range strings.Split(accept, ",") {
		mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if mt == mediaType || mt == "*/*" || mt == mainType+"/*" || mt == "*/"+subType {
			return true
		}
	}
	return false
}

// writeJSONRPCErrorBody writes a JSON-RPC error object with the given HTTP
// status.
func writeJSONRPCErrorBody(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	body, _ := json.Marshal(newJSONRPCErrorResponse(nil, code, message, nil))
	_, _ = w.Write(body)
}

// lookupSession resolves the session header to a live transport, writing the
// protocol's HTTP error responses on failure.
func (h *httpServerHandler) lookupSession(w http.ResponseWriter, r *http.Request) (*streamableServerTransport, bool) {
	sessionID := r.Header.Get(headerSessionID)
	if sessionID == "" {
		writeJSONRPCErrorBody(w, http.StatusBadRequest, ErrCodeInvalidRequest, "missing Mcp-Session-Id header")
		return nil, false
	}
	value, ok := h.sessions.Load(sessionID)
	if !ok {
		writeJSONRPCErrorBody(w, http.StatusNotFound, ErrCodeInvalidRequest, "session not found")
		return nil, false
	}
	transport := value.(*streamableServerTransport)
	if !h.checkProtocolVersion(w, r, transport) {
		return nil, false
	}
	return transport, true
}

// checkProtocolVersion validates the Mcp-Protocol-Version header against the
// session's negotiated version. An absent header is accepted for
// compatibility with clients of older revisions.
func (h *httpServerHandler) checkProtocolVersion(w http.ResponseWriter, r *http.Request, t *streamableServerTransport) bool {
	header := r.Header.Get(headerProtocolVersion)
	if header == "" {
		return true
	}
	if !isProtocolVersionSupported(header) {
		writeJSONRPCErrorBody(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported protocol version %q", header))
		return false
	}
	negotiated := t.negotiatedVersion()
	if negotiated != "" && header != negotiated {
		writeJSONRPCErrorBody(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			fmt.Sprintf("protocol version mismatch: session uses %q", negotiated))
		return false
	}
	return true
}

// handlePost serves client-to-server messages.
func (h *httpServerHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	if !acceptsBoth(r) {
		writeJSONRPCErrorBody(w, http.StatusNotAcceptable, ErrCodeInvalidRequest,
			"Accept must include application/json and text/event-stream")
		return
	}
	contentType := strings.TrimSpace(strings.SplitN(r.Header.Get("Content-Type"), ";", 2)[0])
	if contentType != contentTypeJSON {
		writeJSONRPCErrorBody(w, http.StatusUnsupportedMediaType, ErrCodeInvalidRequest,
			"Content-Type must be application/json")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPostBodySize))
	if err != nil {
		writeJSONRPCErrorBody(w, http.StatusBadRequest, ErrCodeParse, "failed to read request body")
		return
	}
	messages, err := parseJSONRPCMessages(body)
	if err != nil {
		writeJSONRPCErrorBody(w, http.StatusBadRequest, ErrCodeParse, err.Error())
		return
	}

	isInitialize := false
	for _, msg := range messages {
		if req, ok := msg.(*JSONRPCRequest); ok && req.Method == MethodInitialize {
			isInitialize = true
		}
	}
	if isInitialize && len(messages) > 1 {
		writeJSONRPCErrorBody(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"initialize must be the only message in its batch")
		return
	}
	if isInitialize && !h.config.stateless && r.Header.Get(headerSessionID) != "" {
		writeJSONRPCErrorBody(w, http.StatusBadRequest, ErrCodeInvalidRequest,
			"server already initialized")
		return
	}

	var transport *streamableServerTransport
	switch {
	case h.config.stateless:
		// One throwaway session per POST; no session header is issued.
		ephemeral, err := h.createTransport("")
		if err != nil {
			writeJSONRPCErrorBody(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
		defer func() { _ = ephemeral.Close() }()
		transport = ephemeral
	case isInitialize:
		sessionID := h.config.sessionIDGenerator()
		created, err := h.createTransport(sessionID)
		if err != nil {
			writeJSONRPCErrorBody(w, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
		h.sessions.Store(sessionID, created)
		w.Header().Set(headerSessionID, sessionID)
		transport = created
	default:
		existing, ok := h.lookupSession(w, r)
		if !ok {
			return
		}
		transport = existing
	}

	if !transport.allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	transport.servePOST(w, r, messages)
}

// createTransport builds a transport and binds a fresh server session to it.
func (h *httpServerHandler) createTransport(sessionID string) (*streamableServerTransport, error) {
	transport := newStreamableServerTransport(sessionID, h.config, h.logger)
	if _, err := h.newSession(transport); err != nil {
		return nil, err
	}
	return transport, nil
}

// handleGet serves the standalone SSE stream and resumption.
func (h *httpServerHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if h.config.stateless || !h.config.enableGET {
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !acceptContains(strings.ToLower(r.Header.Get("Accept")), contentTypeSSE) {
		writeJSONRPCErrorBody(w, http.StatusNotAcceptable, ErrCodeInvalidRequest,
			"Accept must include text/event-stream")
		return
	}
	transport, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	if !transport.allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	transport.serveGET(w, r)
}

// handleDelete terminates a session.
func (h *httpServerHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if h.config.stateless {
		w.Header().Set("Allow", "POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	transport, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	h.sessions.Delete(transport.SessionID())
	_ = transport.Close()
	if h.onTerminated != nil {
		h.onTerminated(transport.SessionID())
	}
	w.WriteHeader(http.StatusOK)
}

// activeSessionIDs returns the IDs of all live sessions.
func (h *httpServerHandler) activeSessionIDs() []string {
	var ids []string
	h.sessions.Range(func(key, value interface{}) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

// closeAll tears down every live session, typically on server shutdown.
func (h *httpServerHandler) closeAll() {
	h.sessions.Range(func(key, value interface{}) bool {
		h.sessions.Delete(key)
		_ = value.(*streamableServerTransport).Close()
		if h.onTerminated != nil {
			h.onTerminated(key.(string))
		}
		return true
	})
}

// streamEvent is one queued outbound event.
type streamEvent struct {
	eventID EventID
	data    []byte
}

// httpStream is one logical SSE stream inside a session. Events are queued
// here after being persisted; at most one HTTP consumer drains the queue at
// a time.
type httpStream struct {
	id StreamID

	mu sync.Mutex
	// queue holds events not yet taken by the consumer.
	queue []streamEvent
	// outstanding holds the request ID keys this stream still owes
	// responses for. Empty means a request stream may close.
	outstanding map[string]struct{}
	// consuming is set while an HTTP handler drains this stream.
	consuming bool
	// signal wakes the consumer when events arrive or state changes.
	signal chan struct{}
}

func newHTTPStream(id StreamID) *httpStream {
	return &httpStream{
		id:          id,
		outstanding: make(map[string]struct{}),
		signal:      make(chan struct{}, 1),
	}
}

// wake nudges the consumer without blocking.
func (s *httpStream) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// append queues an event and wakes the consumer.
func (s *httpStream) append(ev streamEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

// settle queues a response event and marks its request id answered in the
// same critical section, so the consumer can never observe the id as settled
// before the event is queued.
func (s *httpStream) settle(key string, ev streamEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	delete(s.outstanding, key)
	s.mu.Unlock()
	s.wake()
}

// abandon marks a request id answered without queueing an event.
func (s *httpStream) abandon(key string) {
	s.mu.Lock()
	delete(s.outstanding, key)
	s.mu.Unlock()
	s.wake()
}

// take drains the queue and reports whether responses are still owed.
func (s *httpStream) take() (events []streamEvent, outstanding int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events = s.queue
	s.queue = nil
	return events, len(s.outstanding)
}

// acquire marks the stream as consumed by one HTTP handler.
func (s *httpStream) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consuming {
		return false
	}
	s.consuming = true
	return true
}

// release frees the stream for a future consumer.
func (s *httpStream) release() {
	s.mu.Lock()
	s.consuming = false
	s.mu.Unlock()
}

// streamableServerTransport is the server half of one streamable HTTP
// session. It implements Transport; the protocol engine on top of it never
// sees HTTP.
type streamableServerTransport struct {
	transportHandlers

	sessionID string
	config    httpServerConfig
	logger    Logger
	// limiter throttles HTTP requests against this session. Nil means
	// no limit.
	limiter *rate.Limiter

	mu sync.Mutex
	// streams maps stream IDs to live streams. The standalone stream is
	// created eagerly so server-initiated messages always have a home.
	streams map[StreamID]*httpStream
	// requestStreams maps inbound request ID keys to the stream their
	// response must be written to.
	requestStreams map[string]StreamID
	standaloneID   StreamID
	version        string
	closed         bool
	done           chan struct{}
}

func newStreamableServerTransport(sessionID string, config httpServerConfig, logger Logger) *streamableServerTransport {
	t := &streamableServerTransport{
		sessionID:      sessionID,
		config:         config,
		logger:         logger,
		streams:        make(map[StreamID]*httpStream),
		requestStreams: make(map[string]StreamID),
		standaloneID:   uuid.NewString(),
		done:           make(chan struct{}),
	}
	if config.rateLimit != nil {
		t.limiter = rate.NewLimiter(config.rateLimit.limit, config.rateLimit.burst)
	}
	t.streams[t.standaloneID] = newHTTPStream(t.standaloneID)
	return t
}

// allow consumes one token from the session's rate limiter.
func (t *streamableServerTransport) allow() bool {
	return t.limiter == nil || t.limiter.Allow()
}

// Start implements Transport. Inbound messages arrive through HTTP handlers,
// so there is nothing to begin here.
func (t *streamableServerTransport) Start(ctx context.Context) error { return nil }

// SessionID implements Transport.
func (t *streamableServerTransport) SessionID() string { return t.sessionID }

// SetProtocolVersion implements Transport.
func (t *streamableServerTransport) SetProtocolVersion(version string) {
	t.mu.Lock()
	t.version = version
	t.mu.Unlock()
}

func (t *streamableServerTransport) negotiatedVersion() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Close implements Transport. All stream consumers unblock and the close
// callback fires.
func (t *streamableServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	streams := make([]*httpStream, 0, len(t.streams))
	for _, s := range t.streams {
		streams = append(streams, s)
	}
	t.mu.Unlock()

	for _, s := range streams {
		s.wake()
	}
	t.dispatchClose()
	return nil
}

// Send implements Transport. Responses are routed to the stream their
// request arrived on; other messages follow the related request from the
// context or fall back to the standalone stream. Events are persisted before
// they are queued for the wire.
func (t *streamableServerTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}

	var stream *httpStream
	var answered string
	switch msg.(type) {
	case *JSONRPCResponse, *JSONRPCError:
		key := requestIDKey(messageRequestID(msg))
		if streamID, ok := t.requestStreams[key]; ok {
			stream = t.streams[streamID]
			delete(t.requestStreams, key)
			// The outstanding entry is cleared together with the queue
			// append below, never earlier. Clearing it here would let a
			// sibling response close the stream while this one is still
			// being persisted.
			answered = key
		}
	default:
		// In JSON response mode only responses ride the POST body, so
		// notifications always fall through to the standalone stream.
		if t.config.enableSSE {
			if related := relatedRequestIDFromContext(ctx); related != nil {
				if streamID, ok := t.requestStreams[requestIDKey(related)]; ok {
					stream = t.streams[streamID]
				}
			}
		}
	}
	if stream == nil {
		stream = t.streams[t.standaloneID]
	}
	t.mu.Unlock()

	if stream == nil {
		return fmt.Errorf("no stream available for message")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	var eventID EventID
	if t.config.eventStore != nil && t.config.enableSSE {
		eventID, err = t.config.eventStore.StoreEvent(ctx, stream.id, json.RawMessage(data))
		if err != nil {
			if answered != "" {
				stream.abandon(answered)
			}
			return fmt.Errorf("persist event: %w", err)
		}
	}
	if answered != "" {
		stream.settle(answered, streamEvent{eventID: eventID, data: data})
	} else {
		stream.append(streamEvent{eventID: eventID, data: data})
	}
	return nil
}

// servePOST handles the messages of one POST and writes the response body.
func (t *streamableServerTransport) servePOST(w http.ResponseWriter, r *http.Request, messages []JSONRPCMessage) {
	var requests []*JSONRPCRequest
	for _, msg := range messages {
		if req, ok := msg.(*JSONRPCRequest); ok {
			requests = append(requests, req)
		}
	}

	// A POST without requests is one-way: deliver and acknowledge.
	if len(requests) == 0 {
		for _, msg := range messages {
			t.dispatchMessage(msg)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	stream := newHTTPStream(uuid.NewString())
	stream.consuming = true
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		writeJSONRPCErrorBody(w, http.StatusNotFound, ErrCodeInvalidRequest, "session terminated")
		return
	}
	t.streams[stream.id] = stream
	for _, req := range requests {
		key := requestIDKey(req.ID)
		t.requestStreams[key] = stream.id
		stream.outstanding[key] = struct{}{}
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.streams, stream.id)
		t.mu.Unlock()
	}()

	for _, msg := range messages {
		t.dispatchMessage(msg)
	}

	if t.config.enableSSE {
		t.streamResponses(w, r, stream)
		return
	}
	t.collectJSONResponses(w, r, stream, len(requests))
}

// streamResponses writes stream events as SSE until every request mapped to
// the stream has been answered.
func (t *streamableServerTransport) streamResponses(w http.ResponseWriter, r *http.Request, stream *httpStream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONRPCErrorBody(w, http.StatusInternalServerError, ErrCodeInternal, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		events, outstanding := stream.take()
		for _, ev := range events {
			if _, err := io.WriteString(w, formatSSEEvent(ev.eventID, "message", ev.data)); err != nil {
				// Client went away. Events persist in the store so a
				// reconnect with Last-Event-ID can resume.
				return
			}
		}
		if len(events) > 0 {
			flusher.Flush()
		}
		if outstanding == 0 {
			// All mapped requests answered; the stream's job is done.
			return
		}
		select {
		case <-stream.signal:
		case <-r.Context().Done():
			return
		case <-t.done:
			return
		}
	}
}

// collectJSONResponses waits until every request of the POST is answered and
// writes a plain JSON body: a single object for one request, an array for a
// batch.
func (t *streamableServerTransport) collectJSONResponses(w http.ResponseWriter, r *http.Request, stream *httpStream, nRequests int) {
	var responses []json.RawMessage
	for {
		events, outstanding := stream.take()
		for _, ev := range events {
			responses = append(responses, json.RawMessage(ev.data))
		}
		if outstanding == 0 && len(responses) >= nRequests {
			break
		}
		select {
		case <-stream.signal:
		case <-r.Context().Done():
			return
		case <-t.done:
			return
		}
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	if nRequests == 1 && len(responses) == 1 {
		_, _ = w.Write(responses[0])
		return
	}
	body, err := json.Marshal(responses)
	if err != nil {
		t.logger.Errorf("marshal batch response: %v", err)
		return
	}
	_, _ = w.Write(body)
}

// serveGET attaches the client to the standalone stream, or resumes an
// existing stream when Last-Event-ID is present.
func (t *streamableServerTransport) serveGET(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONRPCErrorBody(w, http.StatusInternalServerError, ErrCodeInternal, "streaming unsupported")
		return
	}

	lastEventID := r.Header.Get(headerLastEventID)
	streamID := t.standaloneID

	if lastEventID != "" {
		if t.config.eventStore == nil {
			writeJSONRPCErrorBody(w, http.StatusBadRequest, ErrCodeInvalidRequest, "resumability not enabled")
			return
		}
		// Headers must go out before replayed events.
		w.Header().Set("Content-Type", contentTypeSSE)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		var wroteHeader bool
		resumedID, err := t.config.eventStore.ReplayEventsAfter(r.Context(), lastEventID,
			func(eventID EventID, msg JSONRPCMessage) error {
				if !wroteHeader {
					w.WriteHeader(http.StatusOK)
					wroteHeader = true
				}
				data, err := json.Marshal(msg)
				if err != nil {
					return err
				}
				if _, err := io.WriteString(w, formatSSEEvent(eventID, "message", data)); err != nil {
					return err
				}
				flusher.Flush()
				return nil
			})
		if err != nil {
			if !wroteHeader {
				writeJSONRPCErrorBody(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			}
			return
		}
		streamID = resumedID
	}

	t.mu.Lock()
	stream := t.streams[streamID]
	if stream == nil {
		// The original stream is gone (its POST finished); recreate it so
		// late events after the replayed ones can still flow.
		stream = newHTTPStream(streamID)
		t.streams[streamID] = stream
	}
	t.mu.Unlock()

	if !stream.acquire() {
		writeJSONRPCErrorBody(w, http.StatusConflict, ErrCodeInvalidRequest,
			"stream already has an active consumer")
		return
	}
	defer stream.release()

	if lastEventID == "" {
		w.Header().Set("Content-Type", contentTypeSSE)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
	}

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		events, _ := stream.take()
		for _, ev := range events {
			if _, err := io.WriteString(w, formatSSEEvent(ev.eventID, "message", ev.data)); err != nil {
				return
			}
		}
		if len(events) > 0 {
			flusher.Flush()
		}
		select {
		case <-stream.signal:
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-t.done:
			return
		}
	}
}
