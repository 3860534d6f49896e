// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/streamkit/mcp-go/internal/retry"
)

// reconnectMaxElapsed bounds the exponential backoff used when re-attaching a
// dropped SSE stream.
const reconnectMaxElapsed = 30 * time.Second

// StreamableHTTPClientTransport talks to a streamable HTTP MCP server. It
// POSTs outbound messages, consumes JSON or SSE response bodies, maintains the
// standalone GET stream and resumes dropped streams via Last-Event-ID.
type StreamableHTTPClientTransport struct {
	transportHandlers

	serverURL  *url.URL
	httpClient *http.Client
	headers    http.Header
	logger     Logger

	// enableGetSSE controls the standalone GET stream.
	enableGetSSE bool

	// retryConfig, when set, retries transient POST failures.
	retryConfig *retry.Config

	mu              sync.Mutex
	sessionID       string
	protocolVersion string
	started         bool
	closed          bool

	// done stops the standalone stream loop.
	done chan struct{}
}

// ClientTransportOption configures a StreamableHTTPClientTransport.
type ClientTransportOption func(*StreamableHTTPClientTransport)

// WithTransportHTTPClient sets the HTTP client used for all requests.
func WithTransportHTTPClient(client *http.Client) ClientTransportOption {
	return func(t *StreamableHTTPClientTransport) {
		t.httpClient = client
	}
}

// WithTransportHeaders sets headers applied to every request.
func WithTransportHeaders(headers http.Header) ClientTransportOption {
	return func(t *StreamableHTTPClientTransport) {
		for k, v := range headers {
			t.headers[k] = v
		}
	}
}

// WithTransportGetSSE toggles the standalone GET stream.
func WithTransportGetSSE(enabled bool) ClientTransportOption {
	return func(t *StreamableHTTPClientTransport) {
		t.enableGetSSE = enabled
	}
}

// WithTransportRetry enables retry of transient POST failures.
func WithTransportRetry(config *retry.Config) ClientTransportOption {
	return func(t *StreamableHTTPClientTransport) {
		t.retryConfig = config
	}
}

// WithTransportLogger sets the transport logger.
func WithTransportLogger(logger Logger) ClientTransportOption {
	return func(t *StreamableHTTPClientTransport) {
		t.logger = logger
	}
}

// NewStreamableHTTPClientTransport creates a transport for the given endpoint
// URL.
func NewStreamableHTTPClientTransport(serverURL string, options ...ClientTransportOption) (*StreamableHTTPClientTransport, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	t := &StreamableHTTPClientTransport{
		serverURL:    parsed,
		httpClient:   &http.Client{},
		headers:      make(http.Header),
		logger:       GetDefaultLogger(),
		enableGetSSE: true,
		done:         make(chan struct{}),
	}
	for _, option := range options {
		option(t)
	}
	return t, nil
}

// Start implements Transport. The standalone GET stream is attached lazily
// once a session ID exists, so Start itself has nothing to do.
func (t *StreamableHTTPClientTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("transport already started")
	}
	t.started = true
	return nil
}

// SessionID implements Transport.
func (t *StreamableHTTPClientTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// SetProtocolVersion implements Transport. Subsequent requests carry the
// version in the Mcp-Protocol-Version header.
func (t *StreamableHTTPClientTransport) SetProtocolVersion(version string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.protocolVersion = version
}

// newRequest builds an HTTP request with the transport's standing headers.
func (t *StreamableHTTPClientTransport) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.serverURL.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range t.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(headerSessionID, t.sessionID)
	}
	if t.protocolVersion != "" {
		req.Header.Set(headerProtocolVersion, t.protocolVersion)
	}
	t.mu.Unlock()
	return req, nil
}

// Send implements Transport. Messages are POSTed; any messages in the
// response body are dispatched to the protocol layer.
func (t *StreamableHTTPClientTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	var resp *http.Response
	post := func() error {
		req, err := t.newRequest(ctx, http.MethodPost, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentTypeJSON)
		req.Header.Set("Accept", contentTypeJSON+", "+contentTypeSSE)

		r, err := t.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("post failed: %w", err)
		}
		if t.retryConfig != nil && r.StatusCode >= 500 {
			io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return fmt.Errorf("post failed with status %d", r.StatusCode)
		}
		resp = r
		return nil
	}
	if err := retry.Execute(ctx, post, t.retryConfig); err != nil {
		return err
	}

	if sessionID := resp.Header.Get(headerSessionID); sessionID != "" {
		t.mu.Lock()
		hadSession := t.sessionID != ""
		t.sessionID = sessionID
		t.mu.Unlock()
		if !hadSession && t.enableGetSSE {
			go t.runStandaloneStream()
		}
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		resp.Body.Close()
		return nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return ErrSessionTerminated
	case resp.StatusCode >= 400:
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if respErr := parseErrorBody(data); respErr != nil {
			return respErr
		}
		return fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	contentType := strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0])
	switch contentType {
	case contentTypeJSON:
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		messages, err := parseJSONRPCMessages(data)
		if err != nil {
			return fmt.Errorf("parse response body: %w", err)
		}
		for _, m := range messages {
			t.dispatchMessage(m)
		}
		return nil
	case contentTypeSSE:
		// Drain the response stream in the background so Send does not
		// block until the server finishes the batch.
		go t.consumeSSE(resp.Body)
		return nil
	default:
		resp.Body.Close()
		return fmt.Errorf("unexpected response content type %q", contentType)
	}
}

// parseErrorBody extracts a ResponseError from a JSON-RPC error body.
func parseErrorBody(data []byte) *ResponseError {
	var errResp JSONRPCError
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil
	}
	if errResp.Error.Code == 0 && errResp.Error.Message == "" {
		return nil
	}
	return NewResponseError(errResp.Error.Code, errResp.Error.Message, errResp.Error.Data)
}

// consumeSSE reads one SSE body to completion, dispatching each event. When
// the stream dies mid-flight the transport resumes it with Last-Event-ID.
func (t *StreamableHTTPClientTransport) consumeSSE(body io.ReadCloser) {
	var lastEventID string
	err := scanSSEStream(body, func(event sseEvent) error {
		if event.id != "" {
			lastEventID = event.id
		}
		t.handleSSEData(event.data)
		return nil
	})
	body.Close()
	if err != nil && !t.isClosed() && lastEventID != "" {
		t.logger.Debugf("sse stream dropped, resuming after %s: %v", lastEventID, err)
		t.resumeStream(lastEventID)
	}
}

// handleSSEData parses one SSE data payload and dispatches it.
func (t *StreamableHTTPClientTransport) handleSSEData(data string) {
	if data == "" {
		return
	}
	msg, err := parseJSONRPCMessage([]byte(data))
	if err != nil {
		t.dispatchError(fmt.Errorf("parse sse event: %w", err))
		return
	}
	t.dispatchMessage(msg)
}

// resumeStream re-attaches to a dropped stream via GET with Last-Event-ID,
// retrying with exponential backoff.
func (t *StreamableHTTPClientTransport) resumeStream(lastEventID string) {
	operation := func() (struct{}, error) {
		if t.isClosed() {
			return struct{}{}, backoff.Permanent(ErrTransportClosed)
		}
		if err := t.attachGetStream(lastEventID); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}
	if _, err := backoff.Retry(context.Background(), operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(reconnectMaxElapsed)); err != nil {
		if !t.isClosed() {
			t.dispatchError(fmt.Errorf("stream resumption failed: %w", err))
		}
	}
}

// runStandaloneStream maintains the GET stream that carries server-initiated
// messages, reconnecting while the transport stays open.
func (t *StreamableHTTPClientTransport) runStandaloneStream() {
	expBackoff := backoff.NewExponentialBackOff()
	for {
		select {
		case <-t.done:
			return
		default:
		}

		err := t.attachGetStream("")
		if t.isClosed() {
			return
		}
		if err != nil {
			wait := expBackoff.NextBackOff()
			t.logger.Debugf("standalone stream attach failed, retrying in %v: %v", wait, err)
			select {
			case <-t.done:
				return
			case <-time.After(wait):
			}
			continue
		}
		expBackoff.Reset()
	}
}

// attachGetStream opens a GET SSE stream and consumes it until it ends. A
// non-empty lastEventID asks the server to replay missed events first.
func (t *StreamableHTTPClientTransport) attachGetStream(lastEventID string) error {
	req, err := t.newRequest(context.Background(), http.MethodGet, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", contentTypeSSE)
	if lastEventID != "" {
		req.Header.Set(headerLastEventID, lastEventID)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		// The server does not offer a GET stream.
		resp.Body.Close()
		return backoff.Permanent(fmt.Errorf("server rejected GET stream"))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected GET status %d", resp.StatusCode)
	}

	err = scanSSEStream(resp.Body, func(event sseEvent) error {
		t.handleSSEData(event.data)
		return nil
	})
	resp.Body.Close()
	return err
}

func (t *StreamableHTTPClientTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// TerminateSession explicitly ends the server-side session with DELETE.
func (t *StreamableHTTPClientTransport) TerminateSession(ctx context.Context) error {
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	req, err := t.newRequest(ctx, http.MethodDelete, nil)
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("session termination failed with status %d", resp.StatusCode)
	}

	t.mu.Lock()
	t.sessionID = ""
	t.mu.Unlock()
	return nil
}

// Close implements Transport.
func (t *StreamableHTTPClientTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.dispatchClose()
	return nil
}
