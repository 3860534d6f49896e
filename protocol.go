// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// defaultRequestTimeout bounds outbound requests that carry no explicit
// timeout.
const defaultRequestTimeout = 60 * time.Second

// cancellationSendTimeout bounds the best-effort notifications/cancelled sent
// when a request times out or its context is cancelled.
const cancellationSendTimeout = 5 * time.Second

// ProgressHandler receives progress notifications for a single request.
type ProgressHandler func(params ProgressParams)

// RequestHandler processes an incoming request and returns its result. The
// returned value is wrapped into a JSON-RPC response unless it already is a
// *JSONRPCResponse or *JSONRPCError.
type RequestHandler func(ctx context.Context, req *JSONRPCRequest) (interface{}, error)

// NotificationHandler processes an incoming notification.
type NotificationHandler func(ctx context.Context, notification *JSONRPCNotification) error

// capabilityChecker verifies that the negotiated capabilities permit an
// exchange. Clients and servers install checkers that inspect the remote
// side's advertised capabilities.
type capabilityChecker interface {
	// assertRequestCapability verifies the remote side can serve method.
	assertRequestCapability(method string) error
	// assertNotificationCapability verifies this side may emit method.
	assertNotificationCapability(method string) error
}

// ProtocolOptions configures a Protocol.
type ProtocolOptions struct {
	// EnforceStrictCapabilities makes the protocol reject outbound requests
	// and notifications whose capability was not negotiated. When false,
	// capability checks are skipped and the remote side is trusted to
	// answer with method-not-found.
	EnforceStrictCapabilities bool

	// DefaultTimeout applies to requests without a per-request timeout.
	DefaultTimeout time.Duration

	// Logger overrides the default logger.
	Logger Logger
}

// RequestOptions configures a single outbound request.
type RequestOptions struct {
	// Timeout bounds the wait for a response. Zero uses the protocol default.
	Timeout time.Duration

	// ResetTimeoutOnProgress restarts the timeout clock whenever a progress
	// notification for this request arrives.
	ResetTimeoutOnProgress bool

	// MaxTotalTimeout bounds the request regardless of progress resets.
	// Zero means no total bound.
	MaxTotalTimeout time.Duration

	// OnProgress, when set, requests progress notifications for this request
	// and receives them as they arrive.
	OnProgress ProgressHandler

	// Task, when set, asks the receiver to execute the request as a task.
	// The response is then a CreateTaskResult instead of the method result.
	Task *TaskMetadata
}

// responseEnvelope carries a settled response to the waiting requester.
type responseEnvelope struct {
	result json.RawMessage
	err    *ResponseError
}

// pendingRequest is one outstanding outbound request. There is at most one
// entry per request ID; settling removes it so late duplicates are dropped.
type pendingRequest struct {
	id       RequestID
	method   string
	resultCh chan responseEnvelope
	resets   chan struct{}
}

// relatedRequestIDKey carries the ID of the request being served through the
// context, so messages emitted by handlers can be routed to the right stream.
type relatedRequestIDKey struct{}

// relatedRequestIDFromContext returns the ID of the request the context is
// serving, or nil.
func relatedRequestIDFromContext(ctx context.Context) RequestID {
	return ctx.Value(relatedRequestIDKey{})
}

// Protocol implements JSON-RPC 2.0 request/response correlation on top of a
// Transport. Both sides of a connection run one; requests and notifications
// flow in both directions.
type Protocol struct {
	opts   ProtocolOptions
	logger Logger

	transport Transport
	requestID atomic.Int64
	closed    atomic.Bool

	mu      sync.Mutex
	pending map[string]*pendingRequest
	// progressHandlers is keyed by progress token, which for requests sent
	// by this side equals the request ID.
	progressHandlers map[string]ProgressHandler
	// inflight tracks incoming requests being served. Removing an entry
	// before its handler finishes suppresses the response.
	inflight map[string]context.CancelFunc

	handlersMu                  sync.RWMutex
	requestHandlers             map[string]RequestHandler
	fallbackRequestHandler      RequestHandler
	notificationHandlers        map[string]NotificationHandler
	fallbackNotificationHandler NotificationHandler

	capabilities capabilityChecker

	onClose func()
	onError func(error)
}

// NewProtocol creates a protocol engine. Call Connect to bind it to a
// transport.
func NewProtocol(opts *ProtocolOptions) *Protocol {
	p := &Protocol{
		pending:              make(map[string]*pendingRequest),
		progressHandlers:     make(map[string]ProgressHandler),
		inflight:             make(map[string]context.CancelFunc),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
	}
	if opts != nil {
		p.opts = *opts
	}
	p.logger = p.opts.Logger
	if p.logger == nil {
		p.logger = GetDefaultLogger()
	}
	if p.opts.DefaultTimeout <= 0 {
		p.opts.DefaultTimeout = defaultRequestTimeout
	}
	return p
}

// SetRequestHandler registers a handler for the given method.
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.requestHandlers[method] = handler
}

// SetFallbackRequestHandler registers a handler for methods without a
// dedicated handler.
func (p *Protocol) SetFallbackRequestHandler(handler RequestHandler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.fallbackRequestHandler = handler
}

// SetNotificationHandler registers a handler for the given notification
// method.
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.notificationHandlers[method] = handler
}

// RemoveNotificationHandler removes the handler for the given notification
// method.
func (p *Protocol) RemoveNotificationHandler(method string) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	delete(p.notificationHandlers, method)
}

// SetFallbackNotificationHandler registers a handler for notifications
// without a dedicated handler.
func (p *Protocol) SetFallbackNotificationHandler(handler NotificationHandler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.fallbackNotificationHandler = handler
}

// setCapabilityChecker installs the capability gate used in strict mode.
func (p *Protocol) setCapabilityChecker(checker capabilityChecker) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.capabilities = checker
}

// SetCloseHandler registers a callback invoked when the transport closes.
func (p *Protocol) SetCloseHandler(handler func()) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.onClose = handler
}

// SetErrorHandler registers a callback invoked on transport or dispatch
// errors.
func (p *Protocol) SetErrorHandler(handler func(error)) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.onError = handler
}

// Connect binds the protocol to a transport and starts reading messages.
func (p *Protocol) Connect(ctx context.Context, transport Transport) error {
	p.transport = transport
	transport.SetHandlers(p.handleMessage, p.reportError, p.handleTransportClose)
	return transport.Start(ctx)
}

// Transport returns the bound transport, or nil before Connect.
func (p *Protocol) Transport() Transport {
	return p.transport
}

// Close shuts down the underlying transport. Pending requests fail with a
// connection-closed error.
func (p *Protocol) Close() error {
	if p.transport == nil {
		return nil
	}
	return p.transport.Close()
}

// reportError forwards an error to the installed error handler, or logs it.
func (p *Protocol) reportError(err error) {
	p.handlersMu.RLock()
	handler := p.onError
	p.handlersMu.RUnlock()
	if handler != nil {
		handler(err)
		return
	}
	p.logger.Errorf("protocol error: %v", err)
}

// handleTransportClose settles every pending request with a connection-closed
// error and fires the close handler.
func (p *Protocol) handleTransportClose() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]*pendingRequest)
	inflight := p.inflight
	p.inflight = make(map[string]context.CancelFunc)
	p.mu.Unlock()

	for _, pr := range pending {
		pr.resultCh <- responseEnvelope{
			err: NewResponseError(ErrCodeConnectionClosed, "connection closed", nil),
		}
	}
	for _, cancel := range inflight {
		cancel()
	}

	p.handlersMu.RLock()
	handler := p.onClose
	p.handlersMu.RUnlock()
	if handler != nil {
		handler()
	}
}

// Request sends a request and waits for its response. The raw result is
// returned for the caller to decode. On timeout the request is rejected
// locally and a best-effort notifications/cancelled is sent to the peer.
func (p *Protocol) Request(ctx context.Context, method string, params interface{}, opts *RequestOptions) (json.RawMessage, error) {
	if p.closed.Load() {
		return nil, NewResponseError(ErrCodeConnectionClosed, "connection closed", nil)
	}
	if opts == nil {
		opts = &RequestOptions{}
	}

	p.handlersMu.RLock()
	checker := p.capabilities
	strict := p.opts.EnforceStrictCapabilities
	p.handlersMu.RUnlock()
	if strict && checker != nil {
		if err := checker.assertRequestCapability(method); err != nil {
			return nil, err
		}
	}

	id := p.requestID.Add(1)
	key := requestIDKey(id)

	pr := &pendingRequest{
		id:       id,
		method:   method,
		resultCh: make(chan responseEnvelope, 1),
		resets:   make(chan struct{}, 1),
	}

	if opts.OnProgress != nil {
		params = injectProgressToken(params, id)
	}
	if opts.Task != nil {
		params = injectTaskMetadata(params, opts.Task)
	}

	p.mu.Lock()
	p.pending[key] = pr
	if opts.OnProgress != nil {
		p.progressHandlers[key] = opts.OnProgress
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, key)
		delete(p.progressHandlers, key)
		p.mu.Unlock()
	}()

	req := NewJSONRPCRequest(id, method, params)
	if err := p.transport.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("send request %s: %w", method, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.opts.DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var totalC <-chan time.Time
	if opts.MaxTotalTimeout > 0 {
		totalTimer := time.NewTimer(opts.MaxTotalTimeout)
		defer totalTimer.Stop()
		totalC = totalTimer.C
	}

	for {
		select {
		case env := <-pr.resultCh:
			if env.err != nil {
				return nil, env.err
			}
			return env.result, nil
		case <-pr.resets:
			if opts.ResetTimeoutOnProgress {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(timeout)
			}
		case <-timer.C:
			p.sendCancellation(id, "request timed out")
			return nil, NewResponseError(
				ErrCodeRequestTimeout,
				fmt.Sprintf("request %s timed out after %s", method, timeout),
				map[string]interface{}{"timeoutMs": timeout.Milliseconds()},
			)
		case <-totalC:
			p.sendCancellation(id, "request exceeded maximum total timeout")
			return nil, NewResponseError(
				ErrCodeRequestTimeout,
				fmt.Sprintf("request %s exceeded maximum total timeout %s", method, opts.MaxTotalTimeout),
				map[string]interface{}{"timeoutMs": opts.MaxTotalTimeout.Milliseconds()},
			)
		case <-ctx.Done():
			p.sendCancellation(id, "request cancelled")
			return nil, ctx.Err()
		}
	}
}

// Notification sends a notification to the peer.
func (p *Protocol) Notification(ctx context.Context, method string, params interface{}) error {
	if p.closed.Load() {
		return ErrTransportClosed
	}

	p.handlersMu.RLock()
	checker := p.capabilities
	strict := p.opts.EnforceStrictCapabilities
	p.handlersMu.RUnlock()
	if strict && checker != nil {
		if err := checker.assertNotificationCapability(method); err != nil {
			return err
		}
	}

	notification, err := newNotification(method, params)
	if err != nil {
		return err
	}
	return p.transport.Send(ctx, newJSONRPCNotification(notification))
}

// Progress emits a progress notification for the given token.
func (p *Protocol) Progress(ctx context.Context, token ProgressToken, progress, total float64, message string) error {
	return p.Notification(ctx, MethodNotificationsProgress, &ProgressParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// sendCancellation emits a best-effort notifications/cancelled for a request
// this side gave up on. Failures are logged, never returned.
func (p *Protocol) sendCancellation(id RequestID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancellationSendTimeout)
	defer cancel()
	err := p.Notification(ctx, MethodNotificationsCancelled, &CancelledParams{
		RequestID: id,
		Reason:    reason,
	})
	if err != nil {
		p.logger.Debugf("failed to send cancellation for request %v: %v", id, err)
	}
}

// handleMessage classifies an inbound message and dispatches it.
func (p *Protocol) handleMessage(msg JSONRPCMessage) {
	switch m := msg.(type) {
	case *JSONRPCRequest:
		p.handleIncomingRequest(m)
	case *JSONRPCNotification:
		p.handleIncomingNotification(m)
	case *JSONRPCResponse:
		raw, ok := m.Result.(json.RawMessage)
		if !ok {
			data, err := json.Marshal(m.Result)
			if err != nil {
				p.reportError(fmt.Errorf("marshal response result: %w", err))
				return
			}
			raw = data
		}
		p.settleRequest(m.ID, responseEnvelope{result: raw})
	case *JSONRPCError:
		p.settleRequest(m.ID, responseEnvelope{
			err: NewResponseError(m.Error.Code, m.Error.Message, m.Error.Data),
		})
	default:
		p.reportError(fmt.Errorf("unknown message type %T", msg))
	}
}

// settleRequest delivers a response to the matching pending request. Late or
// duplicate responses find no entry and are dropped.
func (p *Protocol) settleRequest(id RequestID, env responseEnvelope) {
	key := requestIDKey(id)
	p.mu.Lock()
	pr := p.pending[key]
	delete(p.pending, key)
	p.mu.Unlock()

	if pr == nil {
		p.logger.Debugf("dropping response for unknown request id %v", id)
		return
	}
	pr.resultCh <- env
}

// handleIncomingRequest runs the registered handler on its own goroutine and
// sends back the result. A cancellation received while the handler runs
// suppresses the response.
func (p *Protocol) handleIncomingRequest(req *JSONRPCRequest) {
	p.handlersMu.RLock()
	handler := p.requestHandlers[req.Method]
	if handler == nil {
		handler = p.fallbackRequestHandler
	}
	p.handlersMu.RUnlock()

	if handler == nil {
		p.respond(context.Background(), newJSONRPCErrorResponse(
			req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = context.WithValue(ctx, relatedRequestIDKey{}, req.ID)
	key := requestIDKey(req.ID)

	p.mu.Lock()
	p.inflight[key] = cancel
	p.mu.Unlock()

	go func() {
		defer cancel()
		result, err := handler(ctx, req)

		p.mu.Lock()
		_, live := p.inflight[key]
		delete(p.inflight, key)
		p.mu.Unlock()
		if !live {
			// The request was cancelled; nothing may be sent back.
			return
		}

		// The handler context may be done by now; the response still has
		// to go out.
		sendCtx := context.WithoutCancel(ctx)
		if err != nil {
			var data interface{}
			if respErr, ok := err.(*ResponseError); ok {
				data = respErr.Data
			}
			p.respond(sendCtx, newJSONRPCErrorResponse(req.ID, errorCode(err), err.Error(), data))
			return
		}
		switch typed := result.(type) {
		case *JSONRPCResponse:
			p.respond(sendCtx, typed)
		case *JSONRPCError:
			p.respond(sendCtx, typed)
		default:
			p.respond(sendCtx, newJSONRPCResponse(req.ID, result))
		}
	}()
}

// respond sends a response message, logging send failures.
func (p *Protocol) respond(ctx context.Context, msg JSONRPCMessage) {
	if err := p.transport.Send(ctx, msg); err != nil {
		p.logger.Errorf("failed to send response: %v", err)
	}
}

// handleIncomingNotification dispatches a notification. Cancellation and
// progress are handled by the engine itself before user handlers run.
func (p *Protocol) handleIncomingNotification(notification *JSONRPCNotification) {
	switch notification.Method {
	case MethodNotificationsCancelled:
		p.handleCancelledNotification(notification)
		return
	case MethodNotificationsProgress:
		p.handleProgressNotification(notification)
		return
	}

	p.handlersMu.RLock()
	handler := p.notificationHandlers[notification.Method]
	if handler == nil {
		handler = p.fallbackNotificationHandler
	}
	p.handlersMu.RUnlock()

	if handler == nil {
		p.logger.Debugf("ignoring notification without handler: %s", notification.Method)
		return
	}
	go func() {
		if err := handler(context.Background(), notification); err != nil {
			p.reportError(fmt.Errorf("notification handler %s: %w", notification.Method, err))
		}
	}()
}

// handleCancelledNotification cancels the matching in-flight request. The
// response for a cancelled request is suppressed.
func (p *Protocol) handleCancelledNotification(notification *JSONRPCNotification) {
	var params CancelledParams
	if err := parseNotificationParams(notification, &params); err != nil {
		p.reportError(fmt.Errorf("parse cancelled notification: %w", err))
		return
	}

	key := requestIDKey(params.RequestID)
	p.mu.Lock()
	cancel := p.inflight[key]
	delete(p.inflight, key)
	p.mu.Unlock()

	if cancel == nil {
		p.logger.Debugf("cancellation for unknown request id %v", params.RequestID)
		return
	}
	p.logger.Debugf("request %v cancelled by peer: %s", params.RequestID, params.Reason)
	cancel()
}

// handleProgressNotification routes progress to the handler registered for
// its token and nudges the timeout clock of the matching request.
func (p *Protocol) handleProgressNotification(notification *JSONRPCNotification) {
	var params ProgressParams
	if err := parseNotificationParams(notification, &params); err != nil {
		p.reportError(fmt.Errorf("parse progress notification: %w", err))
		return
	}

	key := requestIDKey(params.ProgressToken)
	p.mu.Lock()
	handler := p.progressHandlers[key]
	pr := p.pending[key]
	p.mu.Unlock()

	if pr != nil {
		select {
		case pr.resets <- struct{}{}:
		default:
		}
	}
	if handler == nil {
		p.logger.Debugf("progress for unknown token %v", params.ProgressToken)
		return
	}
	handler(params)
}

// newNotification converts typed params into the generic notification shape.
func newNotification(method string, params interface{}) (Notification, error) {
	notification := Notification{Method: method}
	if params == nil {
		return notification, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return notification, fmt.Errorf("marshal notification params: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return notification, fmt.Errorf("notification params must be an object: %w", err)
	}
	if meta, ok := fields["_meta"].(map[string]interface{}); ok {
		notification.Params.Meta = meta
		delete(fields, "_meta")
	}
	notification.Params.AdditionalFields = fields
	return notification, nil
}

// parseNotificationParams decodes generic notification params into target.
func parseNotificationParams(notification *JSONRPCNotification, target interface{}) error {
	fields := make(map[string]interface{}, len(notification.Params.AdditionalFields)+1)
	for k, v := range notification.Params.AdditionalFields {
		fields[k] = v
	}
	if len(notification.Params.Meta) > 0 {
		fields["_meta"] = notification.Params.Meta
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// injectProgressToken adds a _meta.progressToken field to request params.
func injectProgressToken(params interface{}, token ProgressToken) interface{} {
	fields, ok := paramsAsMap(params)
	if !ok {
		return params
	}
	meta, _ := fields["_meta"].(map[string]interface{})
	if meta == nil {
		meta = make(map[string]interface{})
	}
	meta["progressToken"] = token
	fields["_meta"] = meta
	return fields
}

// injectTaskMetadata adds the task field that turns a request into a
// task-augmented request.
func injectTaskMetadata(params interface{}, task *TaskMetadata) interface{} {
	fields, ok := paramsAsMap(params)
	if !ok {
		return params
	}
	fields["task"] = task
	return fields
}

// paramsAsMap renders request params as a mutable map.
func paramsAsMap(params interface{}) (map[string]interface{}, bool) {
	if params == nil {
		return make(map[string]interface{}), true
	}
	if m, ok := params.(map[string]interface{}); ok {
		return m, true
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, false
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false
	}
	return fields, true
}
