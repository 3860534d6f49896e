// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// State represents the connection lifecycle of a client.
type State int

const (
	// StateDisconnected means no transport is attached yet.
	StateDisconnected State = iota
	// StateConnected means the transport is up but initialize has not
	// completed.
	StateConnected
	// StateInitialized means the session completed the initialize handshake.
	StateInitialized
)

// String returns a readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateInitialized:
		return "initialized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Client is an MCP client session. It drives the initialize handshake and
// exposes typed wrappers over the protocol's request methods. A Client serves
// inbound server requests (sampling, elicitation, roots) when the matching
// handler is configured.
type Client struct {
	clientInfo      Implementation
	protocolVersion string
	protocol        *Protocol
	transport       Transport
	logger          Logger

	samplingHandler    SamplingHandler
	elicitationHandler ElicitationHandler
	rootsProvider      RootsProvider

	// transportOptions apply when the client builds its own HTTP transport.
	transportOptions []ClientTransportOption

	mu           sync.RWMutex
	state        State
	serverCaps   *ServerCapabilities
	serverInfo   *Implementation
	instructions string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the client logger.
func WithClientLogger(logger Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithProtocolVersion sets the protocol revision offered during initialize.
func WithProtocolVersion(version string) ClientOption {
	return func(c *Client) {
		c.protocolVersion = version
	}
}

// WithClientGetSSEEnabled toggles the standalone GET stream of the HTTP
// transport.
func WithClientGetSSEEnabled(enabled bool) ClientOption {
	return func(c *Client) {
		c.transportOptions = append(c.transportOptions, WithTransportGetSSE(enabled))
	}
}

// WithHTTPHeaders sets headers applied to every HTTP request.
func WithHTTPHeaders(headers http.Header) ClientOption {
	return func(c *Client) {
		c.transportOptions = append(c.transportOptions, WithTransportHeaders(headers))
	}
}

// WithHTTPClient sets the HTTP client used by the transport.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.transportOptions = append(c.transportOptions, WithTransportHTTPClient(client))
	}
}

// WithSamplingHandler enables serving sampling/createMessage requests and
// advertises the sampling capability.
func WithSamplingHandler(handler SamplingHandler) ClientOption {
	return func(c *Client) {
		c.samplingHandler = handler
	}
}

// WithElicitationHandler enables serving elicitation/create requests and
// advertises the elicitation capability.
func WithElicitationHandler(handler ElicitationHandler) ClientOption {
	return func(c *Client) {
		c.elicitationHandler = handler
	}
}

// WithRootsProvider enables serving roots/list requests and advertises the
// roots capability.
func WithRootsProvider(provider RootsProvider) ClientOption {
	return func(c *Client) {
		c.rootsProvider = provider
	}
}

// NewClient creates a client for a streamable HTTP server at serverURL.
func NewClient(serverURL string, clientInfo Implementation, options ...ClientOption) (*Client, error) {
	c := newClient(clientInfo, options...)
	transport, err := NewStreamableHTTPClientTransport(serverURL,
		append([]ClientTransportOption{WithTransportLogger(c.logger)}, c.transportOptions...)...)
	if err != nil {
		return nil, err
	}
	c.transport = transport
	return c, nil
}

// NewClientWithTransport creates a client over a caller-provided transport,
// such as an in-memory pair or a stdio subprocess.
func NewClientWithTransport(transport Transport, clientInfo Implementation, options ...ClientOption) *Client {
	c := newClient(clientInfo, options...)
	c.transport = transport
	return c
}

func newClient(clientInfo Implementation, options ...ClientOption) *Client {
	c := &Client{
		clientInfo:      clientInfo,
		protocolVersion: ProtocolVersion_2025_03_26,
		logger:          GetDefaultLogger(),
		state:           StateDisconnected,
	}
	for _, option := range options {
		option(c)
	}
	c.protocol = NewProtocol(&ProtocolOptions{Logger: c.logger})
	c.registerInboundHandlers()
	return c
}

// GetState returns the current connection state.
func (c *Client) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// registerInboundHandlers installs protocol handlers for the server-initiated
// requests this client can serve.
func (c *Client) registerInboundHandlers() {
	if c.samplingHandler != nil {
		c.protocol.SetRequestHandler(MethodSamplingCreateMessage,
			func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
				var params CreateMessageParams
				if err := parseJSONRPCParams(req.Params, &params); err != nil {
					return nil, NewResponseError(ErrCodeInvalidParams, "invalid params", err.Error())
				}
				return c.samplingHandler(ctx, &params)
			})
	}
	if c.elicitationHandler != nil {
		c.protocol.SetRequestHandler(MethodElicitationCreate,
			func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
				var params ElicitParams
				if err := parseJSONRPCParams(req.Params, &params); err != nil {
					return nil, NewResponseError(ErrCodeInvalidParams, "invalid params", err.Error())
				}
				return c.elicitationHandler(ctx, &params)
			})
	}
	if c.rootsProvider != nil {
		c.protocol.SetRequestHandler(MethodRootsList,
			func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
				roots := c.rootsProvider.GetRoots()
				return &ListRootsResult{Roots: roots}, nil
			})
	}
	c.protocol.SetRequestHandler(MethodPing,
		func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
			return &Result{}, nil
		})
}

// clientCapabilities assembles the capability set to advertise, derived from
// the configured handlers.
func (c *Client) clientCapabilities() ClientCapabilities {
	caps := ClientCapabilities{}
	if c.rootsProvider != nil {
		caps.Roots = &ListChangedCapability{ListChanged: true}
	}
	if c.samplingHandler != nil {
		caps.Sampling = map[string]interface{}{}
	}
	if c.elicitationHandler != nil {
		caps.Elicitation = map[string]interface{}{}
	}
	return caps
}

// Initialize performs the initialize handshake. It connects the transport,
// negotiates the protocol version, records the server's capabilities and
// confirms with notifications/initialized.
func (c *Client) Initialize(ctx context.Context, initReq *InitializeRequest) (*InitializeResult, error) {
	c.mu.Lock()
	if c.state == StateInitialized {
		c.mu.Unlock()
		return nil, ErrAlreadyInitialized
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		if err := c.protocol.Connect(ctx, c.transport); err != nil {
			return nil, fmt.Errorf("connect transport: %w", err)
		}
		c.setState(StateConnected)
	}

	params := InitializeParams{
		ProtocolVersion: c.protocolVersion,
		Capabilities:    c.clientCapabilities(),
		ClientInfo:      c.clientInfo,
	}
	if initReq != nil {
		if initReq.Params.ProtocolVersion != "" {
			params.ProtocolVersion = initReq.Params.ProtocolVersion
		}
		if initReq.Params.ClientInfo.Name != "" {
			params.ClientInfo = initReq.Params.ClientInfo
		}
	}

	// Every failure from here on leaves the transport closed so the
	// session cannot be used half-initialized.
	raw, err := c.protocol.Request(ctx, MethodInitialize, params, nil)
	if err != nil {
		c.abortHandshake()
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.abortHandshake()
		return nil, fmt.Errorf("parse initialize result: %w", err)
	}

	if !isProtocolVersionSupported(result.ProtocolVersion) {
		c.abortHandshake()
		return nil, fmt.Errorf("server offered unsupported protocol version %q", result.ProtocolVersion)
	}
	c.transport.SetProtocolVersion(result.ProtocolVersion)

	c.mu.Lock()
	c.serverCaps = &result.Capabilities
	c.serverInfo = &result.ServerInfo
	c.instructions = result.Instructions
	c.mu.Unlock()
	c.protocol.setCapabilityChecker(&clientCapabilityChecker{client: c})

	if err := c.SendInitialized(ctx); err != nil {
		c.abortHandshake()
		return nil, fmt.Errorf("send initialized: %w", err)
	}
	c.setState(StateInitialized)
	c.logger.Infof("initialized session with %s %s (protocol %s)",
		result.ServerInfo.Name, result.ServerInfo.Version, result.ProtocolVersion)
	return &result, nil
}

// abortHandshake tears the connection down after a failed initialize.
func (c *Client) abortHandshake() {
	c.protocol.Close()
	c.setState(StateDisconnected)
}

// SendInitialized emits the notifications/initialized confirmation.
func (c *Client) SendInitialized(ctx context.Context) error {
	return c.protocol.Notification(ctx, MethodNotificationsInitialized, nil)
}

// ensureInitialized guards typed methods that need a completed handshake.
func (c *Client) ensureInitialized() error {
	if c.GetState() != StateInitialized {
		return ErrNotInitialized
	}
	return nil
}

// doRequest issues a request and unmarshals the result into out.
func (c *Client) doRequest(ctx context.Context, method string, params interface{}, out interface{}, opts *RequestOptions) error {
	if err := c.ensureInitialized(); err != nil {
		return err
	}
	raw, err := c.protocol.Request(ctx, method, params, opts)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s result: %w", method, err)
	}
	return nil
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.protocol.Request(ctx, MethodPing, nil, nil)
	return err
}

// ListTools requests the server's tool list.
func (c *Client) ListTools(ctx context.Context, listToolsReq *ListToolsRequest) (*ListToolsResult, error) {
	var params interface{}
	if listToolsReq != nil {
		params = listToolsReq.Params
	}
	var result ListToolsResult
	if err := c.doRequest(ctx, MethodToolsList, params, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallTool invokes a tool and waits for its result.
func (c *Client) CallTool(ctx context.Context, callToolReq *CallToolRequest) (*CallToolResult, error) {
	return c.CallToolWithOptions(ctx, callToolReq, nil)
}

// CallToolWithOptions invokes a tool with per-request options. When
// opts.Task is set the call is task-augmented: the server acknowledges with a
// task and this method polls it to completion before returning the tool
// result.
func (c *Client) CallToolWithOptions(ctx context.Context, callToolReq *CallToolRequest, opts *RequestOptions) (*CallToolResult, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}
	raw, err := c.protocol.Request(ctx, MethodToolsCall, callToolReq.Params, opts)
	if err != nil {
		return nil, err
	}

	if opts != nil && opts.Task != nil {
		var created CreateTaskResult
		if err := json.Unmarshal(raw, &created); err != nil {
			return nil, fmt.Errorf("parse task creation result: %w", err)
		}
		raw, err = AwaitTaskCompletion(ctx, c.protocol, &created.Task, nil)
		if err != nil {
			return nil, err
		}
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tool result: %w", err)
	}
	return &result, nil
}

// ListPrompts requests the server's prompt list.
func (c *Client) ListPrompts(ctx context.Context, listPromptsReq *ListPromptsRequest) (*ListPromptsResult, error) {
	var params interface{}
	if listPromptsReq != nil {
		params = listPromptsReq.Params
	}
	var result ListPromptsResult
	if err := c.doRequest(ctx, MethodPromptsList, params, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrompt renders a prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, getPromptReq *GetPromptRequest) (*GetPromptResult, error) {
	var result GetPromptResult
	if err := c.doRequest(ctx, MethodPromptsGet, getPromptReq.Params, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources requests the server's resource list.
func (c *Client) ListResources(ctx context.Context, listResourcesReq *ListResourcesRequest) (*ListResourcesResult, error) {
	var params interface{}
	if listResourcesReq != nil {
		params = listResourcesReq.Params
	}
	var result ListResourcesResult
	if err := c.doRequest(ctx, MethodResourcesList, params, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResourceTemplates requests the server's resource template list.
func (c *Client) ListResourceTemplates(ctx context.Context, listTemplatesReq *ListResourceTemplatesRequest) (*ListResourceTemplatesResult, error) {
	var params interface{}
	if listTemplatesReq != nil {
		params = listTemplatesReq.Params
	}
	var result ListResourceTemplatesResult
	if err := c.doRequest(ctx, MethodResourcesTemplatesList, params, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadResource fetches the contents of a resource by URI.
func (c *Client) ReadResource(ctx context.Context, readResourceReq *ReadResourceRequest) (*ReadResourceResult, error) {
	var result ReadResourceResult
	if err := c.doRequest(ctx, MethodResourcesRead, readResourceReq.Params, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Subscribe registers for notifications/resources/updated on a URI.
func (c *Client) Subscribe(ctx context.Context, subscribeReq *SubscribeRequest) error {
	return c.doRequest(ctx, MethodResourcesSubscribe, subscribeReq.Params, nil, nil)
}

// Unsubscribe removes a resource subscription.
func (c *Client) Unsubscribe(ctx context.Context, unsubscribeReq *UnsubscribeRequest) error {
	return c.doRequest(ctx, MethodResourcesUnsubscribe, unsubscribeReq.Params, nil, nil)
}

// Complete requests argument completion for a prompt or resource template.
func (c *Client) Complete(ctx context.Context, completeReq *CompleteCompletionRequest) (*CompleteCompletionResult, error) {
	var result CompleteCompletionResult
	if err := c.doRequest(ctx, MethodCompletionComplete, completeReq.Params, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetLoggingLevel adjusts the minimum severity of notifications/message the
// server sends on this session.
func (c *Client) SetLoggingLevel(ctx context.Context, level LoggingLevel) error {
	if _, ok := loggingLevelSeverity[level]; !ok {
		return fmt.Errorf("invalid logging level %q", level)
	}
	params := struct {
		Level LoggingLevel `json:"level"`
	}{Level: level}
	return c.doRequest(ctx, MethodLoggingSetLevel, params, nil, nil)
}

// GetTask fetches the current status of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*GetTaskResult, error) {
	var result GetTaskResult
	if err := c.doRequest(ctx, MethodTasksGet, &GetTaskParams{TaskID: taskID}, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTaskResult fetches the result of a completed task as raw JSON.
func (c *Client) GetTaskResult(ctx context.Context, taskID string) (json.RawMessage, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}
	return c.protocol.Request(ctx, MethodTasksResult, &GetTaskParams{TaskID: taskID}, nil)
}

// CancelTask requests cancellation of a running task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*GetTaskResult, error) {
	var result GetTaskResult
	if err := c.doRequest(ctx, MethodTasksCancel, &CancelTaskParams{TaskID: taskID}, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTasks pages through the server's task list.
func (c *Client) ListTasks(ctx context.Context, cursor Cursor) (*ListTasksResult, error) {
	var result ListTasksResult
	if err := c.doRequest(ctx, MethodTasksList, &ListTasksParams{Cursor: cursor}, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendRootsListChangedNotification tells the server the root set changed.
func (c *Client) SendRootsListChangedNotification(ctx context.Context) error {
	if c.rootsProvider == nil {
		return fmt.Errorf("no roots provider configured")
	}
	return c.protocol.Notification(ctx, MethodNotificationsRootsListChanged, nil)
}

// RegisterNotificationHandler routes a server notification method to handler.
func (c *Client) RegisterNotificationHandler(method string, handler NotificationHandler) {
	c.protocol.SetNotificationHandler(method, handler)
}

// UnregisterNotificationHandler removes a notification route.
func (c *Client) UnregisterNotificationHandler(method string) {
	c.protocol.RemoveNotificationHandler(method)
}

// GetServerCapabilities returns the capabilities negotiated at initialize, or
// nil before initialization.
func (c *Client) GetServerCapabilities() *ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

// GetServerInfo returns the server implementation info, or nil before
// initialization.
func (c *Client) GetServerInfo() *Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// GetInstructions returns the usage instructions the server provided.
func (c *Client) GetInstructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// GetSessionID returns the transport's session ID, or empty for stateless
// sessions.
func (c *Client) GetSessionID() string {
	return c.transport.SessionID()
}

// TerminateSession explicitly terminates the server-side session when the
// transport supports it.
func (c *Client) TerminateSession(ctx context.Context) error {
	type sessionTerminator interface {
		TerminateSession(ctx context.Context) error
	}
	if t, ok := c.transport.(sessionTerminator); ok {
		return t.TerminateSession(ctx)
	}
	return nil
}

// Close shuts the client down.
func (c *Client) Close() error {
	err := c.protocol.Close()
	c.setState(StateDisconnected)
	return err
}

// clientCapabilityChecker gates outbound client requests against the
// server's negotiated capabilities.
type clientCapabilityChecker struct {
	client *Client
}

func (c *clientCapabilityChecker) assertRequestCapability(method string) error {
	caps := c.client.GetServerCapabilities()
	if caps == nil {
		return nil
	}
	switch method {
	case MethodInitialize, MethodPing:
		return nil
	case MethodToolsList, MethodToolsCall:
		if caps.Tools == nil {
			return fmt.Errorf("%w: server does not support tools", ErrCapabilityNotSupported)
		}
	case MethodResourcesList, MethodResourcesRead, MethodResourcesTemplatesList:
		if caps.Resources == nil {
			return fmt.Errorf("%w: server does not support resources", ErrCapabilityNotSupported)
		}
	case MethodResourcesSubscribe, MethodResourcesUnsubscribe:
		if caps.Resources == nil || !caps.Resources.Subscribe {
			return fmt.Errorf("%w: server does not support resource subscriptions", ErrCapabilityNotSupported)
		}
	case MethodPromptsList, MethodPromptsGet:
		if caps.Prompts == nil {
			return fmt.Errorf("%w: server does not support prompts", ErrCapabilityNotSupported)
		}
	case MethodCompletionComplete:
		if caps.Completions == nil {
			return fmt.Errorf("%w: server does not support completions", ErrCapabilityNotSupported)
		}
	case MethodLoggingSetLevel:
		if caps.Logging == nil {
			return fmt.Errorf("%w: server does not support logging", ErrCapabilityNotSupported)
		}
	case MethodTasksGet, MethodTasksResult:
		if caps.Tasks == nil {
			return fmt.Errorf("%w: server does not support tasks", ErrCapabilityNotSupported)
		}
	case MethodTasksCancel:
		if caps.Tasks == nil || !caps.Tasks.Cancel {
			return fmt.Errorf("%w: server does not support task cancellation", ErrCapabilityNotSupported)
		}
	case MethodTasksList:
		if caps.Tasks == nil || !caps.Tasks.List {
			return fmt.Errorf("%w: server does not support task listing", ErrCapabilityNotSupported)
		}
	}
	return nil
}

func (c *clientCapabilityChecker) assertNotificationCapability(method string) error {
	if method == MethodNotificationsRootsListChanged && c.client.rootsProvider == nil {
		return fmt.Errorf("%w: roots capability not advertised", ErrCapabilityNotSupported)
	}
	return nil
}
