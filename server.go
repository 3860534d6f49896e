// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Common errors
var (
	ErrBroadcastFailed = errors.New("failed to broadcast notification")
	ErrNoClientSession = errors.New("no client session in context")
)

const (
	// defaultServerAddress is the default address for the server
	defaultServerAddress = "localhost:3000"
	// defaultServerPath is the default API path prefix
	defaultServerPath = "/mcp"
)

// HTTPContextFunc extracts information from an HTTP request into the context.
// It runs before each HTTP request is processed; multiple functions run in
// registration order.
type HTTPContextFunc func(ctx context.Context, r *http.Request) context.Context

// serverConfig stores all server configuration options
type serverConfig struct {
	// Basic configuration
	addr string
	path string

	// State mode
	isStateless bool

	// Response related
	postSSEEnabled bool
	getSSEEnabled  bool

	// Event store for SSE resumability. Nil disables resume.
	eventStore EventStore

	// Task store for task-augmented requests. Nil uses the in-memory store.
	taskStore TaskStore

	// tasksEnabled toggles the tasks/* methods and task augmentation.
	tasksEnabled bool

	// Instructions returned from initialize
	instructions string

	// Per-session rate limit for inbound HTTP requests
	rateLimit *sessionRateLimit

	// HTTP context functions for extracting information from HTTP requests
	httpContextFuncs []HTTPContextFunc

	// Tool list filter function
	toolListFilter ToolListFilter

	// Prompt list filter function
	promptListFilter PromptListFilter

	// Resource list filter function
	resourceListFilter ResourceListFilter

	// Middleware chain for request processing
	middlewares []MiddlewareFunc

	// Session lifecycle hooks
	onSessionInitialized func(sessionID string)
	onSessionClosed      func(sessionID string)
}

// ServerNotificationHandler handles notifications on the server side. The
// context carries the session, so handlers can call session methods such as
// ListRoots.
type ServerNotificationHandler func(ctx context.Context, notification *JSONRPCNotification) error

// Server is a streamable HTTP MCP server.
type Server struct {
	serverInfo       Implementation     // Server information.
	config           *serverConfig      // Configuration.
	logger           Logger             // Logger for the server and subcomponents.
	httpHandler      *httpServerHandler // HTTP handler.
	mcpHandler       *mcpHandler        // MCP handler.
	toolManager      *toolManager       // Tool manager.
	resourceManager  *resourceManager   // Resource manager.
	promptManager    *promptManager     // Prompt manager.
	taskManager      *taskManager       // Task manager, nil when tasks are disabled.
	lifecycleManager *lifecycleManager  // Lifecycle manager.
	customServer     *http.Server       // Custom HTTP server.

	// sessions maps session IDs to their server-side session objects.
	sessions sync.Map

	notificationHandlers map[string]ServerNotificationHandler
	notificationMu       sync.RWMutex

	rootHandler http.Handler
}

// NewServer creates a new MCP server
func NewServer(name, version string, options ...ServerOption) *Server {
	config := &serverConfig{
		addr:           defaultServerAddress,
		path:           defaultServerPath,
		postSSEEnabled: true,
		getSSEEnabled:  true,
		tasksEnabled:   true,
	}

	server := &Server{
		serverInfo: Implementation{
			Name:    name,
			Version: version,
		},
		config:               config,
		notificationHandlers: make(map[string]ServerNotificationHandler),
	}

	// Apply options
	for _, option := range options {
		option(server)
	}

	server.initComponents()

	return server
}

// initComponents initializes server components based on configuration.
func (s *Server) initComponents() {
	if s.logger == nil {
		s.logger = GetDefaultLogger()
	}

	lifecycleManager := newLifecycleManager(s.serverInfo).
		withLogger(s.logger).
		withStatelessMode(s.config.isStateless)
	if s.config.instructions != "" {
		lifecycleManager = lifecycleManager.withInstructions(s.config.instructions)
	}
	s.lifecycleManager = lifecycleManager

	toolManager := newToolManager()
	if s.config.toolListFilter != nil {
		toolManager.withToolListFilter(s.config.toolListFilter)
	}
	s.toolManager = toolManager

	resourceManager := newResourceManager()
	if s.config.resourceListFilter != nil {
		resourceManager.withResourceListFilter(s.config.resourceListFilter)
	}
	s.resourceManager = resourceManager

	promptManager := newPromptManager()
	if s.config.promptListFilter != nil {
		promptManager.withPromptListFilter(s.config.promptListFilter)
	}
	s.promptManager = promptManager

	handlerOptions := []func(*mcpHandler){
		withToolManager(toolManager),
		withLifecycleManager(lifecycleManager),
		withResourceManager(resourceManager),
		withPromptManager(promptManager),
		withMiddlewares(s.config.middlewares),
	}
	if s.config.tasksEnabled {
		taskManager := newTaskManager(s.config.taskStore, s.logger)
		taskManager.notify = s.notifyTaskStatus
		s.taskManager = taskManager
		handlerOptions = append(handlerOptions, withTaskManager(taskManager))
	}

	s.mcpHandler = newMCPHandler(handlerOptions...)

	httpConfig := httpServerConfig{
		stateless:   s.config.isStateless,
		enableSSE:   s.config.postSSEEnabled,
		enableGET:   s.config.getSSEEnabled,
		eventStore: s.config.eventStore,
		rateLimit:  s.config.rateLimit,
	}
	s.httpHandler = newHTTPServerHandler(httpConfig, s.logger)
	s.httpHandler.newSession = s.newSession
	s.httpHandler.onTerminated = s.onSessionTerminated

	mux := http.NewServeMux()
	mux.Handle(s.config.path, s.wrapHTTPContext(s.httpHandler))
	mux.Handle(s.config.path+"/", s.wrapHTTPContext(s.httpHandler))

	s.customServer = &http.Server{Addr: s.config.addr, Handler: mux}
	s.rootHandler = mux
}

// wrapHTTPContext applies the configured HTTPContextFuncs around a handler.
func (s *Server) wrapHTTPContext(next http.Handler) http.Handler {
	if len(s.config.httpContextFuncs) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for _, fn := range s.config.httpContextFuncs {
			ctx = fn(ctx, r)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newSession builds the server-side session for a fresh transport and wires
// the protocol engine to the MCP handler.
func (s *Server) newSession(t *streamableServerTransport) (*ServerSession, error) {
	protocol := NewProtocol(&ProtocolOptions{Logger: s.logger})
	session := newServerSession(t.SessionID(), protocol)

	protocol.SetFallbackRequestHandler(func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		return s.mcpHandler.handleRequest(withClientSession(ctx, session), req, session)
	})
	protocol.SetFallbackNotificationHandler(func(ctx context.Context, notification *JSONRPCNotification) error {
		ctx = withClientSession(ctx, session)
		if err := s.handleServerNotification(ctx, notification); err != nil {
			return err
		}
		if err := s.mcpHandler.handleNotification(ctx, notification, session); err != nil {
			return err
		}
		if notification.Method == MethodNotificationsInitialized && s.config.onSessionInitialized != nil {
			s.config.onSessionInitialized(session.GetID())
		}
		return nil
	})
	protocol.setCapabilityChecker(&serverSessionChecker{session: session})
	protocol.SetErrorHandler(func(err error) {
		s.logger.Warnf("session %s: %v", session.GetID(), err)
	})

	if err := protocol.Connect(context.Background(), t); err != nil {
		return nil, err
	}

	if !s.config.isStateless && session.GetID() != "" {
		s.sessions.Store(session.GetID(), session)
	}
	return session, nil
}

// onSessionTerminated releases server-side state after a DELETE.
func (s *Server) onSessionTerminated(sessionID string) {
	s.sessions.Delete(sessionID)
	s.mcpHandler.onSessionTerminated(sessionID)
	if s.config.onSessionClosed != nil {
		s.config.onSessionClosed(sessionID)
	}
}

// notifyTaskStatus fans a task status change out to the session that is
// serving the notification's context, falling back to a broadcast.
func (s *Server) notifyTaskStatus(ctx context.Context, params *TaskStatusNotificationParams) {
	if session := ClientSessionFromContext(ctx); session != nil {
		if err := session.SendNotification(ctx, MethodNotificationsTaskStatus, params); err != nil {
			s.logger.Debugf("task status notification failed: %v", err)
		}
		return
	}
	_, _ = s.broadcast(MethodNotificationsTaskStatus, params)
}

// ServerOption server option function.
type ServerOption func(*Server)

// WithServerLogger sets the logger for the server and all subcomponents.
func WithServerLogger(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerAddress sets the listen address used by Start.
func WithServerAddress(addr string) ServerOption {
	return func(s *Server) {
		s.config.addr = addr
	}
}

// WithServerPath sets the API path prefix
func WithServerPath(prefix string) ServerOption {
	return func(s *Server) {
		s.config.path = prefix
	}
}

// WithPostSSEEnabled enables or disables SSE responses to POST requests.
// When disabled the server answers POSTs with plain JSON bodies.
func WithPostSSEEnabled(enabled bool) ServerOption {
	return func(s *Server) {
		s.config.postSSEEnabled = enabled
	}
}

// WithGetSSEEnabled enables or disables the standalone GET SSE stream.
func WithGetSSEEnabled(enabled bool) ServerOption {
	return func(s *Server) {
		s.config.getSSEEnabled = enabled
	}
}

// WithStatelessMode sets whether the server runs stateless. A stateless
// server issues no session IDs and treats every POST as its own short-lived
// session; GET and DELETE are rejected.
func WithStatelessMode(enabled bool) ServerOption {
	return func(s *Server) {
		s.config.isStateless = enabled
	}
}

// WithEventStore sets the event store used for SSE resumability. Without one,
// dropped streams cannot be resumed via Last-Event-ID.
func WithEventStore(store EventStore) ServerOption {
	return func(s *Server) {
		s.config.eventStore = store
	}
}

// WithTaskStore sets the store backing task-augmented requests.
func WithTaskStore(store TaskStore) ServerOption {
	return func(s *Server) {
		s.config.taskStore = store
	}
}

// WithTasksEnabled toggles support for the tasks/* methods and task-augmented
// tool calls. Enabled by default.
func WithTasksEnabled(enabled bool) ServerOption {
	return func(s *Server) {
		s.config.tasksEnabled = enabled
	}
}

// WithInstructions sets the instructions string returned from initialize.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.config.instructions = instructions
	}
}

// WithSessionInitializedHook registers a callback invoked after a session
// completes the initialize handshake.
func WithSessionInitializedHook(fn func(sessionID string)) ServerOption {
	return func(s *Server) {
		s.config.onSessionInitialized = fn
	}
}

// WithSessionClosedHook registers a callback invoked after a session is
// terminated by DELETE or shutdown.
func WithSessionClosedHook(fn func(sessionID string)) ServerOption {
	return func(s *Server) {
		s.config.onSessionClosed = fn
	}
}

// WithSessionRateLimit throttles inbound HTTP requests. Each session gets
// its own token bucket with the given refill rate and burst.
func WithSessionRateLimit(limit rate.Limit, burst int) ServerOption {
	return func(s *Server) {
		s.config.rateLimit = &sessionRateLimit{limit: limit, burst: burst}
	}
}

// WithHTTPContextFunc adds an HTTP context function called for each HTTP
// request. Multiple functions run in registration order.
func WithHTTPContextFunc(fn HTTPContextFunc) ServerOption {
	return func(s *Server) {
		s.config.httpContextFuncs = append(s.config.httpContextFuncs, fn)
	}
}

// WithServerMiddlewares sets the middleware chain applied to tool calls,
// resource reads and prompt gets.
func WithServerMiddlewares(middlewares ...MiddlewareFunc) ServerOption {
	return func(s *Server) {
		s.config.middlewares = middlewares
	}
}

// WithToolListFilter sets a filter applied to tools/list responses.
func WithToolListFilter(filter ToolListFilter) ServerOption {
	return func(s *Server) {
		s.config.toolListFilter = filter
	}
}

// WithPromptListFilter sets a filter applied to prompts/list responses.
func WithPromptListFilter(filter PromptListFilter) ServerOption {
	return func(s *Server) {
		s.config.promptListFilter = filter
	}
}

// WithResourceListFilter sets a filter applied to resources/list responses.
func WithResourceListFilter(filter ResourceListFilter) ServerOption {
	return func(s *Server) {
		s.config.resourceListFilter = filter
	}
}

// WithCustomServer sets a custom HTTP server used by Start.
func WithCustomServer(srv *http.Server) ServerOption {
	return func(s *Server) {
		s.customServer = srv
	}
}

// Start starts the server
func (s *Server) Start() error {
	if s.customServer != nil {
		if s.customServer.Handler == nil {
			s.customServer.Handler = s.Handler()
		}
		return s.customServer.ListenAndServe()
	}
	return http.ListenAndServe(s.config.addr, s.Handler())
}

// Shutdown gracefully stops the server and closes all sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpHandler.closeAll()
	if s.customServer != nil {
		return s.customServer.Shutdown(ctx)
	}
	return nil
}

// RegisterTool registers a tool with its handler function
func (s *Server) RegisterTool(tool *Tool, handler toolHandler) {
	s.toolManager.registerTool(tool, handler)
}

// GetTool retrieves a registered tool by name. The returned tool is a copy.
func (s *Server) GetTool(name string) (Tool, bool) {
	if name == "" {
		return Tool{}, false
	}
	tool, exists := s.toolManager.getTool(name)
	if !exists {
		return Tool{}, false
	}
	return *tool, true
}

// GetTools returns a copy of all registered tools.
func (s *Server) GetTools() []Tool {
	toolPtrs := s.toolManager.getTools()

	tools := make([]Tool, 0, len(toolPtrs))
	for _, toolPtr := range toolPtrs {
		tools = append(tools, *toolPtr)
	}
	return tools
}

// UnregisterTools removes tools by name and returns an error if none of the
// named tools existed.
func (s *Server) UnregisterTools(names ...string) error {
	if len(names) == 0 {
		return fmt.Errorf("no tool names provided")
	}
	if s.toolManager.unregisterTools(names...) == 0 {
		return fmt.Errorf("none of the specified tools were found")
	}
	return nil
}

// RegisterResource registers a resource with its handler function
func (s *Server) RegisterResource(resource *Resource, handler resourceHandler, options ...registeredResourceOption) {
	s.resourceManager.registerResource(resource, handler, options...)
}

// RegisterResources registers a resource whose handler returns multiple
// contents entries.
func (s *Server) RegisterResources(resource *Resource, handler resourcesHandler, options ...registeredResourceOption) {
	s.resourceManager.registerResources(resource, handler, options...)
}

// RegisterResourceTemplate registers a resource template with its handler.
func (s *Server) RegisterResourceTemplate(
	template *ResourceTemplate,
	handler resourceTemplateHandler,
	options ...registerResourceTemplateOption,
) error {
	return s.resourceManager.registerTemplate(template, handler, options...)
}

// RegisterPrompt registers a prompt with its handler function
//
// The prompt feature is automatically enabled when the first prompt is
// registered. An enabled feature with no prompts answers with an empty list
// rather than an error.
func (s *Server) RegisterPrompt(prompt *Prompt, handler promptHandler, options ...registeredPromptOption) {
	s.promptManager.registerPrompt(prompt, handler, options...)
}

// NotifyResourceUpdated tells every subscriber of a resource URI that it
// changed.
func (s *Server) NotifyResourceUpdated(uri string) {
	for _, sessionID := range s.resourceManager.subscribers(uri) {
		if err := s.SendNotification(sessionID, MethodNotificationsResourcesUpdated,
			map[string]interface{}{"uri": uri}); err != nil {
			s.logger.Debugf("resources/updated to %s failed: %v", sessionID, err)
		}
	}
}

// SendNotification sends a notification to a specific session.
func (s *Server) SendNotification(sessionID string, method string, params interface{}) error {
	if s.config.isStateless {
		return ErrStatelessMode
	}
	value, ok := s.sessions.Load(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return value.(*ServerSession).SendNotification(context.Background(), method, params)
}

// BroadcastNotification sends a notification to every live session and
// returns the number of sessions it reached.
func (s *Server) BroadcastNotification(method string, params interface{}) (int, error) {
	if s.config.isStateless {
		return 0, ErrStatelessMode
	}
	return s.broadcast(method, params)
}

func (s *Server) broadcast(method string, params interface{}) (int, error) {
	var successCount, failedCount int
	var lastError error
	s.sessions.Range(func(key, value interface{}) bool {
		if err := value.(*ServerSession).SendNotification(context.Background(), method, params); err != nil {
			failedCount++
			lastError = err
		} else {
			successCount++
		}
		return true
	})
	if successCount == 0 && failedCount > 0 {
		return 0, fmt.Errorf("%w: %w", ErrBroadcastFailed, lastError)
	}
	return successCount, nil
}

// GetSession returns the live session with the given ID.
func (s *Server) GetSession(sessionID string) (*ServerSession, bool) {
	value, ok := s.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return value.(*ServerSession), true
}

// GetActiveSessions returns all active session IDs. Returns an error in
// stateless mode.
func (s *Server) GetActiveSessions() ([]string, error) {
	if s.config.isStateless {
		return nil, ErrStatelessMode
	}
	return s.httpHandler.activeSessionIDs(), nil
}

// RegisterNotificationHandler registers a handler for a notification method,
// letting the server react to client notifications.
func (s *Server) RegisterNotificationHandler(method string, handler ServerNotificationHandler) {
	s.notificationMu.Lock()
	defer s.notificationMu.Unlock()

	s.notificationHandlers[method] = handler
	s.logger.Debugf("registered notification handler for method: %s", method)
}

// UnregisterNotificationHandler removes the handler for a notification method.
func (s *Server) UnregisterNotificationHandler(method string) {
	s.notificationMu.Lock()
	defer s.notificationMu.Unlock()

	delete(s.notificationHandlers, method)
}

// handleServerNotification calls the registered ServerNotificationHandler for
// the notification's method, if any.
func (s *Server) handleServerNotification(ctx context.Context, notification *JSONRPCNotification) error {
	s.notificationMu.RLock()
	handler, exists := s.notificationHandlers[notification.Method]
	s.notificationMu.RUnlock()

	if exists {
		return handler(ctx, notification)
	}
	return nil
}

// Handler returns the top-level http.Handler exposed by the server. Mount it
// into an existing mux or pass it to an http.Server.
func (s *Server) Handler() http.Handler {
	if s.rootHandler != nil {
		return s.rootHandler
	}
	return s.httpHandler
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

// Path returns the configured API path prefix.
func (s *Server) Path() string {
	return s.config.path
}

// GetServerInfo returns the server implementation information
func (s *Server) GetServerInfo() Implementation {
	return s.serverInfo
}
