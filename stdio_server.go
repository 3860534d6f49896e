// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// StdioContextFunc enriches the context of every request served over stdio.
type StdioContextFunc func(ctx context.Context) context.Context

// StdioServer serves a single MCP session over stdin/stdout. It is the
// transport of choice for locally spawned servers.
type StdioServer struct {
	serverInfo Implementation
	logger     Logger

	mcpHandler       *mcpHandler
	toolManager      *toolManager
	resourceManager  *resourceManager
	promptManager    *promptManager
	lifecycleManager *lifecycleManager
	taskManager      *taskManager

	contextFunc  StdioContextFunc
	instructions string
	middlewares  []MiddlewareFunc
	tasksEnabled bool
	taskStore    TaskStore

	mu      sync.Mutex
	session *ServerSession
}

// StdioServerOption configures a StdioServer.
type StdioServerOption func(*StdioServer)

// WithStdioServerLogger sets the server logger. Log output goes to stderr;
// stdout carries only protocol messages.
func WithStdioServerLogger(logger Logger) StdioServerOption {
	return func(s *StdioServer) {
		s.logger = logger
	}
}

// WithStdioContext sets a function applied to every request context.
func WithStdioContext(fn StdioContextFunc) StdioServerOption {
	return func(s *StdioServer) {
		s.contextFunc = fn
	}
}

// WithStdioInstructions sets the usage instructions returned from initialize.
func WithStdioInstructions(instructions string) StdioServerOption {
	return func(s *StdioServer) {
		s.instructions = instructions
	}
}

// WithStdioMiddlewares sets the middleware chain for tool, resource and
// prompt handlers.
func WithStdioMiddlewares(middlewares ...MiddlewareFunc) StdioServerOption {
	return func(s *StdioServer) {
		s.middlewares = middlewares
	}
}

// WithStdioTasksEnabled toggles support for task-augmented requests.
func WithStdioTasksEnabled(enabled bool) StdioServerOption {
	return func(s *StdioServer) {
		s.tasksEnabled = enabled
	}
}

// WithStdioTaskStore sets the store backing task state.
func WithStdioTaskStore(store TaskStore) StdioServerOption {
	return func(s *StdioServer) {
		s.taskStore = store
	}
}

// NewStdioServer creates a stdio MCP server with the given implementation
// info.
func NewStdioServer(name, version string, options ...StdioServerOption) *StdioServer {
	s := &StdioServer{
		serverInfo:   Implementation{Name: name, Version: version},
		logger:       GetDefaultLogger(),
		tasksEnabled: true,
	}
	for _, option := range options {
		option(s)
	}
	s.initComponents()
	return s
}

func (s *StdioServer) initComponents() {
	lifecycleManager := newLifecycleManager(s.serverInfo).withLogger(s.logger)
	if s.instructions != "" {
		lifecycleManager = lifecycleManager.withInstructions(s.instructions)
	}
	s.lifecycleManager = lifecycleManager
	s.toolManager = newToolManager()
	s.resourceManager = newResourceManager()
	s.promptManager = newPromptManager()

	handlerOptions := []func(*mcpHandler){
		withToolManager(s.toolManager),
		withLifecycleManager(s.lifecycleManager),
		withResourceManager(s.resourceManager),
		withPromptManager(s.promptManager),
		withMiddlewares(s.middlewares),
	}
	if s.tasksEnabled {
		taskManager := newTaskManager(s.taskStore, s.logger)
		taskManager.notify = s.notifyTaskStatus
		s.taskManager = taskManager
		handlerOptions = append(handlerOptions, withTaskManager(taskManager))
	}
	s.mcpHandler = newMCPHandler(handlerOptions...)
}

// RegisterTool registers a tool and its handler.
func (s *StdioServer) RegisterTool(tool *Tool, handler toolHandler) {
	if tool == nil || handler == nil {
		return
	}
	s.toolManager.registerTool(tool, handler)
}

// UnregisterTools removes tools by name.
func (s *StdioServer) UnregisterTools(names ...string) error {
	if len(names) == 0 {
		return fmt.Errorf("no tool names provided")
	}
	if s.toolManager.unregisterTools(names...) == 0 {
		return fmt.Errorf("none of the tools exist")
	}
	return nil
}

// RegisterPrompt registers a prompt and its handler.
func (s *StdioServer) RegisterPrompt(prompt *Prompt, handler promptHandler, options ...registeredPromptOption) {
	if prompt == nil {
		return
	}
	s.promptManager.registerPrompt(prompt, handler, options...)
}

// RegisterResource registers a resource with a single-contents handler.
func (s *StdioServer) RegisterResource(resource *Resource, handler resourceHandler, options ...registeredResourceOption) {
	if resource == nil || handler == nil {
		return
	}
	s.resourceManager.registerResource(resource, handler, options...)
}

// RegisterResources registers a resource whose handler returns multiple
// contents.
func (s *StdioServer) RegisterResources(resource *Resource, handler resourcesHandler, options ...registeredResourceOption) {
	if resource == nil || handler == nil {
		return
	}
	s.resourceManager.registerResources(resource, handler, options...)
}

// RegisterResourceTemplate registers a parameterized resource template.
func (s *StdioServer) RegisterResourceTemplate(template *ResourceTemplate, handler resourceTemplateHandler, options ...registerResourceTemplateOption) error {
	if template == nil || handler == nil {
		return fmt.Errorf("template and handler must not be nil")
	}
	return s.resourceManager.registerTemplate(template, handler, options...)
}

// GetServerInfo returns the server implementation info.
func (s *StdioServer) GetServerInfo() Implementation {
	return s.serverInfo
}

// Start serves the session on os.Stdin/os.Stdout until EOF.
func (s *StdioServer) Start() error {
	return s.StartWithContext(context.Background())
}

// StartWithContext serves the session until ctx is done or stdin closes.
func (s *StdioServer) StartWithContext(ctx context.Context) error {
	return s.serve(ctx, os.Stdin, os.Stdout)
}

// serve runs one session over the given streams.
func (s *StdioServer) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := newStdioServerTransport(in, out)
	protocol := NewProtocol(&ProtocolOptions{Logger: s.logger})
	session := newServerSession(uuid.NewString(), protocol)

	protocol.SetFallbackRequestHandler(func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		ctx = s.withContext(ctx)
		return s.mcpHandler.handleRequest(withClientSession(ctx, session), req, session)
	})
	protocol.SetFallbackNotificationHandler(func(ctx context.Context, notification *JSONRPCNotification) error {
		ctx = s.withContext(ctx)
		return s.mcpHandler.handleNotification(withClientSession(ctx, session), notification, session)
	})
	protocol.setCapabilityChecker(&serverSessionChecker{session: session})
	protocol.SetErrorHandler(func(err error) {
		s.logger.Warnf("stdio session: %v", err)
	})

	done := make(chan struct{})
	protocol.SetCloseHandler(func() { close(done) })

	if err := protocol.Connect(ctx, transport); err != nil {
		return err
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		protocol.Close()
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *StdioServer) withContext(ctx context.Context) context.Context {
	if s.contextFunc != nil {
		return s.contextFunc(ctx)
	}
	return ctx
}

// currentSession returns the active session, or nil before Start.
func (s *StdioServer) currentSession() *ServerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// ListRoots asks the connected client for its root directories.
func (s *StdioServer) ListRoots(ctx context.Context) (*ListRootsResult, error) {
	session := s.currentSession()
	if session == nil {
		return nil, ErrNoClientSession
	}
	return session.ListRoots(ctx)
}

// SendNotification pushes a notification to the connected client.
func (s *StdioServer) SendNotification(ctx context.Context, method string, params interface{}) error {
	session := s.currentSession()
	if session == nil {
		return ErrNoClientSession
	}
	return session.SendNotification(ctx, method, params)
}

func (s *StdioServer) notifyTaskStatus(ctx context.Context, params *TaskStatusNotificationParams) {
	if err := s.SendNotification(ctx, MethodNotificationsTaskStatus, params); err != nil {
		s.logger.Debugf("task status notification failed: %v", err)
	}
}

// stdioServerTransport adapts an io.Reader/io.Writer pair to the Transport
// interface.
type stdioServerTransport struct {
	transportHandlers

	in  io.Reader
	out io.Writer

	writeMu sync.Mutex
	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

func newStdioServerTransport(in io.Reader, out io.Writer) *stdioServerTransport {
	return &stdioServerTransport{
		in:   in,
		out:  out,
		done: make(chan struct{}),
	}
}

// Start implements Transport.
func (t *stdioServerTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("transport already started")
	}
	t.started = true
	go t.readLoop()
	return nil
}

func (t *stdioServerTransport) readLoop() {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case <-t.done:
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := parseJSONRPCMessage(line)
		if err != nil {
			t.dispatchError(fmt.Errorf("parse client message: %w", err))
			continue
		}
		t.dispatchMessage(msg)
	}
	t.Close()
}

// Send implements Transport.
func (t *stdioServerTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to stdout: %w", err)
	}
	return nil
}

// SessionID implements Transport. Stdio sessions have no wire-level ID.
func (t *stdioServerTransport) SessionID() string { return "" }

// SetProtocolVersion implements Transport.
func (t *stdioServerTransport) SetProtocolVersion(version string) {}

// Close implements Transport.
func (t *stdioServerTransport) Close() error {
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
