// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// parseJSONRPCParams parses JSON-RPC parameters into a target structure.
func parseJSONRPCParams(params interface{}, target interface{}) error {
	if params == nil {
		return nil
	}

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(paramBytes, target)
}

const (
	// defaultServerName is the default name for the server
	defaultServerName = "Go-MCP-Server"
	// defaultServerVersion is the default version for the server
	defaultServerVersion = "0.1.0"
)

// handler interface defines the MCP protocol handler
type handler interface {
	// handleRequest processes requests
	handleRequest(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error)

	// handleNotification processes notifications
	handleNotification(ctx context.Context, notification *JSONRPCNotification, session Session) error
}

// mcpHandler implements the default MCP protocol handler
type mcpHandler struct {
	// Tool manager
	toolManager *toolManager

	// Lifecycle manager
	lifecycleManager *lifecycleManager

	// Resource manager
	resourceManager *resourceManager

	// Prompt manager
	promptManager *promptManager

	// Task manager, nil when task support is disabled
	taskManager *taskManager

	// Middleware chain for server request processing
	middlewares []MiddlewareFunc
}

// newMCPHandler creates an MCP protocol handler
func newMCPHandler(options ...func(*mcpHandler)) *mcpHandler {
	h := &mcpHandler{}

	// Apply options
	for _, option := range options {
		option(h)
	}

	// Create default managers if not set
	if h.toolManager == nil {
		h.toolManager = newToolManager()
	}

	if h.resourceManager == nil {
		h.resourceManager = newResourceManager()
	}

	if h.promptManager == nil {
		h.promptManager = newPromptManager()
	}

	if h.lifecycleManager == nil {
		h.lifecycleManager = newLifecycleManager(Implementation{
			Name:    defaultServerName,
			Version: defaultServerVersion,
		})
	}

	// Pass managers to lifecycle manager
	h.lifecycleManager.withToolManager(h.toolManager)
	h.lifecycleManager.withResourceManager(h.resourceManager)
	h.lifecycleManager.withPromptManager(h.promptManager)
	if h.taskManager != nil {
		h.lifecycleManager.withTaskManager(h.taskManager)
	}

	return h
}

// withMiddlewares sets the middleware chain for the handler
func withMiddlewares(middlewares []MiddlewareFunc) func(*mcpHandler) {
	return func(h *mcpHandler) {
		h.middlewares = middlewares
	}
}

// withToolManager sets the tool manager
func withToolManager(manager *toolManager) func(*mcpHandler) {
	return func(h *mcpHandler) {
		h.toolManager = manager
	}
}

// withLifecycleManager sets the lifecycle manager
func withLifecycleManager(manager *lifecycleManager) func(*mcpHandler) {
	return func(h *mcpHandler) {
		h.lifecycleManager = manager
	}
}

// withResourceManager sets the resource manager
func withResourceManager(manager *resourceManager) func(*mcpHandler) {
	return func(h *mcpHandler) {
		h.resourceManager = manager
	}
}

// withPromptManager sets the prompt manager
func withPromptManager(manager *promptManager) func(*mcpHandler) {
	return func(h *mcpHandler) {
		h.promptManager = manager
	}
}

// withTaskManager sets the task manager
func withTaskManager(manager *taskManager) func(*mcpHandler) {
	return func(h *mcpHandler) {
		h.taskManager = manager
	}
}

// Definition: request dispatch table type
type requestHandlerFunc func(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error)

// Initialization: request dispatch table
func (h *mcpHandler) requestDispatchTable() map[string]requestHandlerFunc {
	table := map[string]requestHandlerFunc{
		MethodInitialize:             h.handleInitialize,
		MethodPing:                   h.handlePing,
		MethodToolsList:              h.handleToolsList,
		MethodToolsCall:              h.handleToolsCall,
		MethodResourcesList:          h.handleResourcesList,
		MethodResourcesRead:          h.handleResourcesRead,
		MethodResourcesTemplatesList: h.handleResourcesTemplatesList,
		MethodResourcesSubscribe:     h.handleResourcesSubscribe,
		MethodResourcesUnsubscribe:   h.handleResourcesUnsubscribe,
		MethodPromptsList:            h.handlePromptsList,
		MethodPromptsGet:             h.handlePromptsGet,
		MethodCompletionComplete:     h.handleCompletionComplete,
		MethodLoggingSetLevel:        h.handleLoggingSetLevel,
	}
	if h.taskManager != nil {
		table[MethodTasksGet] = h.handleTasksGet
		table[MethodTasksResult] = h.handleTasksResult
		table[MethodTasksCancel] = h.handleTasksCancel
		table[MethodTasksList] = h.handleTasksList
	}
	return table
}

// handleRequest dispatches a request to the handler registered for its method.
func (h *mcpHandler) handleRequest(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	dispatchTable := h.requestDispatchTable()
	if handler, ok := dispatchTable[req.Method]; ok {
		return handler(ctx, req, session)
	}
	return newJSONRPCErrorResponse(req.ID, ErrCodeMethodNotFound, "method not found", nil), nil
}

// Private methods for each case branch
func (h *mcpHandler) handleInitialize(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.lifecycleManager.handleInitialize(ctx, req, session)
}

func (h *mcpHandler) handlePing(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return map[string]interface{}{}, nil
}

func (h *mcpHandler) handleToolsList(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.toolManager.handleListTools(ctx, req)
}

func (h *mcpHandler) handleToolsCall(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	var metadata *TaskMetadata
	if h.taskManager != nil {
		metadata = extractTaskMetadata(req.Params)
	}
	if resp := h.checkTaskSupport(req, metadata); resp != nil {
		return resp, nil
	}
	// A tools/call carrying task metadata runs detached: the immediate
	// response is a CreateTaskResult and the tool result is fetched later
	// through tasks/result.
	if metadata != nil {
		return h.handleTaskAugmentedToolCall(ctx, req, session, metadata)
	}
	return h.callToolThroughMiddlewares(ctx, req, session)
}

// checkTaskSupport rejects a tools/call whose augmentation conflicts with
// the tool's declared execution mode. Tools without an execution block
// treat augmentation as optional. Unknown tool names fall through so the
// tool manager produces its usual error.
func (h *mcpHandler) checkTaskSupport(req *JSONRPCRequest, metadata *TaskMetadata) JSONRPCMessage {
	fields, ok := req.Params.(map[string]interface{})
	if !ok {
		return nil
	}
	name, ok := fields["name"].(string)
	if !ok {
		return nil
	}
	tool, ok := h.toolManager.getTool(name)
	if !ok {
		return nil
	}
	mode := TaskSupportOptional
	if tool.Execution != nil && tool.Execution.TaskSupport != "" {
		mode = tool.Execution.TaskSupport
	}
	switch {
	case mode == TaskSupportRequired && metadata == nil:
		return newJSONRPCErrorResponse(req.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("tool %s must be called as a task", name), nil)
	case mode == TaskSupportNone && metadata != nil:
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidRequest,
			fmt.Sprintf("tool %s does not support task execution", name), nil)
	}
	return nil
}

// handleTaskAugmentedToolCall creates a task for the call and executes the
// tool in the background.
func (h *mcpHandler) handleTaskAugmentedToolCall(
	ctx context.Context,
	req *JSONRPCRequest,
	session Session,
	metadata *TaskMetadata,
) (JSONRPCMessage, error) {
	result, err := h.taskManager.run(ctx, metadata, func(runCtx context.Context) (interface{}, error) {
		msg, err := h.callToolThroughMiddlewares(runCtx, req, session)
		if err != nil {
			return nil, err
		}
		if errResp, ok := msg.(*JSONRPCError); ok {
			return nil, NewResponseError(errResp.Error.Code, errResp.Error.Message, errResp.Error.Data)
		}
		return msg, nil
	})
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
	}
	return result, nil
}

// callToolThroughMiddlewares runs tools/call through the middleware chain.
func (h *mcpHandler) callToolThroughMiddlewares(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	if len(h.middlewares) == 0 {
		return h.toolManager.handleCallTool(ctx, req)
	}

	var callToolReq CallToolRequest
	if err := parseJSONRPCParams(req.Params, &callToolReq.Params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", err.Error()), nil
	}

	handler := func(ctx context.Context, request interface{}) (interface{}, error) {
		toolReq := request.(*CallToolRequest)
		modifiedReq := &JSONRPCRequest{
			JSONRPC: req.JSONRPC,
			ID:      req.ID,
			Request: Request{Method: req.Method},
			Params:  toolReq.Params,
		}
		return h.toolManager.handleCallTool(ctx, modifiedReq)
	}

	result, err := Chain(handler, h.middlewares...)(ctx, &callToolReq)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, "tool call failed", err.Error()), nil
	}
	return result.(JSONRPCMessage), nil
}

func (h *mcpHandler) handleResourcesList(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.resourceManager.handleListResources(ctx, req)
}

func (h *mcpHandler) handleResourcesRead(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	if len(h.middlewares) == 0 {
		return h.resourceManager.handleReadResource(ctx, req)
	}

	var readResourceReq ReadResourceRequest
	if err := parseJSONRPCParams(req.Params, &readResourceReq.Params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", err.Error()), nil
	}

	handler := func(ctx context.Context, request interface{}) (interface{}, error) {
		resourceReq := request.(*ReadResourceRequest)
		modifiedReq := &JSONRPCRequest{
			JSONRPC: req.JSONRPC,
			ID:      req.ID,
			Request: Request{Method: req.Method},
			Params:  resourceReq.Params,
		}
		return h.resourceManager.handleReadResource(ctx, modifiedReq)
	}

	result, err := Chain(handler, h.middlewares...)(ctx, &readResourceReq)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, "resource read failed", err.Error()), nil
	}
	return result.(JSONRPCMessage), nil
}

func (h *mcpHandler) handleResourcesTemplatesList(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.resourceManager.handleListTemplates(ctx, req)
}

func (h *mcpHandler) handleResourcesSubscribe(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.resourceManager.handleSubscribe(ctx, req)
}

func (h *mcpHandler) handleResourcesUnsubscribe(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.resourceManager.handleUnsubscribe(ctx, req)
}

func (h *mcpHandler) handlePromptsList(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.promptManager.handleListPrompts(ctx, req)
}

func (h *mcpHandler) handlePromptsGet(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	if len(h.middlewares) == 0 {
		return h.promptManager.handleGetPrompt(ctx, req)
	}

	var getPromptReq GetPromptRequest
	if err := parseJSONRPCParams(req.Params, &getPromptReq.Params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", err.Error()), nil
	}

	handler := func(ctx context.Context, request interface{}) (interface{}, error) {
		promptReq := request.(*GetPromptRequest)
		modifiedReq := &JSONRPCRequest{
			JSONRPC: req.JSONRPC,
			ID:      req.ID,
			Request: Request{Method: req.Method},
			Params:  promptReq.Params,
		}
		return h.promptManager.handleGetPrompt(ctx, modifiedReq)
	}

	result, err := Chain(handler, h.middlewares...)(ctx, &getPromptReq)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, "prompt get failed", err.Error()), nil
	}
	return result.(JSONRPCMessage), nil
}

// handleCompletionComplete routes completion requests to the prompt or
// resource manager depending on the reference type.
func (h *mcpHandler) handleCompletionComplete(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	completionReq, errResp := parseCompletionCompleteParams(req)
	if errResp != nil {
		return errResp, nil
	}
	if completionReq.Params.Ref.Type == "ref/resource" {
		return h.resourceManager.handleCompletionComplete(ctx, completionReq, req)
	}
	return h.promptManager.handleCompletionComplete(ctx, completionReq, req)
}

func (h *mcpHandler) handleLoggingSetLevel(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	var setLevelReq SetLevelRequest
	if err := parseJSONRPCParams(req.Params, &setLevelReq.Params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", err.Error()), nil
	}
	if _, known := loggingLevelSeverity[setLevelReq.Params.Level]; !known {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams,
			"unknown logging level: "+string(setLevelReq.Params.Level), nil), nil
	}
	if serverSession, ok := session.(*ServerSession); ok {
		serverSession.setLogLevel(setLevelReq.Params.Level)
	}
	return Result{}, nil
}

func (h *mcpHandler) handleTasksGet(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.taskManager.handleGetTask(ctx, req)
}

func (h *mcpHandler) handleTasksResult(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.taskManager.handleGetTaskResult(ctx, req)
}

func (h *mcpHandler) handleTasksCancel(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.taskManager.handleCancelTask(ctx, req)
}

func (h *mcpHandler) handleTasksList(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	return h.taskManager.handleListTasks(ctx, req)
}

// handleNotification implements the handler interface's handleNotification method
func (h *mcpHandler) handleNotification(ctx context.Context, notification *JSONRPCNotification, session Session) error {
	switch notification.Method {
	case MethodNotificationsInitialized:
		return h.lifecycleManager.handleInitialized(ctx, notification, session)
	case MethodNotificationsRootsListChanged:
		// Roots changes are observed lazily on the next roots/list call.
		return nil
	default:
		// Ignore unknown notifications
		return nil
	}
}

// onSessionTerminated implements the sessionEventNotifier interface's OnSessionTerminated method
func (h *mcpHandler) onSessionTerminated(sessionID string) {
	h.lifecycleManager.onSessionTerminated(sessionID)
}
