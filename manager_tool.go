// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"fmt"
	"sync"
)

// toolManager manages tools.
//
// Tool functionality follows the same enabling mechanism as the other
// managers: it is disabled until the first tool is registered, and an enabled
// manager with no tools answers tools/list with an empty list rather than an
// error.
type toolManager struct {
	// Tool mapping table
	tools map[string]*registeredTool

	// Order of tool registration
	toolsOrder []string

	// Mutex
	mu sync.RWMutex

	// Tool list filter function
	toolListFilter ToolListFilter
}

// newToolManager creates a new tool manager.
func newToolManager() *toolManager {
	return &toolManager{
		tools: make(map[string]*registeredTool),
	}
}

// withToolListFilter sets the tool list filter.
func (m *toolManager) withToolListFilter(filter ToolListFilter) *toolManager {
	m.toolListFilter = filter
	return m
}

// registerTool registers a tool with its handler.
func (m *toolManager) registerTool(tool *Tool, handler toolHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tool == nil || tool.Name == "" {
		return
	}

	if _, exists := m.tools[tool.Name]; !exists {
		m.toolsOrder = append(m.toolsOrder, tool.Name)
	}

	m.tools[tool.Name] = &registeredTool{
		Tool:    tool,
		Handler: handler,
	}
}

// unregisterTools removes tools by name and reports how many were removed.
func (m *toolManager) unregisterTools(names ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, name := range names {
		if _, exists := m.tools[name]; !exists {
			continue
		}
		delete(m.tools, name)
		for i, ordered := range m.toolsOrder {
			if ordered == name {
				m.toolsOrder = append(m.toolsOrder[:i], m.toolsOrder[i+1:]...)
				break
			}
		}
		removed++
	}
	return removed
}

// getTool retrieves a tool by name.
func (m *toolManager) getTool(name string) (*Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if registered, exists := m.tools[name]; exists {
		return registered.Tool, true
	}
	return nil, false
}

// getTools retrieves all tools in registration order.
func (m *toolManager) getTools() []*Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orderedTools := make([]*Tool, 0, len(m.tools))
	for _, name := range m.toolsOrder {
		if registered, exists := m.tools[name]; exists {
			orderedTools = append(orderedTools, registered.Tool)
		}
	}
	return orderedTools
}

// getToolHandler retrieves the handler for a named tool.
func (m *toolManager) getToolHandler(name string) (toolHandler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	registered, exists := m.tools[name]
	if !exists || registered.Handler == nil {
		return nil, false
	}
	return registered.Handler, true
}

// handleListTools handles tools/list requests.
func (m *toolManager) handleListTools(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	toolPtrs := m.getTools()

	// Apply filter if available
	if m.toolListFilter != nil {
		toolPtrs = m.toolListFilter(ctx, toolPtrs)
	}

	resultTools := make([]Tool, 0, len(toolPtrs))
	for _, tool := range toolPtrs {
		if tool != nil {
			resultTools = append(resultTools, *tool)
		}
	}

	return ListToolsResult{Tools: resultTools}, nil
}

// parseCallToolParams extracts the typed tools/call params from a request.
func parseCallToolParams(req *JSONRPCRequest) (*CallToolRequest, *JSONRPCError) {
	callReq := &CallToolRequest{}
	callReq.Method = req.Method
	if err := parseJSONRPCParams(req.Params, &callReq.Params); err != nil {
		return nil, newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", nil)
	}
	if callReq.Params.Name == "" {
		return nil, newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "missing tool name", nil)
	}
	return callReq, nil
}

// handleCallTool handles tools/call requests.
func (m *toolManager) handleCallTool(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	callReq, errResp := parseCallToolParams(req)
	if errResp != nil {
		return errResp, nil
	}

	handler, exists := m.getToolHandler(callReq.Params.Name)
	if !exists {
		return newJSONRPCErrorResponse(
			req.ID,
			ErrCodeMethodNotFound,
			fmt.Sprintf("%v: %s", ErrToolNotFound, callReq.Params.Name),
			nil,
		), nil
	}

	result, err := handler(ctx, callReq)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
	}
	if result == nil {
		result = &CallToolResult{}
	}
	return result, nil
}
