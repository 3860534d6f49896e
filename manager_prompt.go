// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"fmt"
	"sync"
)

// promptManager manages prompt templates.
//
// Prompt functionality follows the same enabling mechanism as the other
// managers: it is disabled until the first prompt is registered, and an
// enabled manager with no prompts answers prompts/list with an empty list
// rather than an error.
type promptManager struct {
	// Prompt mapping table
	prompts map[string]*registeredPrompt

	// Mutex
	mu sync.RWMutex

	// Order of prompt registration
	promptsOrder []string

	// Prompt list filter function
	promptListFilter PromptListFilter
}

// newPromptManager creates a new prompt manager.
func newPromptManager() *promptManager {
	return &promptManager{
		prompts: make(map[string]*registeredPrompt),
	}
}

// withPromptListFilter sets the prompt list filter.
func (m *promptManager) withPromptListFilter(filter PromptListFilter) *promptManager {
	m.promptListFilter = filter
	return m
}

// registerPrompt registers a prompt with its handler.
func (m *promptManager) registerPrompt(prompt *Prompt, handler promptHandler, options ...registeredPromptOption) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prompt == nil || prompt.Name == "" {
		return
	}

	if _, exists := m.prompts[prompt.Name]; !exists {
		m.promptsOrder = append(m.promptsOrder, prompt.Name)
	}

	m.prompts[prompt.Name] = &registeredPrompt{
		Prompt:  prompt,
		Handler: handler,
	}

	for _, opt := range options {
		opt(m.prompts[prompt.Name])
	}
}

// getPrompt retrieves a prompt by name.
func (m *promptManager) getPrompt(name string) (*Prompt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	registered, exists := m.prompts[name]
	if !exists {
		return nil, false
	}
	return registered.Prompt, true
}

// getPrompts retrieves all prompts in registration order.
func (m *promptManager) getPrompts() []*Prompt {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prompts := make([]*Prompt, 0, len(m.prompts))
	for _, name := range m.promptsOrder {
		if registered, exists := m.prompts[name]; exists {
			prompts = append(prompts, registered.Prompt)
		}
	}
	return prompts
}

// hasPrompts reports whether any prompt is registered.
func (m *promptManager) hasPrompts() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.prompts) > 0
}

// hasCompletionCompleteHandler checks whether any prompt carries a completion
// handler.
func (m *promptManager) hasCompletionCompleteHandler() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, registered := range m.prompts {
		if registered.CompletionCompleteHandler != nil {
			return true
		}
	}
	return false
}

// handleListPrompts handles prompts/list requests.
func (m *promptManager) handleListPrompts(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	promptPtrs := m.getPrompts()

	// Apply filter if available
	if m.promptListFilter != nil {
		promptPtrs = m.promptListFilter(ctx, promptPtrs)
	}

	resultPrompts := make([]Prompt, 0, len(promptPtrs))
	for _, prompt := range promptPtrs {
		if prompt != nil {
			resultPrompts = append(resultPrompts, *prompt)
		}
	}

	return &ListPromptsResult{Prompts: resultPrompts}, nil
}

// defaultPromptMessages renders a prompt without a handler by echoing its
// arguments.
func defaultPromptMessages(prompt *Prompt, arguments map[string]string) []PromptMessage {
	text := fmt.Sprintf("This is an example rendering of the %s prompt.", prompt.Name)
	for _, arg := range prompt.Arguments {
		if value, ok := arguments[arg.Name]; ok {
			text += fmt.Sprintf("\nParameter %s: %v", arg.Name, value)
		} else if arg.Required {
			text += fmt.Sprintf("\nParameter %s: [not provided]", arg.Name)
		}
	}
	return []PromptMessage{
		{
			Role:    RoleUser,
			Content: NewTextContent(text),
		},
	}
}

// handleGetPrompt handles prompts/get requests.
func (m *promptManager) handleGetPrompt(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	getReq := &GetPromptRequest{}
	getReq.Method = req.Method
	if err := parseJSONRPCParams(req.Params, &getReq.Params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", nil), nil
	}
	if getReq.Params.Name == "" {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "missing prompt name", nil), nil
	}

	m.mu.RLock()
	registered, exists := m.prompts[getReq.Params.Name]
	m.mu.RUnlock()
	if !exists {
		return newJSONRPCErrorResponse(
			req.ID,
			ErrCodeInvalidParams,
			fmt.Sprintf("%v: %s", ErrPromptNotFound, getReq.Params.Name),
			nil,
		), nil
	}

	if registered.Handler != nil {
		result, err := registered.Handler(ctx, getReq)
		if err != nil {
			return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
		}
		return result, nil
	}

	// Fall back to a generic rendering when no handler is registered.
	return &GetPromptResult{
		Description: registered.Prompt.Description,
		Messages:    defaultPromptMessages(registered.Prompt, getReq.Params.Arguments),
	}, nil
}

// parseCompletionCompleteParams extracts and validates the typed
// completion/complete params from a request.
func parseCompletionCompleteParams(req *JSONRPCRequest) (*CompleteCompletionRequest, *JSONRPCError) {
	completionReq := &CompleteCompletionRequest{}
	completionReq.Method = req.Method
	if err := parseJSONRPCParams(req.Params, &completionReq.Params); err != nil {
		return nil, newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", nil)
	}

	ref := completionReq.Params.Ref
	switch ref.Type {
	case "ref/prompt":
		if ref.Name == "" {
			return nil, newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "missing prompt name in ref", nil)
		}
	case "ref/resource":
		if ref.URI == "" {
			return nil, newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "missing resource uri in ref", nil)
		}
	default:
		return nil, newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, fmt.Sprintf("unknown ref type: %q", ref.Type), nil)
	}

	if completionReq.Params.Argument.Name == "" {
		return nil, newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "missing argument name", nil)
	}
	return completionReq, nil
}

// handleCompletionComplete handles completion/complete requests that reference
// a prompt.
func (m *promptManager) handleCompletionComplete(ctx context.Context, completionReq *CompleteCompletionRequest, req *JSONRPCRequest) (JSONRPCMessage, error) {
	m.mu.RLock()
	registered, exists := m.prompts[completionReq.Params.Ref.Name]
	m.mu.RUnlock()
	if !exists {
		return newJSONRPCErrorResponse(
			req.ID,
			ErrCodeInvalidParams,
			fmt.Sprintf("%v: %s", ErrPromptNotFound, completionReq.Params.Ref.Name),
			nil,
		), nil
	}

	if registered.CompletionCompleteHandler == nil {
		return newJSONRPCErrorResponse(
			req.ID,
			ErrCodeMethodNotFound,
			fmt.Sprintf("no completion handler for %s", completionReq.Params.Ref.Name),
			nil,
		), nil
	}

	result, err := registered.CompletionCompleteHandler(ctx, completionReq)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
	}
	return result, nil
}
