// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// promptHandler serves prompts/get requests for one registered prompt.
type promptHandler func(ctx context.Context, req *GetPromptRequest) (*GetPromptResult, error)

// PromptListFilter filters the prompts visible to a client. The filter
// receives the request context and all registered prompts and returns the
// subset to expose.
type PromptListFilter func(ctx context.Context, prompts []*Prompt) []*Prompt

// completionCompleteHandler serves argument completion for a prompt.
type completionCompleteHandler func(ctx context.Context, req *CompleteCompletionRequest) (*CompleteCompletionResult, error)

// registeredPromptOption configures a registeredPrompt.
type registeredPromptOption func(*registeredPrompt)

// registeredPrompt combines a Prompt with its handler.
type registeredPrompt struct {
	Prompt                    *Prompt
	Handler                   promptHandler
	CompletionCompleteHandler completionCompleteHandler
}

// WithPromptCompletion attaches a completion handler to a prompt.
func WithPromptCompletion(handler completionCompleteHandler) registeredPromptOption {
	return func(rp *registeredPrompt) {
		rp.CompletionCompleteHandler = handler
	}
}

// ListPromptsRequest describes a request to list prompts.
type ListPromptsRequest struct {
	PaginatedRequest
}

// ListPromptsResult describes the result of listing prompts.
type ListPromptsResult struct {
	PaginatedResult
	Prompts []Prompt `json:"prompts"`
}

// GetPromptRequest describes a request to get a prompt.
type GetPromptRequest struct {
	Request
	Params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments,omitempty"`
	} `json:"params"`
}

// GetPromptResult describes the result of getting a prompt.
type GetPromptResult struct {
	Result
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// CompleteCompletionRequest describes a completion/complete request.
type CompleteCompletionRequest struct {
	Request
	Params struct {
		// Ref identifies the prompt or resource the completion is for.
		Ref struct {
			// Name names the prompt for "ref/prompt" references.
			Name string `json:"name"`

			// Title is an optional display name for UI contexts.
			Title string `json:"title,omitempty"`

			// Type is "ref/prompt" or "ref/resource".
			Type string `json:"type"`

			// URI identifies the resource for "ref/resource" references.
			URI string `json:"uri,omitempty"`
		} `json:"ref"`

		// Argument is the argument being completed.
		Argument struct {
			Name string `json:"name"`

			// Value is the partial value to match completions against.
			Value string `json:"value"`
		} `json:"argument"`

		// Context carries previously resolved arguments.
		Context struct {
			Arguments map[string]string `json:"arguments,omitempty"`
		} `json:"context,omitempty"`
	} `json:"params"`
}

// CompleteCompletionResult describes the result of a completion.
type CompleteCompletionResult struct {
	Result
	Completion struct {
		// Values holds the completion candidates, at most 100 items.
		Values []string `json:"values"`

		// Total is the total number of options available, which can exceed
		// the number of values returned.
		Total int `json:"total,omitempty"`

		// HasMore indicates that more options exist beyond those returned.
		HasMore bool `json:"hasMore,omitempty"`
	} `json:"completion"`
}

// PromptListChangedNotification signals that the prompt list has changed.
type PromptListChangedNotification struct {
	Notification
}

// Prompt represents a prompt or prompt template provided by the server.
type Prompt struct {
	// Name is the name of the prompt or prompt template.
	Name string `json:"name"`

	// Description optionally describes what the prompt provides.
	Description string `json:"description,omitempty"`

	// Arguments lists the parameters used to template the prompt.
	Arguments []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one parameter accepted by a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage is one message of a rendered prompt.
type PromptMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// UnmarshalJSON handles the polymorphic Content field.
func (pm *PromptMessage) UnmarshalJSON(data []byte) error {
	type alias PromptMessage
	temp := &struct {
		Content json.RawMessage `json:"content"`
		*alias
	}{
		alias: (*alias)(pm),
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return fmt.Errorf("unmarshal prompt message: %w", err)
	}

	if len(temp.Content) == 0 || string(temp.Content) == "null" {
		pm.Content = nil
		return nil
	}

	var contentMap map[string]interface{}
	if err := json.Unmarshal(temp.Content, &contentMap); err != nil {
		return fmt.Errorf("unmarshal prompt content: %w", err)
	}
	content, err := parseContent(contentMap)
	if err != nil {
		return err
	}
	pm.Content = content
	return nil
}
