// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCodeReviewPrompt() *Prompt {
	return &Prompt{
		Name:        "code-review",
		Description: "Reviews a diff",
		Arguments: []PromptArgument{
			{Name: "language", Description: "source language", Required: true},
			{Name: "style", Description: "review style"},
		},
	}
}

func TestPromptManagerListPrompts(t *testing.T) {
	manager := newPromptManager()
	assert.False(t, manager.hasPrompts())

	manager.registerPrompt(newCodeReviewPrompt(), nil)
	manager.registerPrompt(&Prompt{Name: "summarize"}, nil)
	manager.registerPrompt(nil, nil)
	assert.True(t, manager.hasPrompts())

	msg, err := manager.handleListPrompts(context.Background(),
		NewJSONRPCRequest(int64(1), MethodPromptsList, nil))
	require.NoError(t, err)
	result, ok := msg.(*ListPromptsResult)
	require.True(t, ok)
	require.Len(t, result.Prompts, 2)
	assert.Equal(t, "code-review", result.Prompts[0].Name)
	assert.Equal(t, "summarize", result.Prompts[1].Name)
}

func TestPromptManagerGetPromptWithHandler(t *testing.T) {
	manager := newPromptManager()
	manager.registerPrompt(newCodeReviewPrompt(),
		func(ctx context.Context, req *GetPromptRequest) (*GetPromptResult, error) {
			return &GetPromptResult{
				Description: "rendered",
				Messages: []PromptMessage{
					{Role: RoleUser, Content: NewTextContent("review this " + req.Params.Arguments["language"])},
				},
			}, nil
		})

	msg, err := manager.handleGetPrompt(context.Background(),
		NewJSONRPCRequest(int64(1), MethodPromptsGet, map[string]interface{}{
			"name":      "code-review",
			"arguments": map[string]string{"language": "go"},
		}))
	require.NoError(t, err)
	result, ok := msg.(*GetPromptResult)
	require.True(t, ok)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "review this go", result.Messages[0].Content.(TextContent).Text)
}

func TestPromptManagerGetPromptDefaultRendering(t *testing.T) {
	manager := newPromptManager()
	manager.registerPrompt(newCodeReviewPrompt(), nil)

	msg, err := manager.handleGetPrompt(context.Background(),
		NewJSONRPCRequest(int64(1), MethodPromptsGet, map[string]interface{}{
			"name":      "code-review",
			"arguments": map[string]string{"language": "go"},
		}))
	require.NoError(t, err)
	result, ok := msg.(*GetPromptResult)
	require.True(t, ok)
	require.Len(t, result.Messages, 1)

	text := result.Messages[0].Content.(TextContent).Text
	assert.Contains(t, text, "code-review")
	assert.Contains(t, text, "language: go")
}

func TestPromptManagerGetPromptErrors(t *testing.T) {
	manager := newPromptManager()
	manager.registerPrompt(&Prompt{Name: "broken"},
		func(ctx context.Context, req *GetPromptRequest) (*GetPromptResult, error) {
			return nil, fmt.Errorf("render failed")
		})

	tests := []struct {
		name     string
		params   interface{}
		wantCode int
	}{
		{"missing name", map[string]interface{}{}, ErrCodeInvalidParams},
		{"unknown prompt", map[string]interface{}{"name": "nope"}, ErrCodeInvalidParams},
		{"handler error", map[string]interface{}{"name": "broken"}, ErrCodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := manager.handleGetPrompt(context.Background(),
				NewJSONRPCRequest(int64(1), MethodPromptsGet, tc.params))
			require.NoError(t, err)
			errResp, ok := msg.(*JSONRPCError)
			require.True(t, ok)
			assert.Equal(t, tc.wantCode, errResp.Error.Code)
		})
	}
}

func TestPromptManagerCompletion(t *testing.T) {
	manager := newPromptManager()
	manager.registerPrompt(newCodeReviewPrompt(), nil,
		WithPromptCompletion(func(ctx context.Context, req *CompleteCompletionRequest) (*CompleteCompletionResult, error) {
			result := &CompleteCompletionResult{}
			if req.Params.Argument.Name == "language" {
				result.Completion.Values = []string{"go", "rust"}
				result.Completion.Total = 2
			}
			return result, nil
		}))
	assert.True(t, manager.hasCompletionCompleteHandler())

	req := NewJSONRPCRequest(int64(1), MethodCompletionComplete, map[string]interface{}{
		"ref":      map[string]interface{}{"type": "ref/prompt", "name": "code-review"},
		"argument": map[string]interface{}{"name": "language", "value": "g"},
	})
	completionReq, errResp := parseCompletionCompleteParams(req)
	require.Nil(t, errResp)

	msg, err := manager.handleCompletionComplete(context.Background(), completionReq, req)
	require.NoError(t, err)
	result, ok := msg.(*CompleteCompletionResult)
	require.True(t, ok)
	assert.Equal(t, []string{"go", "rust"}, result.Completion.Values)
	assert.Equal(t, 2, result.Completion.Total)
}

func TestPromptManagerCompletionWithoutHandler(t *testing.T) {
	manager := newPromptManager()
	manager.registerPrompt(newCodeReviewPrompt(), nil)
	assert.False(t, manager.hasCompletionCompleteHandler())

	req := NewJSONRPCRequest(int64(1), MethodCompletionComplete, map[string]interface{}{
		"ref":      map[string]interface{}{"type": "ref/prompt", "name": "code-review"},
		"argument": map[string]interface{}{"name": "language", "value": "g"},
	})
	completionReq, errResp := parseCompletionCompleteParams(req)
	require.Nil(t, errResp)

	msg, err := manager.handleCompletionComplete(context.Background(), completionReq, req)
	require.NoError(t, err)
	errMsg, ok := msg.(*JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeMethodNotFound, errMsg.Error.Code)
}

func TestParseCompletionCompleteParams(t *testing.T) {
	tests := []struct {
		name   string
		params interface{}
		wantOK bool
	}{
		{"prompt ref", map[string]interface{}{
			"ref":      map[string]interface{}{"type": "ref/prompt", "name": "p"},
			"argument": map[string]interface{}{"name": "a", "value": "v"},
		}, true},
		{"resource ref", map[string]interface{}{
			"ref":      map[string]interface{}{"type": "ref/resource", "uri": "file:///x"},
			"argument": map[string]interface{}{"name": "a", "value": "v"},
		}, true},
		{"unknown ref type", map[string]interface{}{
			"ref":      map[string]interface{}{"type": "ref/other", "name": "p"},
			"argument": map[string]interface{}{"name": "a", "value": "v"},
		}, false},
		{"prompt ref without name", map[string]interface{}{
			"ref":      map[string]interface{}{"type": "ref/prompt"},
			"argument": map[string]interface{}{"name": "a", "value": "v"},
		}, false},
		{"resource ref without uri", map[string]interface{}{
			"ref":      map[string]interface{}{"type": "ref/resource"},
			"argument": map[string]interface{}{"name": "a", "value": "v"},
		}, false},
		{"missing argument name", map[string]interface{}{
			"ref":      map[string]interface{}{"type": "ref/prompt", "name": "p"},
			"argument": map[string]interface{}{"value": "v"},
		}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, errResp := parseCompletionCompleteParams(
				NewJSONRPCRequest(int64(1), MethodCompletionComplete, tc.params))
			if tc.wantOK {
				assert.Nil(t, errResp)
			} else {
				assert.NotNil(t, errResp)
			}
		})
	}
}
