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

func echoToolHandler(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
	name, _ := req.Params.Arguments["name"].(string)
	return NewTextResult("hello " + name), nil
}

func TestToolManagerRegisterAndList(t *testing.T) {
	manager := newToolManager()
	manager.registerTool(NewTool("beta", WithDescription("second")), echoToolHandler)
	manager.registerTool(NewTool("alpha", WithDescription("first")), echoToolHandler)
	manager.registerTool(nil, echoToolHandler)
	manager.registerTool(NewTool(""), echoToolHandler)

	msg, err := manager.handleListTools(context.Background(),
		NewJSONRPCRequest(int64(1), MethodToolsList, nil))
	require.NoError(t, err)
	result, ok := msg.(ListToolsResult)
	require.True(t, ok)
	require.Len(t, result.Tools, 2)

	// Registration order is preserved.
	assert.Equal(t, "beta", result.Tools[0].Name)
	assert.Equal(t, "alpha", result.Tools[1].Name)
}

func TestToolManagerReregisterReplacesHandler(t *testing.T) {
	manager := newToolManager()
	manager.registerTool(NewTool("greet"), echoToolHandler)
	manager.registerTool(NewTool("greet"), func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		return NewTextResult("replaced"), nil
	})

	assert.Len(t, manager.getTools(), 1)

	msg, err := manager.handleCallTool(context.Background(),
		NewJSONRPCRequest(int64(1), MethodToolsCall, map[string]interface{}{"name": "greet"}))
	require.NoError(t, err)
	result := msg.(*CallToolResult)
	assert.Equal(t, "replaced", result.Content[0].(TextContent).Text)
}

func TestToolManagerUnregister(t *testing.T) {
	manager := newToolManager()
	manager.registerTool(NewTool("a"), echoToolHandler)
	manager.registerTool(NewTool("b"), echoToolHandler)

	assert.Equal(t, 1, manager.unregisterTools("a", "missing"))
	assert.Equal(t, 0, manager.unregisterTools("a"))

	_, exists := manager.getTool("a")
	assert.False(t, exists)
	_, exists = manager.getTool("b")
	assert.True(t, exists)
}

func TestToolManagerCallTool(t *testing.T) {
	manager := newToolManager()
	manager.registerTool(NewTool("greet", WithString("name", Required())), echoToolHandler)

	msg, err := manager.handleCallTool(context.Background(),
		NewJSONRPCRequest(int64(1), MethodToolsCall, map[string]interface{}{
			"name":      "greet",
			"arguments": map[string]interface{}{"name": "go"},
		}))
	require.NoError(t, err)

	result, ok := msg.(*CallToolResult)
	require.True(t, ok)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello go", result.Content[0].(TextContent).Text)
}

func TestToolManagerCallToolErrors(t *testing.T) {
	manager := newToolManager()
	manager.registerTool(NewTool("fail"), func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		return nil, fmt.Errorf("tool exploded")
	})

	tests := []struct {
		name     string
		params   interface{}
		wantCode int
	}{
		{"missing name", map[string]interface{}{}, ErrCodeInvalidParams},
		{"unknown tool", map[string]interface{}{"name": "nope"}, ErrCodeMethodNotFound},
		{"handler error", map[string]interface{}{"name": "fail"}, ErrCodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := manager.handleCallTool(context.Background(),
				NewJSONRPCRequest(int64(1), MethodToolsCall, tc.params))
			require.NoError(t, err)
			errResp, ok := msg.(*JSONRPCError)
			require.True(t, ok)
			assert.Equal(t, tc.wantCode, errResp.Error.Code)
		})
	}
}

func TestToolManagerNilResultBecomesEmpty(t *testing.T) {
	manager := newToolManager()
	manager.registerTool(NewTool("quiet"), func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		return nil, nil
	})

	msg, err := manager.handleCallTool(context.Background(),
		NewJSONRPCRequest(int64(1), MethodToolsCall, map[string]interface{}{"name": "quiet"}))
	require.NoError(t, err)
	result, ok := msg.(*CallToolResult)
	require.True(t, ok)
	assert.Empty(t, result.Content)
}

func TestToolManagerListFilter(t *testing.T) {
	manager := newToolManager().withToolListFilter(
		func(ctx context.Context, tools []*Tool) []*Tool {
			var visible []*Tool
			for _, tool := range tools {
				if tool.Name != "hidden" {
					visible = append(visible, tool)
				}
			}
			return visible
		})
	manager.registerTool(NewTool("visible"), echoToolHandler)
	manager.registerTool(NewTool("hidden"), echoToolHandler)

	msg, err := manager.handleListTools(context.Background(),
		NewJSONRPCRequest(int64(1), MethodToolsList, nil))
	require.NoError(t, err)
	result := msg.(ListToolsResult)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "visible", result.Tools[0].Name)
}

func TestToolSchemaGeneration(t *testing.T) {
	tool := NewTool("convert",
		WithDescription("converts units"),
		WithString("from", Required(), Description("source unit")),
		WithNumber("value", Required()),
		WithBoolean("strict"),
	)

	assert.Equal(t, "convert", tool.Name)
	assert.Equal(t, "converts units", tool.Description)
	require.NotNil(t, tool.InputSchema)
	assert.ElementsMatch(t, []string{"from", "value"}, tool.InputSchema.Required)

	from, ok := tool.InputSchema.Properties["from"]
	require.True(t, ok)
	assert.True(t, from.Value.Type.Is("string"))
	assert.Equal(t, "source unit", from.Value.Description)

	value, ok := tool.InputSchema.Properties["value"]
	require.True(t, ok)
	assert.True(t, value.Value.Type.Is("number"))

	strict, ok := tool.InputSchema.Properties["strict"]
	require.True(t, ok)
	assert.True(t, strict.Value.Type.Is("boolean"))
}
