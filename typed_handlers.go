// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// TypedToolHandler processes a decoded input value and returns typed output.
type TypedToolHandler[I any, O any] func(ctx context.Context, req *CallToolRequest, input I) (O, error)

// NewTypedToolHandler wraps a typed handler as a plain tool handler. The
// request arguments are decoded into I, the output is attached as structured
// content with a JSON text fallback. Binding failures become tool-level
// errors rather than protocol errors.
func NewTypedToolHandler[I any, O any](handler TypedToolHandler[I, O]) func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
	return func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		var input I
		if err := bindArguments(req.Params.Arguments, &input); err != nil {
			return NewErrorResult(fmt.Sprintf("failed to bind arguments: %v", err)), nil
		}
		output, err := handler(ctx, req, input)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("tool execution failed: %v", err)), nil
		}
		return structuredResult(output), nil
	}
}

// NewStructuredToolHandler wraps a handler that returns typed output but
// reads its arguments from the raw request.
func NewStructuredToolHandler[O any](handler func(ctx context.Context, req *CallToolRequest) (O, error)) func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
	return func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
		output, err := handler(ctx, req)
		if err != nil {
			return NewErrorResult(fmt.Sprintf("tool execution failed: %v", err)), nil
		}
		return structuredResult(output), nil
	}
}

// structuredResult pairs structured output with a text rendering for clients
// that predate structured content.
func structuredResult(output interface{}) *CallToolResult {
	var fallback string
	if data, err := json.Marshal(output); err != nil {
		fallback = fmt.Sprintf("error serializing structured content: %v", err)
	} else {
		fallback = string(data)
	}
	return &CallToolResult{
		Content:           []Content{NewTextContent(fallback)},
		StructuredContent: output,
	}
}

// bindArguments decodes a tool call's argument map into a typed struct.
func bindArguments(arguments map[string]interface{}, target interface{}) error {
	if arguments == nil {
		return nil
	}
	data, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshal arguments: %w", err)
	}
	return nil
}
