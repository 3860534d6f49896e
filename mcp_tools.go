// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/streamkit/mcp-go/internal/openapi"
)

// Tool represents a tool the server exposes to clients.
type Tool struct {
	// Name is the unique name of the tool.
	Name string `json:"name"`
	// Description explains what the tool does.
	Description string `json:"description,omitempty"`
	// InputSchema is a JSON Schema object describing the tool's arguments.
	InputSchema *openapi3.Schema `json:"inputSchema"`
	// Annotations carry optional hints about tool behavior.
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
	// Execution declares how the tool may be driven. Nil means task
	// augmentation is accepted but not required.
	Execution *ToolExecution `json:"execution,omitempty"`
}

// TaskSupport is a tool's stance on task-augmented execution.
type TaskSupport string

const (
	// TaskSupportNone rejects task-augmented calls.
	TaskSupportNone TaskSupport = "none"
	// TaskSupportOptional accepts calls with or without task augmentation.
	TaskSupportOptional TaskSupport = "optional"
	// TaskSupportRequired rejects calls that are not task-augmented.
	TaskSupportRequired TaskSupport = "required"
)

// ToolExecution describes execution requirements surfaced in tools/list.
type ToolExecution struct {
	TaskSupport TaskSupport `json:"taskSupport,omitempty"`
}

// ToolAnnotations are optional hints about how a tool behaves.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint bool   `json:"destructiveHint,omitempty"`
	IdempotentHint  bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint   bool   `json:"openWorldHint,omitempty"`
}

// ToolOption configures a Tool during construction.
type ToolOption func(*Tool)

// PropertyOption configures a single schema property.
type PropertyOption func(*openapi3.Schema)

// NewTool creates a tool with an object input schema built from the options.
func NewTool(name string, opts ...ToolOption) *Tool {
	tool := &Tool{
		Name:        name,
		InputSchema: openapi.DefaultCompat.CreateObjectSchema(),
	}
	for _, opt := range opts {
		opt(tool)
	}
	return tool
}

// WithDescription sets the tool description.
func WithDescription(description string) ToolOption {
	return func(t *Tool) { t.Description = description }
}

// WithToolAnnotations sets the tool annotations.
func WithToolAnnotations(annotations *ToolAnnotations) ToolOption {
	return func(t *Tool) { t.Annotations = annotations }
}

// WithTaskSupport declares whether the tool accepts, requires, or rejects
// task-augmented calls.
func WithTaskSupport(mode TaskSupport) ToolOption {
	return func(t *Tool) { t.Execution = &ToolExecution{TaskSupport: mode} }
}

// addProperty registers a named schema property on the tool's input schema.
func addProperty(t *Tool, name string, schema *openapi3.Schema, opts ...PropertyOption) {
	for _, opt := range opts {
		opt(schema)
	}
	t.InputSchema.Properties[name] = &openapi3.SchemaRef{Value: schema}
	// A sentinel set by Required(); see below.
	if schema.Extensions != nil {
		if _, ok := schema.Extensions[requiredSentinel]; ok {
			delete(schema.Extensions, requiredSentinel)
			if len(schema.Extensions) == 0 {
				schema.Extensions = nil
			}
			t.InputSchema.Required = append(t.InputSchema.Required, name)
		}
	}
}

// WithString adds a string property to the tool input schema.
func WithString(name string, opts ...PropertyOption) ToolOption {
	return func(t *Tool) {
		addProperty(t, name, openapi.DefaultCompat.CreateStringSchema(), opts...)
	}
}

// WithNumber adds a number property to the tool input schema.
func WithNumber(name string, opts ...PropertyOption) ToolOption {
	return func(t *Tool) {
		addProperty(t, name, openapi.DefaultCompat.CreateNumberSchema(), opts...)
	}
}

// WithInteger adds an integer property to the tool input schema.
func WithInteger(name string, opts ...PropertyOption) ToolOption {
	return func(t *Tool) {
		addProperty(t, name, openapi.DefaultCompat.CreateIntegerSchema(), opts...)
	}
}

// WithBoolean adds a boolean property to the tool input schema.
func WithBoolean(name string, opts ...PropertyOption) ToolOption {
	return func(t *Tool) {
		addProperty(t, name, openapi.DefaultCompat.CreateBooleanSchema(), opts...)
	}
}

// WithArray adds an array property to the tool input schema.
func WithArray(name string, opts ...PropertyOption) ToolOption {
	return func(t *Tool) {
		addProperty(t, name, openapi.DefaultCompat.CreateArraySchema(), opts...)
	}
}

// WithObject adds an object property to the tool input schema.
func WithObject(name string, opts ...PropertyOption) ToolOption {
	return func(t *Tool) {
		addProperty(t, name, openapi.DefaultCompat.CreateObjectSchema(), opts...)
	}
}

// requiredSentinel marks a property as required until addProperty hoists it
// into the parent schema's Required list.
const requiredSentinel = "x-mcp-required"

// Required marks the property as required.
func Required() PropertyOption {
	return func(s *openapi3.Schema) {
		if s.Extensions == nil {
			s.Extensions = make(map[string]interface{})
		}
		s.Extensions[requiredSentinel] = true
	}
}

// Description sets the property description.
func Description(description string) PropertyOption {
	return func(s *openapi3.Schema) { s.Description = description }
}

// Default sets the property default value.
func Default(value interface{}) PropertyOption {
	return func(s *openapi3.Schema) { s.Default = value }
}

// Enum restricts the property to the given values.
func Enum(values ...interface{}) PropertyOption {
	return func(s *openapi3.Schema) { s.Enum = values }
}

// ListToolsRequest describes a request to list tools.
type ListToolsRequest struct {
	PaginatedRequest
}

// ListToolsResult describes the result of listing tools.
type ListToolsResult struct {
	PaginatedResult
	Tools []Tool `json:"tools"`
}

// CallToolParams carries the arguments of a tools/call request.
type CallToolParams struct {
	Meta      *Meta                  `json:"_meta,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// CallToolRequest describes a request to invoke a tool.
type CallToolRequest struct {
	Request
	Params CallToolParams `json:"params"`
}

// NewCallToolRequest creates a tools/call request for the named tool.
func NewCallToolRequest(name string, arguments map[string]interface{}) *CallToolRequest {
	req := &CallToolRequest{}
	req.Method = MethodToolsCall
	req.Params.Name = name
	req.Params.Arguments = arguments
	return req
}

// CallToolResult describes the result of a tool invocation.
type CallToolResult struct {
	Result
	Content []Content `json:"content"`
	// StructuredContent carries typed output alongside the content items.
	StructuredContent interface{} `json:"structuredContent,omitempty"`
	// IsError reports a tool-level failure. Unlike protocol errors, the
	// LLM sees these results and can react to them.
	IsError bool `json:"isError,omitempty"`
}

// NewTextResult creates a tool result containing a single text content item.
func NewTextResult(text string) *CallToolResult {
	return &CallToolResult{Content: []Content{NewTextContent(text)}}
}

// NewErrorResult creates a tool-level error result.
func NewErrorResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{NewTextContent(text)},
		IsError: true,
	}
}

// UnmarshalJSON handles the polymorphic Content field.
func (r *CallToolResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Meta              map[string]interface{} `json:"_meta,omitempty"`
		Content           []json.RawMessage      `json:"content"`
		StructuredContent interface{}            `json:"structuredContent,omitempty"`
		IsError           bool                   `json:"isError,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Meta = raw.Meta
	r.StructuredContent = raw.StructuredContent
	r.IsError = raw.IsError
	r.Content = make([]Content, 0, len(raw.Content))
	for _, item := range raw.Content {
		var contentMap map[string]interface{}
		if err := json.Unmarshal(item, &contentMap); err != nil {
			return fmt.Errorf("parse content item: %w", err)
		}
		content, err := parseContent(contentMap)
		if err != nil {
			return err
		}
		r.Content = append(r.Content, content)
	}
	return nil
}

// parseContent converts a decoded content map into a concrete Content value.
func parseContent(contentMap map[string]interface{}) (Content, error) {
	contentType, _ := contentMap["type"].(string)
	switch contentType {
	case ContentTypeText:
		text, _ := contentMap["text"].(string)
		return NewTextContent(text), nil
	case ContentTypeImage:
		data, _ := contentMap["data"].(string)
		mimeType, _ := contentMap["mimeType"].(string)
		return NewImageContent(data, mimeType), nil
	case ContentTypeAudio:
		data, _ := contentMap["data"].(string)
		mimeType, _ := contentMap["mimeType"].(string)
		return NewAudioContent(data, mimeType), nil
	case "resource", ContentTypeEmbeddedResource:
		resourceRaw, err := json.Marshal(contentMap["resource"])
		if err != nil {
			return nil, fmt.Errorf("parse embedded resource: %w", err)
		}
		resource, err := parseResourceContents(resourceRaw)
		if err != nil {
			return nil, err
		}
		return NewEmbeddedResource(resource), nil
	default:
		return nil, fmt.Errorf("unknown content type %q", contentType)
	}
}

// ToolListFilter filters the tools visible to a client.
type ToolListFilter func(ctx context.Context, tools []*Tool) []*Tool

// toolHandler executes a tool call.
type toolHandler func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error)

// registeredTool combines a Tool with its handler.
type registeredTool struct {
	Tool    *Tool
	Handler toolHandler
}

// ToolListChangedNotification signals that the tool list has changed.
type ToolListChangedNotification struct {
	Notification
}
