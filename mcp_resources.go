// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yosida95/uritemplate/v3"
)

// Resource represents a known resource the server can read.
type Resource struct {
	Annotated
	// URI is the unique identifier of the resource.
	URI string `json:"uri"`
	// Name is a human-readable name for the resource.
	Name string `json:"name"`
	// Description is an optional description of the resource.
	Description string `json:"description,omitempty"`
	// MimeType is the MIME type of the resource content, if known.
	MimeType string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a parameterized resource using an RFC 6570 URI
// template.
type ResourceTemplate struct {
	Annotated
	URITemplate *URITemplate `json:"uriTemplate"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	MimeType    string       `json:"mimeType,omitempty"`
}

// URITemplate wraps uritemplate.Template so it marshals as its raw string.
type URITemplate struct {
	*uritemplate.Template
}

// MarshalJSON implements json.Marshaler.
func (t *URITemplate) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Template.Raw())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *URITemplate) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	template, err := uritemplate.New(raw)
	if err != nil {
		return fmt.Errorf("invalid uri template %q: %w", raw, err)
	}
	t.Template = template
	return nil
}

// NewResourceTemplate creates a resource template. It panics if the URI
// template does not parse; templates are typically package-level constants.
func NewResourceTemplate(uriTemplate, name string, opts ...ResourceTemplateOption) *ResourceTemplate {
	template := &ResourceTemplate{
		URITemplate: &URITemplate{Template: uritemplate.MustNew(uriTemplate)},
		Name:        name,
	}
	for _, opt := range opts {
		opt(template)
	}
	return template
}

// ResourceTemplateOption configures a ResourceTemplate.
type ResourceTemplateOption func(*ResourceTemplate)

// WithTemplateDescription sets the template description.
func WithTemplateDescription(description string) ResourceTemplateOption {
	return func(t *ResourceTemplate) { t.Description = description }
}

// WithTemplateMIMEType sets the template MIME type.
func WithTemplateMIMEType(mimeType string) ResourceTemplateOption {
	return func(t *ResourceTemplate) { t.MimeType = mimeType }
}

// ResourceContents is the content of a read resource, either text or blob.
type ResourceContents interface {
	isResourceContents()
}

// TextResourceContents holds UTF-8 text resource content.
type TextResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

func (TextResourceContents) isResourceContents() {}

// BlobResourceContents holds base64-encoded binary resource content.
type BlobResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Blob     string `json:"blob"`
}

func (BlobResourceContents) isResourceContents() {}

// ListResourcesRequest describes a request to list resources.
type ListResourcesRequest struct {
	PaginatedRequest
}

// ListResourcesResult describes the result of listing resources.
type ListResourcesResult struct {
	PaginatedResult
	Resources []Resource `json:"resources"`
}

// ListResourceTemplatesRequest describes a request to list resource templates.
type ListResourceTemplatesRequest struct {
	PaginatedRequest
}

// ListResourceTemplatesResult describes the result of listing templates.
type ListResourceTemplatesResult struct {
	PaginatedResult
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

// ReadResourceRequest describes a request to read a resource.
type ReadResourceRequest struct {
	Request
	Params struct {
		URI       string                 `json:"uri"`
		Arguments map[string]interface{} `json:"arguments,omitempty"`
	} `json:"params"`
}

// ReadResourceResult describes the result of reading a resource.
type ReadResourceResult struct {
	Result
	Contents []ResourceContents `json:"contents"`
}

// UnmarshalJSON handles the polymorphic Contents field.
func (r *ReadResourceResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Meta     map[string]interface{} `json:"_meta,omitempty"`
		Contents []json.RawMessage      `json:"contents"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Meta = raw.Meta
	r.Contents = make([]ResourceContents, 0, len(raw.Contents))
	for _, item := range raw.Contents {
		contents, err := parseResourceContents(item)
		if err != nil {
			return err
		}
		r.Contents = append(r.Contents, contents)
	}
	return nil
}

// parseResourceContents decodes a single contents entry, distinguishing text
// from blob by field presence.
func parseResourceContents(data []byte) (ResourceContents, error) {
	var raw struct {
		URI      string  `json:"uri"`
		MimeType string  `json:"mimeType,omitempty"`
		Text     *string `json:"text,omitempty"`
		Blob     *string `json:"blob,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse resource contents: %w", err)
	}
	if raw.Blob != nil {
		return BlobResourceContents{URI: raw.URI, MimeType: raw.MimeType, Blob: *raw.Blob}, nil
	}
	if raw.Text != nil {
		return TextResourceContents{URI: raw.URI, MimeType: raw.MimeType, Text: *raw.Text}, nil
	}
	return nil, fmt.Errorf("resource contents for %q has neither text nor blob", raw.URI)
}

// SubscribeRequest describes a request to watch a resource for updates.
type SubscribeRequest struct {
	Request
	Params struct {
		URI string `json:"uri"`
	} `json:"params"`
}

// UnsubscribeRequest describes a request to stop watching a resource.
type UnsubscribeRequest struct {
	Request
	Params struct {
		URI string `json:"uri"`
	} `json:"params"`
}

// ResourceListFilter filters the resources visible to a client.
type ResourceListFilter func(ctx context.Context, resources []*Resource) []*Resource

// resourceHandler produces a single contents entry for a read request.
type resourceHandler func(ctx context.Context, req *ReadResourceRequest) (ResourceContents, error)

// resourcesHandler produces multiple contents entries for a read request.
type resourcesHandler func(ctx context.Context, req *ReadResourceRequest) ([]ResourceContents, error)

// resourceTemplateHandler serves reads of URIs matched by a template. The
// params map holds the variables extracted from the matched URI.
type resourceTemplateHandler func(ctx context.Context, req *ReadResourceRequest, params map[string]string) ([]ResourceContents, error)

// resourceCompletionHandler serves argument completion for a resource.
type resourceCompletionHandler func(ctx context.Context, req *CompleteCompletionRequest) (*CompleteCompletionResult, error)

// templateCompletionHandler serves argument completion for a template.
type templateCompletionHandler func(ctx context.Context, req *CompleteCompletionRequest, params map[string]string) (*CompleteCompletionResult, error)

// registeredResource combines a Resource with its handler.
type registeredResource struct {
	Resource                  *Resource
	Handler                   resourcesHandler
	CompletionCompleteHandler resourceCompletionHandler
}

// registeredResourceOption configures a registeredResource.
type registeredResourceOption func(*registeredResource)

// WithResourceCompletion attaches a completion handler to a resource.
func WithResourceCompletion(handler resourceCompletionHandler) registeredResourceOption {
	return func(r *registeredResource) {
		r.CompletionCompleteHandler = handler
	}
}

// registerResourceTemplate combines a ResourceTemplate with its handler.
type registerResourceTemplate struct {
	resourceTemplate          *ResourceTemplate
	Handler                   resourceTemplateHandler
	CompletionCompleteHandler templateCompletionHandler
}

// registerResourceTemplateOption configures a registered template.
type registerResourceTemplateOption func(*registerResourceTemplate)

// WithTemplateCompletion attaches a completion handler to a template.
func WithTemplateCompletion(handler templateCompletionHandler) registerResourceTemplateOption {
	return func(t *registerResourceTemplate) {
		t.CompletionCompleteHandler = handler
	}
}
