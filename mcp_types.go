// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"encoding/json"
	"strings"
	"sync"
)

// Content type discriminators carried in the "type" field of content blocks.
const (
	ContentTypeText             = "text"
	ContentTypeImage            = "image"
	ContentTypeAudio            = "audio"
	ContentTypeEmbeddedResource = "embedded_resource"
)

// Meta carries the _meta object of request params: the protocol-defined
// progressToken plus any custom fields, flattened into one JSON object.
type Meta struct {
	// ProgressToken, when set, asks the receiver to emit
	// notifications/progress carrying this token. The receiver may ignore
	// it.
	ProgressToken ProgressToken `json:"-"`

	// AdditionalFields holds every _meta member the protocol does not
	// define.
	AdditionalFields map[string]interface{} `json:"-"`
}

func (m *Meta) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	fields := make(map[string]interface{}, len(m.AdditionalFields)+1)
	for k, v := range m.AdditionalFields {
		fields[k] = v
	}
	if m.ProgressToken != nil {
		fields["progressToken"] = m.ProgressToken
	}
	return json.Marshal(fields)
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if token, ok := fields["progressToken"]; ok {
		m.ProgressToken = token
		delete(fields, "progressToken")
	}
	m.AdditionalFields = fields
	return nil
}

// Request is the shape shared by all MCP requests.
type Request struct {
	Method string `json:"method"`
	Params struct {
		Meta *Meta `json:"_meta,omitempty"`
	} `json:"params,omitempty"`
}

// Notification is the shape shared by all MCP notifications.
type Notification struct {
	Method string             `json:"method"`
	Params NotificationParams `json:"params,omitempty"`
}

// NotificationParams splits notification params into the protocol's _meta
// object and everything else. On the wire both are one flat object.
type NotificationParams struct {
	Meta             map[string]interface{} `json:"_meta,omitempty"`
	AdditionalFields map[string]interface{} `json:"-"`
}

func (p NotificationParams) MarshalJSON() ([]byte, error) {
	fields := make(map[string]interface{}, len(p.AdditionalFields)+1)
	for k, v := range p.AdditionalFields {
		fields[k] = v
	}
	if len(p.Meta) > 0 {
		fields["_meta"] = p.Meta
	}
	return json.Marshal(fields)
}

func (p *NotificationParams) UnmarshalJSON(data []byte) error {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.AdditionalFields = make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == "_meta" {
			if meta, ok := v.(map[string]interface{}); ok && len(meta) > 0 {
				p.Meta = meta
			}
			continue
		}
		p.AdditionalFields[k] = v
	}
	return nil
}

// Result is the shape shared by all MCP results.
type Result struct {
	Meta map[string]interface{} `json:"_meta,omitempty"`
}

// PaginatedResult extends Result with the cursor for the next page.
type PaginatedResult struct {
	Result
	NextCursor Cursor `json:"nextCursor,omitempty"`
}

// ProgressToken is an opaque token correlating progress notifications with
// the request that asked for them. Strings and numbers are both legal.
type ProgressToken interface{}

// Cursor is an opaque pagination position.
type Cursor string

// Role identifies the sender or intended recipient of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Annotated adds the optional annotations object to content blocks.
type Annotated struct {
	Annotations *struct {
		Audience []Role  `json:"audience,omitempty"`
		Priority float64 `json:"priority,omitempty"`
	} `json:"annotations,omitempty"`
}

// Content is one block of message content: text, image, audio or an
// embedded resource.
type Content interface {
	isContent()
}

// TextContent is a plain text block.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Annotated
}

func (TextContent) isContent() {}

// ImageContent is a base64-encoded image block.
type ImageContent struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
	Annotated
}

func (ImageContent) isContent() {}

// AudioContent is a base64-encoded audio block.
type AudioContent struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
	Annotated
}

func (AudioContent) isContent() {}

// EmbeddedResource is resource contents inlined into a message.
type EmbeddedResource struct {
	Resource ResourceContents `json:"resource"`
	Type     string           `json:"type"`
	Annotated
}

func (EmbeddedResource) isContent() {}

// NewTextContent creates a text content block.
func NewTextContent(text string) TextContent {
	return TextContent{Type: ContentTypeText, Text: text}
}

// NewImageContent creates an image content block from base64 data.
func NewImageContent(data, mimeType string) ImageContent {
	return ImageContent{Type: ContentTypeImage, Data: data, MimeType: mimeType}
}

// NewAudioContent creates an audio content block from base64 data.
func NewAudioContent(data, mimeType string) AudioContent {
	return AudioContent{Type: ContentTypeAudio, Data: data, MimeType: mimeType}
}

// NewEmbeddedResource creates an embedded resource content block.
func NewEmbeddedResource(resource ResourceContents) EmbeddedResource {
	return EmbeddedResource{Type: ContentTypeEmbeddedResource, Resource: resource}
}

// RootsProvider supplies the roots a client answers roots/list with.
type RootsProvider interface {
	GetRoots() []Root
}

// Root is a filesystem root the client exposes to the server. URI must use
// the file:// scheme.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// ListRootsResult is the client's response to roots/list.
type ListRootsResult struct {
	Result
	Roots []Root `json:"roots"`
}

// DefaultRootsProvider is a mutable in-memory RootsProvider.
type DefaultRootsProvider struct {
	mu    sync.RWMutex
	roots []Root
}

// NewDefaultRootsProvider creates a provider seeded with the given roots.
func NewDefaultRootsProvider(roots ...Root) *DefaultRootsProvider {
	return &DefaultRootsProvider{roots: append([]Root{}, roots...)}
}

// normalizeRootURI coerces a filesystem path into a file:// URI. Values
// already carrying the scheme pass through unchanged.
func normalizeRootURI(uri string) string {
	if strings.HasPrefix(uri, "file://") {
		return uri
	}
	if strings.HasPrefix(uri, "/") {
		return "file://" + uri
	}
	return "file:///" + uri
}

// AddRoot registers a root. Plain paths are normalized to file:// URIs.
func (p *DefaultRootsProvider) AddRoot(uri, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roots = append(p.roots, Root{URI: normalizeRootURI(uri), Name: name})
}

// RemoveRoot drops the root with the given URI, normalizing plain paths
// the same way AddRoot does.
func (p *DefaultRootsProvider) RemoveRoot(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	uri = normalizeRootURI(uri)
	kept := p.roots[:0]
	for _, root := range p.roots {
		if root.URI != uri {
			kept = append(kept, root)
		}
	}
	p.roots = kept
}

// GetRoots implements RootsProvider. Callers get their own copy.
func (p *DefaultRootsProvider) GetRoots() []Root {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]Root, len(p.roots))
	copy(result, p.roots)
	return result
}
