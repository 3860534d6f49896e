// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"fmt"
	"sync"
)

// resourceManager manages resources.
//
// Resource functionality follows these enabling mechanisms:
//  1. By default, resource functionality is disabled
//  2. When the first resource is registered, resource functionality is
//     automatically enabled without additional configuration
//  3. When resource functionality is enabled but no resources exist,
//     ListResources returns an empty list rather than an error
//  4. Clients can determine whether the server supports resources through the
//     capabilities field of the initialization response
type resourceManager struct {
	// Resource mapping table
	resources map[string]*registeredResource

	// Resource template mapping table
	templates map[string]*registerResourceTemplate

	// Mutex
	mu sync.RWMutex

	// Per-session subscriptions, uri -> set of session IDs
	subscriptions map[string]map[string]struct{}

	// Subscription mutex
	subMu sync.RWMutex

	// Order of resource registration
	resourcesOrder []string

	// Resource list filter function
	resourceListFilter ResourceListFilter
}

// newResourceManager creates a new resource manager.
//
// Note: simply creating a resource manager does not enable resource
// functionality, it is only enabled when the first resource is added.
func newResourceManager() *resourceManager {
	return &resourceManager{
		resources:     make(map[string]*registeredResource),
		templates:     make(map[string]*registerResourceTemplate),
		subscriptions: make(map[string]map[string]struct{}),
	}
}

// withResourceListFilter sets the resource list filter.
func (m *resourceManager) withResourceListFilter(filter ResourceListFilter) *resourceManager {
	m.resourceListFilter = filter
	return m
}

// registerResource registers a resource with a single-contents handler.
func (m *resourceManager) registerResource(resource *Resource, handler resourceHandler, options ...registeredResourceOption) {
	m.registerResources(resource, func(ctx context.Context, req *ReadResourceRequest) ([]ResourceContents, error) {
		content, err := handler(ctx, req)
		if err != nil {
			return nil, err
		}
		return []ResourceContents{content}, nil
	}, options...)
}

// registerResources registers a resource with a multiple-contents handler.
func (m *resourceManager) registerResources(resource *Resource, handler resourcesHandler, options ...registeredResourceOption) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resource == nil || resource.URI == "" {
		return
	}

	if _, exists := m.resources[resource.URI]; !exists {
		m.resourcesOrder = append(m.resourcesOrder, resource.URI)
	}

	m.resources[resource.URI] = &registeredResource{
		Resource: resource,
		Handler:  handler,
	}

	for _, opt := range options {
		opt(m.resources[resource.URI])
	}
}

// registerTemplate registers a resource template.
func (m *resourceManager) registerTemplate(template *ResourceTemplate, handler resourceTemplateHandler, options ...registerResourceTemplateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if template == nil {
		return fmt.Errorf("template cannot be nil")
	}
	if template.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	if template.URITemplate == nil {
		return fmt.Errorf("template URI cannot be empty")
	}
	if _, exists := m.templates[template.Name]; exists {
		return fmt.Errorf("template %s already exists", template.Name)
	}

	m.templates[template.Name] = &registerResourceTemplate{
		resourceTemplate: template,
		Handler:          handler,
	}

	for _, opt := range options {
		opt(m.templates[template.Name])
	}
	return nil
}

// getResource retrieves a resource by URI.
func (m *resourceManager) getResource(uri string) (*Resource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if registered, exists := m.resources[uri]; exists {
		return registered.Resource, true
	}
	return nil, false
}

// getResources retrieves all resources in registration order.
func (m *resourceManager) getResources() []*Resource {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orderedResources := make([]*Resource, 0, len(m.resources))
	for _, uri := range m.resourcesOrder {
		if registered, exists := m.resources[uri]; exists {
			orderedResources = append(orderedResources, registered.Resource)
		}
	}
	return orderedResources
}

// hasResources reports whether any resource or template is registered.
func (m *resourceManager) hasResources() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.resources) > 0 || len(m.templates) > 0
}

// hasCompletionCompleteHandler checks whether any resource or template carries
// a completion handler.
func (m *resourceManager) hasCompletionCompleteHandler() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, registered := range m.resources {
		if registered.CompletionCompleteHandler != nil {
			return true
		}
	}
	for _, registered := range m.templates {
		if registered.CompletionCompleteHandler != nil {
			return true
		}
	}
	return false
}

// getTemplates retrieves all resource templates.
func (m *resourceManager) getTemplates() []*ResourceTemplate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	templates := make([]*ResourceTemplate, 0, len(m.templates))
	for _, template := range m.templates {
		templates = append(templates, template.resourceTemplate)
	}
	return templates
}

// matchResourceTemplate attempts to match a URI against registered templates.
func (m *resourceManager) matchResourceTemplate(uri string) (template *registerResourceTemplate, params map[string]string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, template := range m.templates {
		if template.resourceTemplate.URITemplate == nil {
			continue
		}
		values := template.resourceTemplate.URITemplate.Match(uri)
		if len(values) > 0 {
			params := make(map[string]string)
			for key, value := range values {
				params[key] = value.String()
			}
			return template, params, true
		}
	}
	return nil, nil, false
}

// subscribe records a session's interest in a resource URI.
func (m *resourceManager) subscribe(sessionID, uri string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	subs, ok := m.subscriptions[uri]
	if !ok {
		subs = make(map[string]struct{})
		m.subscriptions[uri] = subs
	}
	subs[sessionID] = struct{}{}
}

// unsubscribe removes a session's interest in a resource URI.
func (m *resourceManager) unsubscribe(sessionID, uri string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	subs, ok := m.subscriptions[uri]
	if !ok {
		return
	}
	delete(subs, sessionID)
	if len(subs) == 0 {
		delete(m.subscriptions, uri)
	}
}

// dropSession removes all subscriptions held by a terminated session.
func (m *resourceManager) dropSession(sessionID string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for uri, subs := range m.subscriptions {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(m.subscriptions, uri)
		}
	}
}

// subscribers returns the IDs of sessions subscribed to a URI.
func (m *resourceManager) subscribers(uri string) []string {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	subs := m.subscriptions[uri]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	return ids
}

// handleListResources handles resources/list requests.
func (m *resourceManager) handleListResources(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	resourcePtrs := m.getResources()

	// Apply filter if available
	if m.resourceListFilter != nil {
		resourcePtrs = m.resourceListFilter(ctx, resourcePtrs)
	}

	resultResources := make([]Resource, 0, len(resourcePtrs))
	for _, resource := range resourcePtrs {
		if resource != nil {
			resultResources = append(resultResources, *resource)
		}
	}

	return ListResourcesResult{Resources: resultResources}, nil
}

// handleReadResource handles resources/read requests, trying static resources
// first and URI templates second.
func (m *resourceManager) handleReadResource(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	readReq := &ReadResourceRequest{}
	readReq.Method = req.Method
	if err := parseJSONRPCParams(req.Params, &readReq.Params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", nil), nil
	}
	if readReq.Params.URI == "" {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "missing uri", nil), nil
	}
	uri := readReq.Params.URI

	m.mu.RLock()
	registered, exists := m.resources[uri]
	m.mu.RUnlock()

	if exists {
		if registered.Handler == nil {
			return newJSONRPCErrorResponse(
				req.ID,
				ErrCodeMethodNotFound,
				fmt.Sprintf("no read handler for %s", uri),
				nil,
			), nil
		}
		contents, err := registered.Handler(ctx, readReq)
		if err != nil {
			return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
		}
		return ReadResourceResult{Contents: contents}, nil
	}

	// Fall back to template matching for dynamic URIs.
	template, params, matched := m.matchResourceTemplate(uri)
	if matched && template.Handler != nil {
		contents, err := template.Handler(ctx, readReq, params)
		if err != nil {
			return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
		}
		return ReadResourceResult{Contents: contents}, nil
	}

	return newJSONRPCErrorResponse(
		req.ID,
		ErrCodeInvalidParams,
		fmt.Sprintf("%v: %s", ErrResourceNotFound, uri),
		nil,
	), nil
}

// handleListTemplates handles resources/templates/list requests.
func (m *resourceManager) handleListTemplates(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	templates := m.getTemplates()

	resultTemplates := make([]ResourceTemplate, len(templates))
	for i, template := range templates {
		resultTemplates[i] = *template
	}

	return ListResourceTemplatesResult{ResourceTemplates: resultTemplates}, nil
}

// handleSubscribe handles resources/subscribe requests.
func (m *resourceManager) handleSubscribe(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	subReq := &SubscribeRequest{}
	if err := parseJSONRPCParams(req.Params, &subReq.Params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", nil), nil
	}
	uri := subReq.Params.URI
	if uri == "" {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "missing uri", nil), nil
	}

	if _, exists := m.getResource(uri); !exists {
		if _, _, matched := m.matchResourceTemplate(uri); !matched {
			return newJSONRPCErrorResponse(
				req.ID,
				ErrCodeInvalidParams,
				fmt.Sprintf("%v: %s", ErrResourceNotFound, uri),
				nil,
			), nil
		}
	}

	if session := ClientSessionFromContext(ctx); session != nil {
		m.subscribe(session.GetID(), uri)
	}
	return Result{}, nil
}

// handleUnsubscribe handles resources/unsubscribe requests.
func (m *resourceManager) handleUnsubscribe(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	unsubReq := &UnsubscribeRequest{}
	if err := parseJSONRPCParams(req.Params, &unsubReq.Params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", nil), nil
	}
	uri := unsubReq.Params.URI
	if uri == "" {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "missing uri", nil), nil
	}

	if session := ClientSessionFromContext(ctx); session != nil {
		m.unsubscribe(session.GetID(), uri)
	}
	return Result{}, nil
}

// handleCompletionComplete handles completion/complete requests that reference
// a resource or template URI.
func (m *resourceManager) handleCompletionComplete(ctx context.Context, completionReq *CompleteCompletionRequest, req *JSONRPCRequest) (JSONRPCMessage, error) {
	uri := completionReq.Params.Ref.URI

	m.mu.RLock()
	resource, exists := m.resources[uri]
	m.mu.RUnlock()

	if exists {
		if resource.CompletionCompleteHandler == nil {
			return newJSONRPCErrorResponse(
				req.ID,
				ErrCodeMethodNotFound,
				fmt.Sprintf("no completion handler for %s", uri),
				nil,
			), nil
		}
		result, err := resource.CompletionCompleteHandler(ctx, completionReq)
		if err != nil {
			return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
		}
		return result, nil
	}

	matchedTemplate, params, matched := m.matchResourceTemplate(uri)
	if matched {
		if matchedTemplate.CompletionCompleteHandler == nil {
			return newJSONRPCErrorResponse(
				req.ID,
				ErrCodeMethodNotFound,
				fmt.Sprintf("no completion handler for %s", uri),
				nil,
			), nil
		}
		result, err := matchedTemplate.CompletionCompleteHandler(ctx, completionReq, params)
		if err != nil {
			return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
		}
		return result, nil
	}

	return newJSONRPCErrorResponse(
		req.ID,
		ErrCodeInvalidParams,
		fmt.Sprintf("%v: %s", ErrResourceNotFound, uri),
		nil,
	), nil
}
