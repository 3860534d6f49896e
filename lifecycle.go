// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"fmt"
)

// lifecycleManager owns the initialize handshake and session lifecycle
// events. Server capabilities are assembled at initialize time from the state
// of the feature managers, so a capability appears exactly when the matching
// feature has registrations.
type lifecycleManager struct {
	// Server implementation info
	serverInfo Implementation

	// Instructions returned from initialize
	instructions string

	// Logger
	logger Logger

	// Stateless servers skip per-session bookkeeping
	stateless bool

	toolManager     *toolManager
	resourceManager *resourceManager
	promptManager   *promptManager
	taskManager     *taskManager
}

// newLifecycleManager creates a lifecycle manager for the given server info.
func newLifecycleManager(serverInfo Implementation) *lifecycleManager {
	return &lifecycleManager{
		serverInfo: serverInfo,
		logger:     GetDefaultLogger(),
	}
}

// withLogger sets the logger.
func (m *lifecycleManager) withLogger(logger Logger) *lifecycleManager {
	m.logger = logger
	return m
}

// withInstructions sets the instructions returned from initialize.
func (m *lifecycleManager) withInstructions(instructions string) *lifecycleManager {
	m.instructions = instructions
	return m
}

// withStatelessMode toggles stateless operation.
func (m *lifecycleManager) withStatelessMode(stateless bool) *lifecycleManager {
	m.stateless = stateless
	return m
}

// withToolManager sets the tool manager.
func (m *lifecycleManager) withToolManager(manager *toolManager) *lifecycleManager {
	m.toolManager = manager
	return m
}

// withResourceManager sets the resource manager.
func (m *lifecycleManager) withResourceManager(manager *resourceManager) *lifecycleManager {
	m.resourceManager = manager
	return m
}

// withPromptManager sets the prompt manager.
func (m *lifecycleManager) withPromptManager(manager *promptManager) *lifecycleManager {
	m.promptManager = manager
	return m
}

// withTaskManager sets the task manager.
func (m *lifecycleManager) withTaskManager(manager *taskManager) *lifecycleManager {
	m.taskManager = manager
	return m
}

// serverCapabilities assembles the capability set to advertise.
func (m *lifecycleManager) serverCapabilities() ServerCapabilities {
	caps := ServerCapabilities{
		Logging: map[string]interface{}{},
	}

	if m.toolManager != nil && len(m.toolManager.getTools()) > 0 {
		caps.Tools = &ListChangedCapability{ListChanged: true}
	}
	if m.resourceManager != nil && m.resourceManager.hasResources() {
		caps.Resources = &ResourcesCapability{Subscribe: true, ListChanged: true}
	}
	if m.promptManager != nil && m.promptManager.hasPrompts() {
		caps.Prompts = &ListChangedCapability{ListChanged: true}
	}
	if (m.promptManager != nil && m.promptManager.hasCompletionCompleteHandler()) ||
		(m.resourceManager != nil && m.resourceManager.hasCompletionCompleteHandler()) {
		caps.Completions = map[string]interface{}{}
	}
	if m.taskManager != nil {
		caps.Tasks = m.taskManager.capabilities()
	}
	return caps
}

// handleInitialize handles the initialize request.
func (m *lifecycleManager) handleInitialize(ctx context.Context, req *JSONRPCRequest, session Session) (JSONRPCMessage, error) {
	var params InitializeParams
	if err := parseJSONRPCParams(req.Params, &params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", nil), nil
	}

	if serverSession, ok := session.(*ServerSession); ok {
		if serverSession.Initialized() {
			return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidRequest, ErrAlreadyInitialized.Error(), nil), nil
		}
	}

	version := negotiateProtocolVersion(params.ProtocolVersion)
	if version != params.ProtocolVersion {
		m.logger.Infof("client requested protocol version %s, answering with %s",
			params.ProtocolVersion, version)
	}

	if serverSession, ok := session.(*ServerSession); ok {
		serverSession.setNegotiated(version, params.Capabilities, params.ClientInfo)
	}

	m.logger.Debugf("initialize from %s %s (session %s)",
		params.ClientInfo.Name, params.ClientInfo.Version, sessionLabel(session))

	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities:    m.serverCapabilities(),
		ServerInfo:      m.serverInfo,
		Instructions:    m.instructions,
	}, nil
}

// handleInitialized handles the notifications/initialized notification.
func (m *lifecycleManager) handleInitialized(ctx context.Context, notification *JSONRPCNotification, session Session) error {
	if session == nil {
		if m.stateless {
			return nil
		}
		return fmt.Errorf("initialized notification outside a session")
	}
	if serverSession, ok := session.(*ServerSession); ok {
		serverSession.markInitialized()
	}
	m.logger.Debugf("session %s initialized", sessionLabel(session))
	return nil
}

// onSessionTerminated releases per-session state held by the managers.
func (m *lifecycleManager) onSessionTerminated(sessionID string) {
	if m.resourceManager != nil {
		m.resourceManager.dropSession(sessionID)
	}
	m.logger.Debugf("session %s terminated", sessionID)
}

func sessionLabel(session Session) string {
	if session == nil {
		return "stateless"
	}
	return session.GetID()
}
