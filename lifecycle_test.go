// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initializeParams(version string) map[string]interface{} {
	return map[string]interface{}{
		"protocolVersion": version,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "test-client", "version": "1.0.0"},
	}
}

func TestLifecycleInitializeEchoesSupportedVersion(t *testing.T) {
	manager := newLifecycleManager(Implementation{Name: "srv", Version: "1.0.0"})
	session := newServerSession("session-1", nil)

	msg, err := manager.handleInitialize(context.Background(),
		NewJSONRPCRequest(int64(1), MethodInitialize, initializeParams(ProtocolVersion_2024_11_05)),
		session)
	require.NoError(t, err)

	result, ok := msg.(*InitializeResult)
	require.True(t, ok)
	assert.Equal(t, ProtocolVersion_2024_11_05, result.ProtocolVersion)
	assert.Equal(t, "srv", result.ServerInfo.Name)
	assert.Equal(t, ProtocolVersion_2024_11_05, session.ProtocolVersion())

	info := session.ClientInfo()
	require.NotNil(t, info)
	assert.Equal(t, "test-client", info.Name)
}

func TestLifecycleInitializeAnswersLatestForUnknownVersion(t *testing.T) {
	manager := newLifecycleManager(Implementation{Name: "srv", Version: "1.0.0"})

	msg, err := manager.handleInitialize(context.Background(),
		NewJSONRPCRequest(int64(1), MethodInitialize, initializeParams("9999-12-31")),
		newServerSession("session-1", nil))
	require.NoError(t, err)

	result := msg.(*InitializeResult)
	assert.Equal(t, LatestProtocolVersion, result.ProtocolVersion)
}

func TestLifecycleRejectsSecondInitialize(t *testing.T) {
	manager := newLifecycleManager(Implementation{Name: "srv", Version: "1.0.0"})
	session := newServerSession("session-1", nil)
	ctx := context.Background()

	_, err := manager.handleInitialize(ctx,
		NewJSONRPCRequest(int64(1), MethodInitialize, initializeParams(LatestProtocolVersion)),
		session)
	require.NoError(t, err)
	require.NoError(t, manager.handleInitialized(ctx,
		&JSONRPCNotification{Notification: Notification{Method: MethodNotificationsInitialized}},
		session))
	assert.True(t, session.Initialized())

	msg, err := manager.handleInitialize(ctx,
		NewJSONRPCRequest(int64(2), MethodInitialize, initializeParams(LatestProtocolVersion)),
		session)
	require.NoError(t, err)
	errResp, ok := msg.(*JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidRequest, errResp.Error.Code)
}

func TestLifecycleCapabilitiesTrackManagers(t *testing.T) {
	toolManager := newToolManager()
	resourceManager := newResourceManager()
	promptManager := newPromptManager()
	manager := newLifecycleManager(Implementation{Name: "srv", Version: "1.0.0"}).
		withToolManager(toolManager).
		withResourceManager(resourceManager).
		withPromptManager(promptManager)

	caps := manager.serverCapabilities()
	assert.NotNil(t, caps.Logging)
	assert.Nil(t, caps.Tools)
	assert.Nil(t, caps.Resources)
	assert.Nil(t, caps.Prompts)
	assert.Nil(t, caps.Completions)
	assert.Nil(t, caps.Tasks)

	toolManager.registerTool(NewTool("t"), echoToolHandler)
	resourceManager.registerResource(readmeResource(), readmeHandler)
	promptManager.registerPrompt(newCodeReviewPrompt(), nil,
		WithPromptCompletion(func(ctx context.Context, req *CompleteCompletionRequest) (*CompleteCompletionResult, error) {
			return &CompleteCompletionResult{}, nil
		}))
	manager.withTaskManager(newTaskManager(nil, nil))

	caps = manager.serverCapabilities()
	require.NotNil(t, caps.Tools)
	assert.True(t, caps.Tools.ListChanged)
	require.NotNil(t, caps.Resources)
	assert.True(t, caps.Resources.Subscribe)
	require.NotNil(t, caps.Prompts)
	assert.NotNil(t, caps.Completions)
	require.NotNil(t, caps.Tasks)
	assert.True(t, caps.Tasks.List)
	assert.True(t, caps.Tasks.Cancel)
}

func TestLifecycleInitializedOutsideSession(t *testing.T) {
	manager := newLifecycleManager(Implementation{Name: "srv", Version: "1.0.0"})
	notification := &JSONRPCNotification{Notification: Notification{Method: MethodNotificationsInitialized}}

	require.Error(t, manager.handleInitialized(context.Background(), notification, nil))

	manager.withStatelessMode(true)
	require.NoError(t, manager.handleInitialized(context.Background(), notification, nil))
}
