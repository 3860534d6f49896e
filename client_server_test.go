// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEndToEndServer(t *testing.T, options ...ServerOption) (*Server, string) {
	t.Helper()
	server, url := newHTTPTestServer(t, options...)
	server.RegisterTool(
		NewTool("greet",
			WithDescription("Greets the caller."),
			WithString("name", Required(), Description("who to greet"))),
		func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
			name, _ := req.Params.Arguments["name"].(string)
			return NewTextResult("hello " + name), nil
		})
	server.RegisterResource(
		&Resource{URI: "docs://readme", Name: "readme", MimeType: "text/markdown"},
		func(ctx context.Context, req *ReadResourceRequest) (ResourceContents, error) {
			return TextResourceContents{URI: req.Params.URI, Text: "# readme"}, nil
		})
	server.RegisterPrompt(
		&Prompt{Name: "code-review", Arguments: []PromptArgument{{Name: "language"}}},
		nil,
		WithPromptCompletion(func(ctx context.Context, req *CompleteCompletionRequest) (*CompleteCompletionResult, error) {
			result := &CompleteCompletionResult{}
			result.Completion.Values = []string{"go"}
			return result, nil
		}))
	return server, url
}

func newInitializedClient(t *testing.T, url string, options ...ClientOption) *Client {
	t.Helper()
	client, err := NewClient(url, Implementation{Name: "test-client", Version: "1.0.0"}, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	result, err := client.Initialize(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	return client
}

func TestClientServerRoundTripJSONMode(t *testing.T) {
	_, url := newEndToEndServer(t, WithPostSSEEnabled(false), WithInstructions("use the greet tool"))
	client := newInitializedClient(t, url, WithClientGetSSEEnabled(false))
	ctx := context.Background()

	assert.Equal(t, StateInitialized, client.GetState())
	assert.NotEmpty(t, client.GetSessionID())
	assert.Equal(t, "use the greet tool", client.GetInstructions())
	require.NotNil(t, client.GetServerInfo())
	assert.Equal(t, "test-server", client.GetServerInfo().Name)

	require.NoError(t, client.Ping(ctx))

	tools, err := client.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "greet", tools.Tools[0].Name)

	callResult, err := client.CallTool(ctx, NewCallToolRequest("greet",
		map[string]interface{}{"name": "world"}))
	require.NoError(t, err)
	require.Len(t, callResult.Content, 1)
	assert.Equal(t, "hello world", callResult.Content[0].(TextContent).Text)

	resources, err := client.ListResources(ctx, nil)
	require.NoError(t, err)
	require.Len(t, resources.Resources, 1)

	readReq := &ReadResourceRequest{}
	readReq.Params.URI = "docs://readme"
	readResult, err := client.ReadResource(ctx, readReq)
	require.NoError(t, err)
	require.Len(t, readResult.Contents, 1)
	assert.Equal(t, "# readme", readResult.Contents[0].(TextResourceContents).Text)

	prompts, err := client.ListPrompts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, prompts.Prompts, 1)

	getReq := &GetPromptRequest{}
	getReq.Params.Name = "code-review"
	promptResult, err := client.GetPrompt(ctx, getReq)
	require.NoError(t, err)
	require.NotEmpty(t, promptResult.Messages)

	completeReq := &CompleteCompletionRequest{}
	completeReq.Params.Ref.Type = "ref/prompt"
	completeReq.Params.Ref.Name = "code-review"
	completeReq.Params.Argument.Name = "language"
	completeReq.Params.Argument.Value = "g"
	completion, err := client.Complete(ctx, completeReq)
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, completion.Completion.Values)
}

func TestClientServerRoundTripSSEMode(t *testing.T) {
	_, url := newEndToEndServer(t)
	client := newInitializedClient(t, url, WithClientGetSSEEnabled(false))
	ctx := context.Background()

	callResult, err := client.CallTool(ctx, NewCallToolRequest("greet",
		map[string]interface{}{"name": "sse"}))
	require.NoError(t, err)
	require.Len(t, callResult.Content, 1)
	assert.Equal(t, "hello sse", callResult.Content[0].(TextContent).Text)
}

func TestClientSecondInitializeRejected(t *testing.T) {
	_, url := newEndToEndServer(t, WithPostSSEEnabled(false))
	client := newInitializedClient(t, url, WithClientGetSSEEnabled(false))

	_, err := client.Initialize(context.Background(), nil)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestClientRequiresInitialization(t *testing.T) {
	_, url := newEndToEndServer(t, WithPostSSEEnabled(false))
	client, err := NewClient(url, Implementation{Name: "test-client", Version: "1.0.0"},
		WithClientGetSSEEnabled(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.ListTools(context.Background(), nil)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestClientCapabilityGating(t *testing.T) {
	// A bare server advertises neither prompts nor resources.
	server := NewServer("bare-server", "1.0.0",
		WithPostSSEEnabled(false), WithTasksEnabled(false))
	url := startTestHTTPServer(t, server)
	client := newInitializedClient(t, url, WithClientGetSSEEnabled(false))
	ctx := context.Background()

	_, err := client.ListPrompts(ctx, nil)
	require.ErrorIs(t, err, ErrCapabilityNotSupported)

	_, err = client.ListResources(ctx, nil)
	require.ErrorIs(t, err, ErrCapabilityNotSupported)

	_, err = client.GetTask(ctx, "task-1")
	require.ErrorIs(t, err, ErrCapabilityNotSupported)
}

func TestClientServerNotificationsOverGetStream(t *testing.T) {
	server, url := newEndToEndServer(t, WithPostSSEEnabled(false))
	client := newInitializedClient(t, url)

	received := make(chan string, 4)
	client.RegisterNotificationHandler(MethodNotificationsToolsListChanged,
		func(ctx context.Context, notification *JSONRPCNotification) error {
			received <- notification.Method
			return nil
		})

	require.Eventually(t, func() bool {
		if _, err := server.BroadcastNotification(MethodNotificationsToolsListChanged, nil); err != nil {
			return false
		}
		select {
		case method := <-received:
			return method == MethodNotificationsToolsListChanged
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
}

func TestClientTaskMethods(t *testing.T) {
	server, url := newEndToEndServer(t, WithPostSSEEnabled(false))
	server.RegisterTool(NewTool("sleepy"),
		func(ctx context.Context, req *CallToolRequest) (*CallToolResult, error) {
			time.Sleep(5 * time.Second)
			return NewTextResult("finally"), nil
		})
	client := newInitializedClient(t, url, WithClientGetSSEEnabled(false))
	ctx := context.Background()

	// Create tasks through a second HTTP session; the store is shared.
	sessionID := initializeSession(t, url)
	createTask := func(tool string) string {
		resp := postMessage(t, url, sessionID, fmt.Sprintf(
			`{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"%s","arguments":{"name":"x"},"task":{"ttl":60000}}}`,
			tool))
		defer resp.Body.Close()
		var rpcResp struct {
			Result CreateTaskResult `json:"result"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
		require.NotEmpty(t, rpcResp.Result.Task.TaskID)
		assert.Equal(t, TaskStatusSubmitted, rpcResp.Result.Task.Status)
		return rpcResp.Result.Task.TaskID
	}

	quickID := createTask("greet")
	require.Eventually(t, func() bool {
		status, err := client.GetTask(ctx, quickID)
		return err == nil && status.Task.Status == TaskStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	raw, err := client.GetTaskResult(ctx, quickID)
	require.NoError(t, err)
	var result CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello x", result.Content[0].(TextContent).Text)

	slowID := createTask("sleepy")
	cancelled, err := client.CancelTask(ctx, slowID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, cancelled.Task.Status)

	list, err := client.ListTasks(ctx, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(list.Tasks), 2)
}

func TestClientTerminateSession(t *testing.T) {
	_, url := newEndToEndServer(t, WithPostSSEEnabled(false))
	client := newInitializedClient(t, url, WithClientGetSSEEnabled(false))
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.TerminateSession(ctx))

	require.Error(t, client.Ping(ctx), "requests after termination must fail")
}

// startTestHTTPServer mounts an already-built Server for tests that need
// custom construction.
func startTestHTTPServer(t *testing.T, server *Server) string {
	t.Helper()
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts.URL + "/mcp"
}

func TestClientInitializeFailureClosesTransport(t *testing.T) {
	clientTransport, serverTransport := NewInMemoryTransports()
	serverProtocol := NewProtocol(nil)
	require.NoError(t, serverProtocol.Connect(context.Background(), serverTransport))
	serverProtocol.SetRequestHandler(MethodInitialize,
		func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
			return nil, fmt.Errorf("server refuses the handshake")
		})
	t.Cleanup(func() { serverProtocol.Close() })

	client := NewClientWithTransport(clientTransport,
		Implementation{Name: "test-client", Version: "1.0.0"})
	_, err := client.Initialize(context.Background(), nil)
	require.Error(t, err)

	// A failed handshake must not leave a half-open connection behind.
	assert.Equal(t, StateDisconnected, client.GetState())
	sendErr := clientTransport.Send(context.Background(),
		NewJSONRPCNotification(Notification{Method: MethodPing}))
	require.ErrorIs(t, sendErr, ErrTransportClosed)
}

func TestClientInitializeUnsupportedVersionClosesTransport(t *testing.T) {
	clientTransport, serverTransport := NewInMemoryTransports()
	serverProtocol := NewProtocol(nil)
	require.NoError(t, serverProtocol.Connect(context.Background(), serverTransport))
	serverProtocol.SetRequestHandler(MethodInitialize,
		func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
			return InitializeResult{
				ProtocolVersion: "1823-01-01",
				ServerInfo:      Implementation{Name: "old-server", Version: "0.0.1"},
			}, nil
		})
	t.Cleanup(func() { serverProtocol.Close() })

	client := NewClientWithTransport(clientTransport,
		Implementation{Name: "test-client", Version: "1.0.0"})
	_, err := client.Initialize(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported protocol version")

	assert.Equal(t, StateDisconnected, client.GetState())
	sendErr := clientTransport.Send(context.Background(),
		NewJSONRPCNotification(Notification{Method: MethodPing}))
	require.ErrorIs(t, sendErr, ErrTransportClosed)
}
