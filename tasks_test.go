// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskTransitionTable(t *testing.T) {
	valid := []struct{ from, to TaskStatus }{
		{TaskStatusSubmitted, TaskStatusWorking},
		{TaskStatusSubmitted, TaskStatusInputRequired},
		{TaskStatusSubmitted, TaskStatusCompleted},
		{TaskStatusSubmitted, TaskStatusFailed},
		{TaskStatusSubmitted, TaskStatusCancelled},
		{TaskStatusWorking, TaskStatusInputRequired},
		{TaskStatusWorking, TaskStatusCompleted},
		{TaskStatusWorking, TaskStatusFailed},
		{TaskStatusWorking, TaskStatusCancelled},
		{TaskStatusInputRequired, TaskStatusWorking},
		{TaskStatusInputRequired, TaskStatusCompleted},
	}
	for _, tc := range valid {
		assert.True(t, isValidTaskTransition(tc.from, tc.to),
			"%s -> %s should be valid", tc.from, tc.to)
	}

	invalid := []struct{ from, to TaskStatus }{
		{TaskStatusWorking, TaskStatusSubmitted},
		{TaskStatusInputRequired, TaskStatusSubmitted},
		{TaskStatusCompleted, TaskStatusWorking},
		{TaskStatusFailed, TaskStatusWorking},
		{TaskStatusCancelled, TaskStatusWorking},
		{TaskStatusCompleted, TaskStatusCancelled},
	}
	for _, tc := range invalid {
		assert.False(t, isValidTaskTransition(tc.from, tc.to),
			"%s -> %s should be invalid", tc.from, tc.to)
	}
}

func TestMemoryTaskStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()

	task := &Task{
		TaskID:    "task-1",
		Status:    TaskStatusSubmitted,
		CreatedAt: time.Now().UTC(),
		TTL:       60_000,
	}
	require.NoError(t, store.CreateTask(ctx, task))

	got, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusSubmitted, got.Status)

	require.NoError(t, store.UpdateStatus(ctx, "task-1", TaskStatusWorking, ""))
	require.NoError(t, store.StoreResult(ctx, "task-1", map[string]interface{}{"ok": true}))
	require.NoError(t, store.UpdateStatus(ctx, "task-1", TaskStatusCompleted, ""))

	got, err = store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, got.Status)

	result, err := store.GetResult(ctx, "task-1")
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestMemoryTaskStoreRejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()
	require.NoError(t, store.CreateTask(ctx, &Task{
		TaskID:    "task-1",
		Status:    TaskStatusSubmitted,
		CreatedAt: time.Now().UTC(),
		TTL:       60_000,
	}))

	require.NoError(t, store.UpdateStatus(ctx, "task-1", TaskStatusCompleted, ""))
	err := store.UpdateStatus(ctx, "task-1", TaskStatusWorking, "")
	require.Error(t, err, "terminal tasks must not transition")
}

func TestMemoryTaskStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()
	require.NoError(t, store.CreateTask(ctx, &Task{
		TaskID:    "short-lived",
		Status:    TaskStatusSubmitted,
		CreatedAt: time.Now().UTC(),
		TTL:       1,
	}))

	time.Sleep(20 * time.Millisecond)
	_, err := store.GetTask(ctx, "short-lived")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryTaskStoreUnknownTask(t *testing.T) {
	_, err := NewMemoryTaskStore().GetTask(context.Background(), "missing")
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestExtractTaskMetadata(t *testing.T) {
	assert.Nil(t, extractTaskMetadata(nil))
	assert.Nil(t, extractTaskMetadata(map[string]interface{}{"name": "x"}))

	metadata := extractTaskMetadata(map[string]interface{}{
		"name": "x",
		"task": map[string]interface{}{"ttl": float64(5000)},
	})
	require.NotNil(t, metadata)
	require.NotNil(t, metadata.TTL)
	assert.Equal(t, int64(5000), *metadata.TTL)
}

func TestTaskManagerRun(t *testing.T) {
	ctx := context.Background()
	manager := newTaskManager(nil, nil)

	created, err := manager.run(ctx, nil, func(ctx context.Context) (interface{}, error) {
		return NewTextResult("done"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, TaskStatusSubmitted, created.Task.Status)
	assert.Equal(t, int64(defaultTaskPollIntervalMs), created.Task.PollInterval)
	assert.NotEmpty(t, created.Task.TaskID)

	require.Eventually(t, func() bool {
		task, err := manager.store.GetTask(ctx, created.Task.TaskID)
		return err == nil && task.Status == TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	result, err := manager.store.GetResult(ctx, created.Task.TaskID)
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestTaskManagerRunFailure(t *testing.T) {
	ctx := context.Background()
	manager := newTaskManager(nil, nil)

	created, err := manager.run(ctx, nil, func(ctx context.Context) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := manager.store.GetTask(ctx, created.Task.TaskID)
		return err == nil && task.Status == TaskStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	task, err := manager.store.GetTask(ctx, created.Task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "boom", task.StatusMessage)
}

func TestTaskManagerCancel(t *testing.T) {
	ctx := context.Background()
	manager := newTaskManager(nil, nil)
	require.NoError(t, manager.store.CreateTask(ctx, &Task{
		TaskID:    "task-1",
		Status:    TaskStatusWorking,
		CreatedAt: time.Now().UTC(),
		TTL:       60_000,
	}))

	msg, err := manager.handleCancelTask(ctx, NewJSONRPCRequest(int64(1), MethodTasksCancel,
		map[string]interface{}{"taskId": "task-1"}))
	require.NoError(t, err)
	result, ok := msg.(*GetTaskResult)
	require.True(t, ok)
	assert.Equal(t, TaskStatusCancelled, result.Task.Status)

	// Cancelling again must be rejected: the task is terminal.
	msg, err = manager.handleCancelTask(ctx, NewJSONRPCRequest(int64(2), MethodTasksCancel,
		map[string]interface{}{"taskId": "task-1"}))
	require.NoError(t, err)
	errResp, ok := msg.(*JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidRequest, errResp.Error.Code)
}

func TestTaskManagerStatusNotifications(t *testing.T) {
	ctx := context.Background()
	manager := newTaskManager(nil, nil)

	statusCh := make(chan TaskStatus, 8)
	manager.notify = func(ctx context.Context, params *TaskStatusNotificationParams) {
		statusCh <- params.Status
	}

	_, err := manager.run(ctx, nil, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	var seen []TaskStatus
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case status := <-statusCh:
			seen = append(seen, status)
		case <-timeout:
			t.Fatalf("expected 2 status notifications, got %v", seen)
		}
	}
	assert.Equal(t, []TaskStatus{TaskStatusWorking, TaskStatusCompleted}, seen)
}

func TestAwaitTaskCompletion(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)
	manager := newTaskManager(nil, nil)

	pb.SetRequestHandler(MethodTasksGet, func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		return manager.handleGetTask(ctx, req)
	})
	pb.SetRequestHandler(MethodTasksResult, func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		return manager.handleGetTaskResult(ctx, req)
	})

	created, err := manager.run(context.Background(), nil, func(ctx context.Context) (interface{}, error) {
		time.Sleep(50 * time.Millisecond)
		return map[string]interface{}{"answer": float64(42)}, nil
	})
	require.NoError(t, err)

	// Poll fast in tests instead of the suggested interval.
	task := created.Task
	task.PollInterval = 10

	raw, err := AwaitTaskCompletion(context.Background(), pa, &task, nil)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, float64(42), result["answer"])
}

func TestAwaitTaskCompletionMissingTask(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)
	manager := newTaskManager(nil, nil)

	pb.SetRequestHandler(MethodTasksGet, func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		return manager.handleGetTask(ctx, req)
	})

	task := Task{TaskID: "never-existed", PollInterval: 10}
	_, err := AwaitTaskCompletion(context.Background(), pa, &task, nil)
	require.Error(t, err)

	// A task that vanishes mid-poll is a receiver-side contract violation.
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, ErrCodeInternal, respErr.Code)
}

func TestToolTaskSupportModes(t *testing.T) {
	toolManager := newToolManager()
	toolManager.registerTool(NewTool("plain", WithTaskSupport(TaskSupportNone)), echoToolHandler)
	toolManager.registerTool(NewTool("batch", WithTaskSupport(TaskSupportRequired)), echoToolHandler)
	handler := newMCPHandler(
		withToolManager(toolManager),
		withTaskManager(newTaskManager(nil, nil)),
	)
	session := newServerSession("session-1", nil)

	call := func(id int64, name string, asTask bool) JSONRPCMessage {
		params := map[string]interface{}{
			"name":      name,
			"arguments": map[string]interface{}{"name": "go"},
		}
		if asTask {
			params["task"] = map[string]interface{}{"ttl": float64(60000)}
		}
		msg, err := handler.handleRequest(context.Background(),
			NewJSONRPCRequest(id, MethodToolsCall, params), session)
		require.NoError(t, err)
		return msg
	}

	// A required-mode tool only runs as a task.
	errResp, ok := call(1, "batch", false).(*JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeMethodNotFound, errResp.Error.Code)

	created, ok := call(2, "batch", true).(*CreateTaskResult)
	require.True(t, ok)
	assert.NotEmpty(t, created.Task.TaskID)

	// A none-mode tool never runs as a task.
	errResp, ok = call(3, "plain", true).(*JSONRPCError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidRequest, errResp.Error.Code)

	result, ok := call(4, "plain", false).(*CallToolResult)
	require.True(t, ok)
	assert.Equal(t, "hello go", result.Content[0].(TextContent).Text)
}
