// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the state of a task-augmented request.
type TaskStatus string

// Task statuses.
const (
	TaskStatusSubmitted     TaskStatus = "submitted"
	TaskStatusWorking       TaskStatus = "working"
	TaskStatusInputRequired TaskStatus = "input_required"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusFailed        TaskStatus = "failed"
	TaskStatusCancelled     TaskStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// isValidTaskTransition is the task status transition table.
func isValidTaskTransition(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case TaskStatusSubmitted:
		switch to {
		case TaskStatusWorking, TaskStatusInputRequired, TaskStatusCompleted,
			TaskStatusFailed, TaskStatusCancelled:
			return true
		}
	case TaskStatusWorking:
		switch to {
		case TaskStatusInputRequired, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
			return true
		}
	case TaskStatusInputRequired:
		switch to {
		case TaskStatusWorking, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
			return true
		}
	}
	return false
}

// defaultTaskPollIntervalMs is the poll interval suggested to requesters when
// the task does not carry one.
const defaultTaskPollIntervalMs = 5000

// defaultTaskTTLMs bounds how long task state is retained after creation when
// the requester does not ask for a specific TTL.
const defaultTaskTTLMs = 10 * 60 * 1000

// TaskMetadata is attached to a request to ask for task-augmented execution.
type TaskMetadata struct {
	// TTL is the requested task retention in milliseconds.
	TTL *int64 `json:"ttl,omitempty"`
}

// Task describes a task-augmented request's execution state.
type Task struct {
	TaskID        string     `json:"taskId"`
	Status        TaskStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	// TTL is the retention of task state in milliseconds from creation.
	TTL int64 `json:"ttl,omitempty"`
	// PollInterval is the suggested interval between tasks/get polls in
	// milliseconds.
	PollInterval int64 `json:"pollInterval,omitempty"`
}

// CreateTaskResult is the immediate response to a task-augmented request.
type CreateTaskResult struct {
	Result
	Task Task `json:"task"`
}

// GetTaskParams identifies a task.
type GetTaskParams struct {
	TaskID string `json:"taskId"`
}

// GetTaskResult is the response to tasks/get.
type GetTaskResult struct {
	Result
	Task Task `json:"task"`
}

// CancelTaskParams identifies the task to cancel.
type CancelTaskParams struct {
	TaskID string `json:"taskId"`
}

// ListTasksParams supports cursor pagination over tasks.
type ListTasksParams struct {
	Cursor Cursor `json:"cursor,omitempty"`
}

// ListTasksResult is the response to tasks/list.
type ListTasksResult struct {
	PaginatedResult
	Tasks []Task `json:"tasks"`
}

// TaskStatusNotificationParams is the payload of notifications/tasks/status.
type TaskStatusNotificationParams struct {
	TaskID        string     `json:"taskId"`
	Status        TaskStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
}

// TaskStore persists task state and results.
type TaskStore interface {
	// CreateTask stores a new task. The task ID must be unique.
	CreateTask(ctx context.Context, task *Task) error
	// GetTask returns the task or ErrTaskNotFound.
	GetTask(ctx context.Context, taskID string) (*Task, error)
	// UpdateStatus transitions a task. Invalid transitions are rejected.
	UpdateStatus(ctx context.Context, taskID string, status TaskStatus, message string) error
	// StoreResult records the terminal result payload of a task.
	StoreResult(ctx context.Context, taskID string, result interface{}) error
	// GetResult returns the stored result payload or ErrTaskNotFound.
	GetResult(ctx context.Context, taskID string) (interface{}, error)
	// ListTasks pages through stored tasks in creation order.
	ListTasks(ctx context.Context, cursor Cursor, limit int) ([]*Task, Cursor, error)
}

// storedTask is a task plus its result inside the memory store.
type storedTask struct {
	task   Task
	result interface{}
}

// MemoryTaskStore is an in-memory TaskStore. Expired tasks are dropped
// lazily on access.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*storedTask
	order []string
}

// NewMemoryTaskStore creates an empty in-memory task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*storedTask)}
}

// expired reports whether the task's TTL has elapsed.
func (t *storedTask) expired(now time.Time) bool {
	if t.task.TTL <= 0 {
		return false
	}
	return now.After(t.task.CreatedAt.Add(time.Duration(t.task.TTL) * time.Millisecond))
}

// pruneLocked drops expired tasks. Callers must hold the write lock.
func (s *MemoryTaskStore) pruneLocked(now time.Time) {
	kept := s.order[:0]
	for _, id := range s.order {
		entry, ok := s.tasks[id]
		if !ok {
			continue
		}
		if entry.expired(now) {
			delete(s.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// CreateTask implements TaskStore.
func (s *MemoryTaskStore) CreateTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())
	if _, exists := s.tasks[task.TaskID]; exists {
		return fmt.Errorf("task %s already exists", task.TaskID)
	}
	copied := *task
	s.tasks[task.TaskID] = &storedTask{task: copied}
	s.order = append(s.order, task.TaskID)
	return nil
}

// GetTask implements TaskStore.
func (s *MemoryTaskStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())
	entry, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	copied := entry.task
	return &copied, nil
}

// UpdateStatus implements TaskStore.
func (s *MemoryTaskStore) UpdateStatus(ctx context.Context, taskID string, status TaskStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())
	entry, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if !isValidTaskTransition(entry.task.Status, status) {
		return fmt.Errorf("invalid task transition %s -> %s", entry.task.Status, status)
	}
	entry.task.Status = status
	entry.task.StatusMessage = message
	return nil
}

// StoreResult implements TaskStore.
func (s *MemoryTaskStore) StoreResult(ctx context.Context, taskID string, result interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	entry.result = result
	return nil
}

// GetResult implements TaskStore.
func (s *MemoryTaskStore) GetResult(ctx context.Context, taskID string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return entry.result, nil
}

// ListTasks implements TaskStore.
func (s *MemoryTaskStore) ListTasks(ctx context.Context, cursor Cursor, limit int) ([]*Task, Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now())

	start := 0
	if cursor != "" {
		idx := sort.SearchStrings(s.order, string(cursor))
		// The cursor is the last returned ID; resume after it.
		if idx < len(s.order) && s.order[idx] == string(cursor) {
			start = idx + 1
		} else {
			start = idx
		}
	}
	if limit <= 0 {
		limit = 50
	}

	tasks := make([]*Task, 0, limit)
	var next Cursor
	for i := start; i < len(s.order) && len(tasks) < limit; i++ {
		entry, ok := s.tasks[s.order[i]]
		if !ok {
			continue
		}
		copied := entry.task
		tasks = append(tasks, &copied)
		if len(tasks) == limit && i+1 < len(s.order) {
			next = Cursor(copied.TaskID)
		}
	}
	return tasks, next, nil
}

// taskManager owns server-side task execution: it turns task-augmented
// requests into tracked tasks and serves the tasks/* methods.
type taskManager struct {
	store  TaskStore
	logger Logger

	// notify emits notifications/tasks/status on transitions. Optional.
	notify func(ctx context.Context, params *TaskStatusNotificationParams)
}

// newTaskManager creates a task manager backed by the given store.
func newTaskManager(store TaskStore, logger Logger) *taskManager {
	if store == nil {
		store = NewMemoryTaskStore()
	}
	if logger == nil {
		logger = GetDefaultLogger()
	}
	return &taskManager{store: store, logger: logger}
}

// capabilities describes the advertised task support.
func (m *taskManager) capabilities() *TasksCapability {
	return &TasksCapability{List: true, Cancel: true}
}

// extractTaskMetadata pulls the task field out of request params, if present.
func extractTaskMetadata(params interface{}) *TaskMetadata {
	fields, ok := params.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := fields["task"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var metadata TaskMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil
	}
	return &metadata
}

// setStatus transitions a task and emits the status notification.
func (m *taskManager) setStatus(ctx context.Context, taskID string, status TaskStatus, message string) {
	if err := m.store.UpdateStatus(ctx, taskID, status, message); err != nil {
		m.logger.Warnf("task %s: transition to %s rejected: %v", taskID, status, err)
		return
	}
	if m.notify != nil {
		m.notify(ctx, &TaskStatusNotificationParams{
			TaskID:        taskID,
			Status:        status,
			StatusMessage: message,
		})
	}
}

// run executes a task-augmented request. It creates the task, returns the
// CreateTaskResult immediately and continues executing the runner on a
// detached context.
func (m *taskManager) run(
	ctx context.Context,
	metadata *TaskMetadata,
	runner func(ctx context.Context) (interface{}, error),
) (*CreateTaskResult, error) {
	ttl := int64(defaultTaskTTLMs)
	if metadata != nil && metadata.TTL != nil && *metadata.TTL > 0 {
		ttl = *metadata.TTL
	}
	task := Task{
		TaskID:       uuid.NewString(),
		Status:       TaskStatusSubmitted,
		CreatedAt:    time.Now().UTC(),
		TTL:          ttl,
		PollInterval: defaultTaskPollIntervalMs,
	}
	if err := m.store.CreateTask(ctx, &task); err != nil {
		return nil, err
	}

	// The HTTP request that delivered this call ends once CreateTaskResult
	// is written; execution continues past it.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		m.setStatus(runCtx, task.TaskID, TaskStatusWorking, "")
		result, err := runner(runCtx)
		if err != nil {
			m.setStatus(runCtx, task.TaskID, TaskStatusFailed, err.Error())
			return
		}
		if err := m.store.StoreResult(runCtx, task.TaskID, result); err != nil {
			m.setStatus(runCtx, task.TaskID, TaskStatusFailed, err.Error())
			return
		}
		m.setStatus(runCtx, task.TaskID, TaskStatusCompleted, "")
	}()

	return &CreateTaskResult{Task: task}, nil
}

// handleGetTask serves tasks/get.
func (m *taskManager) handleGetTask(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	var params GetTaskParams
	if err := parseJSONRPCParams(req.Params, &params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", err.Error()), nil
	}
	task, err := m.store.GetTask(ctx, params.TaskID)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams,
			fmt.Sprintf("task not found: %s", params.TaskID), nil), nil
	}
	return &GetTaskResult{Task: *task}, nil
}

// handleGetTaskResult serves tasks/result. Only terminal tasks have results;
// a failed task's stored message is surfaced as the request error.
func (m *taskManager) handleGetTaskResult(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	var params GetTaskParams
	if err := parseJSONRPCParams(req.Params, &params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", err.Error()), nil
	}
	task, err := m.store.GetTask(ctx, params.TaskID)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams,
			fmt.Sprintf("task not found: %s", params.TaskID), nil), nil
	}
	switch task.Status {
	case TaskStatusCompleted:
		result, err := m.store.GetResult(ctx, params.TaskID)
		if err != nil {
			return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
		}
		return result, nil
	case TaskStatusFailed:
		message := task.StatusMessage
		if message == "" {
			message = "task failed"
		}
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, message, nil), nil
	case TaskStatusCancelled:
		return newJSONRPCErrorResponse(req.ID, ErrCodeRequestCancelled, "task cancelled", nil), nil
	default:
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidRequest,
			fmt.Sprintf("task %s is not terminal (status %s)", params.TaskID, task.Status), nil), nil
	}
}

// handleCancelTask serves tasks/cancel.
func (m *taskManager) handleCancelTask(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	var params CancelTaskParams
	if err := parseJSONRPCParams(req.Params, &params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", err.Error()), nil
	}
	task, err := m.store.GetTask(ctx, params.TaskID)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams,
			fmt.Sprintf("task not found: %s", params.TaskID), nil), nil
	}
	if task.Status.IsTerminal() {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidRequest,
			fmt.Sprintf("task %s already terminal (status %s)", params.TaskID, task.Status), nil), nil
	}
	m.setStatus(ctx, params.TaskID, TaskStatusCancelled, "cancelled by requester")
	updated, err := m.store.GetTask(ctx, params.TaskID)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
	}
	return &GetTaskResult{Task: *updated}, nil
}

// handleListTasks serves tasks/list.
func (m *taskManager) handleListTasks(ctx context.Context, req *JSONRPCRequest) (JSONRPCMessage, error) {
	var params ListTasksParams
	if err := parseJSONRPCParams(req.Params, &params); err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInvalidParams, "invalid params", err.Error()), nil
	}
	tasks, next, err := m.store.ListTasks(ctx, params.Cursor, 0)
	if err != nil {
		return newJSONRPCErrorResponse(req.ID, ErrCodeInternal, err.Error(), nil), nil
	}
	result := ListTasksResult{Tasks: make([]Task, 0, len(tasks))}
	for _, task := range tasks {
		result.Tasks = append(result.Tasks, *task)
	}
	result.NextCursor = next
	return &result, nil
}

// AwaitTaskCompletion polls tasks/get until the task reaches a terminal
// status and then fetches the result via tasks/result. The poll loop is
// deliberately unbounded; the task's TTL bounds it on the receiver side and
// ctx bounds it locally.
func AwaitTaskCompletion(ctx context.Context, p *Protocol, task *Task, opts *RequestOptions) (json.RawMessage, error) {
	interval := time.Duration(task.PollInterval) * time.Millisecond
	if interval <= 0 {
		interval = defaultTaskPollIntervalMs * time.Millisecond
	}
	params := &GetTaskParams{TaskID: task.TaskID}

	for {
		raw, err := p.Request(ctx, MethodTasksGet, params, opts)
		if err != nil {
			// A task that vanishes while being polled is a broken
			// contract on the receiver side.
			return nil, NewResponseError(ErrCodeInternal,
				fmt.Sprintf("task %s lost during polling: %v", task.TaskID, err), nil)
		}
		var status GetTaskResult
		if err := json.Unmarshal(raw, &status); err != nil {
			return nil, fmt.Errorf("parse tasks/get result: %w", err)
		}

		switch status.Task.Status {
		case TaskStatusCompleted:
			return p.Request(ctx, MethodTasksResult, params, opts)
		case TaskStatusFailed:
			message := status.Task.StatusMessage
			if message == "" {
				message = "task failed"
			}
			return nil, NewResponseError(ErrCodeInternal, message, nil)
		case TaskStatusCancelled:
			return nil, NewResponseError(ErrCodeRequestCancelled, "task cancelled", nil)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
