// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"errors"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes, plus the SDK-reserved range.
const (
	// ErrCodeParse indicates invalid JSON was received.
	ErrCodeParse = -32700
	// ErrCodeInvalidRequest indicates the JSON sent is not a valid request object.
	ErrCodeInvalidRequest = -32600
	// ErrCodeMethodNotFound indicates the method does not exist or is not available.
	ErrCodeMethodNotFound = -32601
	// ErrCodeInvalidParams indicates invalid method parameters.
	ErrCodeInvalidParams = -32602
	// ErrCodeInternal indicates an internal JSON-RPC error.
	ErrCodeInternal = -32603

	// ErrCodeConnectionClosed is reported for requests still pending when the
	// underlying transport closes.
	ErrCodeConnectionClosed = -32000
	// ErrCodeRequestTimeout is reported when a request exceeds its deadline.
	ErrCodeRequestTimeout = -32001
	// ErrCodeRequestCancelled is reported when the remote side cancelled a request.
	ErrCodeRequestCancelled = -32800
)

// Common sentinel errors returned by clients, servers and transports.
var (
	// ErrAlreadyInitialized indicates the session completed initialization before.
	ErrAlreadyInitialized = errors.New("session already initialized")
	// ErrNotInitialized indicates an operation that requires a completed
	// initialize handshake.
	ErrNotInitialized = errors.New("session not initialized")
	// ErrSessionNotFound indicates the session ID is unknown or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionTerminated indicates the session was explicitly terminated.
	ErrSessionTerminated = errors.New("session terminated")
	// ErrStatelessMode indicates an operation that needs session state on a
	// server running in stateless mode.
	ErrStatelessMode = errors.New("operation not supported in stateless mode")
	// ErrTransportClosed indicates a send on a closed transport.
	ErrTransportClosed = errors.New("transport closed")
	// ErrCapabilityNotSupported indicates the remote side did not advertise
	// the capability an exchange requires.
	ErrCapabilityNotSupported = errors.New("capability not supported")
	// ErrTasksNotSupported indicates the remote side does not advertise task support.
	ErrTasksNotSupported = errors.New("tasks not supported")
	// ErrTaskNotFound indicates an unknown task ID.
	ErrTaskNotFound = errors.New("task not found")
	// ErrResourceNotFound indicates an unknown resource URI.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrPromptNotFound indicates an unknown prompt name.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrToolNotFound indicates an unknown tool name.
	ErrToolNotFound = errors.New("tool not found")
)

// ResponseError is the error returned for a failed request. It carries the
// JSON-RPC error code, message and optional data from the peer's response.
type ResponseError struct {
	Code    int
	Message string
	Data    interface{}
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("request failed: %s (code %d)", e.Message, e.Code)
}

// NewResponseError creates a ResponseError with the given code and message.
func NewResponseError(code int, message string, data interface{}) *ResponseError {
	return &ResponseError{Code: code, Message: message, Data: data}
}

// errorCode extracts a JSON-RPC error code from err, defaulting to
// ErrCodeInternal for plain errors.
func errorCode(err error) int {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.Code
	}
	return ErrCodeInternal
}
