// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// JSONRPCVersion is the JSON-RPC protocol version used by MCP.
const JSONRPCVersion = "2.0"

// JSONRPCMessage is implemented by all JSON-RPC message kinds
// (request, notification, response, error).
type JSONRPCMessage interface{}

// RequestID identifies a request. Per JSON-RPC 2.0 it is a string or a number;
// IDs allocated by this SDK are monotonically increasing integers.
type RequestID interface{}

// requestIDKey returns a canonical map key for a request ID so that the number
// 1 and the string "1" never collide and numeric IDs compare equal regardless
// of how they were decoded.
func requestIDKey(id RequestID) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return "s:" + v
	case int:
		return "n:" + strconv.FormatInt(int64(v), 10)
	case int64:
		return "n:" + strconv.FormatInt(v, 10)
	case float64:
		if v == float64(int64(v)) {
			return "n:" + strconv.FormatInt(int64(v), 10)
		}
		return "n:" + strconv.FormatFloat(v, 'g', -1, 64)
	case json.Number:
		return "n:" + v.String()
	default:
		return fmt.Sprintf("v:%v", v)
	}
}

// JSONRPCRequest represents a JSON-RPC request expecting a response.
type JSONRPCRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      RequestID `json:"id"`
	Request
	Params interface{} `json:"params,omitempty"`
}

// JSONRPCNotification represents a JSON-RPC notification (no response expected).
type JSONRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Notification
}

// JSONRPCResponse represents a successful JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      RequestID   `json:"id"`
	Result  interface{} `json:"result"`
}

// JSONRPCErrorDetail is the error object carried by an error response.
type JSONRPCErrorDetail struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSONRPCError represents a JSON-RPC error response.
type JSONRPCError struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      RequestID          `json:"id"`
	Error   JSONRPCErrorDetail `json:"error"`
}

// NewJSONRPCRequest creates a request with the given ID, method and params.
func NewJSONRPCRequest(id RequestID, method string, params interface{}) *JSONRPCRequest {
	return &JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Request: Request{Method: method},
		Params:  params,
	}
}

// NewJSONRPCNotification wraps a Notification into a JSON-RPC message.
func NewJSONRPCNotification(notification Notification) *JSONRPCNotification {
	return &JSONRPCNotification{
		JSONRPC:      JSONRPCVersion,
		Notification: notification,
	}
}

// newJSONRPCNotification is kept for internal call sites.
func newJSONRPCNotification(notification Notification) *JSONRPCNotification {
	return NewJSONRPCNotification(notification)
}

// NewJSONRPCResponse creates a successful response for the given request ID.
func NewJSONRPCResponse(id RequestID, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// newJSONRPCResponse is kept for internal call sites.
func newJSONRPCResponse(id RequestID, result interface{}) *JSONRPCResponse {
	return NewJSONRPCResponse(id, result)
}

// newJSONRPCErrorResponse creates an error response for the given request ID.
func newJSONRPCErrorResponse(id RequestID, code int, message string, data interface{}) *JSONRPCError {
	return &JSONRPCError{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: JSONRPCErrorDetail{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// rawJSONRPCMessage is the decoding envelope used to classify inbound messages.
type rawJSONRPCMessage struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      json.RawMessage     `json:"id,omitempty"`
	Method  string              `json:"method,omitempty"`
	Params  json.RawMessage     `json:"params,omitempty"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *JSONRPCErrorDetail `json:"error,omitempty"`
}

// decodeRequestID decodes a raw JSON id into a RequestID, preserving integer
// values as int64 where possible.
func decodeRequestID(raw json.RawMessage) (RequestID, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return n, nil
		}
		f, err := id.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid request id: %s", id)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("invalid request id type %T", v)
	}
}

// parseJSONRPCMessage parses a single JSON-RPC message and returns one of
// *JSONRPCRequest, *JSONRPCNotification, *JSONRPCResponse or *JSONRPCError.
func parseJSONRPCMessage(data []byte) (JSONRPCMessage, error) {
	var raw rawJSONRPCMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if raw.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("invalid jsonrpc version: %q", raw.JSONRPC)
	}

	switch {
	case raw.Method != "" && len(raw.ID) > 0 && !bytes.Equal(raw.ID, []byte("null")):
		id, err := decodeRequestID(raw.ID)
		if err != nil {
			return nil, err
		}
		req := NewJSONRPCRequest(id, raw.Method, nil)
		if len(raw.Params) > 0 {
			var params interface{}
			if err := json.Unmarshal(raw.Params, &params); err != nil {
				return nil, fmt.Errorf("parse request params: %w", err)
			}
			req.Params = params
		}
		return req, nil
	case raw.Method != "":
		notification := Notification{Method: raw.Method}
		if len(raw.Params) > 0 {
			if err := json.Unmarshal(raw.Params, &notification.Params); err != nil {
				return nil, fmt.Errorf("parse notification params: %w", err)
			}
		}
		return NewJSONRPCNotification(notification), nil
	case raw.Error != nil:
		id, err := decodeRequestID(raw.ID)
		if err != nil {
			return nil, err
		}
		return newJSONRPCErrorResponse(id, raw.Error.Code, raw.Error.Message, raw.Error.Data), nil
	case len(raw.Result) > 0:
		id, err := decodeRequestID(raw.ID)
		if err != nil {
			return nil, err
		}
		return &JSONRPCResponse{
			JSONRPC: JSONRPCVersion,
			ID:      id,
			Result:  json.RawMessage(raw.Result),
		}, nil
	default:
		return nil, fmt.Errorf("message is neither request, notification nor response")
	}
}

// parseJSONRPCMessages parses either a single JSON-RPC message or a batch
// array of messages. A batch is returned in order; an empty batch is an error.
func parseJSONRPCMessages(data []byte) ([]JSONRPCMessage, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty message body")
	}
	if trimmed[0] != '[' {
		msg, err := parseJSONRPCMessage(trimmed)
		if err != nil {
			return nil, err
		}
		return []JSONRPCMessage{msg}, nil
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal(trimmed, &rawItems); err != nil {
		return nil, fmt.Errorf("parse batch: %w", err)
	}
	if len(rawItems) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	messages := make([]JSONRPCMessage, 0, len(rawItems))
	for _, item := range rawItems {
		msg, err := parseJSONRPCMessage(item)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// messageRequestID returns the ID of a request or response message, or nil for
// notifications.
func messageRequestID(msg JSONRPCMessage) RequestID {
	switch m := msg.(type) {
	case *JSONRPCRequest:
		return m.ID
	case *JSONRPCResponse:
		return m.ID
	case *JSONRPCError:
		return m.ID
	default:
		return nil
	}
}
