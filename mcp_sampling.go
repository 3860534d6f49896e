// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// SamplingMessage is one message in a sampling conversation.
type SamplingMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// UnmarshalJSON handles the polymorphic Content field.
func (m *SamplingMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		m.Content = nil
		return nil
	}
	var contentMap map[string]interface{}
	if err := json.Unmarshal(raw.Content, &contentMap); err != nil {
		return fmt.Errorf("parse sampling content: %w", err)
	}
	content, err := parseContent(contentMap)
	if err != nil {
		return err
	}
	m.Content = content
	return nil
}

// ModelHint names a model family the server would prefer.
type ModelHint struct {
	Name string `json:"name,omitempty"`
}

// ModelPreferences expresses the server's priorities for model selection.
type ModelPreferences struct {
	Hints                []ModelHint `json:"hints,omitempty"`
	CostPriority         float64     `json:"costPriority,omitempty"`
	SpeedPriority        float64     `json:"speedPriority,omitempty"`
	IntelligencePriority float64     `json:"intelligencePriority,omitempty"`
}

// CreateMessageParams carries a sampling/createMessage request.
type CreateMessageParams struct {
	Messages         []SamplingMessage      `json:"messages"`
	ModelPreferences *ModelPreferences      `json:"modelPreferences,omitempty"`
	SystemPrompt     string                 `json:"systemPrompt,omitempty"`
	IncludeContext   string                 `json:"includeContext,omitempty"`
	Temperature      float64                `json:"temperature,omitempty"`
	MaxTokens        int                    `json:"maxTokens"`
	StopSequences    []string               `json:"stopSequences,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// CreateMessageResult is the client's answer to sampling/createMessage.
type CreateMessageResult struct {
	Result
	SamplingMessage
	Model      string `json:"model"`
	StopReason string `json:"stopReason,omitempty"`
}

// SamplingHandler runs LLM completions on behalf of servers. Clients install
// one with WithSamplingHandler, which also advertises the capability.
type SamplingHandler func(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error)

// ElicitParams carries an elicitation/create request.
type ElicitParams struct {
	// Message is shown to the user to explain what input is needed.
	Message string `json:"message"`
	// RequestedSchema is a flat JSON Schema object describing the fields.
	RequestedSchema map[string]interface{} `json:"requestedSchema,omitempty"`
}

// Elicitation actions.
const (
	ElicitActionAccept  = "accept"
	ElicitActionDecline = "decline"
	ElicitActionCancel  = "cancel"
)

// ElicitResult is the client's answer to elicitation/create.
type ElicitResult struct {
	Result
	// Action is accept, decline or cancel.
	Action string `json:"action"`
	// Content holds the collected fields when Action is accept.
	Content map[string]interface{} `json:"content,omitempty"`
}

// ElicitationHandler collects structured user input on behalf of servers.
// Clients install one with WithElicitationHandler, which also advertises the
// capability.
type ElicitationHandler func(ctx context.Context, params *ElicitParams) (*ElicitResult, error)
