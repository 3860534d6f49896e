// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherInput struct {
	City string `json:"city"`
	Days int    `json:"days"`
}

type weatherOutput struct {
	City     string  `json:"city"`
	TempC    float64 `json:"tempC"`
	Forecast string  `json:"forecast"`
}

func TestTypedToolHandler(t *testing.T) {
	handler := NewTypedToolHandler(func(ctx context.Context, req *CallToolRequest, input weatherInput) (weatherOutput, error) {
		return weatherOutput{City: input.City, TempC: 21.5, Forecast: "sunny"}, nil
	})

	result, err := handler(context.Background(), NewCallToolRequest("weather",
		map[string]interface{}{"city": "Berlin", "days": 3}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	output, ok := result.StructuredContent.(weatherOutput)
	require.True(t, ok)
	assert.Equal(t, "Berlin", output.City)
	assert.Equal(t, 21.5, output.TempC)

	// The text fallback carries the same data as JSON.
	require.Len(t, result.Content, 1)
	text := result.Content[0].(TextContent).Text
	assert.Contains(t, text, `"city":"Berlin"`)
}

func TestTypedToolHandlerBindFailure(t *testing.T) {
	handler := NewTypedToolHandler(func(ctx context.Context, req *CallToolRequest, input weatherInput) (weatherOutput, error) {
		t.Fatal("handler must not run when binding fails")
		return weatherOutput{}, nil
	})

	result, err := handler(context.Background(), NewCallToolRequest("weather",
		map[string]interface{}{"days": "not-a-number"}))
	require.NoError(t, err, "binding failures are tool-level, not protocol-level")
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].(TextContent).Text, "failed to bind arguments")
}

func TestTypedToolHandlerExecutionFailure(t *testing.T) {
	handler := NewTypedToolHandler(func(ctx context.Context, req *CallToolRequest, input weatherInput) (weatherOutput, error) {
		return weatherOutput{}, fmt.Errorf("upstream unavailable")
	})

	result, err := handler(context.Background(), NewCallToolRequest("weather", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].(TextContent).Text, "upstream unavailable")
}

func TestStructuredToolHandler(t *testing.T) {
	handler := NewStructuredToolHandler(func(ctx context.Context, req *CallToolRequest) (weatherOutput, error) {
		return weatherOutput{City: "Oslo", TempC: -3, Forecast: "snow"}, nil
	})

	result, err := handler(context.Background(), NewCallToolRequest("weather", nil))
	require.NoError(t, err)
	output, ok := result.StructuredContent.(weatherOutput)
	require.True(t, ok)
	assert.Equal(t, "Oslo", output.City)
}

func TestBindArguments(t *testing.T) {
	var input weatherInput
	require.NoError(t, bindArguments(map[string]interface{}{"city": "Lima", "days": 2}, &input))
	assert.Equal(t, weatherInput{City: "Lima", Days: 2}, input)

	// Nil arguments leave the target zero-valued.
	var empty weatherInput
	require.NoError(t, bindArguments(nil, &empty))
	assert.Zero(t, empty)

	require.Error(t, bindArguments(map[string]interface{}{"days": []int{1}}, &input))
}
