// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"time"

	"github.com/streamkit/mcp-go/internal/retry"
)

// RetryConfig defines configuration for client retry behavior.
type RetryConfig struct {
	// MaxRetries specifies the maximum number of retry attempts for requests.
	MaxRetries int `json:"max_retries"`
	// InitialBackoff specifies the initial backoff duration before the first retry.
	InitialBackoff time.Duration `json:"initial_backoff"`
	// BackoffFactor specifies the factor to multiply the backoff duration for
	// each retry. With factor 2.0: 100ms -> 200ms -> 400ms -> 800ms.
	BackoffFactor float64 `json:"backoff_factor"`
	// MaxBackoff specifies the maximum backoff duration to cap exponential growth.
	MaxBackoff time.Duration `json:"max_backoff"`
}

// defaultRetryConfig provides conservative retry defaults.
var defaultRetryConfig = RetryConfig{
	MaxRetries:     2,
	InitialBackoff: 500 * time.Millisecond,
	BackoffFactor:  2.0,
	MaxBackoff:     8 * time.Second,
}

func (c RetryConfig) internal() *retry.Config {
	validated := retry.Config{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.InitialBackoff,
		BackoffFactor:  c.BackoffFactor,
		MaxBackoff:     c.MaxBackoff,
	}.Validate()
	return &validated
}

// WithSimpleRetry enables request retry with the specified maximum number of
// attempts and default backoff settings.
func WithSimpleRetry(maxRetries int) ClientOption {
	config := defaultRetryConfig
	config.MaxRetries = maxRetries
	return WithRetry(config)
}

// WithRetry enables request retry with custom configuration. Only transient
// failures (connection errors, retryable HTTP status codes) are retried.
func WithRetry(config RetryConfig) ClientOption {
	return func(c *Client) {
		c.transportOptions = append(c.transportOptions, WithTransportRetry(config.internal()))
	}
}
