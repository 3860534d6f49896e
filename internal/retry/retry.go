// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

// Package retry runs transient-failure-prone operations under a bounded
// exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Bounds that Validate clamps Config fields into.
const (
	MaxMaxRetries     = 10
	MinInitialBackoff = time.Millisecond
	MaxInitialBackoff = 30 * time.Second
	MinBackoffFactor  = 1.0
	MaxBackoffFactor  = 10.0
	MaxMaxBackoff     = 5 * time.Minute
)

// Config is a backoff policy. The zero value disables retries.
type Config struct {
	// MaxRetries is the number of re-attempts after the initial one.
	MaxRetries int
	// InitialBackoff is the delay before the first re-attempt.
	InitialBackoff time.Duration
	// BackoffFactor multiplies the delay after each re-attempt.
	BackoffFactor float64
	// MaxBackoff caps the delay between re-attempts.
	MaxBackoff time.Duration
}

// Validate returns a copy of the config with every field clamped into its
// supported range. MaxBackoff is additionally raised to at least
// InitialBackoff.
func (c Config) Validate() Config {
	c.MaxRetries = clamp(c.MaxRetries, 0, MaxMaxRetries)
	c.InitialBackoff = clamp(c.InitialBackoff, MinInitialBackoff, MaxInitialBackoff)
	c.BackoffFactor = clamp(c.BackoffFactor, MinBackoffFactor, MaxBackoffFactor)
	c.MaxBackoff = clamp(c.MaxBackoff, c.InitialBackoff, MaxMaxBackoff)
	return c
}

func clamp[T int | float64 | time.Duration](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// retryableStatuses are the HTTP status codes worth another attempt: the
// transient 4xx codes plus every 5xx.
var retryableStatuses = []string{
	"408", "409", "429",
	"500", "501", "502", "503", "504", "505",
	"506", "507", "508", "509", "510", "511",
}

// IsRetryableError reports whether err looks transient. Connection-level
// failures and retryable HTTP statuses qualify; anything unrecognized does
// not, so unknown failures never loop.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// HTTP failures beyond this package arrive as formatted messages, so a
	// textual check is the remaining option.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		msg == "eof" || strings.HasSuffix(msg, ": eof") {
		return true
	}
	for _, code := range retryableStatuses {
		if strings.Contains(msg, "status "+code) ||
			strings.Contains(msg, "status: "+code) ||
			strings.Contains(msg, "http "+code) ||
			strings.Contains(msg, "code "+code) {
			return true
		}
	}
	return false
}

// Execute runs operation under the config's backoff policy. Non-retryable
// errors fail immediately; retryable ones are re-attempted until MaxRetries
// is spent or ctx ends. A nil or zero config runs the operation exactly
// once.
func Execute(ctx context.Context, operation func() error, config *Config) error {
	if config == nil || config.MaxRetries == 0 {
		return operation()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = config.InitialBackoff
	policy.Multiplier = config.BackoffFactor
	policy.MaxInterval = config.MaxBackoff

	attempt := func() (struct{}, error) {
		err := operation()
		if err != nil && !IsRetryableError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(config.MaxRetries)+1))
	return err
}
