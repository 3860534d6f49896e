// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"fmt"
	"time"
)

// Handler is the function at the end of a middleware chain. It executes the
// actual operation, such as a tool call or a resource read.
type Handler func(ctx context.Context, req interface{}) (interface{}, error)

// MiddlewareFunc wraps a Handler. It receives the request and the next
// handler in the chain and may act before and after invoking it.
type MiddlewareFunc func(ctx context.Context, req interface{}, next Handler) (interface{}, error)

// Chain links middlewares around a final handler. Middlewares execute in
// argument order: Chain(handler, m1, m2) runs m1, then m2, then handler.
func Chain(handler Handler, middlewares ...MiddlewareFunc) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = wrap(middlewares[i], handler)
	}
	return handler
}

func wrap(m MiddlewareFunc, next Handler) Handler {
	return func(ctx context.Context, req interface{}) (interface{}, error) {
		return m(ctx, req, next)
	}
}

// RecoveryMiddleware converts panics in the chain into errors.
func RecoveryMiddleware(ctx context.Context, req interface{}, next Handler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	return next(ctx, req)
}

// NewLoggingMiddleware returns a middleware that logs each request with its
// duration and outcome.
func NewLoggingMiddleware(logger Logger) MiddlewareFunc {
	if logger == nil {
		logger = GetDefaultLogger()
	}
	return func(ctx context.Context, req interface{}, next Handler) (interface{}, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		if err != nil {
			logger.Warnf("request %T failed after %v: %v", req, time.Since(start), err)
		} else {
			logger.Debugf("request %T completed in %v", req, time.Since(start))
		}
		return resp, err
	}
}

// NewTimeoutMiddleware returns a middleware that bounds handler execution
// time.
func NewTimeoutMiddleware(timeout time.Duration) MiddlewareFunc {
	return func(ctx context.Context, req interface{}, next Handler) (interface{}, error) {
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type outcome struct {
			resp interface{}
			err  error
		}
		done := make(chan outcome, 1)
		go func() {
			resp, err := next(timeoutCtx, req)
			done <- outcome{resp, err}
		}()

		select {
		case out := <-done:
			return out.resp, out.err
		case <-timeoutCtx.Done():
			return nil, fmt.Errorf("request timed out after %v", timeout)
		}
	}
}
