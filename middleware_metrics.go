// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/streamkit/mcp-go"

// MetricsMiddleware records request counts, failures and latency through
// OpenTelemetry, and wraps each handler invocation in a span.
type MetricsMiddleware struct {
	tracer trace.Tracer

	requests metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetricsMiddleware creates a metrics middleware backed by the global
// OpenTelemetry meter and tracer providers.
func NewMetricsMiddleware() (*MetricsMiddleware, error) {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	requests, err := meter.Int64Counter("mcp.server.requests",
		metric.WithDescription("Number of handler invocations."))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("mcp.server.failures",
		metric.WithDescription("Number of handler invocations that returned an error."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("mcp.server.duration",
		metric.WithDescription("Handler latency."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &MetricsMiddleware{
		tracer:   otel.GetTracerProvider().Tracer(instrumentationName),
		requests: requests,
		failures: failures,
		duration: duration,
	}, nil
}

// Middleware returns the MiddlewareFunc for use in a handler chain.
func (m *MetricsMiddleware) Middleware() MiddlewareFunc {
	return func(ctx context.Context, req interface{}, next Handler) (interface{}, error) {
		name := requestName(req)
		attrs := metric.WithAttributes(attribute.String("mcp.method", name))

		ctx, span := m.tracer.Start(ctx, name)
		defer span.End()

		start := time.Now()
		result, err := next(ctx, req)
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)

		m.requests.Add(ctx, 1, attrs)
		m.duration.Record(ctx, elapsed, attrs)
		if err != nil {
			m.failures.Add(ctx, 1, attrs)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result, err
	}
}

// requestName labels a handler invocation for metrics and spans.
func requestName(req interface{}) string {
	switch r := req.(type) {
	case *CallToolRequest:
		return "tools/call " + r.Params.Name
	case *ReadResourceRequest:
		return "resources/read"
	case *GetPromptRequest:
		return "prompts/get " + r.Params.Name
	default:
		return "request"
	}
}

// InstallStdoutMetrics installs a global meter provider that periodically
// prints metrics to stdout. Intended for local development; production
// deployments install their own provider before creating the middleware.
func InstallStdoutMetrics(interval time.Duration) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)
	return provider, nil
}
