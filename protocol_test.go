// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newConnectedProtocols wires two protocol engines over an in-memory
// transport pair.
func newConnectedProtocols(t *testing.T, aOpts, bOpts *ProtocolOptions) (*Protocol, *Protocol) {
	t.Helper()
	ta, tb := NewInMemoryTransports()
	pa := NewProtocol(aOpts)
	pb := NewProtocol(bOpts)
	require.NoError(t, pa.Connect(context.Background(), ta))
	require.NoError(t, pb.Connect(context.Background(), tb))
	t.Cleanup(func() {
		pa.Close()
	})
	return pa, pb
}

func TestProtocolRequestResponse(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)

	pb.SetRequestHandler("echo", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		return req.Params, nil
	})

	raw, err := pa.Request(context.Background(), "echo",
		map[string]interface{}{"value": "hello"}, nil)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "hello", result["value"])
}

func TestProtocolConcurrentRequests(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)

	var seenMu sync.Mutex
	seenIDs := make(map[string]int)
	pb.SetRequestHandler("echo", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		seenMu.Lock()
		seenIDs[fmt.Sprintf("%v", req.ID)]++
		seenMu.Unlock()
		return req.Params, nil
	})

	const n = 10000
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := pa.Request(context.Background(), "echo",
				map[string]interface{}{"value": fmt.Sprintf("req-%d", i)}, nil)
			if err != nil {
				errs[i] = err
				return
			}
			var result map[string]interface{}
			if err := json.Unmarshal(raw, &result); err != nil {
				errs[i] = err
				return
			}
			results[i], _ = result["value"].(string)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		// Responses must be correlated to their own request, not just any.
		assert.Equal(t, fmt.Sprintf("req-%d", i), results[i])
	}

	// Every in-flight request must carry a distinct ID.
	require.Len(t, seenIDs, n)
	for id, count := range seenIDs {
		assert.Equal(t, 1, count, "request ID %s reused", id)
	}
}

func TestProtocolMethodNotFound(t *testing.T) {
	pa, _ := newConnectedProtocols(t, nil, nil)

	_, err := pa.Request(context.Background(), "no/such/method", nil, nil)
	require.Error(t, err)

	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, ErrCodeMethodNotFound, respErr.Code)
}

func TestProtocolRequestTimeout(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)

	release := make(chan struct{})
	pb.SetRequestHandler("slow", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		<-release
		return map[string]interface{}{}, nil
	})
	defer close(release)

	start := time.Now()
	_, err := pa.Request(context.Background(), "slow", nil,
		&RequestOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, ErrCodeRequestTimeout, respErr.Code)
}

func TestProtocolTimeoutSuppressesLateResponse(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)

	release := make(chan struct{})
	pb.SetRequestHandler("slow", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		<-release
		return map[string]interface{}{"late": true}, nil
	})
	pb.SetRequestHandler("fast", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		return map[string]interface{}{"fast": true}, nil
	})

	_, err := pa.Request(context.Background(), "slow", nil,
		&RequestOptions{Timeout: 20 * time.Millisecond})
	require.Error(t, err)

	// Release the stuck handler; its response must be dropped without
	// disturbing later requests.
	close(release)
	raw, err := pa.Request(context.Background(), "fast", nil, nil)
	require.NoError(t, err)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, true, result["fast"])
}

func TestProtocolContextCancellation(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)

	handlerCancelled := make(chan struct{})
	started := make(chan struct{})
	pb.SetRequestHandler("slow", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		close(started)
		<-ctx.Done()
		close(handlerCancelled)
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := pa.Request(ctx, "slow", nil, nil)
	require.ErrorIs(t, err, context.Canceled)

	// The cancellation notification must reach the serving side and cancel
	// the handler's context.
	select {
	case <-handlerCancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestProtocolProgress(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)

	pb.SetRequestHandler("work", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		fields, ok := req.Params.(map[string]interface{})
		require.True(t, ok)
		meta, _ := fields["_meta"].(map[string]interface{})
		require.NotNil(t, meta, "progress token must ride in _meta")
		token := meta["progressToken"]

		for i := 1; i <= 3; i++ {
			require.NoError(t, pb.Progress(ctx, token, float64(i), 3, ""))
		}
		return map[string]interface{}{}, nil
	})

	var mu sync.Mutex
	var seen []float64
	_, err := pa.Request(context.Background(), "work", map[string]interface{}{}, &RequestOptions{
		OnProgress: func(params ProgressParams) {
			mu.Lock()
			seen = append(seen, params.Progress)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1, 2, 3}, seen)
}

func TestProtocolProgressResetsTimeout(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)

	pb.SetRequestHandler("work", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		fields := req.Params.(map[string]interface{})
		meta := fields["_meta"].(map[string]interface{})
		token := meta["progressToken"]

		// Each tick lands inside the 80ms window; the total runtime
		// exceeds it several times over.
		for i := 1; i <= 5; i++ {
			time.Sleep(40 * time.Millisecond)
			if err := pb.Progress(ctx, token, float64(i), 5, ""); err != nil {
				return nil, err
			}
		}
		return map[string]interface{}{"done": true}, nil
	})

	_, err := pa.Request(context.Background(), "work", map[string]interface{}{}, &RequestOptions{
		Timeout:                80 * time.Millisecond,
		ResetTimeoutOnProgress: true,
		OnProgress:             func(ProgressParams) {},
	})
	require.NoError(t, err)
}

func TestProtocolMaxTotalTimeout(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)

	release := make(chan struct{})
	defer close(release)
	pb.SetRequestHandler("work", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		fields := req.Params.(map[string]interface{})
		meta := fields["_meta"].(map[string]interface{})
		token := meta["progressToken"]
		for {
			select {
			case <-release:
				return map[string]interface{}{}, nil
			case <-time.After(20 * time.Millisecond):
				if err := pb.Progress(ctx, token, 1, 0, ""); err != nil {
					return nil, err
				}
			}
		}
	})

	_, err := pa.Request(context.Background(), "work", map[string]interface{}{}, &RequestOptions{
		Timeout:                time.Second,
		ResetTimeoutOnProgress: true,
		MaxTotalTimeout:        150 * time.Millisecond,
		OnProgress:             func(ProgressParams) {},
	})
	require.Error(t, err)
	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, ErrCodeRequestTimeout, respErr.Code)
}

func TestProtocolNotification(t *testing.T) {
	pa, pb := newConnectedProtocols(t, nil, nil)

	received := make(chan *JSONRPCNotification, 1)
	pb.SetNotificationHandler("custom/ping", func(ctx context.Context, n *JSONRPCNotification) error {
		received <- n
		return nil
	})

	require.NoError(t, pa.Notification(context.Background(), "custom/ping",
		map[string]interface{}{"value": 42}))

	select {
	case n := <-received:
		assert.Equal(t, "custom/ping", n.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestProtocolCloseFailsPending(t *testing.T) {
	ta, tb := NewInMemoryTransports()
	pa := NewProtocol(nil)
	pb := NewProtocol(nil)
	require.NoError(t, pa.Connect(context.Background(), ta))
	require.NoError(t, pb.Connect(context.Background(), tb))

	block := make(chan struct{})
	defer close(block)
	pb.SetRequestHandler("hang", func(ctx context.Context, req *JSONRPCRequest) (interface{}, error) {
		<-block
		return nil, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := pa.Request(context.Background(), "hang", nil, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pa.Close())

	select {
	case err := <-done:
		var respErr *ResponseError
		require.True(t, errors.As(err, &respErr))
		assert.Equal(t, ErrCodeConnectionClosed, respErr.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request did not fail on close")
	}
}

type rejectAllChecker struct{}

func (rejectAllChecker) assertRequestCapability(method string) error {
	return fmt.Errorf("%w: %s", ErrCapabilityNotSupported, method)
}

func (rejectAllChecker) assertNotificationCapability(method string) error {
	return fmt.Errorf("%w: %s", ErrCapabilityNotSupported, method)
}

func TestProtocolStrictCapabilities(t *testing.T) {
	pa, _ := newConnectedProtocols(t, &ProtocolOptions{EnforceStrictCapabilities: true}, nil)
	pa.setCapabilityChecker(rejectAllChecker{})

	_, err := pa.Request(context.Background(), "tools/list", nil, nil)
	require.ErrorIs(t, err, ErrCapabilityNotSupported)

	err = pa.Notification(context.Background(), "notifications/roots/list_changed", nil)
	require.ErrorIs(t, err, ErrCapabilityNotSupported)
}

func TestRequestIDKeyCanonical(t *testing.T) {
	// Numeric IDs must compare equal regardless of decoded type; strings
	// must never collide with numbers.
	assert.Equal(t, requestIDKey(int64(1)), requestIDKey(float64(1)))
	assert.Equal(t, requestIDKey(1), requestIDKey(int64(1)))
	assert.NotEqual(t, requestIDKey("1"), requestIDKey(int64(1)))
}
