// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSSEEvent(t *testing.T) {
	got := formatSSEEvent("evt-1", "message", []byte(`{"jsonrpc":"2.0"}`))
	assert.Equal(t, "id: evt-1\nevent: message\ndata: {\"jsonrpc\":\"2.0\"}\n\n", got)

	got = formatSSEEvent("", "", []byte("hello"))
	assert.Equal(t, "data: hello\n\n", got)

	got = formatSSEEvent("", "message", []byte("line1\nline2"))
	assert.Equal(t, "event: message\ndata: line1\ndata: line2\n\n", got)
}

func TestScanSSEStream(t *testing.T) {
	stream := strings.Join([]string{
		"id: evt-1",
		"event: message",
		`data: {"a":1}`,
		"",
		": keep-alive",
		"",
		"data: first",
		"data: second",
		"",
	}, "\n")

	var events []sseEvent
	err := scanSSEStream(strings.NewReader(stream), func(event sseEvent) error {
		events = append(events, event)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "evt-1", events[0].id)
	assert.Equal(t, "message", events[0].event)
	assert.Equal(t, `{"a":1}`, events[0].data)

	assert.Empty(t, events[1].id)
	assert.Equal(t, "first\nsecond", events[1].data)
}

func TestScanSSEStreamRoundTrip(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteString(formatSSEEvent(formatEventID("stream-a", i), "message",
			[]byte(fmt.Sprintf(`{"seq":%d}`, i))))
	}

	var ids []string
	err := scanSSEStream(strings.NewReader(b.String()), func(event sseEvent) error {
		ids = append(ids, event.id)
		assert.Equal(t, "message", event.event)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stream-a_0", "stream-a_1", "stream-a_2"}, ids)
}

func TestScanSSEStreamFlushesUnterminatedEvent(t *testing.T) {
	// A stream cut mid-event still delivers what was buffered.
	var events []sseEvent
	err := scanSSEStream(strings.NewReader("data: partial\n"), func(event sseEvent) error {
		events = append(events, event)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "partial", events[0].data)
}

func TestScanSSEStreamEmitErrorStops(t *testing.T) {
	stream := "data: one\n\ndata: two\n\n"
	calls := 0
	err := scanSSEStream(strings.NewReader(stream), func(event sseEvent) error {
		calls++
		return fmt.Errorf("stop")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestScanSSEStreamValueWithColon(t *testing.T) {
	var events []sseEvent
	err := scanSSEStream(strings.NewReader("data: {\"url\":\"http://example.com\"}\n\n"),
		func(event sseEvent) error {
			events = append(events, event)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, `{"url":"http://example.com"}`, events[0].data)
}
