// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// sseEvent is one server-sent event.
type sseEvent struct {
	id    string
	event string
	data  string
}

// formatSSEEvent renders an event in wire format. The data must not contain
// raw newlines outside of JSON strings; messages are single-line JSON.
func formatSSEEvent(id, event string, data []byte) string {
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return b.String()
}

// scanSSEStream reads events from r, invoking emit for each complete event.
// It returns when the stream ends or emit returns an error.
func scanSSEStream(r io.Reader, emit func(event sseEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var current sseEvent
	var data []string
	flush := func() error {
		if len(data) == 0 && current.id == "" && current.event == "" {
			return nil
		}
		current.data = strings.Join(data, "\n")
		err := emit(current)
		current = sseEvent{}
		data = nil
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			// Comment line, used for keep-alives.
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			current.id = value
		case "event":
			current.event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
