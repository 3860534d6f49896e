// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// StdioServerParameters describes how to launch a stdio server subprocess.
type StdioServerParameters struct {
	// Command is the executable to run.
	Command string
	// Args are passed to the command.
	Args []string
	// Env entries ("KEY=value") are appended to the current environment.
	Env []string
}

// stdioClientTransport runs an MCP server as a subprocess and speaks
// newline-delimited JSON over its stdin/stdout. Stderr is forwarded to the
// logger.
type stdioClientTransport struct {
	transportHandlers

	params StdioServerParameters
	logger Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
	mu      sync.Mutex
	started bool
	closed  bool
}

// StdioTransportOption configures a stdio client transport.
type StdioTransportOption func(*stdioClientTransport)

// WithStdioTransportLogger sets the logger used for subprocess stderr and
// transport errors.
func WithStdioTransportLogger(logger Logger) StdioTransportOption {
	return func(t *stdioClientTransport) {
		t.logger = logger
	}
}

// NewStdioClientTransport creates a transport that launches the given server
// command. Use it with NewClientWithTransport.
func NewStdioClientTransport(params StdioServerParameters, options ...StdioTransportOption) Transport {
	t := &stdioClientTransport{
		params: params,
		logger: GetDefaultLogger(),
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Start implements Transport. It launches the subprocess and begins reading
// its stdout.
func (t *stdioClientTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("transport already started")
	}

	cmd := exec.Command(t.params.Command, t.params.Args...)
	cmd.Env = append(os.Environ(), t.params.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start server process: %w", err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	go t.readLoop(stdout)
	go t.stderrLoop(stderr)
	go t.waitProcess()
	return nil
}

// Send implements Transport. Each message is one line of JSON.
func (t *stdioClientTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to server stdin: %w", err)
	}
	return nil
}

func (t *stdioClientTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := parseJSONRPCMessage(line)
		if err != nil {
			t.dispatchError(fmt.Errorf("parse server message: %w", err))
			continue
		}
		t.dispatchMessage(msg)
	}
}

func (t *stdioClientTransport) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debugf("server stderr: %s", scanner.Text())
	}
}

// waitProcess reaps the subprocess and signals transport closure.
func (t *stdioClientTransport) waitProcess() {
	err := t.cmd.Wait()

	t.mu.Lock()
	alreadyClosed := t.closed
	t.closed = true
	t.mu.Unlock()

	if alreadyClosed {
		return
	}
	if err != nil {
		t.dispatchError(fmt.Errorf("server process exited: %w", err))
	}
	t.dispatchClose()
}

// SessionID implements Transport. Stdio connections have no session ID.
func (t *stdioClientTransport) SessionID() string { return "" }

// SetProtocolVersion implements Transport. Stdio carries no version header.
func (t *stdioClientTransport) SetProtocolVersion(version string) {}

// Close implements Transport. It closes stdin and terminates the subprocess.
func (t *stdioClientTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cmd := t.cmd
	t.mu.Unlock()

	if t.stdin != nil {
		t.stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	t.dispatchClose()
	return nil
}
