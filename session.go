// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Session exposes the per-client session state to request handlers.
type Session interface {
	// GetID returns the session identifier.
	GetID() string
	// GetCreatedAt returns the session creation time.
	GetCreatedAt() time.Time
	// GetData returns arbitrary session-scoped data.
	GetData(key string) (interface{}, bool)
	// SetData stores arbitrary session-scoped data.
	SetData(key string, value interface{})
}

// ServerSession is the server side of one client connection. It carries the
// protocol engine for the session, the negotiated state, and the API for
// server-initiated exchanges (notifications, sampling, roots, elicitation).
type ServerSession struct {
	id        string
	createdAt time.Time
	protocol  *Protocol
	data      sync.Map

	mu              sync.RWMutex
	initialized     bool
	protocolVersion string
	clientCaps      *ClientCapabilities
	clientInfo      *Implementation
	logLevel        LoggingLevel
}

func newServerSession(id string, protocol *Protocol) *ServerSession {
	return &ServerSession{
		id:        id,
		createdAt: time.Now(),
		protocol:  protocol,
		logLevel:  LoggingLevelInfo,
	}
}

// GetID implements Session.
func (s *ServerSession) GetID() string { return s.id }

// GetCreatedAt implements Session.
func (s *ServerSession) GetCreatedAt() time.Time { return s.createdAt }

// GetData implements Session.
func (s *ServerSession) GetData(key string) (interface{}, bool) {
	return s.data.Load(key)
}

// SetData implements Session.
func (s *ServerSession) SetData(key string, value interface{}) {
	s.data.Store(key, value)
}

// setNegotiated records the outcome of the initialize handshake.
func (s *ServerSession) setNegotiated(version string, caps ClientCapabilities, info Implementation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = version
	s.clientCaps = &caps
	s.clientInfo = &info
	if s.protocol != nil {
		if t := s.protocol.Transport(); t != nil {
			t.SetProtocolVersion(version)
		}
	}
}

// markInitialized records receipt of notifications/initialized.
func (s *ServerSession) markInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
}

// Initialized reports whether the handshake completed.
func (s *ServerSession) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// ProtocolVersion returns the negotiated protocol version, or "".
func (s *ServerSession) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

// ClientCapabilities returns the capabilities the client advertised, or nil
// before initialization.
func (s *ServerSession) ClientCapabilities() *ClientCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientCaps
}

// ClientInfo returns the client implementation info, or nil before
// initialization.
func (s *ServerSession) ClientInfo() *Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// setLogLevel records the minimum level requested through logging/setLevel.
func (s *ServerSession) setLogLevel(level LoggingLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLevel = level
}

// shouldLog reports whether a message at level passes the session's filter.
func (s *ServerSession) shouldLog(level LoggingLevel) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loggingLevelSeverity[level] >= loggingLevelSeverity[s.logLevel]
}

// SendNotification sends a notification to this session's client. When called
// from within a request handler, pass the handler's context so the message
// rides the same stream as the response.
func (s *ServerSession) SendNotification(ctx context.Context, method string, params interface{}) error {
	return s.protocol.Notification(ctx, method, params)
}

// NotifyProgress emits a progress notification for the given token.
func (s *ServerSession) NotifyProgress(ctx context.Context, token ProgressToken, progress, total float64, message string) error {
	return s.protocol.Progress(ctx, token, progress, total, message)
}

// SendLogMessage emits a notifications/message entry, honoring the level the
// client selected with logging/setLevel.
func (s *ServerSession) SendLogMessage(ctx context.Context, level LoggingLevel, logger string, data interface{}) error {
	if !s.shouldLog(level) {
		return nil
	}
	return s.SendNotification(ctx, MethodNotificationsMessage, &LoggingMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

// RequestSampling asks the client to run an LLM completion. The client must
// have advertised the sampling capability.
func (s *ServerSession) RequestSampling(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error) {
	caps := s.ClientCapabilities()
	if caps == nil || caps.Sampling == nil {
		return nil, fmt.Errorf("%w: sampling", ErrCapabilityNotSupported)
	}
	raw, err := s.protocol.Request(ctx, MethodSamplingCreateMessage, params, nil)
	if err != nil {
		return nil, err
	}
	var result CreateMessageResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse sampling result: %w", err)
	}
	return &result, nil
}

// ListRoots asks the client for its filesystem roots. The client must have
// advertised the roots capability.
func (s *ServerSession) ListRoots(ctx context.Context) (*ListRootsResult, error) {
	caps := s.ClientCapabilities()
	if caps == nil || caps.Roots == nil {
		return nil, fmt.Errorf("%w: roots", ErrCapabilityNotSupported)
	}
	raw, err := s.protocol.Request(ctx, MethodRootsList, nil, nil)
	if err != nil {
		return nil, err
	}
	var result ListRootsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse roots result: %w", err)
	}
	return &result, nil
}

// Elicit asks the client to collect structured input from its user. The
// client must have advertised the elicitation capability.
func (s *ServerSession) Elicit(ctx context.Context, params *ElicitParams) (*ElicitResult, error) {
	caps := s.ClientCapabilities()
	if caps == nil || caps.Elicitation == nil {
		return nil, fmt.Errorf("%w: elicitation", ErrCapabilityNotSupported)
	}
	raw, err := s.protocol.Request(ctx, MethodElicitationCreate, params, nil)
	if err != nil {
		return nil, err
	}
	var result ElicitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse elicitation result: %w", err)
	}
	return &result, nil
}

// serverSessionChecker gates server-initiated requests on the capabilities
// the client advertised.
type serverSessionChecker struct {
	session *ServerSession
}

func (c *serverSessionChecker) assertRequestCapability(method string) error {
	caps := c.session.ClientCapabilities()
	switch method {
	case MethodSamplingCreateMessage:
		if caps == nil || caps.Sampling == nil {
			return fmt.Errorf("%w: sampling", ErrCapabilityNotSupported)
		}
	case MethodRootsList:
		if caps == nil || caps.Roots == nil {
			return fmt.Errorf("%w: roots", ErrCapabilityNotSupported)
		}
	case MethodElicitationCreate:
		if caps == nil || caps.Elicitation == nil {
			return fmt.Errorf("%w: elicitation", ErrCapabilityNotSupported)
		}
	}
	return nil
}

func (c *serverSessionChecker) assertNotificationCapability(method string) error {
	return nil
}

// sessionContextKey carries the active session through handler contexts.
type sessionContextKey struct{}

// withClientSession attaches a session to a context.
func withClientSession(ctx context.Context, session *ServerSession) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// ClientSessionFromContext returns the session a handler is serving, or nil.
func ClientSessionFromContext(ctx context.Context) *ServerSession {
	session, _ := ctx.Value(sessionContextKey{}).(*ServerSession)
	return session
}
