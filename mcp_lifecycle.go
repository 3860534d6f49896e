// Copyright (C) 2025 mcp-go authors. All rights reserved.
//
// mcp-go is licensed under the Apache License Version 2.0.

package mcp

// Protocol revisions supported by this SDK, newest first.
const (
	// ProtocolVersion_2025_06_18 adds elicitation and structured tool output.
	ProtocolVersion_2025_06_18 = "2025-06-18"
	// ProtocolVersion_2025_03_26 adds streamable HTTP and audio content.
	ProtocolVersion_2025_03_26 = "2025-03-26"
	// ProtocolVersion_2024_11_05 is the first stable protocol revision.
	ProtocolVersion_2024_11_05 = "2024-11-05"

	// LatestProtocolVersion is the newest revision this SDK implements.
	LatestProtocolVersion = ProtocolVersion_2025_06_18
)

// supportedProtocolVersions lists the revisions accepted during negotiation.
var supportedProtocolVersions = []string{
	ProtocolVersion_2025_06_18,
	ProtocolVersion_2025_03_26,
	ProtocolVersion_2024_11_05,
}

// isProtocolVersionSupported reports whether version is a known revision.
func isProtocolVersionSupported(version string) bool {
	for _, v := range supportedProtocolVersions {
		if v == version {
			return true
		}
	}
	return false
}

// negotiateProtocolVersion returns the version to use for a session. If the
// client's requested version is supported it is echoed back, otherwise the
// server answers with the latest version it implements.
func negotiateProtocolVersion(requested string) string {
	if isProtocolVersionSupported(requested) {
		return requested
	}
	return LatestProtocolVersion
}

// Method names defined by the protocol.
const (
	MethodInitialize             = "initialize"
	MethodPing                   = "ping"
	MethodToolsList              = "tools/list"
	MethodToolsCall              = "tools/call"
	MethodResourcesList          = "resources/list"
	MethodResourcesRead          = "resources/read"
	MethodResourcesTemplatesList = "resources/templates/list"
	MethodResourcesSubscribe     = "resources/subscribe"
	MethodResourcesUnsubscribe   = "resources/unsubscribe"
	MethodPromptsList            = "prompts/list"
	MethodPromptsGet             = "prompts/get"
	MethodCompletionComplete     = "completion/complete"
	MethodLoggingSetLevel        = "logging/setLevel"
	MethodSamplingCreateMessage  = "sampling/createMessage"
	MethodElicitationCreate      = "elicitation/create"
	MethodRootsList              = "roots/list"
	MethodTasksGet               = "tasks/get"
	MethodTasksResult            = "tasks/result"
	MethodTasksCancel            = "tasks/cancel"
	MethodTasksList              = "tasks/list"

	MethodNotificationsInitialized          = "notifications/initialized"
	MethodNotificationsCancelled            = "notifications/cancelled"
	MethodNotificationsProgress             = "notifications/progress"
	MethodNotificationsMessage              = "notifications/message"
	MethodNotificationsRootsListChanged     = "notifications/roots/list_changed"
	MethodNotificationsToolsListChanged     = "notifications/tools/list_changed"
	MethodNotificationsPromptsListChanged   = "notifications/prompts/list_changed"
	MethodNotificationsResourcesListChanged = "notifications/resources/list_changed"
	MethodNotificationsResourcesUpdated     = "notifications/resources/updated"
	MethodNotificationsTaskStatus           = "notifications/tasks/status"
)

// Implementation describes the name and version of an MCP client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListChangedCapability signals support for list_changed notifications.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes server resource support.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// TasksCapability describes support for task-augmented requests.
type TasksCapability struct {
	// List signals support for tasks/list.
	List bool `json:"list,omitempty"`
	// Cancel signals support for tasks/cancel.
	Cancel bool `json:"cancel,omitempty"`
}

// ServerCapabilities describes the feature set a server advertises during
// initialization.
type ServerCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
	Logging      map[string]interface{} `json:"logging,omitempty"`
	Completions  map[string]interface{} `json:"completions,omitempty"`
	Prompts      *ListChangedCapability `json:"prompts,omitempty"`
	Resources    *ResourcesCapability   `json:"resources,omitempty"`
	Tools        *ListChangedCapability `json:"tools,omitempty"`
	Tasks        *TasksCapability       `json:"tasks,omitempty"`
}

// ClientCapabilities describes the feature set a client advertises during
// initialization.
type ClientCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
	Roots        *ListChangedCapability `json:"roots,omitempty"`
	Sampling     map[string]interface{} `json:"sampling,omitempty"`
	Elicitation  map[string]interface{} `json:"elicitation,omitempty"`
	Tasks        *TasksCapability       `json:"tasks,omitempty"`
}

// InitializeRequest is the first request of a session.
type InitializeRequest struct {
	Request
	Params InitializeParams `json:"params"`
}

// InitializeParams carries the client's protocol version, capabilities and
// implementation info.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	Result
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// PaginatedRequest is embedded by list requests that support cursors.
type PaginatedRequest struct {
	Request
	Params struct {
		Cursor Cursor `json:"cursor,omitempty"`
	} `json:"params,omitempty"`
}

// PingRequest checks that the other side is still alive.
type PingRequest struct {
	Request
}

// CancelledParams is the payload of notifications/cancelled.
type CancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// ProgressParams is the payload of notifications/progress.
type ProgressParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         float64       `json:"total,omitempty"`
	Message       string        `json:"message,omitempty"`
}

// LoggingLevel is a syslog-style severity used by notifications/message.
type LoggingLevel string

// Logging levels in increasing severity order.
const (
	LoggingLevelDebug     LoggingLevel = "debug"
	LoggingLevelInfo      LoggingLevel = "info"
	LoggingLevelNotice    LoggingLevel = "notice"
	LoggingLevelWarning   LoggingLevel = "warning"
	LoggingLevelError     LoggingLevel = "error"
	LoggingLevelCritical  LoggingLevel = "critical"
	LoggingLevelAlert     LoggingLevel = "alert"
	LoggingLevelEmergency LoggingLevel = "emergency"
)

// loggingLevelSeverity maps levels to their relative severity for filtering.
var loggingLevelSeverity = map[LoggingLevel]int{
	LoggingLevelDebug:     0,
	LoggingLevelInfo:      1,
	LoggingLevelNotice:    2,
	LoggingLevelWarning:   3,
	LoggingLevelError:     4,
	LoggingLevelCritical:  5,
	LoggingLevelAlert:     6,
	LoggingLevelEmergency: 7,
}

// SetLevelRequest adjusts the minimum level of log messages the server sends.
type SetLevelRequest struct {
	Request
	Params struct {
		Level LoggingLevel `json:"level"`
	} `json:"params"`
}

// LoggingMessageParams is the payload of notifications/message.
type LoggingMessageParams struct {
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger,omitempty"`
	Data   interface{}  `json:"data"`
}
