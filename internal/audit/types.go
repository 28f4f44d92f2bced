// Package audit provides the append-only audit trail required by §4.4 and
// §6: one JSON-lines record per security-relevant event, written
// asynchronously so logging never blocks the caller, with secret-shaped
// fields redacted before they reach disk. Adapted from this repo's prior
// audit.Logger (buffered-channel async writer, slog-backed output,
// sampling/event-type filtering), narrowed to the spec's record shape.
package audit

import "time"

// EventType categorizes audit events.
type EventType string

const (
	EventAuthSuccess    EventType = "auth_success"
	EventAuthFailure    EventType = "auth_failure"
	EventAuthLockout    EventType = "auth_lockout"
	EventToolInvocation EventType = "tool_invocation"
	EventToolDenied     EventType = "tool_denied"
	EventTaskAssigned   EventType = "task_assigned"
	EventTaskCompleted  EventType = "task_completed"
	EventTaskFailed     EventType = "task_failed"
	EventAgentStartup   EventType = "agent_startup"
	EventAgentShutdown  EventType = "agent_shutdown"
	EventPermissionDeny EventType = "permission_denied"
	EventConfigChanged  EventType = "config_changed"
)

// Record is one audit trail entry, matching the §6 record shape exactly:
// {timestamp, type, source, details, ip?, agentId?}.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Details   map[string]any `json:"details,omitempty"`
	IP        string         `json:"ip,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
}

// OutputFormat specifies where audit records are written.
type OutputFormat string

const (
	FormatStdout OutputFormat = "stdout"
	FormatFile   OutputFormat = "file"
)

// Config configures a Logger.
type Config struct {
	Enabled bool
	// Output is "stdout", "stderr", or "file:/path/to/file.log", matching
	// the prior logger's Output convention.
	Output string
	// BufferSize is the size of the async write channel.
	BufferSize int
}

// DefaultConfig returns a disabled-by-default configuration.
func DefaultConfig() Config {
	return Config{Enabled: false, Output: "stdout", BufferSize: 1000}
}
