package models

import "time"

// DiscoveryEvent is published by an agent on jarvis.agents.discovery at
// startup (status "online") and shutdown (status "offline").
type DiscoveryEvent struct {
	Type    string      `json:"type"` // "discovery"
	AgentID string      `json:"agentId"`
	Role    AgentRole   `json:"role"`
	Host    string      `json:"host"`
	IP      string      `json:"ip"`
	Status  AgentStatus `json:"status"`
}

// HeartbeatPayload is published by an agent to its status subject every
// heartbeat interval.
type HeartbeatPayload struct {
	AgentID   string      `json:"agentId"`
	Status    AgentStatus `json:"status"`
	TaskID    string      `json:"taskId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// DelegationMessage is the inter-agent messaging tool's input contract.
type DelegationMessage struct {
	To       string `json:"to"`
	Type     string `json:"type"` // task|delegation|query|notification|result
	Content  string `json:"content"`
	Priority TaskPriority `json:"priority,omitempty"`
}

// CoordinationRequest is published on jarvis.coordination.request for
// type in {task, delegation}.
type CoordinationRequest struct {
	From        string       `json:"from"`
	To          string       `json:"to,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    TaskPriority `json:"priority,omitempty"`
	TaskID      string       `json:"taskId,omitempty"`
}

// CoordinationResponse is published on jarvis.coordination.response,
// consumed by check_delegated_task follow-ups.
type CoordinationResponse struct {
	TaskID  string     `json:"taskId"`
	From    string     `json:"from"`
	Status  TaskStatus `json:"status"`
	Result  string     `json:"result,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// TaskUpdatedEvent is broadcast to dashboard clients whenever a task's
// status changes.
type TaskUpdatedEvent struct {
	Task Task `json:"task"`
}

// AgentUpdatedEvent is broadcast whenever agent state changes materially.
type AgentUpdatedEvent struct {
	Agent AgentState `json:"agent"`
}

// ChatStreamEvent carries a streaming text delta to dashboard clients.
type ChatStreamEvent struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
	Delta     string `json:"delta"`
	Done      bool   `json:"done"`
}
