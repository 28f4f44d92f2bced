package models

import "time"

// TaskPriority orders task scheduling.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityNormal   TaskPriority = "normal"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// TaskStatus is a node in the task lifecycle DAG.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskQueued     TaskStatus = "queued"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// validTaskTransitions enumerates the DAG edges from §3 invariant 3.
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending:    {TaskQueued: true, TaskAssigned: true, TaskCancelled: true},
	TaskQueued:     {TaskAssigned: true, TaskCancelled: true},
	TaskAssigned:   {TaskInProgress: true, TaskCancelled: true, TaskQueued: true}, // reassignment-on-reclaim
	TaskInProgress: {TaskCompleted: true, TaskFailed: true, TaskCancelled: true, TaskQueued: true},
}

// CanTransition reports whether moving from s to next is legal under the DAG.
// The reclaim path (in-progress -> queued, assigned -> queued) is the one
// back-edge the heartbeat monitor is permitted to take; it is not a violation
// of "no back-transitions" in the task's own forward lifecycle since the task
// never reaches a terminal state and is retried from scratch.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	edges, ok := validTaskTransitions[s]
	if !ok {
		return false
	}
	return edges[next]
}

// IsTerminal reports whether status is one of the DAG's terminal states.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Artifact is a named output produced while executing a task.
type Artifact struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Task is a unit of work scheduled by the hub to a capable idle agent.
type Task struct {
	ID                   string       `json:"id"`
	Title                string       `json:"title"`
	Description          string       `json:"description,omitempty"`
	Priority             TaskPriority `json:"priority"`
	RequiredCapabilities []string     `json:"requiredCapabilities,omitempty"`
	AssignedAgentID      string       `json:"assignedAgentId,omitempty"`
	Status               TaskStatus   `json:"status"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
	Artifacts            []Artifact   `json:"artifacts,omitempty"`
}

// Transition moves the task to next if legal, stamping UpdatedAt.
func (t *Task) Transition(next TaskStatus, now time.Time) error {
	if !t.Status.CanTransition(next) {
		return &TransitionError{From: t.Status, To: next}
	}
	t.Status = next
	t.UpdatedAt = now
	return nil
}

// TransitionError reports an illegal task status transition.
type TransitionError struct {
	From, To TaskStatus
}

func (e *TransitionError) Error() string {
	return "invalid task transition: " + string(e.From) + " -> " + string(e.To)
}
