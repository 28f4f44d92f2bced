package plugin

// Hook names fired by the agent loop and coordination layer. Plugins
// register against these with API.On; unknown names are accepted silently
// since new hook points may fire with no plugin yet listening.
const (
	HookSessionStart   = "session.start"
	HookSessionEnd     = "session.end"
	HookBeforeModelCall = "model.before"
	HookAfterModelCall  = "model.after"
	HookBeforeToolCall  = "tool.before"
	HookAfterToolCall   = "tool.after"
	HookTaskAssigned    = "task.assigned"
	HookTaskCompleted   = "task.completed"
	HookTaskFailed      = "task.failed"
)
