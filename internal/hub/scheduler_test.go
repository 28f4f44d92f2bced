package hub

import (
	"context"
	"testing"
	"time"

	"github.com/jarvis-labs/fabric/internal/bus"
	"github.com/jarvis-labs/fabric/pkg/models"
	"github.com/stretchr/testify/require"
)

func idleAgent(id string, caps ...string) *models.AgentState {
	return &models.AgentState{
		Identity:     models.AgentIdentity{ID: id, Role: models.RoleDev},
		Status:       models.AgentIdle,
		Capabilities: caps,
	}
}

func TestCreateTaskAssignsCapableIdleAgent(t *testing.T) {
	agents := NewMemoryAgentStore()
	tasks := NewMemoryTaskStore()
	agents.Put(idleAgent("agent-1", "go"))
	sched := NewScheduler(bus.New(), agents, tasks, nil, time.Second, time.Minute)

	task := &models.Task{ID: "task-1", RequiredCapabilities: []string{"go"}}
	require.NoError(t, sched.CreateTask(context.Background(), task, time.Now()))

	require.Equal(t, models.TaskAssigned, task.Status)
	require.Equal(t, "agent-1", task.AssignedAgentID)

	st, _ := agents.Get("agent-1")
	require.Equal(t, models.AgentBusy, st.Status)
	require.Equal(t, "task-1", st.ActiveTaskID)
}

func TestCreateTaskStaysQueuedWithNoCapableAgent(t *testing.T) {
	agents := NewMemoryAgentStore()
	tasks := NewMemoryTaskStore()
	agents.Put(idleAgent("agent-1", "python"))
	sched := NewScheduler(bus.New(), agents, tasks, nil, time.Second, time.Minute)

	task := &models.Task{ID: "task-1", RequiredCapabilities: []string{"go"}}
	require.NoError(t, sched.CreateTask(context.Background(), task, time.Now()))

	require.Equal(t, models.TaskQueued, task.Status)
	require.Empty(t, task.AssignedAgentID)
}

func TestSelectAgentTieBreaksByEarliestAssignment(t *testing.T) {
	agents := NewMemoryAgentStore()
	tasks := NewMemoryTaskStore()
	older := idleAgent("older", "go")
	older.LastAssignmentUnix = 10
	newer := idleAgent("newer", "go")
	newer.LastAssignmentUnix = 200
	agents.Put(newer)
	agents.Put(older)
	sched := NewScheduler(bus.New(), agents, tasks, nil, time.Second, time.Minute)

	task := &models.Task{ID: "task-1", RequiredCapabilities: []string{"go"}}
	require.NoError(t, sched.CreateTask(context.Background(), task, time.Now()))
	require.Equal(t, "older", task.AssignedAgentID)
}

func TestSweepHeartbeatsReclaimsStaleAgentTask(t *testing.T) {
	agents := NewMemoryAgentStore()
	tasks := NewMemoryTaskStore()
	now := time.Now()

	agent := idleAgent("agent-1", "go")
	agent.Status = models.AgentBusy
	agent.ActiveTaskID = "task-1"
	agent.LastHeartbeat = now.Add(-time.Hour).UnixNano()
	agents.Put(agent)

	task := &models.Task{ID: "task-1", Status: models.TaskAssigned, AssignedAgentID: "agent-1"}
	tasks.Put(task)

	sched := NewScheduler(bus.New(), agents, tasks, nil, time.Second, time.Minute)
	sched.SweepHeartbeats(context.Background(), now)

	st, _ := agents.Get("agent-1")
	require.Equal(t, models.AgentOffline, st.Status)
	require.Empty(t, st.ActiveTaskID)

	reclaimed, _ := tasks.Get("task-1")
	require.Equal(t, models.TaskQueued, reclaimed.Status)
	require.Empty(t, reclaimed.AssignedAgentID)
}

func TestSweepHeartbeatsReassignsReclaimedTask(t *testing.T) {
	agents := NewMemoryAgentStore()
	tasks := NewMemoryTaskStore()
	now := time.Now()

	stale := idleAgent("stale", "go")
	stale.Status = models.AgentBusy
	stale.ActiveTaskID = "task-1"
	stale.LastHeartbeat = now.Add(-time.Hour).UnixNano()
	agents.Put(stale)

	fresh := idleAgent("fresh", "go")
	fresh.LastHeartbeat = now.UnixNano()
	agents.Put(fresh)

	tasks.Put(&models.Task{ID: "task-1", Status: models.TaskAssigned, AssignedAgentID: "stale"})

	sched := NewScheduler(bus.New(), agents, tasks, nil, time.Second, time.Minute)
	sched.SweepHeartbeats(context.Background(), now)

	reassigned, _ := tasks.Get("task-1")
	require.Equal(t, models.TaskAssigned, reassigned.Status)
	require.Equal(t, "fresh", reassigned.AssignedAgentID)
}

func TestHeartbeatRevivesOfflineAgent(t *testing.T) {
	agents := NewMemoryAgentStore()
	tasks := NewMemoryTaskStore()
	agent := idleAgent("agent-1")
	agent.Status = models.AgentOffline
	agents.Put(agent)

	sched := NewScheduler(bus.New(), agents, tasks, nil, time.Second, time.Minute)
	sched.Heartbeat("agent-1", time.Now())

	st, _ := agents.Get("agent-1")
	require.Equal(t, models.AgentIdle, st.Status)
}
