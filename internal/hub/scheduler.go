package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jarvis-labs/fabric/internal/bus"
	"github.com/jarvis-labs/fabric/pkg/models"
)

// AgentStore is the subset of agent-state bookkeeping the scheduler needs.
type AgentStore interface {
	Get(id string) (*models.AgentState, bool)
	All() []*models.AgentState
	Put(state *models.AgentState)
}

// TaskStore is the subset of task bookkeeping the scheduler needs.
type TaskStore interface {
	Get(id string) (*models.Task, bool)
	All() []*models.Task
	Put(task *models.Task)
}

// MemoryAgentStore is an in-process AgentStore.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	states map[string]*models.AgentState
}

// NewMemoryAgentStore builds an empty MemoryAgentStore.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{states: make(map[string]*models.AgentState)}
}

func (s *MemoryAgentStore) Get(id string) (*models.AgentState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	return st, ok
}

func (s *MemoryAgentStore) All() []*models.AgentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AgentState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out
}

func (s *MemoryAgentStore) Put(state *models.AgentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Identity.ID] = state
}

// MemoryTaskStore is an in-process TaskStore.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

// NewMemoryTaskStore builds an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryTaskStore) Get(id string) (*models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *MemoryTaskStore) All() []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

func (s *MemoryTaskStore) Put(task *models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

// Scheduler implements §4.6's task-scheduling and heartbeat-monitor
// algorithms over a bus, an AgentStore, and a TaskStore.
type Scheduler struct {
	bus     *bus.Bus
	agents  AgentStore
	tasks   TaskStore
	clients *ClientRegistry

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewScheduler builds a Scheduler. heartbeatInterval governs the sweep
// cadence; heartbeatTimeout is how stale lastHeartbeat may get before an
// agent is marked offline, per §4.6.
func NewScheduler(b *bus.Bus, agents AgentStore, tasks TaskStore, clients *ClientRegistry, heartbeatInterval, heartbeatTimeout time.Duration) *Scheduler {
	return &Scheduler{
		bus: b, agents: agents, tasks: tasks, clients: clients,
		heartbeatInterval: heartbeatInterval, heartbeatTimeout: heartbeatTimeout,
	}
}

// CreateTask persists a new task as queued and attempts immediate
// assignment, per §4.6 steps 1-3.
func (s *Scheduler) CreateTask(ctx context.Context, task *models.Task, now time.Time) error {
	task.Status = models.TaskQueued
	task.CreatedAt, task.UpdatedAt = now, now
	s.tasks.Put(task)
	return s.tryAssign(ctx, task, now)
}

// TryAssignQueued attempts to assign every currently queued task, used
// after an agent becomes idle or a reclaim sweep requeues work.
func (s *Scheduler) TryAssignQueued(ctx context.Context, now time.Time) {
	for _, t := range s.tasks.All() {
		if t.Status == models.TaskQueued {
			_ = s.tryAssign(ctx, t, now)
		}
	}
}

// tryAssign selects an idle, capability-covering agent with minimal load,
// tie-broken by earliest last-assignment, and assigns task to it if found.
func (s *Scheduler) tryAssign(ctx context.Context, task *models.Task, now time.Time) error {
	candidate := s.selectAgent(task)
	if candidate == nil {
		return nil // stays queued
	}

	task.AssignedAgentID = candidate.Identity.ID
	if err := task.Transition(models.TaskAssigned, now); err != nil {
		return fmt.Errorf("hub: assign task %s: %w", task.ID, err)
	}
	s.tasks.Put(task)

	candidate.ActiveTaskID = task.ID
	candidate.ActiveTaskDesc = task.Description
	candidate.Status = models.AgentBusy
	candidate.LastAssignmentUnix = now.Unix()
	s.agents.Put(candidate)

	subject := bus.Subject("jarvis", "agent", candidate.Identity.ID, "task")
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("hub: marshal task assignment: %w", err)
	}
	if err := s.bus.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("hub: publish task assignment: %w", err)
	}
	if s.clients != nil {
		s.clients.Broadcast(nil, "task.updated", task)
	}
	return nil
}

// selectAgent picks the idle agent whose capabilities cover task's required
// set with the fewest active tasks (always 0 or 1 here, since idle agents
// have none), tie-broken by earliest LastAssignmentUnix.
func (s *Scheduler) selectAgent(task *models.Task) *models.AgentState {
	var candidates []*models.AgentState
	for _, st := range s.agents.All() {
		if st.Status != models.AgentIdle {
			continue
		}
		if !st.HasCapabilities(task.RequiredCapabilities) {
			continue
		}
		candidates = append(candidates, st)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAssignmentUnix < candidates[j].LastAssignmentUnix
	})
	return candidates[0]
}

// Heartbeat refreshes an agent's LastHeartbeat and, if the agent had been
// offline, flips it back to idle so it re-enters scheduling.
func (s *Scheduler) Heartbeat(agentID string, now time.Time) {
	st, ok := s.agents.Get(agentID)
	if !ok {
		return
	}
	st.LastHeartbeat = now.UnixNano()
	if st.Status == models.AgentOffline {
		st.Status = models.AgentIdle
	}
	s.agents.Put(st)
}

// SweepHeartbeats moves any agent whose heartbeat is stale to offline and
// reclaims its in-progress task back to queued, per §4.6.
func (s *Scheduler) SweepHeartbeats(ctx context.Context, now time.Time) {
	for _, st := range s.agents.All() {
		if st.Status == models.AgentOffline {
			continue
		}
		if st.HeartbeatAge(now) <= s.heartbeatTimeout {
			continue
		}
		st.Status = models.AgentOffline
		taskID := st.ActiveTaskID
		st.ActiveTaskID, st.ActiveTaskDesc = "", ""
		s.agents.Put(st)

		if taskID == "" {
			continue
		}
		task, ok := s.tasks.Get(taskID)
		if !ok {
			continue
		}
		if task.Status == models.TaskAssigned || task.Status == models.TaskInProgress {
			task.AssignedAgentID = ""
			if err := task.Transition(models.TaskQueued, now); err == nil {
				s.tasks.Put(task)
				if s.clients != nil {
					s.clients.Broadcast(nil, "task.updated", task)
				}
			}
		}
	}
	s.TryAssignQueued(ctx, now)
}

// RunHeartbeatMonitor blocks, sweeping every heartbeatInterval, until ctx is
// cancelled.
func (s *Scheduler) RunHeartbeatMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SweepHeartbeats(ctx, time.Now())
		case <-ctx.Done():
			return
		}
	}
}
