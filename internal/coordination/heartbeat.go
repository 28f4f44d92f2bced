package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jarvis-labs/fabric/internal/agents/heartbeat"
	"github.com/jarvis-labs/fabric/internal/bus"
	"github.com/jarvis-labs/fabric/pkg/models"
)

// HeartbeatFunc reports the agent's current status and, if it has one, the
// task it's actively working. Returning ("", "") reports idle.
type HeartbeatFunc func() (status models.AgentStatus, taskID string)

// HeartbeatPublisher periodically publishes HeartbeatPayload on the
// agent's status subject, reporting whatever its HeartbeatFunc returns. It
// sends no prompt to the model; ReconcileAck below is the separate helper
// for classifying a model's reply to a heartbeat prompt.
type HeartbeatPublisher struct {
	bus      bus.Interface
	agentID  string
	interval time.Duration
	report   HeartbeatFunc
	log      *slog.Logger
}

// NewHeartbeatPublisher builds a publisher for agentID. interval defaults
// to heartbeat.DefaultInterval when zero.
func NewHeartbeatPublisher(b bus.Interface, agentID string, interval time.Duration, report HeartbeatFunc, log *slog.Logger) *HeartbeatPublisher {
	if interval <= 0 {
		interval = heartbeat.DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &HeartbeatPublisher{
		bus:      b,
		agentID:  agentID,
		interval: interval,
		report:   report,
		log:      log.With("component", "coordination-heartbeat", "agentId", agentID),
	}
}

// Run blocks, publishing a heartbeat every interval until ctx is canceled.
func (p *HeartbeatPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishOnce(ctx); err != nil {
				p.log.Warn("heartbeat publish failed", "error", err)
			}
		}
	}
}

func (p *HeartbeatPublisher) publishOnce(ctx context.Context) error {
	status, taskID := p.report()
	if status == "" {
		status = models.AgentIdle
	}
	payload := models.HeartbeatPayload{
		AgentID:   p.agentID,
		Status:    status,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("coordination: marshal heartbeat payload: %w", err)
	}
	return p.bus.Publish(ctx, StatusSubject(p.agentID), data)
}

// ReconcileAck applies heartbeat.StripToken to a model's heartbeat-prompt
// reply: a bare HEARTBEAT_OK (or one wrapped in markup/whitespace) yields
// ShouldSkip so the caller doesn't journal a no-op acknowledgment message,
// while any response with substance beyond the token is returned for
// normal handling.
func ReconcileAck(raw string, maxAckChars int) heartbeat.StripResult {
	return heartbeat.StripToken(raw, maxAckChars)
}
