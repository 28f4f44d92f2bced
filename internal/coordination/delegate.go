package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jarvis-labs/fabric/internal/bus"
	"github.com/jarvis-labs/fabric/pkg/models"
)

// CoordinationRequestSubject is where task/delegation messages are
// published for the hub's scheduler to pick up.
const CoordinationRequestSubject = "jarvis.coordination.request"

// CoordinationResponseSubject is where CoordinationResponse is published
// back to the delegating agent once the delegated task resolves.
const CoordinationResponseSubject = "jarvis.coordination.response"

// dmSubject is the direct-message subject for one agent.
func dmSubject(agentID string) string {
	return bus.Subject("jarvis", "agent", agentID, "dm")
}

// Delegator routes an agent's outgoing DelegationMessage to the right bus
// subject: task and delegation messages become a CoordinationRequest on
// CoordinationRequestSubject for the hub's scheduler to place, while
// query, notification, and result messages go straight to the target
// agent's own DM subject, since those don't need scheduling.
type Delegator struct {
	bus  bus.Interface
	from string
}

// NewDelegator builds a Delegator that sends as fromAgentID.
func NewDelegator(b bus.Interface, fromAgentID string) *Delegator {
	return &Delegator{bus: b, from: fromAgentID}
}

// Send routes msg according to its Type and returns the subject it was
// published to.
func (d *Delegator) Send(ctx context.Context, msg models.DelegationMessage) (string, error) {
	switch msg.Type {
	case "task", "delegation":
		return d.sendCoordinationRequest(ctx, msg)
	case "query", "notification", "result":
		return d.sendDirect(ctx, msg)
	default:
		return "", fmt.Errorf("coordination: unknown delegation message type %q", msg.Type)
	}
}

func (d *Delegator) sendCoordinationRequest(ctx context.Context, msg models.DelegationMessage) (string, error) {
	req := models.CoordinationRequest{
		From:        d.from,
		To:          msg.To,
		Title:       summarizeContent(msg.Content),
		Description: msg.Content,
		Priority:    msg.Priority,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("coordination: marshal coordination request: %w", err)
	}
	if err := d.bus.Publish(ctx, CoordinationRequestSubject, data); err != nil {
		return "", err
	}
	return CoordinationRequestSubject, nil
}

func (d *Delegator) sendDirect(ctx context.Context, msg models.DelegationMessage) (string, error) {
	if msg.To == "" {
		return "", fmt.Errorf("coordination: direct message requires a To agent id")
	}
	envelope := struct {
		From    string `json:"from"`
		Type    string `json:"type"`
		Content string `json:"content"`
	}{From: d.from, Type: msg.Type, Content: msg.Content}
	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("coordination: marshal direct message: %w", err)
	}
	subject := dmSubject(msg.To)
	if err := d.bus.Publish(ctx, subject, data); err != nil {
		return "", err
	}
	return subject, nil
}

// summarizeContent derives a short title from a delegation's content for
// the resulting task, truncating long descriptions rather than failing.
func summarizeContent(content string) string {
	const maxTitle = 80
	for i, r := range content {
		if r == '\n' || i >= maxTitle {
			return content[:i]
		}
	}
	return content
}

// FollowUp awaits the CoordinationResponse for a delegated task. Every
// delegation issued by the orchestrator role requires this follow-up
// (check_delegated_task): the orchestrator must confirm a delegated task's
// outcome rather than firing a request and forgetting it. The subscription
// is not scoped per agent: Await listens on the shared
// CoordinationResponseSubject and filters on TaskID to pick its specific
// reply out of that stream.
type FollowUp struct {
	bus bus.Interface
}

// NewFollowUp builds a FollowUp helper bound to b.
func NewFollowUp(b bus.Interface) *FollowUp {
	return &FollowUp{bus: b}
}

// Await blocks until a CoordinationResponse for taskID arrives on
// CoordinationResponseSubject, ctx is canceled, or timeout elapses.
func (f *FollowUp) Await(ctx context.Context, taskID string, timeout time.Duration) (models.CoordinationResponse, error) {
	result := make(chan models.CoordinationResponse, 1)

	sub, err := f.bus.Subscribe(CoordinationResponseSubject, func(ctx context.Context, subject string, data []byte, reply string) {
		var resp models.CoordinationResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		if resp.TaskID != taskID {
			return
		}
		select {
		case result <- resp:
		default:
		}
	})
	if err != nil {
		return models.CoordinationResponse{}, fmt.Errorf("coordination: subscribe for follow-up: %w", err)
	}
	defer sub.Unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-result:
		return resp, nil
	case <-timer.C:
		return models.CoordinationResponse{}, fmt.Errorf("coordination: timed out awaiting response for task %s", taskID)
	case <-ctx.Done():
		return models.CoordinationResponse{}, ctx.Err()
	}
}
