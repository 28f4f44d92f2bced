package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/jarvis-labs/fabric/pkg/models"
)

// DefaultFollowUpTimeout bounds how long an orchestrator waits for a
// delegated task's CoordinationResponse before giving up.
const DefaultFollowUpTimeout = 10 * time.Minute

// OrchestratorDelegator wraps Delegator and FollowUp to enforce this
// fabric's check_delegated_task rule: any task or delegation message sent
// by an orchestrator-role agent must be followed by awaiting its
// CoordinationResponse, so a delegated task can never be silently
// forgotten. Non-orchestrator roles use Delegator directly and have no
// such obligation.
type OrchestratorDelegator struct {
	delegator *Delegator
	followUp  *FollowUp
	timeout   time.Duration
}

// NewOrchestratorDelegator builds an OrchestratorDelegator. timeout
// defaults to DefaultFollowUpTimeout when zero.
func NewOrchestratorDelegator(d *Delegator, f *FollowUp, timeout time.Duration) *OrchestratorDelegator {
	if timeout <= 0 {
		timeout = DefaultFollowUpTimeout
	}
	return &OrchestratorDelegator{delegator: d, followUp: f, timeout: timeout}
}

// DelegateAndConfirm sends msg and, if it produced a CoordinationRequest
// (type task/delegation), blocks for the corresponding
// CoordinationResponse. taskID must be supplied by the caller once the
// hub has assigned the request an id (e.g. from the hub's task-created
// acknowledgment); query/notification/result messages return immediately
// since they carry no task to confirm.
func (o *OrchestratorDelegator) DelegateAndConfirm(ctx context.Context, msg models.DelegationMessage, taskID string) (*models.CoordinationResponse, error) {
	subject, err := o.delegator.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if subject != CoordinationRequestSubject {
		return nil, nil
	}
	if taskID == "" {
		return nil, fmt.Errorf("coordination: check_delegated_task requires a task id for delegated request %q", msg.Content)
	}
	resp, err := o.followUp.Await(ctx, taskID, o.timeout)
	if err != nil {
		return nil, fmt.Errorf("coordination: check_delegated_task: %w", err)
	}
	return &resp, nil
}
