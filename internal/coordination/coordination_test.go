package coordination

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jarvis-labs/fabric/internal/bus"
	"github.com/jarvis-labs/fabric/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestAnnounceOnlineAndOffline(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var mu sync.Mutex
	var events []models.DiscoveryEvent
	_, err := b.Subscribe(DiscoverySubject, func(_ context.Context, _ string, data []byte, _ string) {
		var e models.DiscoveryEvent
		require.NoError(t, json.Unmarshal(data, &e))
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	require.NoError(t, err)

	a := NewAnnouncer(b, models.AgentIdentity{ID: "dev-1", Role: models.RoleDev})
	require.NoError(t, a.AnnounceOnline(context.Background()))
	require.NoError(t, a.AnnounceOffline(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	require.Equal(t, models.AgentIdle, events[0].Status)
	require.Equal(t, models.AgentOffline, events[1].Status)
	require.Equal(t, "dev-1", events[0].AgentID)
}

func TestHeartbeatPublisherPublishesOnTicker(t *testing.T) {
	b := bus.New()
	defer b.Close()

	received := make(chan models.HeartbeatPayload, 4)
	_, err := b.Subscribe(StatusSubject("dev-1"), func(_ context.Context, _ string, data []byte, _ string) {
		var hb models.HeartbeatPayload
		require.NoError(t, json.Unmarshal(data, &hb))
		received <- hb
	})
	require.NoError(t, err)

	pub := NewHeartbeatPublisher(b, "dev-1", 10*time.Millisecond, func() (models.AgentStatus, string) {
		return models.AgentBusy, "task-7"
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	pub.Run(ctx)

	select {
	case hb := <-received:
		require.Equal(t, "dev-1", hb.AgentID)
		require.Equal(t, models.AgentBusy, hb.Status)
		require.Equal(t, "task-7", hb.TaskID)
	default:
		t.Fatal("expected at least one heartbeat to be published")
	}
}

func TestReconcileAckSkipsBareToken(t *testing.T) {
	result := ReconcileAck("HEARTBEAT_OK", 0)
	require.True(t, result.ShouldSkip)
}

func TestReconcileAckKeepsSubstantiveReply(t *testing.T) {
	result := ReconcileAck("Deployed the hotfix and verified the dashboards are green.", 0)
	require.False(t, result.ShouldSkip)
	require.Contains(t, result.Text, "hotfix")
}

func TestDelegatorRoutesTaskToCoordinationRequest(t *testing.T) {
	b := bus.New()
	defer b.Close()

	received := make(chan models.CoordinationRequest, 1)
	_, err := b.Subscribe(CoordinationRequestSubject, func(_ context.Context, _ string, data []byte, _ string) {
		var req models.CoordinationRequest
		require.NoError(t, json.Unmarshal(data, &req))
		received <- req
	})
	require.NoError(t, err)

	d := NewDelegator(b, "orchestrator-1")
	subject, err := d.Send(context.Background(), models.DelegationMessage{
		To:      "dev-1",
		Type:    "task",
		Content: "Fix the flaky upload test",
	})
	require.NoError(t, err)
	require.Equal(t, CoordinationRequestSubject, subject)

	select {
	case req := <-received:
		require.Equal(t, "orchestrator-1", req.From)
		require.Equal(t, "dev-1", req.To)
		require.Equal(t, "Fix the flaky upload test", req.Description)
	case <-time.After(time.Second):
		t.Fatal("expected a coordination request to be published")
	}
}

func TestDelegatorRoutesQueryDirectToDM(t *testing.T) {
	b := bus.New()
	defer b.Close()

	received := make(chan []byte, 1)
	_, err := b.Subscribe(dmSubject("dev-1"), func(_ context.Context, _ string, data []byte, _ string) {
		received <- data
	})
	require.NoError(t, err)

	d := NewDelegator(b, "dev-2")
	subject, err := d.Send(context.Background(), models.DelegationMessage{
		To:      "dev-1",
		Type:    "query",
		Content: "what's the status of the build?",
	})
	require.NoError(t, err)
	require.Equal(t, dmSubject("dev-1"), subject)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected a direct message to be published")
	}
}

func TestFollowUpAwaitMatchesByTaskID(t *testing.T) {
	b := bus.New()
	defer b.Close()

	f := NewFollowUp(b)

	go func() {
		time.Sleep(10 * time.Millisecond)
		other, _ := json.Marshal(models.CoordinationResponse{TaskID: "other-task", Status: models.TaskCompleted})
		_ = b.Publish(context.Background(), CoordinationResponseSubject, other)

		mine, _ := json.Marshal(models.CoordinationResponse{TaskID: "task-9", Status: models.TaskCompleted, Result: "all green"})
		_ = b.Publish(context.Background(), CoordinationResponseSubject, mine)
	}()

	resp, err := f.Await(context.Background(), "task-9", time.Second)
	require.NoError(t, err)
	require.Equal(t, "task-9", resp.TaskID)
	require.Equal(t, "all green", resp.Result)
}

func TestFollowUpAwaitTimesOut(t *testing.T) {
	b := bus.New()
	defer b.Close()

	f := NewFollowUp(b)
	_, err := f.Await(context.Background(), "task-none", 20*time.Millisecond)
	require.Error(t, err)
}

func TestOrchestratorDelegateAndConfirmRequiresTaskID(t *testing.T) {
	b := bus.New()
	defer b.Close()

	_, err := b.Subscribe(CoordinationRequestSubject, func(_ context.Context, _ string, _ []byte, _ string) {})
	require.NoError(t, err)

	o := NewOrchestratorDelegator(NewDelegator(b, "orchestrator-1"), NewFollowUp(b), 50*time.Millisecond)
	_, err = o.DelegateAndConfirm(context.Background(), models.DelegationMessage{
		To:      "dev-1",
		Type:    "delegation",
		Content: "ship the release",
	}, "")
	require.Error(t, err)
}

func TestOrchestratorDelegateAndConfirmSkipsForDirectMessages(t *testing.T) {
	b := bus.New()
	defer b.Close()

	_, err := b.Subscribe(dmSubject("dev-1"), func(_ context.Context, _ string, _ []byte, _ string) {})
	require.NoError(t, err)

	o := NewOrchestratorDelegator(NewDelegator(b, "orchestrator-1"), NewFollowUp(b), 50*time.Millisecond)
	resp, err := o.DelegateAndConfirm(context.Background(), models.DelegationMessage{
		To:      "dev-1",
		Type:    "notification",
		Content: "heads up, deploying now",
	}, "")
	require.NoError(t, err)
	require.Nil(t, resp)
}
