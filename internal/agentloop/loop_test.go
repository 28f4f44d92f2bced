package agentloop

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jarvis-labs/fabric/internal/toolsafety"
	"github.com/jarvis-labs/fabric/pkg/models"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	responses [][]models.ChatChunk
	calls     int
}

func (p *scriptedProvider) ID() string   { return "scripted" }
func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) ListModels() []models.ModelInfo {
	return []models.ModelInfo{{ID: "scripted-model"}}
}
func (p *scriptedProvider) IsAvailable(ctx context.Context) bool { return true }
func (p *scriptedProvider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	return nil, nil
}
func (p *scriptedProvider) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, error) {
	idx := p.calls
	p.calls++
	ch := make(chan models.ChatChunk, len(p.responses[idx]))
	for _, c := range p.responses[idx] {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func TestRunCompletesWithoutToolUse(t *testing.T) {
	provider := &scriptedProvider{responses: [][]models.ChatChunk{
		{
			{Type: models.ChunkTextDelta, TextDelta: "all done"},
			{Type: models.ChunkMessageEnd, StopReason: models.StopEndTurn},
		},
	}}
	tools := toolsafety.NewRegistry()
	l := New(provider, tools, nil, nil, nil)

	out := l.Run(context.Background(), Config{Model: "scripted-model"}, "you are a test agent", nil)
	require.Equal(t, "completed", out.Status)
	require.Equal(t, 1, out.Iterations)
	require.Len(t, out.Messages, 1)
	require.Equal(t, models.MsgRoleAssistant, out.Messages[0].Role)
}

func TestRunExecutesToolThenCompletes(t *testing.T) {
	provider := &scriptedProvider{responses: [][]models.ChatChunk{
		{
			{Type: models.ChunkToolUseStart, Index: 0, ToolUseID: "call-1", ToolUseName: "get_weather"},
			{Type: models.ChunkToolUseDelta, Index: 0, ToolUseArgsJSON: `{"city":"nyc"}`},
			{Type: models.ChunkToolUseEnd, Index: 0},
			{Type: models.ChunkMessageEnd, StopReason: models.StopToolUse},
		},
		{
			{Type: models.ChunkTextDelta, TextDelta: "it's sunny"},
			{Type: models.ChunkMessageEnd, StopReason: models.StopEndTurn},
		},
	}}

	tools := toolsafety.NewRegistry()
	tools.Register(toolsafety.Descriptor{
		Name: "get_weather",
		Execute: func(ctx context.Context, input json.RawMessage) (toolsafety.Result, error) {
			return toolsafety.Result{Content: "sunny, 72F"}, nil
		},
	})

	l := New(provider, tools, nil, nil, nil)
	out := l.Run(context.Background(), Config{Model: "scripted-model"}, "you are a test agent", nil)

	require.Equal(t, "completed", out.Status)
	require.Equal(t, 1, out.ToolCalls)
	require.Equal(t, 2, out.Iterations)
	require.Len(t, out.Messages, 3)
	require.Equal(t, models.BlockToolResult, out.Messages[1].Content[0].Type)
	require.Equal(t, "sunny, 72F", out.Messages[1].Content[0].ToolResultContent)
}

func TestRunFailsOnExpiredWallTimeBudget(t *testing.T) {
	provider := &scriptedProvider{responses: [][]models.ChatChunk{
		{
			{Type: models.ChunkTextDelta, TextDelta: "hi"},
			{Type: models.ChunkMessageEnd, StopReason: models.StopEndTurn},
		},
	}}
	tools := toolsafety.NewRegistry()
	l := New(provider, tools, nil, nil, nil)

	out := l.Run(context.Background(), Config{Model: "scripted-model", MaxWallTime: -time.Second}, "prompt", nil)
	require.Equal(t, "failed", out.Status)
	require.Equal(t, "budget_exceeded", out.FailReason)
}

func TestRunFailsWhenIterationBudgetExhausted(t *testing.T) {
	provider := &scriptedProvider{responses: [][]models.ChatChunk{
		{
			{Type: models.ChunkToolUseStart, Index: 0, ToolUseID: "call-1", ToolUseName: "noop"},
			{Type: models.ChunkToolUseEnd, Index: 0},
			{Type: models.ChunkMessageEnd, StopReason: models.StopToolUse},
		},
	}}
	tools := toolsafety.NewRegistry()
	tools.Register(toolsafety.Descriptor{Name: "noop", Execute: func(ctx context.Context, input json.RawMessage) (toolsafety.Result, error) {
		return toolsafety.Result{}, nil
	}})

	l := New(provider, tools, nil, nil, nil)
	out := l.Run(context.Background(), Config{Model: "scripted-model", MaxIterations: 1}, "prompt", nil)
	require.Equal(t, "failed", out.Status)
	require.Equal(t, "budget_exceeded", out.FailReason)
}
