package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jarvis-labs/fabric/internal/errortaxonomy"
	"github.com/jarvis-labs/fabric/pkg/models"
)

// AnthropicProvider adapts Anthropic's Claude API to the uniform Provider
// contract. Adapted from internal/agent/providers.AnthropicProvider: same
// SDK client construction and streaming-event dispatch, narrowed to this
// package's ChatRequest/ChatChunk shapes instead of the teacher's
// CompletionRequest/CompletionChunk and with the teacher's retry/backoff
// loop removed (ChatWithFailover in this package now owns cross-model
// retry/failover, so a single provider call is fire-once).
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider builds an AnthropicProvider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) ID() string   { return "anthropic" }
func (p *AnthropicProvider) Name() string { return "Anthropic" }

func (p *AnthropicProvider) ListModels() []models.ModelInfo {
	return []models.ModelInfo{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000, SupportsTools: true},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, SupportsTools: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextWindow: 200000, SupportsTools: true},
	}
}

// IsAvailable reports whether the provider can accept requests. The client
// is only ever constructed with a validated API key, so this is always true;
// nothing in this package tracks provider health between calls.
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	return true
}

func (p *AnthropicProvider) model(req models.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *AnthropicProvider) buildParams(req models.ChatRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// Chat performs a single non-streaming completion.
func (p *AnthropicProvider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	content := convertAnthropicContent(msg.Content)
	return &models.ChatResponse{
		Model:      string(msg.Model),
		Content:    content,
		StopReason: convertAnthropicStopReason(string(msg.StopReason)),
		Usage: models.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// ChatStream performs a streaming completion, decoding Anthropic's SSE
// message-stream events into the canonical ChatChunk sequence, re-keying
// tool-call argument deltas by content-block index the way the teacher's
// processStream accumulates currentToolInput per tool call.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan models.ChatChunk, 16)

	go func() {
		defer close(out)

		var inputTokens, outputTokens int
		stopReason := models.StopEndTurn
		toolIndex := -1

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				ms := event.AsMessageStart()
				inputTokens = int(ms.Message.Usage.InputTokens)

			case "content_block_start":
				cbs := event.AsContentBlockStart()
				if cbs.ContentBlock.Type == "tool_use" {
					toolIndex++
					toolUse := cbs.ContentBlock.AsToolUse()
					out <- models.ChatChunk{Type: models.ChunkToolUseStart, Index: toolIndex, ToolUseID: toolUse.ID, ToolUseName: toolUse.Name}
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						out <- models.ChatChunk{Type: models.ChunkTextDelta, TextDelta: delta.Text}
					}
				case "input_json_delta":
					if delta.PartialJSON != "" {
						out <- models.ChatChunk{Type: models.ChunkToolUseDelta, Index: toolIndex, ToolUseArgsJSON: delta.PartialJSON}
					}
				}

			case "content_block_stop":
				if toolIndex >= 0 {
					out <- models.ChatChunk{Type: models.ChunkToolUseEnd, Index: toolIndex}
				}

			case "message_delta":
				md := event.AsMessageDelta()
				if md.Usage.OutputTokens > 0 {
					outputTokens = int(md.Usage.OutputTokens)
				}
				if md.Delta.StopReason != "" {
					stopReason = convertAnthropicStopReason(string(md.Delta.StopReason))
				}

			case "message_stop":
				out <- models.ChatChunk{
					Type:       models.ChunkMessageEnd,
					StopReason: stopReason,
					Usage: models.Usage{
						InputTokens:  inputTokens,
						OutputTokens: outputTokens,
						TotalTokens:  inputTokens + outputTokens,
					},
				}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- models.ChatChunk{Type: models.ChunkError, Err: p.wrapError(err)}
		}
	}()

	return out, nil
}

func (p *AnthropicProvider) wrapError(err error) error {
	return errortaxonomy.New(errortaxonomy.Classify(err), "anthropic: "+err.Error(), err)
}

func convertMessagesToAnthropic(messages []models.ChatMessage) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range m.Content {
			switch c.Type {
			case models.BlockText:
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			case models.BlockToolUse:
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolUseID, c.ToolUseInput, c.ToolUseName))
			case models.BlockToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(c.ToolResultToolUseID, c.ToolResultContent, c.ToolResultIsError))
			}
		}
		switch m.Role {
		case models.MsgRoleUser:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case models.MsgRoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out, nil
}

func convertToolsToAnthropic(tools []models.ToolDef) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.InputSchema}
		toolParam := anthropic.ToolParam{Name: t.Name, InputSchema: schema}
		toolParam.Description = anthropic.String(t.Description)
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out, nil
}

func convertAnthropicContent(blocks []anthropic.ContentBlockUnion) []models.ContentBlock {
	out := make([]models.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, models.TextBlock(b.Text))
		case "tool_use":
			out = append(out, models.ToolUseBlock(b.ID, b.Name, b.Input))
		}
	}
	return out
}

func convertAnthropicStopReason(reason string) models.StopReason {
	switch reason {
	case "tool_use":
		return models.StopToolUse
	case "max_tokens":
		return models.StopMaxTokens
	case "stop_sequence":
		return models.StopStopSequence
	default:
		return models.StopEndTurn
	}
}
