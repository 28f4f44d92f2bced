package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/jarvis-labs/fabric/internal/errortaxonomy"
	"github.com/jarvis-labs/fabric/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts OpenAI's chat-completions API to the uniform
// Provider contract. Adapted from internal/agent/providers.OpenAIProvider:
// same client construction and tool-call-delta-by-index stream accumulation,
// narrowed to this package's ChatRequest/ChatChunk shapes and with the
// teacher's bespoke retry loop removed (ChatWithFailover owns cross-model
// retry in this package, so a single provider call is fire-once).
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewOpenAIProviderWithConfig builds an OpenAIProvider.
func NewOpenAIProviderWithConfig(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) ID() string   { return "openai" }
func (p *OpenAIProvider) Name() string { return "OpenAI" }

func (p *OpenAIProvider) ListModels() []models.ModelInfo {
	return []models.ModelInfo{
		{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, SupportsTools: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextWindow: 128000, SupportsTools: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextWindow: 16385, SupportsTools: true},
		{ID: "o1", Name: "o1", ContextWindow: 200000, SupportsTools: true},
		{ID: "o3", Name: "o3", ContextWindow: 200000, SupportsTools: true},
		{ID: "o4-mini", Name: "o4-mini", ContextWindow: 200000, SupportsTools: true},
	}
}

// IsAvailable reports whether the provider can accept requests; always true
// once constructed with a validated key, same rationale as AnthropicProvider.
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return true
}

func (p *OpenAIProvider) model(req models.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *OpenAIProvider) buildRequest(req models.ChatRequest, stream bool) openai.ChatCompletionRequest {
	messages := convertMessagesToOpenAI(req.Messages, req.System)
	out := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: messages,
		Stream:   stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}
	if len(req.Tools) > 0 {
		out.Tools = convertToolsToOpenAI(req.Tools)
	}
	return out
}

// Chat performs a single non-streaming completion.
func (p *OpenAIProvider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, p.wrapError(errors.New("openai: empty choices in response"))
	}
	choice := resp.Choices[0]

	var content []models.ContentBlock
	if choice.Message.Content != "" {
		content = append(content, models.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		content = append(content, models.ToolUseBlock(tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments)))
	}

	return &models.ChatResponse{
		Model:      resp.Model,
		Content:    content,
		StopReason: convertOpenAIStopReason(string(choice.FinishReason)),
		Usage: models.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// ChatStream decodes OpenAI's SSE delta stream into the canonical ChatChunk
// sequence, re-keying tool-call argument deltas by the stream's own Index
// field so fragments concatenate correctly regardless of arrival order
// within a single chunk, matching the teacher's processStream accumulation.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := make(chan models.ChatChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		started := make(map[int]bool)

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					for idx := range started {
						out <- models.ChatChunk{Type: models.ChunkToolUseEnd, Index: idx}
					}
					out <- models.ChatChunk{Type: models.ChunkMessageEnd, StopReason: models.StopEndTurn}
					return
				}
				out <- models.ChatChunk{Type: models.ChunkError, Err: p.wrapError(err)}
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			delta := choice.Delta

			if delta.Content != "" {
				out <- models.ChatChunk{Type: models.ChunkTextDelta, TextDelta: delta.Content}
			}

			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				if !started[index] {
					started[index] = true
					out <- models.ChatChunk{Type: models.ChunkToolUseStart, Index: index, ToolUseID: tc.ID, ToolUseName: tc.Function.Name}
				}
				if tc.Function.Arguments != "" {
					out <- models.ChatChunk{Type: models.ChunkToolUseDelta, Index: index, ToolUseArgsJSON: tc.Function.Arguments}
				}
			}

			if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
				for idx := range started {
					out <- models.ChatChunk{Type: models.ChunkToolUseEnd, Index: idx}
				}
				out <- models.ChatChunk{
					Type:       models.ChunkMessageEnd,
					StopReason: convertOpenAIStopReason(string(choice.FinishReason)),
				}
				return
			}
		}
	}()

	return out, nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	return errortaxonomy.New(errortaxonomy.Classify(err), "openai: "+err.Error(), err)
}

func convertMessagesToOpenAI(messages []models.ChatMessage, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, m := range messages {
		switch m.Role {
		case models.MsgRoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			for _, c := range m.Content {
				switch c.Type {
				case models.BlockText:
					msg.Content += c.Text
				case models.BlockToolUse:
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   c.ToolUseID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      c.ToolUseName,
							Arguments: string(c.ToolUseInput),
						},
					})
				}
			}
			out = append(out, msg)

		default: // user messages, which may carry tool_result blocks
			var text string
			var toolResults []models.ContentBlock
			for _, c := range m.Content {
				switch c.Type {
				case models.BlockText:
					text += c.Text
				case models.BlockToolResult:
					toolResults = append(toolResults, c)
				}
			}
			if text != "" || len(toolResults) == 0 {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
			}
			// OpenAI expects one "tool" role message per tool result, keyed
			// by the originating tool_call id.
			for _, tr := range toolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.ToolResultContent,
					ToolCallID: tr.ToolResultToolUseID,
				})
			}
		}
	}
	return out
}

func convertToolsToOpenAI(tools []models.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func convertOpenAIStopReason(reason string) models.StopReason {
	switch reason {
	case "tool_calls":
		return models.StopToolUse
	case "length":
		return models.StopMaxTokens
	case "stop":
		return models.StopStopSequence
	default:
		return models.StopEndTurn
	}
}
