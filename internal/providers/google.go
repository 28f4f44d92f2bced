package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jarvis-labs/fabric/internal/errortaxonomy"
	"github.com/jarvis-labs/fabric/pkg/models"
	"google.golang.org/genai"
)

// GoogleProvider adapts Google's Gemini API to the uniform Provider
// contract. Adapted from internal/agent/providers.GoogleProvider: same SDK
// client construction and Go-iterator stream consumption, narrowed to this
// package's ChatRequest/ChatChunk shapes and stripped of the teacher's
// retry/CountTokens/attachment machinery, which belong to ChatWithFailover
// and the journal/attachments packages respectively in this fabric.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
}

// NewGoogleProvider builds a GoogleProvider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{client: client, defaultModel: cfg.DefaultModel}, nil
}

func (p *GoogleProvider) ID() string   { return "google" }
func (p *GoogleProvider) Name() string { return "Google" }

func (p *GoogleProvider) ListModels() []models.ModelInfo {
	return []models.ModelInfo{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextWindow: 1000000, SupportsTools: true},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextWindow: 1000000, SupportsTools: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextWindow: 2000000, SupportsTools: true},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextWindow: 1000000, SupportsTools: true},
	}
}

// IsAvailable reports whether the provider can accept requests; always true
// once constructed with a validated key, same rationale as AnthropicProvider.
func (p *GoogleProvider) IsAvailable(ctx context.Context) bool {
	return true
}

func (p *GoogleProvider) model(req models.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func (p *GoogleProvider) buildConfig(req models.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = convertToolsToGemini(req.Tools)
	}
	return cfg
}

// Chat performs a single non-streaming completion by draining ChatStream,
// since the Gemini SDK's non-streaming call shares no code path worth
// duplicating here; this mirrors how ChatWithFailover only ever needs one
// shape to reason about per provider.
func (p *GoogleProvider) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	chunks, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var textBuilder strings.Builder
	var content []models.ContentBlock
	toolArgs := map[int]*strings.Builder{}
	toolMeta := map[int]models.ChatChunk{}
	var toolOrder []int
	resp := &models.ChatResponse{Model: p.model(req)}

	for chunk := range chunks {
		switch chunk.Type {
		case models.ChunkTextDelta:
			textBuilder.WriteString(chunk.TextDelta)
		case models.ChunkToolUseStart:
			toolArgs[chunk.Index] = &strings.Builder{}
			toolMeta[chunk.Index] = chunk
			toolOrder = append(toolOrder, chunk.Index)
		case models.ChunkToolUseDelta:
			if b, ok := toolArgs[chunk.Index]; ok {
				b.WriteString(chunk.ToolUseArgsJSON)
			}
		case models.ChunkMessageEnd:
			resp.StopReason = chunk.StopReason
			resp.Usage = chunk.Usage
		case models.ChunkError:
			return nil, chunk.Err
		}
	}

	if textBuilder.Len() > 0 {
		content = append(content, models.TextBlock(textBuilder.String()))
	}
	for _, idx := range toolOrder {
		meta := toolMeta[idx]
		content = append(content, models.ToolUseBlock(meta.ToolUseID, meta.ToolUseName, json.RawMessage(toolArgs[idx].String())))
	}
	if resp.StopReason == "" {
		resp.StopReason = models.StopEndTurn
	}
	resp.Content = content
	return resp, nil
}

// ChatStream decodes Gemini's Go-iterator streaming response into the
// canonical ChatChunk sequence. Gemini does not assign ids to function
// calls, so this provider synthesizes one per call the way the teacher's
// generateToolCallID did, and assigns a stream index in arrival order since
// Gemini never reports one of its own to re-key by.
func (p *GoogleProvider) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, error) {
	contents, err := convertMessagesToGemini(req.Messages)
	if err != nil {
		return nil, p.wrapError(err)
	}
	cfg := p.buildConfig(req)
	model := p.model(req)

	out := make(chan models.ChatChunk, 16)
	go func() {
		defer close(out)

		streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, cfg)
		toolIndex := -1
		sawToolUse := false

		for resp, err := range streamIter {
			select {
			case <-ctx.Done():
				out <- models.ChatChunk{Type: models.ChunkError, Err: p.wrapError(ctx.Err())}
				return
			default:
			}
			if err != nil {
				out <- models.ChatChunk{Type: models.ChunkError, Err: p.wrapError(err)}
				return
			}
			if resp == nil {
				continue
			}

			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						out <- models.ChatChunk{Type: models.ChunkTextDelta, TextDelta: part.Text}
					}
					if part.FunctionCall != nil {
						toolIndex++
						sawToolUse = true
						argsJSON, jerr := json.Marshal(part.FunctionCall.Args)
						if jerr != nil {
							argsJSON = []byte("{}")
						}
						id := part.FunctionCall.Name + "-" + fmt.Sprint(toolIndex)
						out <- models.ChatChunk{Type: models.ChunkToolUseStart, Index: toolIndex, ToolUseID: id, ToolUseName: part.FunctionCall.Name}
						out <- models.ChatChunk{Type: models.ChunkToolUseDelta, Index: toolIndex, ToolUseArgsJSON: string(argsJSON)}
						out <- models.ChatChunk{Type: models.ChunkToolUseEnd, Index: toolIndex}
					}
				}
			}
		}

		stopReason := models.StopEndTurn
		if sawToolUse {
			stopReason = models.StopToolUse
		}
		out <- models.ChatChunk{Type: models.ChunkMessageEnd, StopReason: stopReason}
	}()

	return out, nil
}

func (p *GoogleProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	return errortaxonomy.New(errortaxonomy.Classify(err), "google: "+err.Error(), err)
}

func convertMessagesToGemini(messages []models.ChatMessage) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range messages {
		if m.Role == models.MsgRoleSystem {
			continue // system handled via SystemInstruction
		}
		content := &genai.Content{}
		if m.Role == models.MsgRoleAssistant {
			content.Role = genai.RoleModel
		} else {
			content.Role = genai.RoleUser
		}

		for _, c := range m.Content {
			switch c.Type {
			case models.BlockText:
				content.Parts = append(content.Parts, &genai.Part{Text: c.Text})
			case models.BlockToolUse:
				var args map[string]any
				_ = json.Unmarshal(c.ToolUseInput, &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: c.ToolUseName, Args: args},
				})
			case models.BlockToolResult:
				var response map[string]any
				if err := json.Unmarshal([]byte(c.ToolResultContent), &response); err != nil {
					response = map[string]any{"result": c.ToolResultContent, "error": c.ToolResultIsError}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{Name: toolNameForID(messages, c.ToolResultToolUseID), Response: response},
				})
			}
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out, nil
}

// toolNameForID recovers the tool name for a tool_result block by scanning
// earlier messages for the matching tool_use id, since Gemini's function
// response part is keyed by name rather than by call id.
func toolNameForID(messages []models.ChatMessage, toolUseID string) string {
	for _, m := range messages {
		for _, c := range m.Content {
			if c.Type == models.BlockToolUse && c.ToolUseID == toolUseID {
				return c.ToolUseName
			}
		}
	}
	return ""
}

func convertToolsToGemini(tools []models.ToolDef) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchemaToGemini(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertSchemaToGemini(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	var out genai.Schema
	if err := json.Unmarshal(raw, &out); err != nil {
		return &genai.Schema{Type: genai.TypeObject}
	}
	return &out
}
