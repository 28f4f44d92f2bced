package agentloop

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jarvis-labs/fabric/pkg/models"
)

// pendingToolUse accumulates one tool call's streamed fields, keyed by
// Index so deltas arriving out of order within a frame still concatenate
// correctly.
type pendingToolUse struct {
	index    int
	id       string
	name     string
	argsJSON string
}

// collectStream drains chunks into one assistant ChatMessage, combining
// text deltas into a single text block and tool-use deltas into
// tool_use blocks ordered by Index. It returns the final stop reason and
// usage reported on the message_end chunk.
func collectStream(chunks <-chan models.ChatChunk) (models.ChatMessage, models.StopReason, models.Usage, error) {
	var text string
	pending := make(map[int]*pendingToolUse)
	var stopReason models.StopReason
	var usage models.Usage

	for chunk := range chunks {
		switch chunk.Type {
		case models.ChunkTextDelta:
			text += chunk.TextDelta
		case models.ChunkToolUseStart:
			pending[chunk.Index] = &pendingToolUse{index: chunk.Index, id: chunk.ToolUseID, name: chunk.ToolUseName}
		case models.ChunkToolUseDelta:
			p, ok := pending[chunk.Index]
			if !ok {
				p = &pendingToolUse{index: chunk.Index}
				pending[chunk.Index] = p
			}
			p.argsJSON += chunk.ToolUseArgsJSON
		case models.ChunkToolUseEnd:
			if p, ok := pending[chunk.Index]; ok {
				if chunk.ToolUseArgsJSON != "" {
					p.argsJSON = chunk.ToolUseArgsJSON
				}
				if chunk.ToolUseID != "" {
					p.id = chunk.ToolUseID
				}
				if chunk.ToolUseName != "" {
					p.name = chunk.ToolUseName
				}
			}
		case models.ChunkMessageEnd:
			stopReason = chunk.StopReason
			usage = chunk.Usage
		case models.ChunkError:
			return models.ChatMessage{}, "", models.Usage{}, chunk.Err
		}
	}

	content := make([]models.ContentBlock, 0, 1+len(pending))
	if text != "" {
		content = append(content, models.TextBlock(text))
	}

	indices := make([]int, 0, len(pending))
	for idx := range pending {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		p := pending[idx]
		raw := json.RawMessage(p.argsJSON)
		if len(raw) == 0 || !json.Valid(raw) {
			raw = json.RawMessage("{}")
		}
		if p.id == "" {
			return models.ChatMessage{}, "", models.Usage{}, fmt.Errorf("agentloop: tool_use at index %d has no id", idx)
		}
		content = append(content, models.ToolUseBlock(p.id, p.name, raw))
	}

	return models.ChatMessage{Role: models.MsgRoleAssistant, Content: content}, stopReason, usage, nil
}
