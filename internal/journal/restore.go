package journal

import (
	"strings"

	"github.com/jarvis-labs/fabric/pkg/models"
)

// missingToolResult is substituted when a tool_use block has no matching
// tool_result entry in the log, so a restored conversation never presents a
// provider with a dangling tool call.
const missingToolResult = "(result not found)"

// Restore reads path and reconstructs the ordered ChatMessage list a
// provider would need to resume the conversation.
func Restore(path string) ([]models.ChatMessage, error) {
	entries, err := ReadEntries(path)
	if err != nil {
		return nil, err
	}
	return RestoreEntries(entries), nil
}

// RestoreEntries turns a raw entry log into the message list a provider
// consumes. Message entries become ChatMessages verbatim. Any assistant
// message whose content includes tool_use blocks gets a synthetic user
// message inserted immediately after it, carrying one tool_result block per
// tool_use id in the order the ids appeared, each rehydrated from the
// corresponding tool_result entry (wherever it occurs in the log) or, when no
// result was ever recorded, a placeholder error result.
func RestoreEntries(entries []models.SessionEntry) []models.ChatMessage {
	resultByID := make(map[string]*models.ToolResultPayload)
	for _, e := range entries {
		if e.Kind == models.EntryToolResult && e.ToolResult != nil {
			resultByID[e.ToolResult.ToolCallID] = e.ToolResult
		}
	}

	var messages []models.ChatMessage
	for _, e := range entries {
		if e.Kind != models.EntryMessage || e.Message == nil {
			continue
		}
		messages = append(messages, models.ChatMessage{
			Role:    e.Message.Role,
			Content: e.Message.Content,
		})

		if e.Message.Role != models.MsgRoleAssistant {
			continue
		}
		var toolUseIDs []string
		for _, b := range e.Message.Content {
			if b.Type == models.BlockToolUse {
				toolUseIDs = append(toolUseIDs, b.ToolUseID)
			}
		}
		if len(toolUseIDs) == 0 {
			continue
		}

		resultBlocks := make([]models.ContentBlock, 0, len(toolUseIDs))
		for _, id := range toolUseIDs {
			if r, ok := resultByID[id]; ok {
				resultBlocks = append(resultBlocks, models.ToolResultBlock(id, resultText(r), r.IsError))
			} else {
				resultBlocks = append(resultBlocks, models.ToolResultBlock(id, missingToolResult, true))
			}
		}
		messages = append(messages, models.ChatMessage{
			Role:    models.MsgRoleUser,
			Content: resultBlocks,
		})
	}
	return messages
}

func resultText(r *models.ToolResultPayload) string {
	if r.Output != "" {
		return r.Output
	}
	var texts []string
	for _, b := range r.Blocks {
		if b.Type == models.BlockText && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, "\n")
}
