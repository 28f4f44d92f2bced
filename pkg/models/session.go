package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageRole identifies the author of a message-kind SessionEntry.
type MessageRole string

const (
	MsgRoleSystem    MessageRole = "system"
	MsgRoleUser      MessageRole = "user"
	MsgRoleAssistant MessageRole = "assistant"
)

// ContentBlockType is the tag of a ContentBlock sum type.
type ContentBlockType string

const (
	BlockText       ContentBlockType = "text"
	BlockImage      ContentBlockType = "image"
	BlockToolUse    ContentBlockType = "tool_use"
	BlockToolResult ContentBlockType = "tool_result"
)

// ImageMediaType enumerates the accepted image content types.
type ImageMediaType string

const (
	ImageJPEG ImageMediaType = "image/jpeg"
	ImagePNG  ImageMediaType = "image/png"
	ImageGIF  ImageMediaType = "image/gif"
	ImageWebP ImageMediaType = "image/webp"
)

// ContentBlock is a tagged element of an LLM message. Exactly one of the
// type-specific fields is populated, selected by Type. Unknown tags MUST be
// rejected at decode boundaries by ValidateContentBlock.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	ImageData      string         `json:"data,omitempty"`
	ImageMediaType ImageMediaType `json:"mediaType,omitempty"`

	// tool_use
	ToolUseID    string          `json:"id,omitempty"`
	ToolUseName  string          `json:"name,omitempty"`
	ToolUseInput json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolResultToolUseID string `json:"toolUseId,omitempty"`
	ToolResultContent   string `json:"content,omitempty"`
	ToolResultIsError   bool   `json:"isError,omitempty"`
}

// ValidateContentBlock rejects unrecognized tags at the decode boundary.
func ValidateContentBlock(b ContentBlock) error {
	switch b.Type {
	case BlockText, BlockImage, BlockToolUse, BlockToolResult:
		return nil
	default:
		return fmt.Errorf("unknown content block type %q", b.Type)
	}
}

// TextBlock builds a text ContentBlock.
func TextBlock(text string) ContentBlock { return ContentBlock{Type: BlockText, Text: text} }

// ToolUseBlock builds a tool_use ContentBlock.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolUseName: name, ToolUseInput: input}
}

// ToolResultBlock builds a tool_result ContentBlock.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResultToolUseID: toolUseID, ToolResultContent: content, ToolResultIsError: isError}
}

// EntryKind is the tag of a SessionEntry sum type.
type EntryKind string

const (
	EntryMeta       EntryKind = "meta"
	EntryMessage    EntryKind = "message"
	EntryToolCall   EntryKind = "tool_call"
	EntryToolResult EntryKind = "tool_result"
	EntryUsage      EntryKind = "usage"
)

// UsagePayload carries token-usage counters for an EntryUsage entry.
type UsagePayload struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	CacheTokens  int `json:"cacheTokens,omitempty"`
	TotalTokens  int `json:"totalTokens"`
}

// ToolCallPayload carries a tool_call entry's fields.
type ToolCallPayload struct {
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	Input      json.RawMessage `json:"input"`
}

// ToolResultPayload carries a tool_result entry's fields.
type ToolResultPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Output     string          `json:"output,omitempty"`
	Blocks     []ContentBlock  `json:"blocks,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

// MessagePayload carries a message entry's role and content. Content is
// represented uniformly as ContentBlock even for plain text, so restore
// logic never has to special-case the two encodings described in the spec.
type MessagePayload struct {
	Role    MessageRole    `json:"role"`
	Content []ContentBlock `json:"content"`
}

// SessionEntry is one append-only line of a session journal.
type SessionEntry struct {
	Timestamp int64     `json:"timestamp"` // monotonic-ish unix nano
	Kind      EntryKind `json:"kind"`

	Meta        map[string]any     `json:"meta,omitempty"`
	Message     *MessagePayload    `json:"message,omitempty"`
	ToolCall    *ToolCallPayload   `json:"toolCall,omitempty"`
	ToolResult  *ToolResultPayload `json:"toolResult,omitempty"`
	Usage       *UsagePayload      `json:"usage,omitempty"`
}

// Session is an append-only, task-scoped conversation.
type Session struct {
	ID        string `json:"id"` // agent-id + monotonic epoch + random suffix
	AgentID   string `json:"agentId"`
	TaskID    string `json:"taskId,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}
