package journal

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarvis-labs/fabric/internal/storage"
	"github.com/jarvis-labs/fabric/pkg/models"
)

func newTestLayout(t *testing.T) *storage.Layout {
	t.Helper()
	layout, err := storage.NewLayout(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	return layout
}

func TestCreateWritesMetaFirst(t *testing.T) {
	layout := newTestLayout(t)
	now := time.Now()

	j, err := Create(layout, "agent-1", "task-1", "sess-1", now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	entries, err := ReadEntries(j.Path())
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Kind != models.EntryMeta {
		t.Fatalf("entries[0].Kind = %q, want meta", entries[0].Kind)
	}
	if entries[0].Meta["agentId"] != "agent-1" {
		t.Errorf("meta agentId = %v, want agent-1", entries[0].Meta["agentId"])
	}
}

func TestAppendAndRestoreRoundTrip(t *testing.T) {
	layout := newTestLayout(t)
	j, err := Create(layout, "agent-1", "", "sess-2", time.Now())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	userMsg := models.SessionEntry{
		Kind: models.EntryMessage,
		Message: &models.MessagePayload{
			Role:    models.MsgRoleUser,
			Content: []models.ContentBlock{models.TextBlock("what's the weather?")},
		},
	}
	assistantMsg := models.SessionEntry{
		Kind: models.EntryMessage,
		Message: &models.MessagePayload{
			Role: models.MsgRoleAssistant,
			Content: []models.ContentBlock{
				models.TextBlock("let me check"),
				models.ToolUseBlock("call-1", "get_weather", json.RawMessage(`{"city":"nyc"}`)),
			},
		},
	}
	toolResult := models.SessionEntry{
		Kind: models.EntryToolResult,
		ToolResult: &models.ToolResultPayload{
			ToolCallID: "call-1",
			Output:     "sunny, 72F",
		},
	}

	for _, e := range []models.SessionEntry{userMsg, assistantMsg, toolResult} {
		if err := j.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	messages, err := Restore(j.Path())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("len(messages) = %d, want 3 (user, assistant, synthesized tool-result user)", len(messages))
	}
	if messages[2].Role != models.MsgRoleUser {
		t.Fatalf("messages[2].Role = %q, want user", messages[2].Role)
	}
	if len(messages[2].Content) != 1 || messages[2].Content[0].ToolResultContent != "sunny, 72F" {
		t.Fatalf("synthesized tool result = %+v, want sunny, 72F", messages[2].Content)
	}
	if messages[2].Content[0].ToolResultIsError {
		t.Error("synthesized tool result marked as error, want false")
	}
}

func TestRestoreMissingToolResult(t *testing.T) {
	entries := []models.SessionEntry{
		{
			Kind: models.EntryMessage,
			Message: &models.MessagePayload{
				Role:    models.MsgRoleAssistant,
				Content: []models.ContentBlock{models.ToolUseBlock("call-9", "noop", nil)},
			},
		},
	}
	messages := RestoreEntries(entries)
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	result := messages[1].Content[0]
	if result.ToolResultContent != missingToolResult {
		t.Errorf("ToolResultContent = %q, want %q", result.ToolResultContent, missingToolResult)
	}
	if !result.ToolResultIsError {
		t.Error("missing tool result should be marked is_error")
	}
}

func TestCompactIfNeededBelowThresholdIsNoop(t *testing.T) {
	layout := newTestLayout(t)
	j, err := Create(layout, "agent-1", "", "sess-3", time.Now())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	for i := 0; i < 5; i++ {
		j.Append(models.SessionEntry{
			Kind:    models.EntryMessage,
			Message: &models.MessagePayload{Role: models.MsgRoleUser, Content: []models.ContentBlock{models.TextBlock("hi")}},
		})
	}
	before, _ := ReadEntries(j.Path())

	if err := CompactIfNeeded(j.Path()); err != nil {
		t.Fatalf("CompactIfNeeded: %v", err)
	}
	after, err := ReadEntries(j.Path())
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("len(after) = %d, want unchanged %d", len(after), len(before))
	}
}

func TestCompactIfNeededRewritesPastThreshold(t *testing.T) {
	layout := newTestLayout(t)
	j, err := Create(layout, "agent-1", "", "sess-4", time.Now())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer j.Close()

	for i := 0; i < 25; i++ {
		if err := j.Append(models.SessionEntry{
			Kind: models.EntryMessage,
			Message: &models.MessagePayload{
				Role:    models.MsgRoleUser,
				Content: []models.ContentBlock{models.TextBlock("message")},
			},
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := CompactIfNeeded(j.Path()); err != nil {
		t.Fatalf("CompactIfNeeded: %v", err)
	}

	entries, err := ReadEntries(j.Path())
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}

	msgCount := 0
	sawCompactedMeta := false
	for i, e := range entries {
		if e.Kind == models.EntryMessage {
			msgCount++
		}
		if i == 0 {
			if e.Kind != models.EntryMeta || e.Meta["compacted"] != true {
				t.Fatalf("entries[0] = %+v, want synthetic compacted meta entry", e)
			}
			sawCompactedMeta = true
		}
	}
	if !sawCompactedMeta {
		t.Fatal("expected first entry after compaction to be the synthetic meta summary")
	}
	if msgCount != compactionRetain {
		t.Fatalf("msgCount = %d, want %d", msgCount, compactionRetain)
	}
}
