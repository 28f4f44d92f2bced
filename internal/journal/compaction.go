package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jarvis-labs/fabric/pkg/models"
)

const (
	// compactionThreshold is the message-entry count that triggers a rewrite.
	compactionThreshold = 20
	// compactionRetain is how many of the most recent message entries survive.
	compactionRetain = 15
	// summaryLineChars is how much of each discarded message is kept in the
	// synthetic summary, mirroring internal/compaction's truncateString use
	// in FormatMessagesForSummary.
	summaryLineChars = 200
)

// CompactIfNeeded rewrites path in place when it holds at least
// compactionThreshold message entries, replacing every entry before the last
// compactionRetain message entries with a single synthetic meta entry
// summarizing what was dropped. The rewrite is atomic: a temp file is
// written and fsynced, then renamed over path.
func CompactIfNeeded(path string) error {
	entries, err := ReadEntries(path)
	if err != nil {
		return err
	}

	msgIdx := make([]int, 0, len(entries))
	for i, e := range entries {
		if e.Kind == models.EntryMessage {
			msgIdx = append(msgIdx, i)
		}
	}
	if len(msgIdx) < compactionThreshold {
		return nil
	}

	splitAt := msgIdx[len(msgIdx)-compactionRetain]
	discarded := entries[:splitAt]
	kept := entries[splitAt:]

	summary := summarize(discarded)
	rewritten := make([]models.SessionEntry, 0, len(kept)+1)
	rewritten = append(rewritten, models.SessionEntry{
		Timestamp: time.Now().UnixNano(),
		Kind:      models.EntryMeta,
		Meta: map[string]any{
			"compacted":      true,
			"compactedCount": len(discarded),
			"summary":        summary,
		},
	})
	rewritten = append(rewritten, kept...)

	return atomicRewrite(path, rewritten)
}

func summarize(entries []models.SessionEntry) string {
	var lines []string
	for _, e := range entries {
		if e.Kind != models.EntryMessage || e.Message == nil {
			continue
		}
		text := flattenText(e.Message.Content)
		if len(text) > summaryLineChars {
			text = text[:summaryLineChars]
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", e.Message.Role, text))
	}
	return strings.Join(lines, "\n")
}

func flattenText(blocks []models.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case models.BlockText:
			parts = append(parts, b.Text)
		case models.BlockToolUse:
			parts = append(parts, fmt.Sprintf("tool_use:%s", b.ToolUseName))
		case models.BlockToolResult:
			parts = append(parts, b.ToolResultContent)
		}
	}
	return strings.Join(parts, " ")
}

func atomicRewrite(path string, entries []models.SessionEntry) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".compact-*")
	if err != nil {
		return fmt.Errorf("journal: create compaction temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	j := &Journal{path: tmpPath, file: tmp}
	for _, e := range entries {
		if err := j.append(e); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("journal: close compaction temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("journal: rename compacted file into place: %w", err)
	}
	return nil
}
