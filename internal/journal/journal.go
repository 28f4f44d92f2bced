// Package journal implements the append-only, one-file-per-session conversation
// log each agent keeps under its storage layout's "sessions" directory.
// Adapted from internal/agent/trace.go's JSONL writer (header line, one
// JSON object per line, fsync on every write) generalized from a fixed
// AgentEvent stream to the SessionEntry sum type so the same file both
// journals a conversation and restores it into a provider-ready message list.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jarvis-labs/fabric/internal/storage"
	"github.com/jarvis-labs/fabric/pkg/models"
)

// Journal is a single session's append-only log. One writer at a time may
// hold a Journal for a given path; callers are responsible for not opening
// the same session concurrently from two goroutines.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Create starts a new session journal at the canonical path for agentID and
// sessionID, writing the initial meta entry first, per the session-start
// contract every restorer relies on to recover AgentID/TaskID/StartedAt.
func Create(layout *storage.Layout, agentID, taskID, sessionID string, now time.Time) (*Journal, error) {
	path, err := layout.SessionPath(agentID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("journal: resolve session path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create session dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open session file: %w", err)
	}
	j := &Journal{path: path, file: f}

	meta := models.SessionEntry{
		Timestamp: now.UnixNano(),
		Kind:      models.EntryMeta,
		Meta: map[string]any{
			"agentId":   agentID,
			"taskId":    taskID,
			"sessionId": sessionID,
			"startedAt": now.Format(time.RFC3339),
		},
	}
	if err := j.append(meta); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

// Open reopens an existing session journal for further appends.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open session file: %w", err)
	}
	return &Journal{path: path, file: f}, nil
}

// Path returns the file backing this journal.
func (j *Journal) Path() string { return j.path }

// Append writes entry as the next JSONL line, fsyncing immediately so a
// crash never loses an acknowledged turn.
func (j *Journal) Append(entry models.SessionEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(entry)
}

func (j *Journal) append(entry models.SessionEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("journal: write entry: %w", err)
	}
	return j.file.Sync()
}

// Close releases the underlying file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// ReadEntries loads every SessionEntry from path in order.
func ReadEntries(path string) ([]models.SessionEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open for read: %w", err)
	}
	defer f.Close()

	var entries []models.SessionEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry models.SessionEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("journal: decode entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: scan: %w", err)
	}
	return entries, nil
}
