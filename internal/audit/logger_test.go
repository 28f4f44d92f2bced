package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newFileLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := NewLogger(Config{Enabled: true, Output: "file:" + path, BufferSize: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	return records
}

func TestLoggerDisabledIsNoOp(t *testing.T) {
	l, err := NewLogger(DefaultConfig())
	require.NoError(t, err)
	l.Log(Record{Type: EventAuthFailure, Source: "x"})
	require.NoError(t, l.Close())
}

func TestLoggerWritesJSONLines(t *testing.T) {
	l, path := newFileLogger(t)
	l.LogAuthSuccess("user-1", "127.0.0.1")
	l.LogTaskAssigned("agent-1", "task-1")
	require.NoError(t, l.Close())

	records := readRecords(t, path)
	require.Len(t, records, 2)
	require.Equal(t, EventAuthSuccess, records[0].Type)
	require.Equal(t, "127.0.0.1", records[0].IP)
	require.Equal(t, EventTaskAssigned, records[1].Type)
	require.Equal(t, "agent-1", records[1].AgentID)
}

func TestLoggerStampsTimestampWhenZero(t *testing.T) {
	l, path := newFileLogger(t)
	before := time.Now()
	l.Log(Record{Type: EventAuthFailure, Source: "x"})
	require.NoError(t, l.Close())

	records := readRecords(t, path)
	require.Len(t, records, 1)
	require.False(t, records[0].Timestamp.Before(before.Add(-time.Second)))
}

func TestLoggerRedactsSecretFields(t *testing.T) {
	l, path := newFileLogger(t)
	l.Log(Record{
		Type:   EventToolInvocation,
		Source: "shell_exec",
		Details: map[string]any{
			"command": "ls",
			"api_key": "sk-live-abc123",
			"nested":  map[string]any{"password": "hunter2", "ok": "fine"},
		},
	})
	require.NoError(t, l.Close())

	records := readRecords(t, path)
	require.Len(t, records, 1)
	require.Equal(t, "ls", records[0].Details["command"])
	require.Equal(t, redactedValue, records[0].Details["api_key"])
	nested := records[0].Details["nested"].(map[string]any)
	require.Equal(t, redactedValue, nested["password"])
	require.Equal(t, "fine", nested["ok"])
}

func TestRedactCapsDepth(t *testing.T) {
	var deep any = "leaf"
	for i := 0; i < maxRedactDepth+5; i++ {
		deep = map[string]any{"child": deep}
	}
	out := Redact(map[string]any{"root": deep})

	cur := out["root"]
	depth := 0
	for {
		m, ok := cur.(map[string]any)
		if !ok {
			break
		}
		cur = m["child"]
		depth++
	}
	require.Equal(t, redactedValue, cur)
	require.LessOrEqual(t, depth, maxRedactDepth)
}
