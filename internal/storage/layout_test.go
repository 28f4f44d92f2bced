package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLayoutCreatesTree(t *testing.T) {
	base := t.TempDir()
	l, err := NewLayout(base)
	require.NoError(t, err)
	require.False(t, l.Fallback)

	for _, d := range Dirs {
		info, err := os.Stat(filepath.Join(l.Base, d))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	l, err := NewLayout(t.TempDir())
	require.NoError(t, err)

	_, err = l.Resolve("../../etc/passwd")
	require.ErrorIs(t, err, ErrEscapesBase)
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	l, err := NewLayout(base)
	require.NoError(t, err)

	outside := t.TempDir()
	link := filepath.Join(l.Base, "sessions", "escape")
	require.NoError(t, os.Symlink(outside, link))

	_, err = l.Resolve(filepath.Join("sessions", "escape", "file.txt"))
	require.ErrorIs(t, err, ErrEscapesBase)
}

func TestResolveAllowsNewFileUnderExistingDir(t *testing.T) {
	l, err := NewLayout(t.TempDir())
	require.NoError(t, err)

	p, err := l.SessionPath("agent-1", "sess-1")
	require.NoError(t, err)
	require.Contains(t, p, filepath.Join("sessions", "agent-1", "sess-1.jsonl"))
}

func TestNewLayoutFallsBackWhenBaseUnusable(t *testing.T) {
	// A file (not a directory) at the preferred base path forces fallback.
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	cwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	tmpCwd := t.TempDir()
	require.NoError(t, os.Chdir(tmpCwd))
	t.Cleanup(func() { _ = os.RemoveAll(filepath.Join(tmpCwd, ".jarvis-data")) })

	l, err := NewLayout(file)
	require.NoError(t, err)
	require.True(t, l.Fallback)
}
