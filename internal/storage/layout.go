// Package storage resolves canonical paths within the fabric's shared
// directory tree and rejects any path that would escape it, following a
// symlink to do so.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dirs enumerates the named top-level directories under the base path.
var Dirs = []string{
	"sessions",
	"workspace/projects",
	"workspace/artifacts",
	"knowledge",
	"logs",
	"media",
	"config",
	"channels",
	"chat",
	"cron-jobs",
	"workflows",
	"workflow-runs",
	"timelines",
	"plugins",
	"skills",
	"metrics",
	"plans",
}

// ErrEscapesBase is returned when a resolved path would leave the base tree.
var ErrEscapesBase = errors.New("storage: path escapes base directory")

// Layout resolves paths within a single base directory. If the preferred
// base cannot be created or exists but is not a directory, a local
// fallback under the process working directory is used and Fallback is set.
// A missing base is created; an existing base that is not writable does not
// trigger the fallback.
type Layout struct {
	Base     string
	Fallback bool
}

// NewLayout resolves preferredBase, falling back to a ".jarvis-data"
// directory under the current working directory when the preferred base
// cannot be created or is not a directory. It then ensures every tree
// directory in Dirs exists.
func NewLayout(preferredBase string) (*Layout, error) {
	l := &Layout{Base: preferredBase}

	if err := ensureDir(preferredBase); err != nil {
		cwd, cerr := os.Getwd()
		if cerr != nil {
			return nil, fmt.Errorf("storage: resolve fallback: %w", cerr)
		}
		fallback := filepath.Join(cwd, ".jarvis-data")
		if ferr := ensureDir(fallback); ferr != nil {
			return nil, fmt.Errorf("storage: neither preferred base %q (%v) nor fallback %q (%v) usable", preferredBase, err, fallback, ferr)
		}
		l.Base = fallback
		l.Fallback = true
	}

	absBase, err := filepath.Abs(l.Base)
	if err != nil {
		return nil, err
	}
	l.Base = absBase

	for _, d := range Dirs {
		if err := ensureDir(filepath.Join(l.Base, d)); err != nil {
			return nil, fmt.Errorf("storage: create %q: %w", d, err)
		}
	}
	return l, nil
}

func ensureDir(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%q exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

// Resolve joins relPath onto the base, then verifies that the post-symlink
// real path is still contained within the base directory. It does not
// require the target to already exist; only existing path segments are
// symlink-resolved, mirroring realpath-on-closest-existing-ancestor
// semantics so callers can resolve paths for files about to be created.
func (l *Layout) Resolve(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("storage: %w: absolute path not allowed", ErrEscapesBase)
	}
	joined := filepath.Join(l.Base, relPath)
	if !strings.HasPrefix(joined, l.Base) {
		return "", ErrEscapesBase
	}

	real, err := realpathClosestExisting(joined)
	if err != nil {
		return "", err
	}
	realBase, err := filepath.EvalSymlinks(l.Base)
	if err != nil {
		return "", err
	}
	if real != realBase && !strings.HasPrefix(real, realBase+string(filepath.Separator)) {
		return "", ErrEscapesBase
	}
	return joined, nil
}

// realpathClosestExisting resolves symlinks on the longest existing prefix
// of path, then re-appends the remaining (not-yet-created) segments.
func realpathClosestExisting(path string) (string, error) {
	segments := strings.Split(path, string(filepath.Separator))
	for i := len(segments); i > 0; i-- {
		candidate := strings.Join(segments[:i], string(filepath.Separator))
		if candidate == "" {
			candidate = string(filepath.Separator)
		}
		if _, err := os.Lstat(candidate); err == nil {
			real, err := filepath.EvalSymlinks(candidate)
			if err != nil {
				return "", err
			}
			rest := segments[i:]
			return filepath.Join(append([]string{real}, rest...)...), nil
		}
	}
	return path, nil
}

// SessionPath returns the canonical path for an agent's session journal.
func (l *Layout) SessionPath(agentID, sessionID string) (string, error) {
	return l.Resolve(filepath.Join("sessions", agentID, sessionID+".jsonl"))
}
