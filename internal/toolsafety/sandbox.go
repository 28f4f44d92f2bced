package toolsafety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// denySegments names path components that are never readable through the
// sandbox regardless of which allow-root they fall under: credential
// directories, private keys, and common secret-bearing env files. Adapted
// from internal/tools/files/resolver.go's root-containment check, widened
// with a denylist since a single allow-root (e.g. a workspace checkout) can
// itself contain an embedded secret store.
var denySegments = []string{
	".ssh", ".aws", ".gnupg", ".docker",
	".env", ".env.local", ".env.production", ".netrc",
	"id_rsa", "id_ed25519", "credentials.json",
}

// writeDenySegments additionally block writes (but not reads) to paths that
// a tool has no legitimate reason to modify: project manifests, VCS
// internals, and vendored dependency trees.
var writeDenySegments = []string{
	".git", ".hg", ".svn", "vendor", "node_modules",
	"go.sum", "go.mod", "package-lock.json",
}

// PathPolicy enforces that a tool only touches paths under one of its
// allow-roots, after resolving symlinks on the closest existing ancestor so
// a symlink planted inside an allow-root cannot be used to escape it.
type PathPolicy struct {
	AllowRoots []string
}

// NewPathPolicy builds a PathPolicy over the given allow-roots, resolving
// each to an absolute path.
func NewPathPolicy(roots ...string) (*PathPolicy, error) {
	resolved := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("toolsafety: resolve allow-root %q: %w", r, err)
		}
		resolved = append(resolved, abs)
	}
	return &PathPolicy{AllowRoots: resolved}, nil
}

// Resolve validates path for reading: it must resolve (after symlinks on its
// closest existing ancestor) inside one of the allow-roots and must not
// contain a denied segment.
func (p *PathPolicy) Resolve(path string) (string, error) {
	real, err := p.containedPath(path)
	if err != nil {
		return "", err
	}
	if segment := matchSegment(real, denySegments); segment != "" {
		return "", fmt.Errorf("toolsafety: path denied: contains %q", segment)
	}
	return real, nil
}

// ResolveForWrite validates path for writing, applying both the read
// denylist and the additional write-only denylist.
func (p *PathPolicy) ResolveForWrite(path string) (string, error) {
	real, err := p.Resolve(path)
	if err != nil {
		return "", err
	}
	if segment := matchSegment(real, writeDenySegments); segment != "" {
		return "", fmt.Errorf("toolsafety: write denied: contains %q", segment)
	}
	return real, nil
}

func (p *PathPolicy) containedPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("toolsafety: empty path")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		if len(p.AllowRoots) == 0 {
			return "", fmt.Errorf("toolsafety: no allow-roots configured for relative path %q", path)
		}
		abs = filepath.Join(p.AllowRoots[0], path)
	}
	real, err := realpathClosestExisting(abs)
	if err != nil {
		return "", fmt.Errorf("toolsafety: resolve %q: %w", path, err)
	}
	for _, root := range p.AllowRoots {
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			realRoot = root
		}
		if real == realRoot || strings.HasPrefix(real, realRoot+string(filepath.Separator)) {
			return real, nil
		}
	}
	return "", fmt.Errorf("toolsafety: path %q escapes every allow-root", path)
}

// realpathClosestExisting mirrors internal/storage.Layout's unexported
// helper of the same purpose: resolve symlinks on the longest existing
// prefix of path, then re-append whatever hasn't been created yet so
// callers can validate a path for a file about to be written.
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

func matchSegment(path string, denied []string) string {
	segments := strings.Split(path, string(filepath.Separator))
	for _, seg := range segments {
		for _, d := range denied {
			if seg == d {
				return d
			}
		}
	}
	return ""
}
