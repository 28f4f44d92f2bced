package toolsafety

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegistryExecuteNotFound(t *testing.T) {
	r := NewRegistry()
	rec, err := r.Execute(context.Background(), "missing", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !rec.Result.IsError {
		t.Fatal("expected error result for missing tool")
	}
}

func TestRegistryRouteOverride(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{
		Name: "echo",
		Execute: func(ctx context.Context, input json.RawMessage) (Result, error) {
			return Result{Content: "original"}, nil
		},
	})
	r.SetRouteOverride("echo", func(ctx context.Context, input json.RawMessage) (Result, error) {
		return Result{Content: "overridden"}, nil
	})

	rec, err := r.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Result.Content != "overridden" {
		t.Fatalf("Content = %q, want overridden", rec.Result.Content)
	}

	r.ClearRouteOverride("echo")
	rec, _ = r.Execute(context.Background(), "echo", nil)
	if rec.Result.Content != "original" {
		t.Fatalf("Content = %q, want original after clearing override", rec.Result.Content)
	}
}

func TestPathPolicyRejectsEscape(t *testing.T) {
	root := t.TempDir()
	policy, err := NewPathPolicy(root)
	if err != nil {
		t.Fatalf("NewPathPolicy: %v", err)
	}
	if _, err := policy.Resolve(filepath.Join(root, "..", "escaped")); err == nil {
		t.Fatal("expected escape to be rejected")
	}
	if _, err := policy.Resolve(filepath.Join(root, "fine.txt")); err != nil {
		t.Fatalf("expected in-root path to resolve, got %v", err)
	}
}

func TestPathPolicyDeniesSecretSegments(t *testing.T) {
	root := t.TempDir()
	policy, err := NewPathPolicy(root)
	if err != nil {
		t.Fatalf("NewPathPolicy: %v", err)
	}
	if _, err := policy.Resolve(filepath.Join(root, ".ssh", "id_rsa")); err == nil {
		t.Fatal("expected .ssh path to be denied")
	}
}

func TestPathPolicyWriteDeniesVCSInternals(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	policy, err := NewPathPolicy(root)
	if err != nil {
		t.Fatalf("NewPathPolicy: %v", err)
	}
	if _, err := policy.Resolve(filepath.Join(root, ".git", "HEAD")); err != nil {
		t.Fatalf("expected .git to be readable, got %v", err)
	}
	if _, err := policy.ResolveForWrite(filepath.Join(root, ".git", "HEAD")); err == nil {
		t.Fatal("expected .git to be write-denied")
	}
}

func TestCheckOutboundURLRejectsPrivateHost(t *testing.T) {
	if err := CheckOutboundURL("http://169.254.169.254/latest/meta-data"); err == nil {
		t.Fatal("expected link-local metadata address to be rejected")
	}
	if err := CheckOutboundURL("ftp://example.com/file"); err == nil {
		t.Fatal("expected non-http(s) scheme to be rejected")
	}
}

func TestShellArgsAllowList(t *testing.T) {
	allow := NewShellArgsAllowList("ls", "cat")
	if err := allow.CheckCommand("ls -la"); err != nil {
		t.Fatalf("expected ls to be allowed, got %v", err)
	}
	if err := allow.CheckCommand("rm -rf /"); err == nil {
		t.Fatal("expected rm to be rejected by allow-list")
	}
	if err := allow.CheckCommand("ls; rm -rf /"); err == nil {
		t.Fatal("expected command chaining to be rejected")
	}
}

func TestRateLimiterRefillAndClamp(t *testing.T) {
	now := time.Now()
	l := NewRateLimiter(60, 1) // 1 token per second, capacity 1

	if !l.Allow("k", now) {
		t.Fatal("first call should be allowed (bucket starts full)")
	}
	if l.Allow("k", now) {
		t.Fatal("immediate second call should be denied")
	}
	if !l.Allow("k", now.Add(2*time.Second)) {
		t.Fatal("call after 2s should be allowed")
	}
}

func TestRateLimiterSweepEvictsIdleBuckets(t *testing.T) {
	now := time.Now()
	l := NewRateLimiter(60, 1)
	l.Allow("stale", now)

	l.Sweep(now.Add(time.Minute))

	l.mu.Lock()
	_, exists := l.buckets["stale"]
	l.mu.Unlock()
	if exists {
		t.Fatal("expected stale bucket to be evicted by sweep")
	}
}
