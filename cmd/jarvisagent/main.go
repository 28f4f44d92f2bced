// Package main is the Agent Runtime process: one running instance per
// agent identity. It announces itself on the bus, publishes heartbeats,
// subscribes to its own task subject, and drives internal/agentloop against
// a provider registry and a sandboxed tool registry for every assigned
// task, journaling the whole run through internal/journal. Grounded on
// cmd/nexus/main.go's serve-command wiring (cobra root command,
// signal.NotifyContext shutdown) narrowed to a single agent process instead
// of the teacher's multi-channel gateway.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jarvis-labs/fabric/internal/agentloop"
	"github.com/jarvis-labs/fabric/internal/bus"
	"github.com/jarvis-labs/fabric/internal/coordination"
	"github.com/jarvis-labs/fabric/internal/journal"
	"github.com/jarvis-labs/fabric/internal/plugin"
	"github.com/jarvis-labs/fabric/internal/providers"
	"github.com/jarvis-labs/fabric/internal/storage"
	"github.com/jarvis-labs/fabric/internal/toolsafety"
	"github.com/jarvis-labs/fabric/pkg/models"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:          "jarvisagent",
		Short:        "Jarvis Fabric agent runtime: reasoning loop, tool execution, coordination",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		RunE:         runAgent,
	}
	if err := root.Execute(); err != nil {
		slog.Error("jarvisagent exited with error", "error", err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	identity := models.AgentIdentity{
		ID:        envOr("JARVIS_AGENT_ID", "agent-"+randomSuffix()),
		Role:      models.AgentRole(envOr("JARVIS_AGENT_ROLE", string(models.RoleDev))),
		Host:      envOr("JARVIS_AGENT_HOST", hostname()),
		MachineID: os.Getenv("JARVIS_MACHINE_ID"),
	}

	layout, err := storage.NewLayout(os.Getenv("JARVIS_STORAGE_ROOT"))
	if err != nil {
		return fmt.Errorf("jarvisagent: storage layout: %w", err)
	}

	b := bus.New()
	defer b.Close()

	registry, err := buildProviderRegistry()
	if err != nil {
		return fmt.Errorf("jarvisagent: provider registry: %w", err)
	}
	defaultModel := envOr("JARVIS_AGENT_MODEL", "claude-sonnet-4-20250514")
	provider, err := registry.Resolve(defaultModel)
	if err != nil {
		return fmt.Errorf("jarvisagent: resolve default model %q: %w", defaultModel, err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tools, err := buildToolRegistry(ctx, layout)
	if err != nil {
		return fmt.Errorf("jarvisagent: tool registry: %w", err)
	}
	wireRemoteShellOverride(tools)

	plugins := plugin.NewManager(tools, log)

	announcer := coordination.NewAnnouncer(b, identity)
	if err := announcer.AnnounceOnline(ctx); err != nil {
		log.Warn("announce online failed", "error", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := announcer.AnnounceOffline(shutdownCtx); err != nil {
			log.Warn("announce offline failed", "error", err)
		}
	}()

	agentStatus := &agentStatusTracker{status: models.AgentIdle}
	heartbeat := coordination.NewHeartbeatPublisher(b, identity.ID, 10*time.Second, agentStatus.report, log)
	go heartbeat.Run(ctx)

	delegator := coordination.NewDelegator(b, identity.ID)
	followUp := coordination.NewFollowUp(b)
	// Constructed for every role, not just RoleOrchestrator. Nothing in this
	// binary calls it: no registered tool issues delegations or uses
	// DelegateAndConfirm's follow-up.
	orchestrator := coordination.NewOrchestratorDelegator(delegator, followUp, coordination.DefaultFollowUpTimeout)
	_ = orchestrator

	taskSubject := bus.Subject("jarvis", "agent", identity.ID, "task")
	sub, err := b.Subscribe(taskSubject, func(ctx context.Context, subject string, data []byte, reply string) {
		var task models.Task
		if err := json.Unmarshal(data, &task); err != nil {
			log.Error("malformed task assignment", "error", err)
			return
		}
		runTask(ctx, provider, tools, plugins, layout, identity, &task, agentStatus, log)
	})
	if err != nil {
		return fmt.Errorf("jarvisagent: subscribe to task subject: %w", err)
	}
	defer sub.Unsubscribe()

	log.Info("jarvisagent started", "agent_id", identity.ID, "role", identity.Role, "model", defaultModel)
	<-ctx.Done()
	log.Info("jarvisagent shutting down", "agent_id", identity.ID)
	return nil
}

// agentStatusTracker is the single source of truth the heartbeat publisher
// reports from and the task loop updates, avoiding a second copy of agent
// state independent from what the hub will eventually observe.
type agentStatusTracker struct {
	status models.AgentStatus
	taskID string
}

func (t *agentStatusTracker) report() (models.AgentStatus, string) {
	return t.status, t.taskID
}

func runTask(ctx context.Context, provider providers.Provider, tools *toolsafety.Registry, plugins *plugin.Manager, layout *storage.Layout, identity models.AgentIdentity, task *models.Task, status *agentStatusTracker, log *slog.Logger) {
	status.status, status.taskID = models.AgentBusy, task.ID

	sessionID := "session-" + task.ID
	j, err := journal.Create(layout, identity.ID, task.ID, sessionID, time.Now())
	if err != nil {
		log.Error("journal create failed", "task_id", task.ID, "error", err)
		status.status, status.taskID = models.AgentIdle, ""
		return
	}
	defer j.Close()

	loop := agentloop.New(provider, tools, plugins, j, log)
	rolePrompt := rolePromptFor(identity.Role)
	history := []models.ChatMessage{
		{Role: models.MsgRoleUser, Content: []models.ContentBlock{models.TextBlock(task.Description)}},
	}

	outcome := loop.Run(ctx, agentloop.Config{Model: "", MaxWallTime: 30 * time.Minute}, rolePrompt, history)

	log.Info("task run finished", "task_id", task.ID, "status", outcome.Status, "iterations", outcome.Iterations, "tool_calls", outcome.ToolCalls)
	status.status, status.taskID = models.AgentIdle, ""
}

func rolePromptFor(role models.AgentRole) string {
	switch role {
	case models.RoleOrchestrator:
		return "You coordinate work across a team of agents, delegating tasks and confirming their outcomes before reporting completion."
	case models.RoleMarketing:
		return "You handle marketing and communications tasks: copywriting, campaign research, and content review."
	default:
		return "You are a software development agent: read, write, and test code to complete the assigned task."
	}
}

func buildProviderRegistry() (*providers.Registry, error) {
	reg := providers.NewRegistry()
	registered := 0

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key, DefaultModel: os.Getenv("JARVIS_ANTHROPIC_MODEL")})
		if err != nil {
			return nil, err
		}
		reg.Register(p)
		registered++
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := providers.NewOpenAIProviderWithConfig(providers.OpenAIConfig{APIKey: key, DefaultModel: os.Getenv("JARVIS_OPENAI_MODEL")})
		if err != nil {
			return nil, err
		}
		reg.Register(p)
		registered++
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{APIKey: key, DefaultModel: os.Getenv("JARVIS_GOOGLE_MODEL")})
		if err != nil {
			return nil, err
		}
		reg.Register(p)
		registered++
	}

	if registered == 0 {
		return nil, fmt.Errorf("no provider API key set (expected one of ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY)")
	}
	return reg, nil
}

// buildToolRegistry wires the baseline tool set every agent gets: sandboxed
// filesystem read/write scoped to this agent's workspace directory, an
// SSRF-filtered HTTP fetch, and a shell-allowlisted command runner, all
// guarded by a shared rate limiter.
func buildToolRegistry(ctx context.Context, layout *storage.Layout) (*toolsafety.Registry, error) {
	workspaceRoot, err := layout.Resolve("workspace/projects")
	if err != nil {
		return nil, err
	}
	pathPolicy, err := toolsafety.NewPathPolicy(workspaceRoot)
	if err != nil {
		return nil, err
	}
	shellAllow := toolsafety.NewShellArgsAllowList("ls", "cat", "grep", "git", "go", "npm", "pytest")
	limiter := toolsafety.NewRateLimiter(60, 120)

	registry := toolsafety.NewRegistry()

	registry.Register(toolsafety.Descriptor{
		Name:        "fs_read",
		Description: "Read a UTF-8 text file from the agent's workspace.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []string{"path"},
		},
		Execute: func(ctx context.Context, input json.RawMessage) (toolsafety.Result, error) {
			if !limiter.Allow("fs_read", time.Now()) {
				return toolsafety.Result{Content: "rate limit exceeded", IsError: true}, nil
			}
			var args struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			resolved, err := pathPolicy.Resolve(args.Path)
			if err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			return toolsafety.Result{Content: string(data)}, nil
		},
	})

	registry.Register(toolsafety.Descriptor{
		Name:        "fs_write",
		Description: "Write a UTF-8 text file within the agent's workspace.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
		Execute: func(ctx context.Context, input json.RawMessage) (toolsafety.Result, error) {
			if !limiter.Allow("fs_write", time.Now()) {
				return toolsafety.Result{Content: "rate limit exceeded", IsError: true}, nil
			}
			var args struct {
				Path    string `json:"path"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			resolved, err := pathPolicy.ResolveForWrite(args.Path)
			if err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			if err := os.WriteFile(resolved, []byte(args.Content), 0o644); err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			return toolsafety.Result{Content: "written"}, nil
		},
	})

	registry.Register(toolsafety.Descriptor{
		Name:        "http_fetch",
		Description: "Fetch a public http(s) URL, rejecting requests to private or loopback hosts.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
			"required":   []string{"url"},
		},
		Execute: func(ctx context.Context, input json.RawMessage) (toolsafety.Result, error) {
			if !limiter.Allow("http_fetch", time.Now()) {
				return toolsafety.Result{Content: "rate limit exceeded", IsError: true}, nil
			}
			var args struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			if err := toolsafety.CheckOutboundURL(args.URL); err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			return fetchURL(ctx, args.URL)
		},
	})

	registry.Register(toolsafety.Descriptor{
		Name:        "shell_exec",
		Description: "Run an allow-listed shell command in the agent's workspace.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"command": map[string]any{"type": "string"}},
			"required":   []string{"command"},
		},
		Execute: func(ctx context.Context, input json.RawMessage) (toolsafety.Result, error) {
			if !limiter.Allow("shell_exec", time.Now()) {
				return toolsafety.Result{Content: "rate limit exceeded", IsError: true}, nil
			}
			var args struct {
				Command string `json:"command"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			if err := shellAllow.CheckCommand(args.Command); err != nil {
				return toolsafety.Result{Content: err.Error(), IsError: true}, nil
			}
			return runShellCommand(ctx, workspaceRoot, args.Command)
		},
	})

	go limiter.RunSweep(stopChanFromContext(ctx))
	return registry, nil
}

// stopChanFromContext adapts a context's cancellation into the stop channel
// RateLimiter.RunSweep expects.
func stopChanFromContext(ctx context.Context) <-chan struct{} {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	return stop
}

// wireRemoteShellOverride replaces shell_exec's route with one that
// forwards to a remote host's shell service when the agent is configured
// for remote execution, per §6's JARVIS_REMOTE_SHELL_HOST/_TOKEN pair. It
// is a no-op when those are unset.
func wireRemoteShellOverride(tools *toolsafety.Registry) {
	host := strings.TrimSpace(os.Getenv("JARVIS_REMOTE_SHELL_HOST"))
	if host == "" {
		return
	}
	token := os.Getenv("JARVIS_REMOTE_SHELL_TOKEN")
	tools.SetRouteOverride("shell_exec", func(ctx context.Context, input json.RawMessage) (toolsafety.Result, error) {
		return remoteShellExec(ctx, host, token, input)
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func randomSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano()%1_000_000)
}

var fetchClient = &http.Client{Timeout: 20 * time.Second}

// fetchURL performs the outbound GET once CheckOutboundURL has cleared it,
// grounded on internal/tools/websearch's http.NewRequestWithContext pattern.
func fetchURL(ctx context.Context, rawURL string) (toolsafety.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return toolsafety.Result{Content: err.Error(), IsError: true}, nil
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return toolsafety.Result{Content: err.Error(), IsError: true}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return toolsafety.Result{Content: err.Error(), IsError: true}, nil
	}
	if resp.StatusCode >= 400 {
		return toolsafety.Result{Content: fmt.Sprintf("http %d: %s", resp.StatusCode, string(body)), IsError: true}, nil
	}
	return toolsafety.Result{Content: string(body)}, nil
}

// runShellCommand executes an already allow-listed command in dir, grounded
// on internal/tools/exec/manager.go's /bin/sh -c invocation.
func runShellCommand(ctx context.Context, dir, command string) (toolsafety.Result, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return toolsafety.Result{Content: string(out) + "\n" + err.Error(), IsError: true}, nil
	}
	return toolsafety.Result{Content: string(out)}, nil
}

// remoteShellExec forwards a shell_exec call to a remote host's shell
// service instead of running it locally, per §6's remote-host credential
// pair. The remote side is expected to speak the same {command}->{content,
// isError} contract over a simple bearer-authenticated HTTP POST.
func remoteShellExec(ctx context.Context, host, token string, input json.RawMessage) (toolsafety.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://"+host+"/exec", strings.NewReader(string(input)))
	if err != nil {
		return toolsafety.Result{Content: err.Error(), IsError: true}, nil
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := fetchClient.Do(req)
	if err != nil {
		return toolsafety.Result{Content: err.Error(), IsError: true}, nil
	}
	defer resp.Body.Close()

	var result toolsafety.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return toolsafety.Result{Content: err.Error(), IsError: true}, nil
	}
	return result, nil
}
