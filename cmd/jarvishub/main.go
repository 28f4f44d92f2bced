// Package main is the Hub process: it terminates WebSocket connections from
// dashboards and agents, dispatches hierarchical RPC methods, schedules
// tasks onto capable idle agents, sweeps stale heartbeats, and serves the
// loopback-only bootstrap token endpoint. Grounded on
// internal/gateway/server.go's serve-command wiring in cmd/nexus/main.go,
// narrowed from Nexus's multi-channel gateway to the fabric's hub-only
// surface (tasks/agents/metrics; no channel adapters, no dashboard UI).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jarvis-labs/fabric/internal/audit"
	"github.com/jarvis-labs/fabric/internal/auth"
	"github.com/jarvis-labs/fabric/internal/bus"
	"github.com/jarvis-labs/fabric/internal/channels/slack"
	"github.com/jarvis-labs/fabric/internal/hub"
	"github.com/jarvis-labs/fabric/internal/kv"
	"github.com/jarvis-labs/fabric/internal/storage"
	"github.com/jarvis-labs/fabric/internal/wsproto"
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
		Use:          "jarvishub",
		Short:        "Jarvis Fabric hub: WebSocket RPC, task scheduling, heartbeat monitoring",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
		RunE:         runHub,
	}
	if err := root.Execute(); err != nil {
		slog.Error("jarvishub exited with error", "error", err)
		os.Exit(1)
	}
}

func runHub(cmd *cobra.Command, args []string) error {
	host := envOr("HOST", "0.0.0.0")
	port := envOr("PORT", "7979")
	authToken := os.Getenv("AUTH_TOKEN")
	storageRoot := os.Getenv("JARVIS_STORAGE_ROOT")
	// JARVIS_BUS_URL is read but unused: the bus is always the in-process
	// implementation. JARVIS_KV_URL selects the KV backend in openKVStore:
	// "file:<path>" opens a SQLite store, anything else the in-process one.
	_ = os.Getenv("JARVIS_BUS_URL")
	kvURL := os.Getenv("JARVIS_KV_URL")

	layout, err := storage.NewLayout(storageRoot)
	if err != nil {
		return fmt.Errorf("jarvishub: storage layout: %w", err)
	}

	b := bus.New()
	defer b.Close()

	store, err := openKVStore(kvURL, b)
	if err != nil {
		return fmt.Errorf("jarvishub: kv store: %w", err)
	}
	_ = store // reserved for method handlers that need direct KV access

	auditLogger, err := audit.NewLogger(audit.Config{Enabled: true, Output: "stdout", BufferSize: 1000})
	if err != nil {
		return fmt.Errorf("jarvishub: audit logger: %w", err)
	}
	defer auditLogger.Close()

	authSvc := auth.NewService(auth.Config{DashboardToken: authToken})
	lockout := auth.NewLockout()
	defer lockout.Destroy()

	agents := hub.NewMemoryAgentStore()
	tasks := hub.NewMemoryTaskStore()
	clients := hub.NewClientRegistry()
	scheduler := hub.NewScheduler(b, agents, tasks, clients, 10*time.Second, 30*time.Second)

	slackAdapter := slack.NewAdapter(os.Getenv("SLACK_BOT_TOKEN"))

	methods := hub.NewMethodRegistry()
	registerHubMethods(methods, scheduler, agents, tasks, clients, b, auditLogger, slackAdapter)

	schemas, err := wsproto.NewSchemaRegistry()
	if err != nil {
		return fmt.Errorf("jarvishub: schema registry: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go scheduler.RunHeartbeatMonitor(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(ctx, schemas, methods, clients, authSvc, lockout, auditLogger))
	mux.HandleFunc("/auth/token", authTokenHandler(authToken))

	addr := net.JoinHostPort(host, port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("jarvishub listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("jarvishub: serve: %w", err)
	}
	slog.Info("jarvishub stopped")
	return nil
}

func openKVStore(url string, b *bus.Bus) (kv.Store, error) {
	if url == "" {
		return kv.NewMemoryStore(b), nil
	}
	const filePrefix = "file:"
	if len(url) > len(filePrefix) && url[:len(filePrefix)] == filePrefix {
		return kv.OpenSQLiteStore(url[len(filePrefix):])
	}
	return kv.NewMemoryStore(b), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsHandler upgrades the connection, authenticates the token query
// parameter per §4.4/§6, and serves the three-frame RPC protocol until the
// client disconnects.
func wsHandler(ctx context.Context, schemas *wsproto.SchemaRegistry, methods *hub.MethodRegistry, clients *hub.ClientRegistry, authSvc *auth.Service, lockout *auth.Lockout, auditLogger *audit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		token := r.URL.Query().Get("token")

		if authSvc.Enabled() {
			if lockout.IsLocked(ip, time.Now()) {
				http.Error(w, "too many failed attempts", http.StatusTooManyRequests)
				return
			}
			if _, err := authSvc.Validate(token); err != nil {
				locked := lockout.RecordFailure(ip, time.Now())
				if locked {
					auditLogger.LogAuthLockout("ws", ip)
				} else {
					auditLogger.LogAuthFailure("ws", ip, err.Error())
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			lockout.RecordSuccess(ip)
			auditLogger.LogAuthSuccess("ws", ip)
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade failed", "error", err)
			return
		}

		clientID := uuid.NewString()
		conn := wsproto.NewConn(clientID, ws, schemas, slog.Default())
		conn.OnClose(clients.Remove)
		clients.Add(conn)

		conn.Serve(ctx, func(ctx context.Context, c *wsproto.Conn, frame *wsproto.RequestFrame) {
			result, rpcErr := methods.Dispatch(ctx, c.ID, frame)
			if rpcErr != nil {
				_ = c.SendResponse(wsproto.NewErrorResponse(frame.ID, rpcErr.Code, rpcErr.Message))
				return
			}
			_ = c.SendResponse(wsproto.NewResponse(frame.ID, result))
		})
	}
}

// authTokenHandler answers /auth/token with {token} only when called from
// loopback, per §6's co-located-client bootstrap path.
func authTokenHandler(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

func registerHubMethods(methods *hub.MethodRegistry, scheduler *hub.Scheduler, agents *hub.MemoryAgentStore, tasks *hub.MemoryTaskStore, clients *hub.ClientRegistry, b *bus.Bus, auditLogger *audit.Logger, slackAdapter *slack.Adapter) {
	methods.Register("tasks.create", func(ctx context.Context, clientID string, params json.RawMessage) (any, *wsproto.RPCError) {
		var req struct {
			Title                string              `json:"title"`
			Description          string              `json:"description"`
			Priority             models.TaskPriority `json:"priority"`
			RequiredCapabilities []string            `json:"requiredCapabilities"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInvalidParams, Message: err.Error()}
		}
		if req.Title == "" {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInvalidParams, Message: "title is required"}
		}
		if req.Priority == "" {
			req.Priority = models.PriorityNormal
		}
		task := &models.Task{
			ID:                   uuid.NewString(),
			Title:                req.Title,
			Description:          req.Description,
			Priority:             req.Priority,
			RequiredCapabilities: req.RequiredCapabilities,
			Status:               models.TaskPending,
		}
		if err := scheduler.CreateTask(ctx, task, time.Now()); err != nil {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInternal, Message: err.Error()}
		}
		return task, nil
	})

	methods.Register("tasks.cancel", func(ctx context.Context, clientID string, params json.RawMessage) (any, *wsproto.RPCError) {
		var req struct {
			TaskID string `json:"taskId"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInvalidParams, Message: err.Error()}
		}
		task, ok := tasks.Get(req.TaskID)
		if !ok {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInvalidParams, Message: "unknown task"}
		}
		if err := task.Transition(models.TaskCancelled, time.Now()); err != nil {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInvalidParams, Message: err.Error()}
		}
		tasks.Put(task)
		clients.Broadcast(nil, "task.updated", task)
		return task, nil
	})

	methods.Register("tasks.list", func(ctx context.Context, clientID string, params json.RawMessage) (any, *wsproto.RPCError) {
		return tasks.All(), nil
	})

	methods.Register("agents.list", func(ctx context.Context, clientID string, params json.RawMessage) (any, *wsproto.RPCError) {
		return agents.All(), nil
	})

	methods.Register("agents.message", func(ctx context.Context, clientID string, params json.RawMessage) (any, *wsproto.RPCError) {
		var req struct {
			AgentID string          `json:"agentId"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInvalidParams, Message: err.Error()}
		}
		subject := bus.Subject("jarvis", "agent", req.AgentID, "dm")
		if err := b.Publish(ctx, subject, req.Message); err != nil {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInternal, Message: err.Error()}
		}
		return map[string]bool{"sent": true}, nil
	})

	// channels.send is the one illustrative channel adapter wired at the
	// hub-method boundary (SPEC_FULL.md Domain Stack): only Slack is
	// implemented, everything else is the out-of-scope plumbing spec.md §1
	// excludes.
	methods.Register("channels.send", func(ctx context.Context, clientID string, params json.RawMessage) (any, *wsproto.RPCError) {
		var req struct {
			Channel string `json:"channel"`
			Target  string `json:"target"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInvalidParams, Message: err.Error()}
		}
		if req.Channel != "slack" {
			return nil, &wsproto.RPCError{Code: wsproto.CodeMethodNotFound, Message: fmt.Sprintf("channel %q not supported by this core (channel adapters are out of scope)", req.Channel)}
		}
		if !slackAdapter.Configured() {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInternal, Message: "slack adapter not configured (SLACK_BOT_TOKEN unset)"}
		}
		timestamp, err := slackAdapter.Send(ctx, req.Target, req.Text)
		if err != nil {
			return nil, &wsproto.RPCError{Code: wsproto.CodeInternal, Message: err.Error()}
		}
		return map[string]string{"timestamp": timestamp}, nil
	})

	methods.Register("system.metrics", func(ctx context.Context, clientID string, params json.RawMessage) (any, *wsproto.RPCError) {
		all := tasks.All()
		counts := map[models.TaskStatus]int{}
		for _, t := range all {
			counts[t.Status]++
		}
		return map[string]any{
			"agents":        len(agents.All()),
			"tasks":         len(all),
			"tasksByStatus": counts,
			"clients":       len(clients.All()),
		}, nil
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
