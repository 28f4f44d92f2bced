// Package agentloop implements the agent's streaming reasoning loop: it
// assembles a system prompt, calls a provider's ChatStream, reassembles
// tool-call deltas, dispatches finished tool calls through a
// toolsafety.Registry, journals everything through internal/journal, and
// repeats until the model stops requesting tools, a budget is exceeded, or
// the context is canceled. Adapted from internal/agent/loop.go's
// Init->Stream->ExecuteTools->Continue/Complete state machine, narrowed
// from the teacher's job-queue/branch-store/approval-policy machinery to
// this fabric's simpler trusted, single-session model.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jarvis-labs/fabric/internal/journal"
	"github.com/jarvis-labs/fabric/internal/plugin"
	"github.com/jarvis-labs/fabric/internal/providers"
	"github.com/jarvis-labs/fabric/internal/toolsafety"
	"github.com/jarvis-labs/fabric/pkg/models"
)

// Config bounds one run of the loop.
type Config struct {
	MaxIterations int           // 0 uses DefaultMaxIterations
	MaxToolCalls  int           // 0 = unlimited
	MaxWallTime   time.Duration // 0 = unlimited
	Model         string
	MaxTokens     int
}

// DefaultMaxIterations matches the teacher's DefaultLoopConfig.
const DefaultMaxIterations = 10

func sanitize(cfg Config) Config {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return cfg
}

// Outcome is the terminal state of a Run.
type Outcome struct {
	Status      string // "completed", "failed", "canceled"
	FailReason  string // set when Status == "failed", e.g. "budget_exceeded"
	Messages    []models.ChatMessage
	ToolCalls   int
	Iterations  int
	FinalUsage  models.Usage
}

// Loop drives one agent's reasoning cycle against a provider and tool
// registry, journaling every step.
type Loop struct {
	provider providers.Provider
	tools    *toolsafety.Registry
	plugins  *plugin.Manager
	journal  *journal.Journal
	log      *slog.Logger
}

// New builds a Loop. plugins may be nil if the agent has no plugin-
// contributed prompt sections or hooks.
func New(provider providers.Provider, tools *toolsafety.Registry, plugins *plugin.Manager, j *journal.Journal, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{provider: provider, tools: tools, plugins: plugins, journal: j, log: log.With("component", "agent-loop")}
}

// Run assembles the system prompt, then alternates streaming a model
// response and executing any tool calls it requests until the model
// produces a final answer with no tool use, a configured budget is
// exceeded, or ctx is canceled.
func (l *Loop) Run(ctx context.Context, cfg Config, rolePrompt string, history []models.ChatMessage) Outcome {
	cfg = sanitize(cfg)
	deadline := time.Time{}
	if cfg.MaxWallTime != 0 {
		deadline = time.Now().Add(cfg.MaxWallTime)
	}

	system := l.assembleSystemPrompt(ctx, rolePrompt)
	messages := append([]models.ChatMessage(nil), history...)

	out := Outcome{Status: "completed"}
	finished := false
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		out.Iterations = iter + 1

		if !deadline.IsZero() && time.Now().After(deadline) {
			out.Status = "failed"
			out.FailReason = "budget_exceeded"
			break
		}
		if err := ctx.Err(); err != nil {
			out.Status = "canceled"
			break
		}

		req := models.ChatRequest{
			Model:     cfg.Model,
			Messages:  messages,
			System:    system,
			Tools:     l.toolDefs(),
			MaxTokens: cfg.MaxTokens,
			Stream:    true,
		}

		l.fireHook(ctx, plugin.HookBeforeModelCall, map[string]any{"iteration": iter})
		chunks, err := l.provider.ChatStream(ctx, req)
		if err != nil {
			out.Status = "failed"
			out.FailReason = fmt.Sprintf("provider_error: %v", err)
			break
		}

		assistantMsg, stopReason, usage, streamErr := collectStream(chunks)
		l.fireHook(ctx, plugin.HookAfterModelCall, map[string]any{"stopReason": string(stopReason)})
		out.FinalUsage = usage
		if streamErr != nil {
			out.Status = "failed"
			out.FailReason = fmt.Sprintf("stream_error: %v", streamErr)
			break
		}

		messages = append(messages, assistantMsg)
		l.journalMessage(assistantMsg)

		toolCalls := extractToolUse(assistantMsg)
		if len(toolCalls) == 0 || stopReason != models.StopToolUse {
			finished = true
			break
		}

		if cfg.MaxToolCalls > 0 && out.ToolCalls+len(toolCalls) > cfg.MaxToolCalls {
			out.Status = "failed"
			out.FailReason = "budget_exceeded"
			break
		}

		resultBlocks := make([]models.ContentBlock, 0, len(toolCalls))
		for _, tc := range toolCalls {
			out.ToolCalls++
			resultBlocks = append(resultBlocks, l.executeTool(ctx, tc))
		}
		toolResultMsg := models.ChatMessage{Role: models.MsgRoleUser, Content: resultBlocks}
		messages = append(messages, toolResultMsg)
	}

	if out.Status == "completed" && !finished {
		// Ran out of iterations while the model still wanted to act; this
		// is a budget failure, not a clean completion.
		out.Status = "failed"
		out.FailReason = "budget_exceeded"
	}

	out.Messages = messages
	return out
}

func (l *Loop) assembleSystemPrompt(ctx context.Context, rolePrompt string) string {
	var b strings.Builder
	b.WriteString(safetyPreamble)
	b.WriteString("\n\n")
	b.WriteString(rolePrompt)
	if l.plugins != nil {
		for _, section := range l.plugins.PromptSections(ctx) {
			b.WriteString("\n\n")
			b.WriteString(section)
		}
	}
	return b.String()
}

// safetyPreamble is prepended to every agent's system prompt ahead of its
// role template, per the fabric-wide safety baseline.
const safetyPreamble = "You are an autonomous agent operating within a sandboxed toolset. " +
	"Only use the tools you are given, stay within the scope of your assigned task, " +
	"and never attempt to access resources outside your granted permissions."

func (l *Loop) toolDefs() []models.ToolDef {
	descs := l.tools.All()
	defs := make([]models.ToolDef, 0, len(descs))
	for _, d := range descs {
		defs = append(defs, models.ToolDef{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	return defs
}

func (l *Loop) executeTool(ctx context.Context, tc models.ContentBlock) models.ContentBlock {
	l.fireHook(ctx, plugin.HookBeforeToolCall, map[string]any{"tool": tc.ToolUseName, "id": tc.ToolUseID})
	record, err := l.tools.Execute(ctx, tc.ToolUseName, tc.ToolUseInput)
	l.fireHook(ctx, plugin.HookAfterToolCall, map[string]any{"tool": tc.ToolUseName, "id": tc.ToolUseID})

	l.journalToolCall(tc)
	if err != nil {
		// Registry.Execute always converts errors into an error Result, but
		// guard anyway since ExecuteFunc is an external contract.
		record.Result = toolsafety.Result{Content: err.Error(), IsError: true}
	}
	l.journalToolResult(tc.ToolUseID, record.Result.Content, record.Result.IsError)
	return models.ToolResultBlock(tc.ToolUseID, record.Result.Content, record.Result.IsError)
}

func (l *Loop) fireHook(ctx context.Context, name string, data map[string]any) {
	if l.plugins == nil {
		return
	}
	l.plugins.Fire(ctx, name, plugin.Event{Name: name, Data: data})
}

func (l *Loop) journalMessage(msg models.ChatMessage) {
	if l.journal == nil {
		return
	}
	entry := models.SessionEntry{
		Timestamp: time.Now().UnixNano(),
		Kind:      models.EntryMessage,
		Message:   &models.MessagePayload{Role: msg.Role, Content: msg.Content},
	}
	if err := l.journal.Append(entry); err != nil {
		l.log.Warn("journal append failed", "error", err)
	}
}

func (l *Loop) journalToolCall(tc models.ContentBlock) {
	if l.journal == nil {
		return
	}
	entry := models.SessionEntry{
		Timestamp: time.Now().UnixNano(),
		Kind:      models.EntryToolCall,
		ToolCall:  &models.ToolCallPayload{ToolName: tc.ToolUseName, ToolCallID: tc.ToolUseID, Input: tc.ToolUseInput},
	}
	if err := l.journal.Append(entry); err != nil {
		l.log.Warn("journal append failed", "error", err)
	}
}

func (l *Loop) journalToolResult(toolCallID, output string, isError bool) {
	if l.journal == nil {
		return
	}
	entry := models.SessionEntry{
		Timestamp:  time.Now().UnixNano(),
		Kind:       models.EntryToolResult,
		ToolResult: &models.ToolResultPayload{ToolCallID: toolCallID, Output: output, IsError: isError},
	}
	if err := l.journal.Append(entry); err != nil {
		l.log.Warn("journal append failed", "error", err)
	}
}

func extractToolUse(msg models.ChatMessage) []models.ContentBlock {
	var calls []models.ContentBlock
	for _, b := range msg.Content {
		if b.Type == models.BlockToolUse {
			calls = append(calls, b)
		}
	}
	return calls
}
