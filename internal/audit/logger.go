package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is an append-only, asynchronous audit writer. Records are pushed
// onto a buffered channel and drained by a single background goroutine, so
// Log does not block on I/O while the buffer has room; a full buffer falls back to a direct
// (blocking) write rather than silently dropping the record, mirroring this
// repo's prior audit.Logger buffering strategy.
type Logger struct {
	config Config
	output io.WriteCloser
	buffer chan *Record
	wg     sync.WaitGroup
	done   chan struct{}
	mu     sync.Mutex // guards writes to output
}

// NewLogger builds a Logger from cfg. A disabled config returns a Logger
// whose Log calls are no-ops.
func NewLogger(cfg Config) (*Logger, error) {
	if !cfg.Enabled {
		return &Logger{config: cfg}, nil
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}

	output, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		config: cfg,
		output: output,
		buffer: make(chan *Record, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

func openOutput(spec string) (io.WriteCloser, error) {
	switch {
	case spec == "" || spec == "stdout":
		return os.Stdout, nil
	case spec == "stderr":
		return os.Stderr, nil
	case strings.HasPrefix(spec, "file:"):
		path := strings.TrimPrefix(spec, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("audit: open log file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("audit: unsupported output %q", spec)
	}
}

// Close drains any buffered records and closes the underlying output.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log writes an audit record, redacting its Details first.
func (l *Logger) Log(rec Record) {
	if !l.config.Enabled {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Details = Redact(rec.Details)

	select {
	case l.buffer <- &rec:
	default:
		l.write(&rec)
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case rec := <-l.buffer:
			l.write(rec)
		case <-l.done:
			l.drain()
			return
		}
	}
}

func (l *Logger) drain() {
	for {
		select {
		case rec := <-l.buffer:
			l.write(rec)
		default:
			return
		}
	}
}

func (l *Logger) write(rec *Record) {
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write(line)
}

// LogAuthSuccess records a successful authentication.
func (l *Logger) LogAuthSuccess(source, ip string) {
	l.Log(Record{Type: EventAuthSuccess, Source: source, IP: ip})
}

// LogAuthFailure records a failed authentication attempt.
func (l *Logger) LogAuthFailure(source, ip, reason string) {
	l.Log(Record{Type: EventAuthFailure, Source: source, IP: ip, Details: map[string]any{"reason": reason}})
}

// LogAuthLockout records a source entering lockout.
func (l *Logger) LogAuthLockout(source, ip string) {
	l.Log(Record{Type: EventAuthLockout, Source: source, IP: ip})
}

// LogToolInvocation records a tool call made by an agent.
func (l *Logger) LogToolInvocation(agentID, toolName string, args map[string]any) {
	l.Log(Record{Type: EventToolInvocation, Source: toolName, AgentID: agentID, Details: args})
}

// LogToolDenied records a tool call rejected by safety policy.
func (l *Logger) LogToolDenied(agentID, toolName, reason string) {
	l.Log(Record{Type: EventToolDenied, Source: toolName, AgentID: agentID, Details: map[string]any{"reason": reason}})
}

// LogTaskAssigned records a task assignment to an agent.
func (l *Logger) LogTaskAssigned(agentID, taskID string) {
	l.Log(Record{Type: EventTaskAssigned, Source: "hub", AgentID: agentID, Details: map[string]any{"task_id": taskID}})
}

// LogTaskCompleted records a task reaching a terminal completed state.
func (l *Logger) LogTaskCompleted(agentID, taskID string) {
	l.Log(Record{Type: EventTaskCompleted, Source: "hub", AgentID: agentID, Details: map[string]any{"task_id": taskID}})
}

// LogTaskFailed records a task reaching a terminal failed state.
func (l *Logger) LogTaskFailed(agentID, taskID, reason string) {
	l.Log(Record{Type: EventTaskFailed, Source: "hub", AgentID: agentID, Details: map[string]any{"task_id": taskID, "reason": reason}})
}
