// Package hub implements the Hub's method registry, client registry,
// broadcast/event fan-out, task scheduling, and heartbeat monitoring (C6).
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jarvis-labs/fabric/internal/wsproto"
)

// MethodHandler answers one RPC method call.
type MethodHandler func(ctx context.Context, clientID string, params json.RawMessage) (any, *wsproto.RPCError)

// MethodRegistry maps hierarchical method names (e.g. "tasks.create") to
// handlers.
type MethodRegistry struct {
	mu       sync.RWMutex
	handlers map[string]MethodHandler
}

// NewMethodRegistry builds an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{handlers: make(map[string]MethodHandler)}
}

// Register adds a handler for method, overwriting any existing one.
func (r *MethodRegistry) Register(method string, handler MethodHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = handler
}

// Dispatch invokes the handler registered for frame.Method, or returns
// METHOD_NOT_FOUND if none exists.
func (r *MethodRegistry) Dispatch(ctx context.Context, clientID string, frame *wsproto.RequestFrame) (any, *wsproto.RPCError) {
	r.mu.RLock()
	handler, ok := r.handlers[frame.Method]
	r.mu.RUnlock()
	if !ok {
		return nil, &wsproto.RPCError{Code: wsproto.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", frame.Method)}
	}
	return handler(ctx, clientID, frame.Params)
}

// ClientRegistry holds one *wsproto.Conn per connected client id.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*wsproto.Conn
}

// NewClientRegistry builds an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*wsproto.Conn)}
}

// Add registers conn under its ID.
func (r *ClientRegistry) Add(conn *wsproto.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[conn.ID] = conn
}

// Remove drops clientID from the registry, per §4.5's disconnect cleanup.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

// Get returns the connection for clientID, if still connected.
func (r *ClientRegistry) Get(clientID string) (*wsproto.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.clients[clientID]
	return conn, ok
}

// All returns a snapshot of every connected client.
func (r *ClientRegistry) All() []*wsproto.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*wsproto.Conn, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast fans an event out to every connected client concurrently,
// one goroutine per target guarded by panic recovery, grounded on
// internal/gateway/broadcast.go's processParallel fan-out idiom.
func (r *ClientRegistry) Broadcast(log *slog.Logger, event string, payload any) {
	if log == nil {
		log = slog.Default()
	}
	clients := r.All()
	var wg sync.WaitGroup
	wg.Add(len(clients))
	frame := wsproto.NewEvent(event, payload)
	for _, conn := range clients {
		go func(c *wsproto.Conn) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic broadcasting event", "client_id", c.ID, "event", event, "panic", rec)
				}
			}()
			if err := c.SendEvent(frame); err != nil {
				log.Debug("broadcast send failed", "client_id", c.ID, "event", event, "error", err)
			}
		}(conn)
	}
	wg.Wait()
}

// SendEvent pushes an event to a single client by id, if still connected.
func (r *ClientRegistry) SendEvent(clientID, event string, payload any) error {
	conn, ok := r.Get(clientID)
	if !ok {
		return fmt.Errorf("hub: client %s not connected", clientID)
	}
	return conn.SendEvent(wsproto.NewEvent(event, payload))
}
