package wsproto

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RequestTimeout is the 30 s request timeout of §4.5. In this package it is
// applied only as the write deadline of each frame a Conn sends; nothing
// here waits for or cancels a pending call.
const RequestTimeout = 30 * time.Second

// Handler processes a validated request frame and returns its result or the
// *RPCError to send back; no error mapping is applied to what it returns.
type Handler func(ctx context.Context, clientID string, params json.RawMessage) (any, *RPCError)

// Conn wraps a single client's WebSocket connection: frame (de)serialization,
// schema validation, dispatch to a method registry, and event push.
type Conn struct {
	ID       string
	ws       *websocket.Conn
	schemas  *SchemaRegistry
	writeMu  sync.Mutex
	log      *slog.Logger
	onClose  func(clientID string)
	closed   bool
	closedMu sync.Mutex
}

// NewConn wraps ws for clientID, validating frames against schemas.
func NewConn(clientID string, ws *websocket.Conn, schemas *SchemaRegistry, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	return &Conn{ID: clientID, ws: ws, schemas: schemas, log: log}
}

// OnClose registers a callback invoked once when the connection's read loop
// exits, letting the hub remove the client from its registry and discard
// pending requests for it, per §4.5's disconnect-cleanup requirement.
func (c *Conn) OnClose(fn func(clientID string)) {
	c.onClose = fn
}

// Serve reads frames until the connection closes or ctx is cancelled,
// dispatching each well-formed request to dispatch. Malformed frames are
// dropped silently; frames for unregistered methods still reach dispatch so
// it can answer METHOD_NOT_FOUND.
func (c *Conn) Serve(ctx context.Context, dispatch func(ctx context.Context, conn *Conn, frame *RequestFrame)) {
	defer c.close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		if err := c.schemas.ValidateEnvelope(raw); err != nil {
			continue // malformed frame: drop silently
		}
		frame, err := ParseRequest(raw)
		if err != nil {
			continue
		}
		if err := c.schemas.ValidateParams(frame); err != nil {
			c.SendResponse(NewErrorResponse(frame.ID, CodeInvalidParams, err.Error()))
			continue
		}
		dispatch(ctx, c, frame)
	}
}

func (c *Conn) close() {
	c.closedMu.Lock()
	already := c.closed
	c.closed = true
	c.closedMu.Unlock()
	if already {
		return
	}
	_ = c.ws.Close()
	if c.onClose != nil {
		c.onClose(c.ID)
	}
}

// SendResponse writes a ResponseFrame to the client.
func (c *Conn) SendResponse(resp ResponseFrame) error {
	resp.Type = FrameResponse
	return c.writeJSON(resp)
}

// SendEvent writes an EventFrame to the client.
func (c *Conn) SendEvent(event EventFrame) error {
	event.Type = FrameEvent
	return c.writeJSON(event)
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(RequestTimeout))
	return c.ws.WriteJSON(v)
}

// Close closes the underlying connection and runs the close callback.
func (c *Conn) Close() error {
	c.close()
	return nil
}
