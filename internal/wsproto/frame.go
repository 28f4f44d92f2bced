// Package wsproto implements the three-frame WebSocket wire protocol of
// §4.5: request, response, and event frames, JSON-schema validated the way
// internal/gateway/ws_schema.go validates them in the teacher, transported
// over github.com/gorilla/websocket.
package wsproto

import "encoding/json"

// FrameType discriminates the three frame shapes.
type FrameType string

const (
	FrameRequest  FrameType = "req"
	FrameResponse FrameType = "res"
	FrameEvent    FrameType = "event"
)

// RequestFrame is a client-originated call.
type RequestFrame struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCError is the error shape carried by a ResponseFrame.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Well-known error codes.
const (
	CodeMethodNotFound = 404
	CodeInvalidParams  = 400
	CodeUnauthorized   = 401
	CodeInternal       = 500
)

// ResponseFrame is a server-originated reply to a RequestFrame.
type ResponseFrame struct {
	Type   FrameType `json:"type"`
	ID     string    `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *RPCError `json:"error,omitempty"`
}

// EventFrame is a server-originated, unsolicited push.
type EventFrame struct {
	Type    FrameType `json:"type"`
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
}

// NewResponse builds a success ResponseFrame.
func NewResponse(id string, result any) ResponseFrame {
	return ResponseFrame{Type: FrameResponse, ID: id, Result: result}
}

// NewErrorResponse builds a failure ResponseFrame.
func NewErrorResponse(id string, code int, message string) ResponseFrame {
	return ResponseFrame{Type: FrameResponse, ID: id, Error: &RPCError{Code: code, Message: message}}
}

// NewEvent builds an EventFrame.
func NewEvent(event string, payload any) EventFrame {
	return EventFrame{Type: FrameEvent, Event: event, Payload: payload}
}

// envelope is used only to sniff the "type" discriminator of an inbound
// text frame before deciding how to fully unmarshal it.
type envelope struct {
	Type FrameType `json:"type"`
}

// ParseRequest decodes raw into a RequestFrame. Returns an error for any
// frame that is not syntactically a well-formed request frame; callers
// must treat such errors as "drop silently" per §4.5.
func ParseRequest(raw []byte) (*RequestFrame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Type != FrameRequest {
		return nil, errNotRequest
	}
	var frame RequestFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if frame.ID == "" || frame.Method == "" {
		return nil, errMissingFields
	}
	return &frame, nil
}
