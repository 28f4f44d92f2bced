// Package errortaxonomy classifies errors into the fabric's small code set
// and carries the propagation policy: which codes trigger failover, which
// retry, which are surfaced to the model instead of aborting a loop.
//
// Classification is substring-based over the error text, generalizing the
// teacher's classifyProviderError helper to the full §7 taxonomy so the
// same function backs provider failover (C7), WS error responses (C6), and
// tool result errors (C12).
package errortaxonomy

import (
	"errors"
	"strings"
)

// Code is one of the taxonomy's error classes.
type Code string

const (
	InvalidRequest Code = "invalid_request"
	Unauthorized   Code = "unauthorized"
	RateLimited    Code = "rate_limited"
	NotFound       Code = "not_found"
	ProviderError  Code = "provider_error"
	ToolError      Code = "tool_error"
	TransientIO    Code = "transient_io"
	Fatal          Code = "fatal"
)

// Error wraps an underlying cause with a taxonomy Code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy Error.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// Classify inspects err's text (and any wrapped *Error) and returns the best
// matching Code. Unrecognized errors classify as Fatal, the taxonomy's
// catch-all for unrecoverable conditions.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}

	text := strings.ToLower(err.Error())
	switch {
	case containsAny(text, "429", "rate limit", "too many requests"):
		return RateLimited
	case containsAny(text, "401", "403", "unauthorized", "forbidden", "invalid token", "invalid api key"):
		return Unauthorized
	case containsAny(text, "404", "not found", "unknown method", "unknown model", "unknown agent", "unknown tool"):
		return NotFound
	case containsAny(text, "400", "invalid request", "bad request", "validation"):
		return InvalidRequest
	case containsAny(text, "500", "502", "503", "504", "provider", "upstream", "bedrock", "anthropic", "openai", "gemini"):
		return ProviderError
	case containsAny(text, "tool_error", "tool failed", "tool returned"):
		return ToolError
	case containsAny(text, "connection refused", "eof", "broken pipe", "timeout", "timed out", "i/o timeout", "disconnect"):
		return TransientIO
	default:
		return Fatal
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// ShouldFailover reports whether code should advance the failover chain to
// the next model (C7) rather than fail the whole task immediately.
func ShouldFailover(code Code) bool {
	switch code {
	case ProviderError, RateLimited, TransientIO:
		return true
	default:
		return false
	}
}

// ShouldRetry reports whether code warrants a bounded exponential-backoff
// retry of the same operation (bus/KV transient errors).
func ShouldRetry(code Code) bool {
	return code == TransientIO
}

// AbortsLoop reports whether code should terminate the agent loop outright.
// Per §7, tool errors never abort the loop; they are delivered to the model.
func AbortsLoop(code Code) bool {
	return code == Fatal
}
