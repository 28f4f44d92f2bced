// Package providers implements the uniform Provider contract of §4.7: a
// registry keyed by model id with prefix-heuristic fallback, a
// chatWithFailover helper that tries a list of models in order, and a usage
// accumulator. Adapted from internal/agent/providers (the teacher's
// per-vendor LLMProvider implementations), narrowed from the teacher's
// CompletionRequest/CompletionChunk shapes to this spec's ChatRequest/
// ChatChunk (pkg/models/chat.go).
package providers

import (
	"context"

	"github.com/jarvis-labs/fabric/pkg/models"
)

// Provider is the uniform contract every LLM vendor adapter satisfies.
type Provider interface {
	ID() string
	Name() string
	ListModels() []models.ModelInfo
	IsAvailable(ctx context.Context) bool
	Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
	ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, error)
}
