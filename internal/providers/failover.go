package providers

import (
	"context"
	"fmt"

	"github.com/jarvis-labs/fabric/internal/errortaxonomy"
	"github.com/jarvis-labs/fabric/pkg/models"
)

// ChatWithFailover tries req against each model in fallbackModels (first
// element first) in order, continuing to the next on any error; the call
// fails only once every model has been tried. Adapted from
// internal/agent/failover.go's FailoverOrchestrator, narrowed to §4.7's
// simpler model-list iteration. Each model gets exactly one Chat call:
// neither this function, the provider adapters, nor the agent loop retries
// or backs off within a single model.
func ChatWithFailover(ctx context.Context, reg *Registry, req models.ChatRequest, fallbackModels []string) (*models.ChatResponse, error) {
	models_ := fallbackModels
	if len(models_) == 0 {
		models_ = []string{req.Model}
	}

	var lastErr error
	for _, model := range models_ {
		attempt := req
		attempt.Model = model

		provider, err := reg.Resolve(model)
		if err != nil {
			lastErr = err
			continue
		}
		if !provider.IsAvailable(ctx) {
			lastErr = fmt.Errorf("providers: %s unavailable for model %s", provider.ID(), model)
			continue
		}

		resp, err := provider.Chat(ctx, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		code := errortaxonomy.Classify(err)
		if !errortaxonomy.ShouldFailover(code) {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("providers: no candidate models given")
	}
	return nil, fmt.Errorf("providers: all models failed: %w", lastErr)
}
