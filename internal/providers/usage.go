package providers

import (
	"sync"

	"github.com/jarvis-labs/fabric/pkg/models"
)

// ModelRates gives the per-token cost of a model, in USD per token.
type ModelRates struct {
	CostPerInputToken  float64
	CostPerOutputToken float64
}

// UsageAccumulator holds running token totals over some scope (a session, a
// task, a process), per §4.7.
type UsageAccumulator struct {
	mu           sync.Mutex
	InputTokens  int64
	OutputTokens int64
	CacheTokens  int64
	CostUSD      float64
	rates        map[string]ModelRates
}

// NewUsageAccumulator builds an accumulator that prices completions against
// rates, keyed by model id. An unknown model contributes token counts but no
// cost.
func NewUsageAccumulator(rates map[string]ModelRates) *UsageAccumulator {
	return &UsageAccumulator{rates: rates}
}

// Add merges one response's usage into the running totals.
func (a *UsageAccumulator) Add(model string, usage models.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.InputTokens += int64(usage.InputTokens)
	a.OutputTokens += int64(usage.OutputTokens)
	a.CacheTokens += int64(usage.CacheTokens)

	if rates, ok := a.rates[model]; ok {
		a.CostUSD += float64(usage.InputTokens)*rates.CostPerInputToken + float64(usage.OutputTokens)*rates.CostPerOutputToken
	}
}

// Snapshot returns a point-in-time copy of the running totals.
func (a *UsageAccumulator) Snapshot() models.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.Usage{
		InputTokens:  int(a.InputTokens),
		OutputTokens: int(a.OutputTokens),
		CacheTokens:  int(a.CacheTokens),
		TotalTokens:  int(a.InputTokens + a.OutputTokens),
	}
}

// Cost returns the running cost total in USD.
func (a *UsageAccumulator) Cost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CostUSD
}
