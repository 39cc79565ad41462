package model

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing provides hardcoded USD pricing per 1M tokens (text tokens).
var defaultPricing = map[string]Pricing{
	// Source: Gemini pricing (Standard; text, prompts <= 200k tokens).
	"gemini-2.0-flash":      {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.0-flash-lite": {InputPerM: 0.075, OutputPerM: 0.30},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
}

// ResolvePricing returns hardcoded pricing for a model, zero when unknown.
func ResolvePricing(model string) Pricing {
	return defaultPricing[model]
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// UsageSummary aggregates token usage and cost over one run.
type UsageSummary struct {
	Calls            int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	TotalCostUSD     float64
}

// UsageTracker accumulates usage reported by concurrent model calls of one run.
type UsageTracker struct {
	mu      sync.Mutex
	summary UsageSummary
}

// Add records one call and returns its cost in USD.
func (t *UsageTracker) Add(model string, usage *schema.TokenUsage) float64 {
	if usage == nil {
		return 0
	}
	_, _, total := ComputeCost(usage, ResolvePricing(model))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.Calls++
	t.summary.PromptTokens += usage.PromptTokens
	t.summary.CompletionTokens += usage.CompletionTokens
	t.summary.TotalTokens += usage.TotalTokens
	t.summary.TotalCostUSD += total
	return total
}

// Summary returns a copy of the accumulated usage.
func (t *UsageTracker) Summary() UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

type usageTrackerKey struct{}

// WithUsageTracker attaches t to ctx so model and search calls of a run report into it.
func WithUsageTracker(ctx context.Context, t *UsageTracker) context.Context {
	return context.WithValue(ctx, usageTrackerKey{}, t)
}

// UsageTrackerFrom returns the tracker attached to ctx, or nil.
func UsageTrackerFrom(ctx context.Context) *UsageTracker {
	t, _ := ctx.Value(usageTrackerKey{}).(*UsageTracker)
	return t
}
