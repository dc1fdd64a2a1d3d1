package api

import "sync"

// Pricing is a provider's list price in USD per million tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Approximate list prices for the default models.
var (
	anthropicPricing = Pricing{InputPerMTok: 3, OutputPerMTok: 15}
	openAIPricing    = Pricing{InputPerMTok: 2.5, OutputPerMTok: 10}
)

// Usage is a snapshot of tracked token usage.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Calls        int
}

// TokenTracker accumulates usage across calls. It is safe for concurrent use.
type TokenTracker struct {
	mu      sync.Mutex
	usage   Usage
	pricing Pricing
}

// NewTokenTracker returns a tracker with no pricing; Cost reports zero.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

func newTracker(p Pricing) *TokenTracker {
	return &TokenTracker{pricing: p}
}

// Add records one call's usage.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	t.usage.InputTokens += input
	t.usage.OutputTokens += output
	t.usage.Calls++
	t.mu.Unlock()
}

// Total returns the accumulated input and output tokens.
func (t *TokenTracker) Total() (input, output int64) {
	u := t.Usage()
	return u.InputTokens, u.OutputTokens
}

// Usage returns a snapshot.
func (t *TokenTracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Cost estimates the spend so far in USD.
func (t *TokenTracker) Cost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.usage.InputTokens)/1e6*t.pricing.InputPerMTok +
		float64(t.usage.OutputTokens)/1e6*t.pricing.OutputPerMTok
}

// Reset clears the accumulated usage.
func (t *TokenTracker) Reset() {
	t.mu.Lock()
	t.usage = Usage{}
	t.mu.Unlock()
}
