package metering

import "sync"

// TokenCounter estimates token counts via character-count heuristics.
type TokenCounter struct {
	charsPerToken float64
}

func NewTokenCounter(charsPerToken float64) *TokenCounter {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &TokenCounter{charsPerToken: charsPerToken}
}

func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text))/tc.charsPerToken) + 3
}

// ModelPrice holds per-model USD/1M-token pricing.
type ModelPrice struct {
	InputPer1M  float64
	OutputPer1M float64
	Free        bool
}

// CostEngine calculates projected/actual request cost from static pricing.
type CostEngine struct {
	mu      sync.RWMutex
	pricing map[string]ModelPrice
}

func NewCostEngine() *CostEngine {
	return &CostEngine{pricing: defaultPricing()}
}

// Estimate projects USD cost for a model given input and max-output tokens.
// Unknown models cost 0 — Nexus never blocks routing on an unpriced model.
func (ce *CostEngine) Estimate(model string, inputTokens, maxOutputTokens int) float64 {
	ce.mu.RLock()
	defer ce.mu.RUnlock()
	p, ok := ce.pricing[model]
	if !ok || p.Free {
		return 0
	}
	return float64(inputTokens)/1_000_000*p.InputPer1M + float64(maxOutputTokens)/1_000_000*p.OutputPer1M
}

func (ce *CostEngine) UpdatePricing(model string, price ModelPrice) {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.pricing[model] = price
}

func defaultPricing() map[string]ModelPrice {
	return map[string]ModelPrice{
		"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.00},
		"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
		"gpt-4-turbo":       {InputPer1M: 10.00, OutputPer1M: 30.00},
		"gpt-3.5-turbo":     {InputPer1M: 0.50, OutputPer1M: 1.50},
		"claude-3-opus":     {InputPer1M: 15.00, OutputPer1M: 75.00},
		"claude-3-sonnet":   {InputPer1M: 3.00, OutputPer1M: 15.00},
		"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
		"claude-3.5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
		"gemini-1.5-pro":    {InputPer1M: 1.25, OutputPer1M: 5.00},
		"gemini-1.5-flash":  {InputPer1M: 0.075, OutputPer1M: 0.30},
		"gemini-2.0-flash":  {InputPer1M: 0.10, OutputPer1M: 0.40},
	}
}

// BudgetTracker holds a per-process spend tally per backend against an
// optional configured cap. A zero cap means unlimited.
type BudgetTracker struct {
	mu    sync.Mutex
	caps  map[string]float64
	spent map[string]float64
}

func NewBudgetTracker() *BudgetTracker {
	return &BudgetTracker{
		caps:  make(map[string]float64),
		spent: make(map[string]float64),
	}
}

// SetCap configures backendID's USD spend cap; 0 disables enforcement.
func (bt *BudgetTracker) SetCap(backendID string, cap float64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.caps[backendID] = cap
}

// WouldBreach reports whether projectedCost would push backendID's tally
// past its configured cap.
func (bt *BudgetTracker) WouldBreach(backendID string, projectedCost float64) bool {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	cap, ok := bt.caps[backendID]
	if !ok || cap <= 0 {
		return false
	}
	return bt.spent[backendID]+projectedCost > cap
}

// Record adds cost to backendID's running tally (called on settlement).
func (bt *BudgetTracker) Record(backendID string, cost float64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.spent[backendID] += cost
}
