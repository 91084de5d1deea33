package harness

import (
	"sort"
	"strings"
)

// ExecutionMetrics accumulates usage across both model calls of a turn.
type ExecutionMetrics struct {
	Model        string  `json:"model"`
	LatencyMs    int64   `json:"latency_ms"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	ToolCalls    int     `json:"tool_calls"`
}

// ModelPrice is USD per one million tokens.
type ModelPrice struct {
	Input  float64
	Output float64
}

// DefaultPrices covers the models the CLI ships with. Dated snapshots match by prefix.
var DefaultPrices = map[string]ModelPrice{
	"gpt-4o-mini":       {Input: 0.15, Output: 0.60},
	"gpt-4o":            {Input: 2.50, Output: 10.00},
	"gpt-4.1-mini":      {Input: 0.40, Output: 1.60},
	"gpt-4.1":           {Input: 2.00, Output: 8.00},
	"claude-haiku-4-5":  {Input: 1.00, Output: 5.00},
	"claude-sonnet-4-5": {Input: 3.00, Output: 15.00},
}

// PriceTable resolves a model name to its price.
type PriceTable struct {
	prices map[string]ModelPrice
	keys   []string // longest first
}

func NewPriceTable(prices map[string]ModelPrice) *PriceTable {
	keys := make([]string, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return &PriceTable{prices: prices, keys: keys}
}

// Cost returns the USD cost of a call; unknown models cost 0.
func (t *PriceTable) Cost(model string, inputTokens, outputTokens int) float64 {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, k := range t.keys {
		if strings.HasPrefix(model, k) {
			p := t.prices[k]
			return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1_000_000
		}
	}
	return 0
}
