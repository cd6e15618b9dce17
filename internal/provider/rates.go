package provider

import "strings"

// Rate is the USD price per million tokens for one model.
type Rate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost prices one turn's usage in USD.
func (r Rate) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*r.InputPerMTok/1e6 +
		float64(completionTokens)*r.OutputPerMTok/1e6
}

// defaultRate applies to models absent from the table. Deliberately on the
// expensive side so unknown models exhaust budgets sooner rather than later.
var defaultRate = Rate{InputPerMTok: 3.0, OutputPerMTok: 15.0}

// rateTable maps model id prefixes to published prices. Longest matching
// prefix wins, so versioned ids like claude-sonnet-4-20250514 resolve
// without per-version entries.
var rateTable = map[string]Rate{
	"claude-opus-4":     {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"claude-sonnet-4":   {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-3-7-sonnet": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-3-5-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4.0},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.0},
	"gpt-4.1-mini":      {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"gpt-4.1":           {InputPerMTok: 2.0, OutputPerMTok: 8.0},
	"o1":                {InputPerMTok: 15.0, OutputPerMTok: 60.0},
	"o3-mini":           {InputPerMTok: 1.10, OutputPerMTok: 4.40},
}

// RateFor looks up the price for a model id by longest prefix match.
func RateFor(model string) Rate {
	model = strings.TrimSpace(strings.ToLower(model))
	best := ""
	rate := defaultRate
	for prefix, r := range rateTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			rate = r
		}
	}
	return rate
}

// CostUSD prices one turn's usage for a model id.
func CostUSD(model string, promptTokens, completionTokens int) float64 {
	return RateFor(model).Cost(promptTokens, completionTokens)
}
