package ai

import "socratic-ai-service/internal/config"

// Pricer converts token usage into micro-credit cost from the configured
// per-model price table. Prices are micro-credits per 1000 tokens, split by
// direction. Unlisted models cost zero (typical for BYOK traffic).
type Pricer struct {
	table map[string]config.ModelPrice
}

func NewPricer(table map[string]config.ModelPrice) *Pricer {
	if table == nil {
		table = map[string]config.ModelPrice{}
	}
	return &Pricer{table: table}
}

func (p *Pricer) Cost(model string, promptTokens, completionTokens int) int64 {
	price, ok := p.table[model]
	if !ok {
		return 0
	}
	in := int64(promptTokens) * price.InputMicros / 1000
	out := int64(completionTokens) * price.OutputMicros / 1000
	return in + out
}
