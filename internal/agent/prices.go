package agent

// Cost is the per-request spend breakdown, derived from accumulated usage
// and the model's per-million-token prices.
type Cost struct {
	InputUSD  float64 `json:"input_usd"`
	OutputUSD float64 `json:"output_usd"`
	TotalUSD  float64 `json:"total_usd"`
}

// modelPrice holds USD per one million tokens.
type modelPrice struct {
	inputPerM  float64
	outputPerM float64
}

// priceTable is static. Prices drift; an unknown model simply yields no
// cost block rather than an error.
var priceTable = map[string]modelPrice{
	"gpt-4o":        {inputPerM: 2.50, outputPerM: 10.00},
	"gpt-4o-mini":   {inputPerM: 0.15, outputPerM: 0.60},
	"gpt-4.1":       {inputPerM: 2.00, outputPerM: 8.00},
	"gpt-4.1-mini":  {inputPerM: 0.40, outputPerM: 1.60},
	"gpt-4.1-nano":  {inputPerM: 0.10, outputPerM: 0.40},
	"o3-mini":       {inputPerM: 1.10, outputPerM: 4.40},
	"gpt-3.5-turbo": {inputPerM: 0.50, outputPerM: 1.50},
}

// computeCost is a pure function of (usage, model). Unknown models return
// nil.
func computeCost(usage Usage, model string) *Cost {
	price, ok := priceTable[model]
	if !ok {
		return nil
	}
	in := float64(usage.PromptTokens) / 1e6 * price.inputPerM
	out := float64(usage.CompletionTokens) / 1e6 * price.outputPerM
	return &Cost{
		InputUSD:  in,
		OutputUSD: out,
		TotalUSD:  in + out,
	}
}
