package domain

import "time"

// Quote is the normalized record produced by a source adapter.
// Treated as a value: never mutated after the adapter returns it.
type Quote struct {
	Symbol    string    `json:"symbol"`
	PriceUSD  float64   `json:"price_usd"`
	Volume24h float64   `json:"volume_24h"`
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
	// Priority of the producing source; lower means more trusted.
	Priority int `json:"priority"`
}

// MarketSummary is the best-effort view across all supported symbols.
type MarketSummary struct {
	Quotes      []*Quote  `json:"quotes"`
	Missing     []string  `json:"missing,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SupportedSymbols lists the assets this service quotes, in display order.
var SupportedSymbols = []string{"BTC", "ETH", "SOL", "ADA", "XRP"}

var supportedSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(SupportedSymbols))
	for _, s := range SupportedSymbols {
		m[s] = struct{}{}
	}
	return m
}()

func IsSupportedSymbol(symbol string) bool {
	_, ok := supportedSet[symbol]
	return ok
}
