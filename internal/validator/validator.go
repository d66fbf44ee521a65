package validator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"quotekeeper/internal/domain"
)

// Outcome scores a single quote's plausibility.
type Outcome struct {
	IsValid    bool     `json:"is_valid"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues,omitempty"`
}

// CrossOutcome is the consensus over multiple quotes for one symbol.
type CrossOutcome struct {
	Consensus     *domain.Quote `json:"consensus"`
	Confidence    float64       `json:"confidence"`
	Discrepancies []string      `json:"discrepancies,omitempty"`
}

const (
	// Prices above this are treated as upstream garbage.
	maxPlausiblePriceUSD = 1e9
	// Quotes older than this are considered stale.
	maxQuoteAge = 10 * time.Minute
	// Tolerance for upstream clock skew.
	maxFutureSkew = time.Minute
)

// Validator scores single quotes and cross-checks sets of quotes for
// consistency. Stateless apart from its thresholds.
type Validator struct {
	varianceThreshold float64

	now func() time.Time
}

// New builds a validator. varianceThreshold is the max tolerated
// (max-min)/min price spread across sources, as a fraction.
func New(varianceThreshold float64) *Validator {
	if varianceThreshold <= 0 {
		varianceThreshold = 0.05
	}
	return &Validator{varianceThreshold: varianceThreshold, now: time.Now}
}

// Validate checks one quote. A quote with any issue is invalid; the
// confidence reflects how badly it failed.
func (v *Validator) Validate(q *domain.Quote) Outcome {
	var issues []string
	if q == nil {
		return Outcome{IsValid: false, Confidence: 0, Issues: []string{"quote is nil"}}
	}

	if q.Symbol == "" {
		issues = append(issues, "symbol is empty")
	}
	if q.PriceUSD <= 0 {
		issues = append(issues, fmt.Sprintf("price %.4f is not positive", q.PriceUSD))
	}
	if q.PriceUSD > maxPlausiblePriceUSD {
		issues = append(issues, fmt.Sprintf("price %.2f exceeds plausibility ceiling", q.PriceUSD))
	}
	if q.Volume24h < 0 {
		issues = append(issues, "volume is negative")
	}
	if q.Source == "" {
		issues = append(issues, "source is empty")
	}
	switch {
	case q.FetchedAt.IsZero():
		issues = append(issues, "fetched_at is zero")
	case v.now().Sub(q.FetchedAt) > maxQuoteAge:
		issues = append(issues, fmt.Sprintf("quote is stale (%s old)", v.now().Sub(q.FetchedAt).Round(time.Second)))
	case q.FetchedAt.Sub(v.now()) > maxFutureSkew:
		issues = append(issues, "fetched_at is in the future")
	}

	confidence := clamp(1-0.35*float64(len(issues)), 0, 1)
	return Outcome{
		IsValid:    len(issues) == 0,
		Confidence: confidence,
		Issues:     issues,
	}
}

// CrossValidate picks a consensus quote from multiple sources. Quotes with
// a zero price are excluded before ranking. The winner is the quote from
// the lowest priority number; ties break on the most recent FetchedAt,
// then on source name, so the result never depends on collection order.
func (v *Validator) CrossValidate(quotes []*domain.Quote) CrossOutcome {
	candidates := make([]*domain.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q != nil && q.PriceUSD > 0 {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		return CrossOutcome{Confidence: 0}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.FetchedAt.Equal(b.FetchedAt) {
			return a.FetchedAt.After(b.FetchedAt)
		}
		return a.Source < b.Source
	})
	winner := candidates[0]

	if len(candidates) == 1 {
		return CrossOutcome{Consensus: winner, Confidence: 1}
	}

	minQ, maxQ := candidates[0], candidates[0]
	for _, q := range candidates[1:] {
		if q.PriceUSD < minQ.PriceUSD {
			minQ = q
		}
		if q.PriceUSD > maxQ.PriceUSD {
			maxQ = q
		}
	}
	spread := (maxQ.PriceUSD - minQ.PriceUSD) / minQ.PriceUSD

	var discrepancies []string
	if spread > v.varianceThreshold {
		discrepancies = append(discrepancies, fmt.Sprintf(
			"price spread %.2f%% between %s (%.4f) and %s (%.4f) exceeds %.2f%% threshold",
			spread*100, minQ.Source, minQ.PriceUSD, maxQ.Source, maxQ.PriceUSD, v.varianceThreshold*100,
		))
	}

	return CrossOutcome{
		Consensus:     winner,
		Confidence:    clamp(1-spread, 0, 1),
		Discrepancies: discrepancies,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
