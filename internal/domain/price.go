package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource holds a single exchange price reading used for weighted
// averaging (grounded on the teacher's price_service.go PriceSource type).
type PriceSource struct {
	Exchange  string          `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	Weight    decimal.Decimal `json:"weight"` // 0-100 integer stored as decimal
	FetchedAt time.Time       `json:"fetchedAt"`
}

// PriceSnapshot is the single-writer cell described in §4.1: a consistent
// reading of all three tracked assets plus the time it was produced.
type PriceSnapshot struct {
	BTC       decimal.Decimal `json:"btc"`
	ETH       decimal.Decimal `json:"eth"`
	SOL       decimal.Decimal `json:"sol"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceMaxAge is the staleness threshold from §4.1 (~10s).
const PriceMaxAge = 10 * time.Second

// IsStale reports whether the snapshot is older than PriceMaxAge relative
// to now.
func (s PriceSnapshot) IsStale(now time.Time) bool {
	if s.Timestamp.IsZero() {
		return true
	}
	return now.Sub(s.Timestamp) > PriceMaxAge
}

// For returns the price for the given asset, and false for an unknown
// symbol.
func (s PriceSnapshot) For(a Asset) (decimal.Decimal, bool) {
	switch a {
	case AssetBTC:
		return s.BTC, true
	case AssetETH:
		return s.ETH, true
	case AssetSOL:
		return s.SOL, true
	default:
		return decimal.Zero, false
	}
}

// WeightedAverage computes a weighted average price from multiple sources,
// re-normalising over whichever sources succeeded (§4.1 partial-failure
// tolerance). Returns (zero, false) if no valid sources are given.
func WeightedAverage(sources []PriceSource) (decimal.Decimal, bool) {
	var sumWeighted, sumWeights decimal.Decimal
	for _, s := range sources {
		if s.Price.IsZero() || s.Weight.IsZero() {
			continue
		}
		sumWeighted = sumWeighted.Add(s.Price.Mul(s.Weight))
		sumWeights = sumWeights.Add(s.Weight)
	}
	if sumWeights.IsZero() {
		return decimal.Zero, false
	}
	return sumWeighted.Div(sumWeights), true
}
