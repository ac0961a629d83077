// Package evolution advances the simulated market by one tick.
//
// Both functions are pure: they return new slices and never modify their
// inputs, so a previously published snapshot stays valid while the next one
// is built.
package evolution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
	"github.com/marketsim/market-engine/internal/pricegen"
)

// HistoryLimit bounds price and value histories after every tick; the
// oldest entries are evicted first. A freshly built universe carries more
// and is trimmed by its first tick.
const HistoryLimit = 150

const (
	minTickVolume  = 10_000
	tickVolumeSpan = 90_000
)

// Advance moves every stock's price by one Drift step, clamped at
// model.MinPrice, and appends the tick to its history.
func Advance(rng pricegen.Rand, now time.Time, stocks []model.Stock) []model.Stock {
	out := make([]model.Stock, len(stocks))
	for i, s := range stocks {
		old := s.CurrentPrice
		next := decimal.Max(pricegen.Step(rng, old, s.Volatility, s.Trend), model.MinPrice)

		point := model.PricePoint{
			Timestamp: now,
			Open:      old,
			High:      decimal.Max(old, next),
			Low:       decimal.Min(old, next),
			Close:     next,
			Volume:    int64(minTickVolume + rng.IntN(tickVolumeSpan)),
		}

		s.PreviousPrice = old
		s.CurrentPrice = next
		s.DayHigh = decimal.Max(s.DayHigh, next)
		s.DayLow = decimal.Min(s.DayLow, next)
		s.PriceHistory = appendBounded(s.PriceHistory, point, HistoryLimit)
		out[i] = s
	}
	return out
}

// RecomputeIndices sets each index to the mean current price of its
// components found in stocks. An index with no component present keeps its
// previous value.
func RecomputeIndices(now time.Time, indices []model.Index, stocks []model.Stock) []model.Index {
	prices := make(map[string]decimal.Decimal, len(stocks))
	for _, s := range stocks {
		prices[s.ID] = s.CurrentPrice
	}

	out := make([]model.Index, len(indices))
	for i, idx := range indices {
		sum := decimal.Zero
		var n int64
		for _, id := range idx.Components {
			if p, ok := prices[id]; ok {
				sum = sum.Add(p)
				n++
			}
		}

		value := idx.CurrentValue
		if n > 0 {
			value = sum.Div(decimal.NewFromInt(n)).Round(model.PriceScale)
		}

		idx.PreviousValue = idx.CurrentValue
		idx.CurrentValue = value
		idx.DayHigh = decimal.Max(idx.DayHigh, value)
		idx.DayLow = decimal.Min(idx.DayLow, value)
		idx.ValueHistory = appendBounded(idx.ValueHistory, model.IndexValuePoint{Timestamp: now, Value: value}, HistoryLimit)
		out[i] = idx
	}
	return out
}

// appendBounded returns a fresh slice holding the newest limit elements of
// s followed by v. s itself is never written to.
func appendBounded[T any](s []T, v T, limit int) []T {
	keep := s
	if len(keep) >= limit {
		keep = keep[len(keep)-limit+1:]
	}
	out := make([]T, 0, len(keep)+1)
	out = append(out, keep...)
	return append(out, v)
}
