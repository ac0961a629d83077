// Package universe builds the fixed set of simulated stocks and the composite
// indices derived from them.
package universe

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
	"github.com/marketsim/market-engine/internal/pricegen"
)

const (
	// StockCount is the number of stocks in every universe.
	StockCount = 100

	HistoryDays  = 30
	PointsPerDay = 5

	// MainIndexSize is how many of the largest stocks MAIN tracks.
	MainIndexSize = 30
	// SectorIndexSize caps the components of a sector index.
	SectorIndexSize = 20
)

var companyPrefixes = []string{
	"Quantum", "Nexus", "Apex", "Synergy", "Global", "Infinite", "Horizon", "Pioneer", "Elite",
	"Prime", "Fusion", "Vortex", "Dynamic", "Strategic", "Integrated", "Advanced", "Universal",
	"Precision", "Innovative", "Catalyst", "Summit", "Titan", "Vector", "Stellar", "Olympus",
}

var companySuffixes = []string{
	"Systems", "Technologies", "Dynamics", "Solutions", "Innovations", "Corp", "Industries", "Enterprises",
	"Networks", "Labs", "Robotics", "Ventures", "Group", "Holdings", "Communications", "Analytics",
	"Micro", "Energy", "Logistics", "Aviation", "Pharmaceuticals", "BioScience", "Manufacturing", "Telecom",
}

// Sectors is the fixed sector list stocks are drawn from.
var Sectors = []string{
	"Technology", "Finance", "Healthcare", "Energy", "Consumer Goods", "Industrials",
	"Telecommunications", "Utilities", "Materials", "Real Estate",
}

// IndexSpec names an index and, for sector indices, the sector it tracks.
type IndexSpec struct {
	Ticker string
	Sector string // empty for MAIN
}

// IndexSpecs lists the indices every universe carries, in order.
var IndexSpecs = []IndexSpec{
	{Ticker: "MAIN"},
	{Ticker: "TECH", Sector: "Technology"},
	{Ticker: "FIN", Sector: "Finance"},
	{Ticker: "HEALTH", Sector: "Healthcare"},
	{Ticker: "ENERGY", Sector: "Energy"},
}

// Build creates StockCount stocks and one index per IndexSpecs entry.
//
// Index components must be non-empty, so a universe in which some indexed
// sector has no stock is discarded and redrawn from the same source.
func Build(rng pricegen.Rand, now time.Time) ([]model.Stock, []model.Index) {
	for {
		used := make(map[string]bool, StockCount)
		stocks := make([]model.Stock, 0, StockCount)
		for i := 0; i < StockCount; i++ {
			stocks = append(stocks, newStock(rng, now, used))
		}

		if indices, ok := buildIndices(stocks); ok {
			return stocks, indices
		}
	}
}

// newTicker draws a 3-letter (70%) or 4-letter (30%) symbol not yet in used.
func newTicker(rng pricegen.Rand, used map[string]bool) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for {
		n := 3
		if rng.Float64() > 0.7 {
			n = 4
		}
		b := make([]byte, n)
		for i := range b {
			b[i] = letters[rng.IntN(len(letters))]
		}
		ticker := string(b)
		if !used[ticker] {
			used[ticker] = true
			return ticker
		}
	}
}

func newStock(rng pricegen.Rand, now time.Time, used map[string]bool) model.Stock {
	ticker := newTicker(rng, used)
	name := companyPrefixes[rng.IntN(len(companyPrefixes))] + " " + companySuffixes[rng.IntN(len(companySuffixes))]
	sector := Sectors[rng.IntN(len(Sectors))]
	initialPrice := decimal.NewFromFloat(50 + rng.Float64()*1950).Round(model.PriceScale)
	volatility := 0.01 + rng.Float64()*0.04
	trend := rng.Float64()*0.02 - 0.01

	history := pricegen.GenerateHistory(rng, now, pricegen.Params{
		BasePrice:    initialPrice,
		Days:         HistoryDays,
		PointsPerDay: PointsPerDay,
		Volatility:   volatility,
		Trend:        trend,
	})

	current := history[len(history)-1].Close
	previous := initialPrice
	if len(history) > 1 {
		previous = history[len(history)-2].Close
	}

	today := history[max(0, len(history)-PointsPerDay):]
	dayHigh, dayLow := today[0].High, today[0].Low
	var volume int64
	for _, p := range today {
		dayHigh = decimal.Max(dayHigh, p.High)
		dayLow = decimal.Min(dayLow, p.Low)
		volume += p.Volume
	}

	shares := int64(10_000_000 + rng.IntN(990_000_000))

	return model.Stock{
		ID:            uuid.New().String(),
		Ticker:        ticker,
		Name:          name,
		Sector:        sector,
		InitialPrice:  initialPrice,
		CurrentPrice:  current,
		PreviousPrice: previous,
		DayOpen:       today[0].Open,
		DayHigh:       dayHigh,
		DayLow:        dayLow,
		MarketCap:     current.Mul(decimal.NewFromInt(shares)),
		Volume:        volume,
		Volatility:    volatility,
		Trend:         trend,
		PriceHistory:  history,
	}
}

// buildIndices derives the IndexSpecs indices. ok is false when some index
// would have no components.
func buildIndices(stocks []model.Stock) ([]model.Index, bool) {
	indices := make([]model.Index, 0, len(IndexSpecs))
	for _, spec := range IndexSpecs {
		components := componentsFor(spec, stocks)
		if len(components) == 0 {
			return nil, false
		}
		indices = append(indices, newIndex(spec.Ticker, components, stocks))
	}
	return indices, true
}

// componentsFor returns MAIN's top stocks by market cap, or the first
// SectorIndexSize stocks of the spec's sector in universe order.
func componentsFor(spec IndexSpec, stocks []model.Stock) []model.Stock {
	if spec.Sector == "" {
		sorted := append([]model.Stock(nil), stocks...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].MarketCap.GreaterThan(sorted[j].MarketCap)
		})
		return sorted[:min(MainIndexSize, len(sorted))]
	}

	var members []model.Stock
	for _, s := range stocks {
		if s.Sector == spec.Sector {
			members = append(members, s)
			if len(members) == SectorIndexSize {
				break
			}
		}
	}
	return members
}

func newIndex(ticker string, members, stocks []model.Stock) model.Index {
	ids := make([]string, len(members))
	initialSum := decimal.Zero
	closes := make([]map[int64]decimal.Decimal, len(members))
	for i, m := range members {
		ids[i] = m.ID
		initialSum = initialSum.Add(m.InitialPrice)
		closes[i] = make(map[int64]decimal.Decimal, len(m.PriceHistory))
		for _, p := range m.PriceHistory {
			closes[i][p.Timestamp.UnixMilli()] = p.Close
		}
	}
	n := decimal.NewFromInt(int64(len(members)))
	initialValue := initialSum.Div(n).Round(model.PriceScale)

	// Histories are generated on one time grid, so the first stock's
	// timestamps are every stock's timestamps. A component missing a
	// timestamp contributes zero.
	history := make([]model.IndexValuePoint, 0, len(stocks[0].PriceHistory))
	for _, p := range stocks[0].PriceHistory {
		sum := decimal.Zero
		for _, c := range closes {
			sum = sum.Add(c[p.Timestamp.UnixMilli()])
		}
		history = append(history, model.IndexValuePoint{
			Timestamp: p.Timestamp,
			Value:     sum.Div(n).Round(model.PriceScale),
		})
	}

	last := len(history) - 1
	previous, dayOpen := initialValue, initialValue
	if last >= 1 {
		previous = history[last-1].Value
	}
	if len(history) >= PointsPerDay {
		dayOpen = history[len(history)-PointsPerDay].Value
	}

	recent := history[max(0, len(history)-PointsPerDay):]
	dayHigh, dayLow := recent[0].Value, recent[0].Value
	for _, v := range recent[1:] {
		dayHigh = decimal.Max(dayHigh, v.Value)
		dayLow = decimal.Min(dayLow, v.Value)
	}

	return model.Index{
		ID:            uuid.New().String(),
		Ticker:        ticker,
		Name:          ticker + " Index",
		Components:    ids,
		CurrentValue:  history[last].Value,
		PreviousValue: previous,
		DayOpen:       dayOpen,
		DayHigh:       dayHigh,
		DayLow:        dayLow,
		ValueHistory:  history,
	}
}
