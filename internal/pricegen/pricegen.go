// Package pricegen generates synthetic price paths for simulated stocks.
//
// A path is a random walk: each step moves the price by a noise term scaled
// by volatility plus a one-sided bias scaled by trend. The same step
// formula drives the live price evolution, so a generated history and the
// ticks that follow it share one statistical shape.
//
// Randomness is always supplied by the caller through Rand, which keeps every
// function here deterministic for a seeded source.
package pricegen

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
)

// Rand is the random source threaded through every stochastic function.
// *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

const (
	// Day is the span one day of history covers.
	Day = 24 * time.Hour

	minHistoryVolume  = 50_000
	historyVolumeSpan = 950_000
)

// recoveryBand is the width of the random band a price floored during
// history generation is reset into: [MinPrice, MinPrice+recoveryBand).
var recoveryBand = decimal.NewFromInt(10)

// Params describes the path to generate.
type Params struct {
	BasePrice    decimal.Decimal
	Days         int
	PointsPerDay int
	Volatility   float64
	Trend        float64
}

// Drift returns the fractional price move for one step:
//
//	(U-0.5)*volatility + U*trend
//
// The trend term is not centred on zero; it pushes consistently in the
// trend's direction.
func Drift(rng Rand, volatility, trend float64) float64 {
	noise := (rng.Float64() - 0.5) * volatility
	bias := rng.Float64() * trend
	return noise + bias
}

// Step applies one Drift move to price.
func Step(rng Rand, price decimal.Decimal, volatility, trend float64) decimal.Decimal {
	change := price.Mul(decimal.NewFromFloat(Drift(rng, volatility, trend)))
	return price.Add(change).Round(model.PriceScale)
}

// GenerateHistory returns (Days+1)*PointsPerDay points, oldest first, spaced
// Day/PointsPerDay apart with the newest at now.
//
// A price that falls below model.MinPrice is reset to a random value just
// above it. That is a recovery, not a cap: the next step may move away
// again.
func GenerateHistory(rng Rand, now time.Time, p Params) []model.PricePoint {
	if p.PointsPerDay < 1 {
		p.PointsPerDay = 1
	}
	if p.Days < 0 {
		p.Days = 0
	}

	total := (p.Days + 1) * p.PointsPerDay
	interval := Day / time.Duration(p.PointsPerDay)
	start := now.Add(-time.Duration(total-1) * interval)

	history := make([]model.PricePoint, 0, total)
	price := p.BasePrice

	for i := 0; i < total; i++ {
		price = Step(rng, price, p.Volatility, p.Trend)
		if price.LessThan(model.MinPrice) {
			price = model.MinPrice.Add(recoveryBand.Mul(decimal.NewFromFloat(rng.Float64()))).Round(model.PriceScale)
		}

		history = append(history, bar(rng, start.Add(time.Duration(i)*interval), price, p.Volatility))
	}

	return history
}

// bar synthesizes an OHLC point around price.
func bar(rng Rand, ts time.Time, price decimal.Decimal, volatility float64) model.PricePoint {
	dayVol := price.Mul(decimal.NewFromFloat(volatility * 0.1))

	open := price
	closePrice := price.Add(dayVol.Mul(decimal.NewFromFloat(rng.Float64() - 0.5)))
	closePrice = decimal.Max(closePrice, model.MinPrice).Round(model.PriceScale)

	high := decimal.Max(open, closePrice).Add(dayVol.Mul(decimal.NewFromFloat(rng.Float64())))
	low := decimal.Min(open, closePrice).Sub(dayVol.Mul(decimal.NewFromFloat(rng.Float64())))

	return model.PricePoint{
		Timestamp: ts,
		Open:      open,
		High:      high.Round(model.PriceScale),
		Low:       low.Round(model.PriceScale),
		Close:     closePrice,
		Volume:    int64(minHistoryVolume + rng.IntN(historyVolumeSpan)),
	}
}
