// Package analytics summarizes a stock's price history.
//
// Summaries are descriptive statistics, so they are reported as float64;
// the extreme closes are kept as exact decimals.
package analytics

import (
	"errors"
	"fmt"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"github.com/marketsim/market-engine/internal/model"
)

var ErrInsufficientHistory = errors.New("analytics: at least two price points required")

// StockStats describes one stock's recorded price path.
type StockStats struct {
	StockID       string          `json:"stock_id"`
	Ticker        string          `json:"ticker"`
	Points        int             `json:"points"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	MinClose      decimal.Decimal `json:"min_close"`
	MaxClose      decimal.Decimal `json:"max_close"`
	MeanClose     float64         `json:"mean_close"`
	MedianClose   float64         `json:"median_close"`
	ChangePercent float64         `json:"change_percent"` // first close to last close
	MeanReturn    float64         `json:"mean_return"`    // per point
	Volatility    float64         `json:"volatility"`     // stddev of per-point returns
	TotalVolume   int64           `json:"total_volume"`
}

// Summarize computes StockStats over s.PriceHistory.
func Summarize(s model.Stock) (StockStats, error) {
	h := s.PriceHistory
	if len(h) < 2 {
		return StockStats{}, fmt.Errorf("%w: %s has %d", ErrInsufficientHistory, s.Ticker, len(h))
	}

	out := StockStats{
		StockID:  s.ID,
		Ticker:   s.Ticker,
		Points:   len(h),
		From:     h[0].Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		To:       h[len(h)-1].Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		MinClose: h[0].Close,
		MaxClose: h[0].Close,
	}

	closes := make(stats.Float64Data, len(h))
	returns := make(stats.Float64Data, 0, len(h)-1)
	for i, p := range h {
		closes[i] = p.Close.InexactFloat64()
		out.MinClose = decimal.Min(out.MinClose, p.Close)
		out.MaxClose = decimal.Max(out.MaxClose, p.Close)
		out.TotalVolume += p.Volume
		if i > 0 && closes[i-1] != 0 {
			returns = append(returns, closes[i]/closes[i-1]-1)
		}
	}

	var err error
	if out.MeanClose, err = stats.Mean(closes); err != nil {
		return StockStats{}, fmt.Errorf("mean close: %w", err)
	}
	if out.MedianClose, err = stats.Median(closes); err != nil {
		return StockStats{}, fmt.Errorf("median close: %w", err)
	}
	if out.MeanReturn, err = stats.Mean(returns); err != nil {
		return StockStats{}, fmt.Errorf("mean return: %w", err)
	}
	if out.Volatility, err = stats.StandardDeviation(returns); err != nil {
		return StockStats{}, fmt.Errorf("return stddev: %w", err)
	}

	first := closes[0]
	if first != 0 {
		out.ChangePercent, _ = stats.Round((closes[len(closes)-1]/first-1)*100, 6)
	}
	return out, nil
}
