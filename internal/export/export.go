// Package export writes simulation data as CSV.
package export

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/marketsim/market-engine/internal/model"
)

const timeLayout = time.RFC3339

// PriceRow is one OHLCV bar of one stock.
type PriceRow struct {
	Ticker    string `csv:"ticker"`
	Sector    string `csv:"sector"`
	Timestamp string `csv:"timestamp"`
	Open      string `csv:"open"`
	High      string `csv:"high"`
	Low       string `csv:"low"`
	Close     string `csv:"close"`
	Volume    int64  `csv:"volume"`
}

// IndexRow is one value point of one index.
type IndexRow struct {
	Ticker    string `csv:"ticker"`
	Timestamp string `csv:"timestamp"`
	Value     string `csv:"value"`
}

// FillRow is one journaled execution.
type FillRow struct {
	Timestamp string `csv:"timestamp"`
	OrderID   string `csv:"order_id"`
	Ticker    string `csv:"ticker"`
	Side      string `csv:"side"`
	Quantity  int64  `csv:"quantity"`
	Price     string `csv:"price"`
	Cost      string `csv:"cost"`
}

// PriceRows flattens every stock's history, stock by stock, oldest first.
func PriceRows(stocks []model.Stock) []PriceRow {
	var rows []PriceRow
	for _, s := range stocks {
		for _, p := range s.PriceHistory {
			rows = append(rows, PriceRow{
				Ticker:    s.Ticker,
				Sector:    s.Sector,
				Timestamp: p.Timestamp.UTC().Format(timeLayout),
				Open:      p.Open.StringFixed(2),
				High:      p.High.StringFixed(2),
				Low:       p.Low.StringFixed(2),
				Close:     p.Close.StringFixed(2),
				Volume:    p.Volume,
			})
		}
	}
	return rows
}

// IndexRows flattens every index's value history.
func IndexRows(indices []model.Index) []IndexRow {
	var rows []IndexRow
	for _, idx := range indices {
		for _, p := range idx.ValueHistory {
			rows = append(rows, IndexRow{
				Ticker:    idx.Ticker,
				Timestamp: p.Timestamp.UTC().Format(timeLayout),
				Value:     p.Value.StringFixed(2),
			})
		}
	}
	return rows
}

// FillRows converts journaled fills.
func FillRows(fills []model.Fill) []FillRow {
	rows := make([]FillRow, 0, len(fills))
	for _, f := range fills {
		rows = append(rows, FillRow{
			Timestamp: f.Timestamp.UTC().Format(timeLayout),
			OrderID:   f.OrderID,
			Ticker:    f.Ticker,
			Side:      string(f.Side),
			Quantity:  f.Quantity,
			Price:     f.Price.String(),
			Cost:      f.Cost.String(),
		})
	}
	return rows
}

// WritePrices writes the price history of stocks to w as CSV.
func WritePrices(w io.Writer, stocks []model.Stock) error {
	rows := PriceRows(stocks)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("marshal prices: %w", err)
	}
	return nil
}

// WriteIndices writes the value history of indices to w as CSV.
func WriteIndices(w io.Writer, indices []model.Index) error {
	rows := IndexRows(indices)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("marshal indices: %w", err)
	}
	return nil
}

// WriteFills writes fills to w as CSV.
func WriteFills(w io.Writer, fills []model.Fill) error {
	rows := FillRows(fills)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("marshal fills: %w", err)
	}
	return nil
}

// WritePricesFile writes the price history CSV to path, creating parent
// directories as needed.
func WritePricesFile(path string, stocks []model.Stock) error {
	rows := PriceRows(stocks)
	err := writeFile(path, func(file *os.File) error {
		if err := gocsv.MarshalFile(&rows, file); err != nil {
			return fmt.Errorf("marshal prices: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("exported price history", "path", path, "rows", len(rows), "stocks", len(stocks))
	return nil
}

// WriteIndicesFile writes the index value CSV to path, creating parent
// directories as needed.
func WriteIndicesFile(path string, indices []model.Index) error {
	return writeFile(path, func(file *os.File) error {
		return WriteIndices(file, indices)
	})
}

// writeFile creates path and runs write against it. A failed close is
// reported unless write already failed.
func writeFile(path string, write func(*os.File) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	return write(file)
}
