package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/marketsim/market-engine/internal/analytics"
	"github.com/marketsim/market-engine/internal/export"
	"github.com/marketsim/market-engine/internal/model"
	"github.com/marketsim/market-engine/internal/sim"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a number of ticks headless and print the movers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ticks, _ := cmd.Flags().GetInt("ticks")
		top, _ := cmd.Flags().GetInt("top")
		if ticks < 0 {
			return fmt.Errorf("--ticks must not be negative, got %d", ticks)
		}

		start, end := runHeadless(cmd.Context(), cfg.Seed, cfg.TickInterval, ticks)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "After %d ticks (seed %d):\n\n", end.Tick, cfg.Seed)
		renderMovers(out, start.Stocks, end.Stocks, top)
		fmt.Fprintln(out)
		renderIndices(out, start.Indices, end.Indices)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run a number of ticks headless and write every price history to CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		ticks, _ := cmd.Flags().GetInt("ticks")
		path, _ := cmd.Flags().GetString("out")
		if ticks < 0 {
			return fmt.Errorf("--ticks must not be negative, got %d", ticks)
		}

		_, snap := runHeadless(cmd.Context(), cfg.Seed, cfg.TickInterval, ticks)
		if err := export.WritePricesFile(path, snap.Stocks); err != nil {
			return err
		}
		if idxPath, _ := cmd.Flags().GetString("indices-out"); idxPath != "" {
			if err := export.WriteIndicesFile(idxPath, snap.Indices); err != nil {
				return err
			}
		}
		slog.Info("price history exported", "path", path, "stocks", len(snap.Stocks), "ticks", snap.Tick)
		return nil
	},
}

func init() {
	simulateCmd.Flags().Int("ticks", 20, "number of ticks to run")
	simulateCmd.Flags().Int("top", 10, "movers to show in each direction")

	exportCmd.Flags().Int("ticks", 20, "number of ticks to run before exporting")
	exportCmd.Flags().String("out", "prices.csv", "price history CSV path")
	exportCmd.Flags().String("indices-out", "", "optional index values CSV path")
}

// runHeadless builds a market from seed and advances it ticks times on a
// stepped clock, so the same seed always yields the same prices. It returns
// the initial and final snapshots.
func runHeadless(ctx context.Context, seed uint64, interval time.Duration, ticks int) (start, end *model.Snapshot) {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		cfg.Seed = seed
	}
	now := time.Now().UTC().Truncate(time.Minute)
	engine := sim.New(sim.Options{
		Rand:     newRand(seed),
		Clock:    func() time.Time { return now },
		Interval: interval,
	})
	start = engine.Snapshot()
	for range ticks {
		now = now.Add(interval)
		engine.Tick(ctx)
	}
	return start, engine.Snapshot()
}

type mover struct {
	stock  model.Stock
	start  decimal.Decimal
	change decimal.Decimal
	vol    float64
}

func renderMovers(w io.Writer, before, after []model.Stock, top int) {
	movers := make([]mover, 0, len(after))
	for i, st := range after {
		base := before[i].CurrentPrice
		change := decimal.Zero
		if !base.IsZero() {
			change = st.CurrentPrice.Div(base).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
		}
		m := mover{stock: st, start: base, change: change}
		if s, err := analytics.Summarize(st); err == nil {
			m.vol = s.Volatility
		}
		movers = append(movers, m)
	}
	sort.SliceStable(movers, func(i, j int) bool { return movers[i].change.GreaterThan(movers[j].change) })

	rows := movers
	if top > 0 && 2*top < len(movers) {
		rows = append(movers[:top:top], movers[len(movers)-top:]...)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Ticker", "Sector", "Start", "Last", "Change %", "High", "Low", "Volatility"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, m := range rows {
		table.Append([]string{
			m.stock.Ticker,
			m.stock.Sector,
			m.start.StringFixed(2),
			m.stock.CurrentPrice.StringFixed(2),
			m.change.StringFixed(2),
			m.stock.DayHigh.StringFixed(2),
			m.stock.DayLow.StringFixed(2),
			fmt.Sprintf("%.4f", m.vol),
		})
	}
	table.Render()
}

func renderIndices(w io.Writer, before, after []model.Index) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Index", "Components", "Start", "Last", "Change %"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for i, idx := range after {
		base := before[i].CurrentValue
		change := decimal.Zero
		if !base.IsZero() {
			change = idx.CurrentValue.Div(base).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
		}
		table.Append([]string{
			idx.Ticker,
			fmt.Sprint(len(idx.Components)),
			base.StringFixed(2),
			idx.CurrentValue.StringFixed(2),
			change.StringFixed(2),
		})
	}
	table.Render()
}
