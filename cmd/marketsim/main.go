// marketsim runs the simulated stock market: as an HTTP/WebSocket service,
// or headless for a fixed number of ticks.
package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketsim/market-engine/internal/config"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "marketsim",
	Short: "Simulated stock market with a single-user trading ledger",
	Long: `marketsim generates a universe of 100 stocks and 5 indices, moves their
prices on a fixed interval and lets one user trade them with market and
limit orders against a cash portfolio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if s, _ := cmd.Flags().GetString("log-level"); s != "" {
			if cfg.LogLevel, err = config.ParseLevel(s); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("seed") {
			cfg.Seed, _ = cmd.Flags().GetUint64("seed")
		}
		config.InitLogger("marketsim", cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().Uint64("seed", 0, "random seed (0 picks a time-based seed)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(exportCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Skip config loading.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("marketsim %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// newRand returns a PCG source for seed, or a time-seeded one when seed is 0.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}
