package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marketsim/market-engine/internal/config"
	"github.com/marketsim/market-engine/internal/metrics"
	"github.com/marketsim/market-engine/internal/sim"
	"github.com/marketsim/market-engine/internal/store"
	"github.com/marketsim/market-engine/internal/trade"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation behind the HTTP and WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Port, _ = cmd.Flags().GetString("port")
		}
		if cmd.Flags().Changed("interval") {
			cfg.TickInterval, _ = cmd.Flags().GetDuration("interval")
		}
		return serve(cfg)
	},
}

func init() {
	serveCmd.Flags().String("port", "", "HTTP port (overrides PORT)")
	serveCmd.Flags().Duration("interval", 0, "tick interval (overrides TICK_INTERVAL)")
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// --- Engine ---
	engine := sim.New(sim.Options{
		Rand:        newRand(cfg.Seed),
		UserID:      cfg.UserID,
		InitialCash: cfg.InitialCash,
		Interval:    cfg.TickInterval,
		Store:       st,
	})

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	if err := wsHub.Attach(engine); err != nil {
		return fmt.Errorf("attach ws hub: %w", err)
	}

	tradeSvc := trade.NewService(engine, st)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(tradeSvc, wsHub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return wsHub.Run(gctx) })
	g.Go(func() error {
		slog.Info("marketsim listening", "port", cfg.Port, "interval", cfg.TickInterval.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		slog.Info("shutting down marketsim...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("marketsim stopped")
	return nil
}

// openStore picks the fill journal: PostgreSQL (optionally behind Redis),
// then SQLite, then memory.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		var st store.Store = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
		return st, closeAll, nil

	case cfg.SQLitePath != "":
		sq, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using SQLite journal", "path", cfg.SQLitePath)
		return sq, func() { sq.Close() }, nil
	}

	slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory journal (fills will not persist)")
	return store.NewMemoryStore(), closeAll, nil
}

func newRouter(tradeSvc *trade.Service, wsHub *trade.WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"marketsim"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", wsHub.HandleWS)

		// Market data.
		r.Get("/stocks", tradeSvc.ListStocks)
		r.Get("/stocks/ticker/{ticker}", tradeSvc.GetStockByTicker)
		r.Get("/stocks/{stockID}", tradeSvc.GetStock)
		r.Get("/stocks/{stockID}/stats", tradeSvc.GetStockStats)
		r.Get("/stocks/{stockID}/fills", tradeSvc.GetStockFills)
		r.Get("/indices", tradeSvc.ListIndices)

		// Orders.
		r.Get("/orders", tradeSvc.ListOrders)
		r.Get("/orders/history", tradeSvc.ListOrderHistory)
		r.Get("/orders/{orderID}", tradeSvc.GetOrder)
		r.Post("/orders", tradeSvc.CreateOrder)
		r.Delete("/orders/{orderID}", tradeSvc.CancelOrder)

		// Portfolio.
		r.Get("/portfolio", tradeSvc.GetPortfolio)
		r.Get("/fills", tradeSvc.ListFills)
	})
	return r
}
