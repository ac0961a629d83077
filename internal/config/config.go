// Package config loads runtime settings from the environment, with an
// optional .env file, and sets up structured logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds every runtime setting.
type Config struct {
	Port         string
	DatabaseURL  string // PostgreSQL journal; empty disables it
	RedisURL     string // cache in front of the PostgreSQL journal
	SQLitePath   string // SQLite journal, used when DatabaseURL is empty
	CacheTTL     time.Duration
	TickInterval time.Duration
	Seed         uint64 // 0 picks a time-based seed
	InitialCash  decimal.Decimal
	UserID       string
	LogLevel     slog.Level
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SQLITE_PATH", "")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("TICK_INTERVAL", "3s")
	v.SetDefault("SEED", 0)
	v.SetDefault("INITIAL_CASH", "100000")
	v.SetDefault("USER_ID", "user-1")
	v.SetDefault("LOG_LEVEL", "info")

	cacheTTL, err := time.ParseDuration(v.GetString("CACHE_TTL"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	interval, err := time.ParseDuration(v.GetString("TICK_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid TICK_INTERVAL: must be positive, got %s", interval)
	}
	cash, err := decimal.NewFromString(v.GetString("INITIAL_CASH"))
	if err != nil {
		return nil, fmt.Errorf("invalid INITIAL_CASH: %w", err)
	}
	if !cash.IsPositive() {
		return nil, fmt.Errorf("invalid INITIAL_CASH: must be positive, got %s", cash)
	}
	level, err := ParseLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:         v.GetString("PORT"),
		DatabaseURL:  v.GetString("DATABASE_URL"),
		RedisURL:     v.GetString("REDIS_URL"),
		SQLitePath:   v.GetString("SQLITE_PATH"),
		CacheTTL:     cacheTTL,
		TickInterval: interval,
		Seed:         v.GetUint64("SEED"),
		InitialCash:  cash,
		UserID:       v.GetString("USER_ID"),
		LogLevel:     level,
	}

	if cfg.UserID == "" {
		return nil, fmt.Errorf("USER_ID must not be empty")
	}
	return cfg, nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

// InitLogger installs a JSON slog logger tagged with service as the default
// and returns it.
func InitLogger(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)
	return logger
}
