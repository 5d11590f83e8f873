// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	DiscordBotToken  string
	TelegramBotToken string

	DatabaseDriver string
	DatabasePath   string
	DatabaseURL    string
	StoreTimeout   time.Duration

	LogLevel string
	OwnerIDs []string

	OfferPollInterval    time.Duration
	PriceCheckInterval   time.Duration
	LedgerRetention      time.Duration
	LedgerPurgeInterval  time.Duration
	SessionTimeout       time.Duration
	BroadcastConcurrency int

	FeedURLs    []string
	FeedInclude []string
	FeedExclude []string
	HTTPAddr    string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}

	cfg := &Config{
		DiscordBotToken:  token,
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseDriver:   strings.ToLower(envOrDefault("DATABASE_DRIVER", DriverSQLite)),
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/bot.db"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		OwnerIDs:         splitList(os.Getenv("OWNER_IDS")),
		FeedURLs:         splitList(os.Getenv("FEED_URLS")),
		FeedInclude:      splitList(os.Getenv("FEED_INCLUDE")),
		FeedExclude:      splitList(os.Getenv("FEED_EXCLUDE")),
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
	}

	switch cfg.DatabaseDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"STORE_TIMEOUT", "10s", &cfg.StoreTimeout},
		{"OFFER_POLL_INTERVAL", "1h", &cfg.OfferPollInterval},
		{"PRICE_CHECK_INTERVAL", "3h", &cfg.PriceCheckInterval},
		{"LEDGER_RETENTION", "336h", &cfg.LedgerRetention},
		{"LEDGER_PURGE_INTERVAL", "24h", &cfg.LedgerPurgeInterval},
		{"SESSION_TIMEOUT", "120s", &cfg.SessionTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(envOrDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%s must be positive", d.key)
		}
		*d.dst = v
	}

	if cfg.LedgerRetention < 24*time.Hour {
		return nil, fmt.Errorf("LEDGER_RETENTION must be at least 24h")
	}
	if cfg.SessionTimeout < 60*time.Second || cfg.SessionTimeout > 120*time.Second {
		return nil, fmt.Errorf("SESSION_TIMEOUT must be between 60s and 120s")
	}

	concurrency, err := strconv.Atoi(envOrDefault("BROADCAST_CONCURRENCY", "5"))
	if err != nil || concurrency < 1 {
		return nil, fmt.Errorf("invalid BROADCAST_CONCURRENCY %q", os.Getenv("BROADCAST_CONCURRENCY"))
	}
	cfg.BroadcastConcurrency = concurrency

	return cfg, nil
}

// IsOwner reports whether a Discord user is privileged.
func (c *Config) IsOwner(userID string) bool {
	return slices.Contains(c.OwnerIDs, userID)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
