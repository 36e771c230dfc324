// Package config handles loading and validating configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"solana-volume-guard/internal/domain"
)

// Journal backends.
const (
	JournalOff        = "off"
	JournalMemory     = "memory"
	JournalPostgres   = "postgres"
	JournalClickHouse = "clickhouse"
)

// Config holds all configuration values for the guard.
type Config struct {
	// Solana
	RPCEndpoint string
	WSEndpoint  string

	// Session
	TrackedMint     string
	SwapProgram     string
	InternalWallets []string
	Threshold       decimal.Decimal
	Window          time.Duration
	Cooldown        time.Duration
	SimulateOnly    bool

	// Liquidation
	LiquidatorCmd string

	// Processing
	DedupCapacity        int
	PriorityQueueSize    int
	MaxBackgroundWorkers int
	ResolveTimeout       time.Duration
	StatusInterval       time.Duration

	// Journal
	Journal       string
	PostgresDSN   string
	ClickHouseDSN string

	// Observability
	MetricsAddr string
	LogFormat   string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults.
// Malformed values fail Load; missing or out-of-range values are left to Validate.
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	var errs []error
	threshold, err := getEnvDecimal("THRESHOLD_SOL", decimal.NewFromInt(10))
	errs = append(errs, err)
	window, err := getEnvDuration("WINDOW", domain.DefaultWindow)
	errs = append(errs, err)
	cooldown, err := getEnvDuration("COOLDOWN", domain.DefaultCooldown)
	errs = append(errs, err)
	resolveTimeout, err := getEnvDuration("RESOLVE_TIMEOUT", 15*time.Second)
	errs = append(errs, err)
	statusInterval, err := getEnvDuration("STATUS_INTERVAL", 10*time.Second)
	errs = append(errs, err)
	simulate, err := getEnvBool("SIMULATE_ONLY", false)
	errs = append(errs, err)
	dedupCap, err := getEnvInt("DEDUP_CAPACITY", 1000)
	errs = append(errs, err)
	queueSize, err := getEnvInt("PRIORITY_QUEUE_SIZE", 64)
	errs = append(errs, err)
	workers, err := getEnvInt("MAX_BACKGROUND_WORKERS", 32)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &Config{
		RPCEndpoint: getEnv("RPC_ENDPOINT", "https://api.mainnet-beta.solana.com"),
		WSEndpoint:  getEnv("WS_ENDPOINT", "wss://api.mainnet-beta.solana.com"),

		TrackedMint:     getEnv("TRACKED_MINT", ""),
		SwapProgram:     getEnv("SWAP_PROGRAM", ""),
		InternalWallets: SplitList(getEnv("INTERNAL_WALLETS", "")),
		Threshold:       threshold,
		Window:          window,
		Cooldown:        cooldown,
		SimulateOnly:    simulate,

		LiquidatorCmd: getEnv("LIQUIDATOR_CMD", ""),

		DedupCapacity:        dedupCap,
		PriorityQueueSize:    queueSize,
		MaxBackgroundWorkers: workers,
		ResolveTimeout:       resolveTimeout,
		StatusInterval:       statusInterval,

		Journal:       strings.ToLower(getEnv("JOURNAL", JournalMemory)),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		ClickHouseDSN: getEnv("CLICKHOUSE_DSN", ""),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogFormat:   strings.ToLower(getEnv("LOG_FORMAT", "json")),
	}, nil
}

// Validate checks that required configuration values are set and valid. Every
// problem is reported.
func (c *Config) Validate() error {
	var errs []error
	if c.RPCEndpoint == "" {
		errs = append(errs, errors.New("RPC_ENDPOINT is required"))
	}
	if c.WSEndpoint == "" {
		errs = append(errs, errors.New("WS_ENDPOINT is required"))
	}
	if c.TrackedMint == "" {
		errs = append(errs, errors.New("TRACKED_MINT is required"))
	}
	if c.SwapProgram == "" {
		errs = append(errs, errors.New("SWAP_PROGRAM is required"))
	}
	if !c.Threshold.IsPositive() {
		errs = append(errs, errors.New("THRESHOLD_SOL must be positive"))
	}
	if c.Window <= 0 {
		errs = append(errs, errors.New("WINDOW must be positive"))
	}
	if c.Cooldown <= 0 {
		errs = append(errs, errors.New("COOLDOWN must be positive"))
	}
	if !c.SimulateOnly && c.LiquidatorCmd == "" {
		errs = append(errs, errors.New("LIQUIDATOR_CMD is required unless SIMULATE_ONLY is set"))
	}
	if c.DedupCapacity < 1 {
		errs = append(errs, errors.New("DEDUP_CAPACITY must be at least 1"))
	}
	if c.PriorityQueueSize < 1 {
		errs = append(errs, errors.New("PRIORITY_QUEUE_SIZE must be at least 1"))
	}
	if c.MaxBackgroundWorkers < 1 {
		errs = append(errs, errors.New("MAX_BACKGROUND_WORKERS must be at least 1"))
	}

	switch c.Journal {
	case JournalOff, JournalMemory:
	case JournalPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres journal"))
		}
	case JournalClickHouse:
		if c.ClickHouseDSN == "" {
			errs = append(errs, errors.New("CLICKHOUSE_DSN is required for the clickhouse journal"))
		}
	default:
		errs = append(errs, fmt.Errorf("JOURNAL must be one of off, memory, postgres, clickhouse, got %q", c.Journal))
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// ToSession builds the tracking session described by the configuration.
func (c *Config) ToSession() domain.TrackingSession {
	return domain.TrackingSession{
		Mint:            c.TrackedMint,
		SwapProgram:     c.SwapProgram,
		InternalWallets: append([]string(nil), c.InternalWallets...),
		Threshold:       c.Threshold,
		Window:          c.Window,
		Cooldown:        c.Cooldown,
		SimulateOnly:    c.SimulateOnly,
		Urgency:         domain.UrgencyHigh,
	}
}

// ReloadInternalWallets re-reads INTERNAL_WALLETS. A value in the .env file wins
// so that editing it takes effect; otherwise the process environment is used.
// The process environment is never modified.
func ReloadInternalWallets() []string {
	if vals, err := godotenv.Read(); err == nil {
		if v, ok := vals["INTERNAL_WALLETS"]; ok {
			return SplitList(v)
		}
	}
	return SplitList(getEnv("INTERNAL_WALLETS", ""))
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
