// Package config loads the venue's runtime configuration from
// environment variables and an optional .env file, per spec.md §6's
// enumerated configuration fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every field spec.md §6 names, plus the ambient fields a
// runnable process needs (listen address, log/data file locations)
// that the enumerated list leaves to the implementation.
type Config struct {
	// Required, no defaults.
	AdminSecretKey      string
	OrderbookContractID string
	ChainRPCURL         string

	// Timing, all with spec.md-specified defaults.
	TimestampSkewWindow   time.Duration
	OutgoingRetryMax      int
	OutgoingBackoffInitial time.Duration
	OutgoingBackoffCap     time.Duration
	IngestorPollInterval   time.Duration

	// Ambient process wiring, not named by spec.md §6 but required to
	// run: where to listen, where to log, where to persist state.
	ListenAddr string
	LogFile    string
	DataDir    string
	TxLogFile  string
}

// Default returns the configuration's zero-value-safe defaults; the
// three required fields are left empty and must come from the
// environment.
func Default() Config {
	return Config{
		TimestampSkewWindow:    300 * time.Second,
		OutgoingRetryMax:       5,
		OutgoingBackoffInitial: 250 * time.Millisecond,
		OutgoingBackoffCap:     10 * time.Second,
		IngestorPollInterval:   2 * time.Second,

		ListenAddr: ":8080",
		DataDir:    "./data",
		TxLogFile:  "./data/trades.log",
	}
}

// LoadFromEnv loads configuration from an optional .env file (if
// envPath is empty, from .env in the working directory) and then
// environment variables, following the same ENV > .env > defaults
// priority the teacher's loader uses.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.AdminSecretKey = os.Getenv("ADMIN_SECRET_KEY")
	cfg.OrderbookContractID = os.Getenv("ORDERBOOK_CONTRACT_ID")
	cfg.ChainRPCURL = os.Getenv("CHAIN_RPC_URL")

	if v := os.Getenv("TIMESTAMP_SKEW_WINDOW_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid TIMESTAMP_SKEW_WINDOW_SECONDS: %w", err)
		}
		cfg.TimestampSkewWindow = time.Duration(n) * time.Second
	}
	if v := os.Getenv("OUTGOING_RETRY_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid OUTGOING_RETRY_MAX: %w", err)
		}
		cfg.OutgoingRetryMax = n
	}
	if v := os.Getenv("OUTGOING_BACKOFF_INITIAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid OUTGOING_BACKOFF_INITIAL_MS: %w", err)
		}
		cfg.OutgoingBackoffInitial = time.Duration(n) * time.Millisecond
	}
	if v := os.Getenv("OUTGOING_BACKOFF_CAP_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid OUTGOING_BACKOFF_CAP_MS: %w", err)
		}
		cfg.OutgoingBackoffCap = time.Duration(n) * time.Millisecond
	}
	if v := os.Getenv("INGESTOR_POLL_INTERVAL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: invalid INGESTOR_POLL_INTERVAL_MS: %w", err)
		}
		cfg.IngestorPollInterval = time.Duration(n) * time.Millisecond
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TX_LOG_FILE"); v != "" {
		cfg.TxLogFile = v
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.AdminSecretKey == "" {
		return fmt.Errorf("config: ADMIN_SECRET_KEY is required")
	}
	if c.OrderbookContractID == "" {
		return fmt.Errorf("config: ORDERBOOK_CONTRACT_ID is required")
	}
	if c.ChainRPCURL == "" {
		return fmt.Errorf("config: CHAIN_RPC_URL is required")
	}
	return nil
}
