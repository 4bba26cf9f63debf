// Package config loads the duties-indexer's static options snapshot
// from the environment. Configuration loading is treated as an outside
// collaborator: the core only ever consumes the resulting Config value,
// so this package stays a thin env-var reader plus a thin CLI override
// layer (Flags, ApplyCLI) that cmd/ applies.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/valwatch/duties-indexer/internal/domain"
)

// Config holds runtime configuration for the duties-indexer service.
type Config struct {
	BeaconNodeURL string
	MevRelayURL   string

	CursorFile    string
	CursorInitial domain.Slot

	MaxConcurrentRequests int
	BatchSize             uint64
	PollingInterval       time.Duration
	EpochsBeforeFinal     uint64
	StaleThresholdSlots   uint64
	NotificationRateLimit time.Duration

	Validators map[domain.Label][]domain.ValidatorIndex

	TestMode       bool
	MetricsAddr    string
	LogLevel       string
}

const (
	validatorEnvPrefix = "VALIDATORS_"

	defaultBeaconURL            = "http://127.0.0.1:5052"
	defaultCursorFile            = "cursor.json"
	defaultMaxConcurrentRequests = 30
	defaultBatchSize             = uint64(100)
	defaultPollingIntervalSec    = 60
	defaultEpochsBeforeFinal     = uint64(1)
	defaultStaleThresholdSlots   = uint64(10)
	defaultNotificationRateLimitMs = 30 * 60 * 1000
)

// Load reads configuration from environment variables, applying
// sensible operational defaults for every parameter.
func Load() (*Config, error) {
	beaconURL := strings.TrimSpace(os.Getenv("BEACON_NODE_URL"))
	if beaconURL == "" {
		beaconURL = defaultBeaconURL
	}

	cfg := &Config{
		BeaconNodeURL:         beaconURL,
		MevRelayURL:           strings.TrimSpace(os.Getenv("MEV_RELAY_URL")),
		CursorFile:            envOrDefault("CURSOR_FILE", defaultCursorFile),
		MaxConcurrentRequests: defaultMaxConcurrentRequests,
		BatchSize:             defaultBatchSize,
		PollingInterval:       defaultPollingIntervalSec * time.Second,
		EpochsBeforeFinal:     defaultEpochsBeforeFinal,
		StaleThresholdSlots:   defaultStaleThresholdSlots,
		NotificationRateLimit: defaultNotificationRateLimitMs * time.Millisecond,
		TestMode:              envBool("TEST_MODE"),
		MetricsAddr:           strings.TrimSpace(os.Getenv("METRICS_ADDR")),
		LogLevel:              strings.TrimSpace(os.Getenv("LOG_LEVEL")),
	}

	var err error
	if cfg.MaxConcurrentRequests, err = envIntOrDefault("MAX_CONCURRENT_REQUESTS", defaultMaxConcurrentRequests); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = envUint64OrDefault("BATCH_SIZE", defaultBatchSize); err != nil {
		return nil, err
	}
	pollSec, err := envIntOrDefault("POLLING_INTERVAL_SEC", defaultPollingIntervalSec)
	if err != nil {
		return nil, err
	}
	cfg.PollingInterval = time.Duration(pollSec) * time.Second
	if cfg.EpochsBeforeFinal, err = envUint64OrDefault("EPOCHS_BEFORE_FINAL", defaultEpochsBeforeFinal); err != nil {
		return nil, err
	}
	if cfg.StaleThresholdSlots, err = envUint64OrDefault("STALE_THRESHOLD_SLOTS", defaultStaleThresholdSlots); err != nil {
		return nil, err
	}
	rateLimitMs, err := envIntOrDefault("NOTIFICATION_RATE_LIMIT_MS", defaultNotificationRateLimitMs)
	if err != nil {
		return nil, err
	}
	cfg.NotificationRateLimit = time.Duration(rateLimitMs) * time.Millisecond

	cursorInitial, err := envUint64OrDefault("CURSOR_INITIAL", 0)
	if err != nil {
		return nil, err
	}
	cfg.CursorInitial = domain.Slot(cursorInitial)

	cfg.Validators, err = parseValidators(os.Environ())
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseValidators reads every VALIDATORS_<LABEL>=idx,idx,... variable
// into a label -> indices map. An empty result is allowed here; the
// caller falls back to the beacon node's active validator set.
func parseValidators(environ []string) (map[domain.Label][]domain.ValidatorIndex, error) {
	out := make(map[domain.Label][]domain.ValidatorIndex)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, validatorEnvPrefix) {
			continue
		}
		label := domain.Label(strings.ToLower(strings.TrimPrefix(k, validatorEnvPrefix)))
		indices, err := parseIndexList(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", k, err)
		}
		if len(indices) > 0 {
			out[label] = indices
		}
	}
	return out, nil
}

func parseIndexList(raw string) ([]domain.ValidatorIndex, error) {
	parts := strings.Split(raw, ",")
	out := make([]domain.ValidatorIndex, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid validator index %q: %w", p, err)
		}
		out = append(out, domain.ValidatorIndex(n))
	}
	return out, nil
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func envIntOrDefault(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func envUint64OrDefault(key string, def uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

// ApplyCLI overrides cfg with any flags the operator set explicitly,
// following the Apply(ctx *cli.Context) pattern migalabs/goteth uses in
// pkg/config/config.go to layer CLI flags on top of env-derived
// defaults.
func (c *Config) ApplyCLI(ctx *cli.Context) {
	if ctx.IsSet("beacon-url") {
		c.BeaconNodeURL = ctx.String("beacon-url")
	}
	if ctx.IsSet("mev-relay-url") {
		c.MevRelayURL = ctx.String("mev-relay-url")
	}
	if ctx.IsSet("cursor-file") {
		c.CursorFile = ctx.String("cursor-file")
	}
	if ctx.IsSet("batch-size") {
		c.BatchSize = uint64(ctx.Int("batch-size"))
	}
	if ctx.IsSet("polling-interval-sec") {
		c.PollingInterval = time.Duration(ctx.Int("polling-interval-sec")) * time.Second
	}
	if ctx.IsSet("max-concurrent-requests") {
		c.MaxConcurrentRequests = ctx.Int("max-concurrent-requests")
	}
	if ctx.IsSet("test-mode") {
		c.TestMode = ctx.Bool("test-mode")
	}
	if ctx.IsSet("metrics-addr") {
		c.MetricsAddr = ctx.String("metrics-addr")
	}
	if ctx.IsSet("log-level") {
		c.LogLevel = ctx.String("log-level")
	}
}

// Flags lists the CLI flags cmd/main.go registers to override the
// environment-derived defaults.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "beacon-url", Usage: "beacon node base URL"},
		&cli.StringFlag{Name: "mev-relay-url", Usage: "MEV relay base URL for reward lookups"},
		&cli.StringFlag{Name: "cursor-file", Usage: "path to the persisted cursor file"},
		&cli.IntFlag{Name: "batch-size", Usage: "slots per reconciliation batch"},
		&cli.IntFlag{Name: "polling-interval-sec", Usage: "seconds between safe-slot checks"},
		&cli.IntFlag{Name: "max-concurrent-requests", Usage: "max concurrent outbound beacon requests"},
		&cli.BoolFlag{Name: "test-mode", Usage: "replace the notifier with a no-op stub"},
		&cli.StringFlag{Name: "metrics-addr", Usage: "address to serve /metrics on, e.g. :9090"},
		&cli.StringFlag{Name: "log-level", Usage: "log level: debug, info, warn, error"},
	}
}
