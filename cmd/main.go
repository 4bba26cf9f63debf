package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/valwatch/duties-indexer/internal/beacon"
	"github.com/valwatch/duties-indexer/internal/cache"
	"github.com/valwatch/duties-indexer/internal/config"
	"github.com/valwatch/duties-indexer/internal/cursorstore"
	"github.com/valwatch/duties-indexer/internal/domain"
	"github.com/valwatch/duties-indexer/internal/emitter"
	"github.com/valwatch/duties-indexer/internal/logger"
	"github.com/valwatch/duties-indexer/internal/metrics"
	"github.com/valwatch/duties-indexer/internal/mevlookup"
	"github.com/valwatch/duties-indexer/internal/notifier"
	"github.com/valwatch/duties-indexer/internal/ports"
	"github.com/valwatch/duties-indexer/internal/reconciler"
	"github.com/valwatch/duties-indexer/internal/scheduler"
)

func main() {
	app := &cli.App{
		Name:  "duties-indexer",
		Usage: "continuous catch-up ingester and reconciler for a beacon node's duties, attestations and withdrawals",
		Flags: config.Flags(),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyCLI(cliCtx)
	if cliCtx.IsSet("log-level") {
		// logger.New reads LOG_LEVEL; carry the flag's value over to it.
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	log := logger.New()
	log.Info().
		Str("beacon_url", cfg.BeaconNodeURL).
		Dur("polling_interval", cfg.PollingInterval).
		Uint64("batch_size", cfg.BatchSize).
		Msg("starting duties-indexer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	c := cache.New(cache.Config{
		MaxSize:         50_000,
		TTL:             2 * time.Hour,
		CleanupInterval: 10 * time.Minute,
	}, m.Registry())
	defer c.Stop()

	beaconClient, err := beacon.New(ctx, beacon.Config{
		Endpoint:              cfg.BeaconNodeURL,
		RequestTimeout:        10 * time.Second,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
	}, c, log)
	if err != nil {
		return fmt.Errorf("dialing beacon node: %w", err)
	}

	validators := cfg.Validators
	if len(validators) == 0 {
		log.Info().Msg("no validators configured; falling back to every active validator on the beacon node")
		active, err := beaconClient.ActiveValidatorIndices(ctx)
		if err != nil {
			return fmt.Errorf("fetching active validators: %w", err)
		}
		validators = map[domain.Label][]domain.ValidatorIndex{"default": active}
	}

	monitored, err := domain.NewMonitoredSet(validators)
	if err != nil {
		return fmt.Errorf("building monitored validator set: %w", err)
	}
	log.Info().Int("validators", monitored.Len()).Msg("monitoring validator set")

	var cursorStore ports.CursorStore
	if cfg.TestMode {
		cursorStore = cursorstore.NewInMemoryStore(cfg.CursorInitial)
	} else {
		store := cursorstore.NewFileStore(cfg.CursorFile)
		loaded, err := store.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading cursor: %w", err)
		}
		if loaded == 0 && cfg.CursorInitial != 0 {
			if err := store.Save(ctx, cfg.CursorInitial); err != nil {
				return fmt.Errorf("seeding cursor: %w", err)
			}
		}
		cursorStore = store
	}

	rec := reconciler.New(monitored, log)

	baseNotifier := notifier.ForTestMode(cfg.TestMode, notifier.NewLogNotifier(log))
	em := emitter.New(baseNotifier, cfg.NotificationRateLimit, log)

	var onBlockProposed func(ctx context.Context, slot domain.Slot, execBlockNumber uint64)
	if cfg.MevRelayURL != "" {
		lookup := mevlookup.New(ctx, cfg.MevRelayURL, log)
		onBlockProposed = func(ctx context.Context, slot domain.Slot, execBlockNumber uint64) {
			mevlookup.Spawn(ctx, lookup, slot, execBlockNumber)
		}
	}

	sched := scheduler.New(scheduler.Config{
		BatchSize:             cfg.BatchSize,
		PollingInterval:       cfg.PollingInterval,
		EpochsBeforeFinal:     cfg.EpochsBeforeFinal,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		StaleThresholdSlots:   cfg.StaleThresholdSlots,
	}, beaconClient, cursorStore, rec, em, m, onBlockProposed, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
		<-done
	case err := <-done:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("scheduler stopped")
			return err
		}
	}
	return nil
}
