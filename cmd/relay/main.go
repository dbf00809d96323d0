package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tradecore/internal/config"
	"tradecore/internal/db"
	"tradecore/internal/eventbus"
	"tradecore/internal/obs"
	"tradecore/internal/outbox"
	"tradecore/internal/relay"
)

func main() {
	_ = godotenv.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "relay").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.Mode == "development" {
		log = log.Level(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer pool.Close()

	metrics := obs.NewMetrics()
	store := outbox.NewStore(pool)

	// Marking rows PUBLISHED is only legitimate when a real sink received
	// them, so an unconfigured bus is a startup error, not a default. The
	// in-memory mode is for development only: its deliveries do not
	// outlive this process.
	var bus eventbus.Publisher
	switch cfg.EventBusMode {
	case "memory":
		log.Warn().Msg("EVENT_BUS_MODE=memory: events are delivered in-process only")
		bus = eventbus.NewMemory()
	default:
		log.Fatal().Msg("EVENT_BUS_MODE is not set; refusing to acknowledge events without a configured sink")
	}

	r := relay.New(relay.Config{
		WorkerID:     cfg.RelayWorkerID,
		PollInterval: cfg.RelayPollInterval,
		BatchSize:    cfg.RelayBatchSize,
		ClaimLease:   cfg.RelayClaimLease,
		MaxAttempts:  cfg.RelayMaxAttempts,
		StaleAfter:   cfg.RelayStaleAfter,
	}, store, bus, log, metrics)

	// Retention: sweep PUBLISHED rows older than the retention window.
	// PENDING and FAILED rows are never swept.
	sweeper := cron.New()
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	_, err = sweeper.AddFunc(cfg.RetentionCron, func() {
		cutoff := time.Now().Add(-retention)
		n, err := store.DeletePublishedBefore(context.Background(), cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("retention sweep failed")
			return
		}
		log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("retention sweep done")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("retention cron")
	}
	sweeper.Start()
	defer sweeper.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info().Msg("shutdown requested, draining")
		cancel()
	}()

	if err := r.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("relay")
	}
}
