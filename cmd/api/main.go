package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradecore/internal/auth"
	"tradecore/internal/config"
	"tradecore/internal/db"
	"tradecore/internal/eventbus"
	"tradecore/internal/exchange"
	"tradecore/internal/health"
	"tradecore/internal/httpserver"
	"tradecore/internal/obs"
	"tradecore/internal/outbox"
	"tradecore/internal/relay"
	"tradecore/internal/trading"
)

func main() {
	_ = godotenv.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "api").Logger()

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
	outboxStore := outbox.NewStore(pool)
	repo := trading.NewStore(pool, outboxStore)

	var ex exchange.Client
	switch cfg.ExchangeMode {
	case "simulated":
		ex = exchange.NewSimulated(map[string]decimal.Decimal{
			"BTC-USD": decimal.NewFromInt(50000),
			"ETH-USD": decimal.NewFromInt(3000),
			"EUR-USD": decimal.RequireFromString("1.08"),
			"XAU-USD": decimal.NewFromInt(2400),
		})
	default:
		ex = exchange.NewDisabled()
	}

	tradingSvc := trading.NewService(repo, ex, log, metrics)
	authSvc := auth.NewService(pool, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	healthHandler := health.NewHandler(pool, outboxStore, metrics, time.Now(), cfg.InternalToken)

	// Development runs an embedded relay on an in-process bus so the
	// websocket feed works without the standalone relay binary.
	var wsHandler http.Handler
	if cfg.Mode == "development" {
		bus := eventbus.NewMemory()
		embedded := relay.New(relay.Config{
			WorkerID:     cfg.RelayWorkerID + "-embedded",
			PollInterval: cfg.RelayPollInterval,
			BatchSize:    cfg.RelayBatchSize,
			ClaimLease:   cfg.RelayClaimLease,
			MaxAttempts:  cfg.RelayMaxAttempts,
			StaleAfter:   cfg.RelayStaleAfter,
		}, outboxStore, bus, log, metrics)
		go func() {
			_ = embedded.Run(ctx)
		}()
		wsHandler = httpserver.NewWSHandler(bus, authSvc, cfg.WSOrigin)
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:    auth.NewHandler(authSvc, tradingSvc),
		TradingHandler: trading.NewHandler(tradingSvc),
		HealthHandler:  healthHandler,
		AuthService:    authSvc,
		InternalToken:  cfg.InternalToken,
		WSHandler:      wsHandler,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	log.Info().Str("addr", cfg.HTTPAddr).Str("exchange_mode", cfg.ExchangeMode).Msg("api listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server")
	}
}
