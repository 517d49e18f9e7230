// Package main is the entry point for the surebet collaborator API. It wires
// the ledger services to PostgreSQL and starts the HTTP server alongside the
// WebSocket hub and the maintenance scheduler.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/surebet/internal/api"
	"github.com/evetabi/surebet/internal/cache"
	"github.com/evetabi/surebet/internal/config"
	"github.com/evetabi/surebet/internal/events"
	"github.com/evetabi/surebet/internal/repository"
	"github.com/evetabi/surebet/internal/scheduler"
	"github.com/evetabi/surebet/internal/service"
	"github.com/evetabi/surebet/internal/ws"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting surebet api server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Database + migrations ──────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	logger.Info("database connected")

	if err = repository.Migrate(ctx, db, cfg.DB.MigrationsDir); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	store := repository.NewStore(db)

	// ── 4. FX rates (redis read-through when configured) ──────────────────────
	var rates service.RateSource = repository.NewFXRepository(db)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, fx lookups fall back to postgres", "err", err)
		}
		rates = cache.NewRateCache(rdb, rates, cfg.Redis.FXTTL, cfg.Redis.KeyPrefix)
	}

	// ── 5. Metrics ────────────────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(registry)

	// ── 6. Event fan-out: websocket hub + kafka ───────────────────────────────
	authSvc := service.NewAuthService(cfg.JWT)
	hub := ws.NewHub(authSvc, cfg.Server.AllowedOrigins)
	publishers := []service.Publisher{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.Kafka.WriteTimeout)
		defer kp.Close()
		publishers = append(publishers, kp)
		logger.Info("kafka publisher enabled", "topic", cfg.Kafka.Topic)
	}
	fanOut := service.NewFanOut(publishers...)

	// ── 7. Services ───────────────────────────────────────────────────────────
	ledgerSvc := service.NewLedgerService(store, rates, cfg.Ledger.SupportedCurrencies, metrics)
	provenanceSvc := service.NewProvenanceService(store, metrics)
	matchSvc := service.NewMatchService(store, ledgerSvc, fanOut, metrics)
	settlementSvc := service.NewSettlementService(store, ledgerSvc, provenanceSvc, fanOut, metrics)

	// ── 8. HTTP router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:       authSvc,
		MatchSvc:      matchSvc,
		SettlementSvc: settlementSvc,
		ProvenanceSvc: provenanceSvc,
		LedgerSvc:     ledgerSvc,
		Hub:           hub,
		Registry:      registry,
		Cfg:           cfg,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 9. Run everything until a signal or a fatal error ─────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.NewScheduler(matchSvc, provenanceSvc, cfg.Scheduler, logger)
		if err != nil {
			logger.Error("scheduler setup failed", "err", err)
			os.Exit(1)
		}
		sched.Start(gctx)
	}

	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}
