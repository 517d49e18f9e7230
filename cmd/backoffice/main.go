// Package main is the entry point for the surebet back-office admin server.
// It exposes corrections, funding and maintenance endpoints to admins.
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

	"github.com/evetabi/surebet/internal/backoffice"
	"github.com/evetabi/surebet/internal/cache"
	"github.com/evetabi/surebet/internal/config"
	"github.com/evetabi/surebet/internal/events"
	"github.com/evetabi/surebet/internal/repository"
	"github.com/evetabi/surebet/internal/service"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting surebet backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	// Migrations are applied by the api server.
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

	store := repository.NewStore(db)

	var rates service.RateSource = repository.NewFXRepository(db)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		rates = cache.NewRateCache(rdb, rates, cfg.Redis.FXTTL, cfg.Redis.KeyPrefix)
	}

	var publisher service.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.Kafka.WriteTimeout)
		defer kp.Close()
		publisher = kp
	}

	// ── Services ──────────────────────────────────────────────────────────────
	authSvc := service.NewAuthService(cfg.JWT)
	ledgerSvc := service.NewLedgerService(store, rates, cfg.Ledger.SupportedCurrencies, nil)
	provenanceSvc := service.NewProvenanceService(store, nil)
	matchSvc := service.NewMatchService(store, ledgerSvc, publisher, nil)
	correctionSvc := service.NewCorrectionService(store, ledgerSvc, provenanceSvc, publisher, nil)

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:       authSvc,
		LedgerSvc:     ledgerSvc,
		CorrectionSvc: correctionSvc,
		ProvenanceSvc: provenanceSvc,
		MatchSvc:      matchSvc,
		Cfg:           cfg,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("backoffice listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("backoffice stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("backoffice stopped cleanly")
}
