// Package scheduler runs the periodic ledger maintenance jobs:
//  1. match sweep – retries matching for verified bets the event-driven path missed.
//  2. backfill    – rebuilds settlement links missing for settled surebets.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/surebet/internal/config"
	"github.com/evetabi/surebet/internal/domain"
	"github.com/robfig/cron/v3"
)

// Sweeper is satisfied by *service.MatchService.
type Sweeper interface {
	SweepVerified(ctx context.Context, limit int) (int, error)
}

// Backfiller is satisfied by *service.ProvenanceService.
type Backfiller interface {
	BackfillAll(ctx context.Context) ([]domain.BackfillReport, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler owns a cron (with seconds) running the sweep and backfill jobs.
// Call Start(ctx) once from main(); cancel the context or call Stop to shut
// it down. A job still running when its next tick fires is skipped.
type Scheduler struct {
	cron       *cron.Cron
	sweeper    Sweeper
	backfiller Backfiller
	sweepSize  int
	logger     *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context
}

// NewScheduler registers the jobs described by cfg. An invalid cron spec is
// reported here rather than at Start.
func NewScheduler(sweeper Sweeper, backfiller Backfiller, cfg config.SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		sweeper:    sweeper,
		backfiller: backfiller,
		sweepSize:  cfg.MatchSweepSize,
		logger:     logger,
		baseCtx:    context.Background(),
	}
	if s.sweepSize <= 0 {
		s.sweepSize = 200
	}

	if _, err := s.cron.AddFunc(cfg.MatchSweepSpec, func() { s.RunSweep(s.ctx()) }); err != nil {
		return nil, fmt.Errorf("scheduler: match sweep spec %q: %w", cfg.MatchSweepSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.BackfillSpec, func() { s.RunBackfill(s.ctx()) }); err != nil {
		return nil, fmt.Errorf("scheduler: backfill spec %q: %w", cfg.BackfillSpec, err)
	}
	return s, nil
}

// Start launches the cron. It returns immediately; jobs receive ctx and the
// cron stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the cron and waits for running jobs to finish. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) ctx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// ──────────────────────────────────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────────────────────────────────

// RunSweep runs one match sweep.
func (s *Scheduler) RunSweep(ctx context.Context) {
	defer s.recoverAndLog("match_sweep")
	start := time.Now()
	matched, err := s.sweeper.SweepVerified(ctx, s.sweepSize)
	if err != nil {
		s.logger.Error("match sweep failed", "err", err, "matched", matched)
		return
	}
	if matched > 0 {
		s.logger.Info("match sweep", "matched", matched, "took", time.Since(start).Round(time.Millisecond))
	}
}

// RunBackfill runs one provenance backfill over every associate.
func (s *Scheduler) RunBackfill(ctx context.Context) {
	defer s.recoverAndLog("provenance_backfill")
	reports, err := s.backfiller.BackfillAll(ctx)
	created, skipped := 0, 0
	for _, r := range reports {
		created += r.Created
		skipped += r.Skipped
	}
	if err != nil {
		s.logger.Error("provenance backfill failed", "err", err, "created", created)
		return
	}
	s.logger.Info("provenance backfill", "associates", len(reports), "created", created, "skipped", skipped)
}

// recoverAndLog is deferred inside each job to catch unexpected panics, log
// them, and keep the cron running.
func (s *Scheduler) recoverAndLog(job string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler job", "job", job, "panic", r)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
