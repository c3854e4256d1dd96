// Package sweeper periodically deletes unpaid orders that were never resolved.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roylee0704/gron"
	"github.com/roylee0704/gron/xtime"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/internal/metrics"
)

// Defaults match the shop's retention for abandoned orders.
const (
	DefaultInterval = 1 * xtime.Hour
	DefaultMaxAge   = 3 * xtime.Day
)

// Config sets how often the sweep runs and how old an unpaid order must be.
type Config struct {
	Interval time.Duration
	MaxAge   time.Duration
}

// Store deletes stale orders.
type Store interface {
	SweepStaleUnpaidOrders(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Sweeper removes stale unpaid orders on a schedule.
type Sweeper struct {
	cfg     Config
	store   Store
	metrics *metrics.Recorder
	running sync.Mutex
}

// New builds a Sweeper, filling zero durations with defaults.
func New(cfg Config, store Store, rec *metrics.Recorder) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return &Sweeper{cfg: cfg, store: store, metrics: rec}
}

// RunOnce performs a single sweep. A sweep already in progress makes it a no-op.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	if !s.running.TryLock() {
		logger.LogEvent(ctx, logger.SVCSweeper, slog.LevelDebug, "sweep.skip", slog.String("status", "skip"))
		return 0, nil
	}
	defer s.running.Unlock()

	start := time.Now()
	n, err := s.store.SweepStaleUnpaidOrders(ctx, s.cfg.MaxAge)
	if err != nil {
		logger.LogEvent(ctx, logger.SVCSweeper, slog.LevelError, "sweep.run",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return 0, err
	}
	s.metrics.Swept(n)
	level := slog.LevelDebug
	if n > 0 {
		level = slog.LevelInfo
	}
	logger.LogEvent(ctx, logger.SVCSweeper, level, "sweep.run",
		slog.String("status", "ok"),
		slog.Int64("removed", n),
		slog.Duration("max_age", s.cfg.MaxAge),
		slog.Duration("duration", logger.Took(start)),
	)
	return n, nil
}

// Run sweeps immediately, then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	_, _ = s.RunOnce(ctx)

	cron := gron.New()
	cron.AddFunc(gron.Every(s.cfg.Interval), func() {
		_, _ = s.RunOnce(ctx)
	})
	cron.Start()
	logger.LogEvent(ctx, logger.SVCSweeper, slog.LevelInfo, "sweep.scheduled",
		slog.String("status", "ok"),
		slog.Duration("interval", s.cfg.Interval),
	)

	<-ctx.Done()
	cron.Stop()
	return nil
}
