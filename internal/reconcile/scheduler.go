// Package reconcile periodically drives every open project through the
// lifecycle engine so deadlines and votes resolve without caller activity.
package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"reviewflow/api/internal/lifecycle"
	"reviewflow/api/internal/metrics"
)

// ErrTickInFlight is returned when a tick is requested while another runs.
var ErrTickInFlight = errors.New("reconcile tick already running")

type Engine interface {
	OpenProjectIDs(ctx context.Context) ([]uint64, error)
	ReconcileProject(ctx context.Context, projectID uint64) (lifecycle.Outcome, error)
}

type IntervalSource interface {
	ReconcileInterval() time.Duration
}

// Summary reports what one tick did.
type Summary struct {
	Visited int `json:"visited"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

type Scheduler struct {
	engine   Engine
	interval IntervalSource
	logger   *zap.Logger
	running  atomic.Bool
}

func NewScheduler(engine Engine, interval IntervalSource, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{engine: engine, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled. The interval is re-read after every
// tick so tunable changes apply without a restart.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.currentInterval()
	s.logger.Info("reconcile scheduler started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconcile scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); errors.Is(err, ErrTickInFlight) {
				s.logger.Warn("reconcile tick skipped, previous tick still running")
			}
			if next := s.currentInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
				s.logger.Info("reconcile interval changed", zap.Duration("interval", interval))
			}
		}
	}
}

func (s *Scheduler) currentInterval() time.Duration {
	if d := s.interval.ReconcileInterval(); d > 0 {
		return d
	}
	return time.Hour
}

// Tick reconciles every open project once. A failure for one project is
// logged and the scan continues. Overlapping ticks are refused.
func (s *Scheduler) Tick(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.ReconcileSkippedTicks.Inc()
		return Summary{}, ErrTickInFlight
	}
	defer s.running.Store(false)

	started := time.Now()
	defer func() { metrics.RecordReconcileTick(time.Since(started)) }()

	ids, err := s.engine.OpenProjectIDs(ctx)
	if err != nil {
		metrics.ReconcileFailures.Inc()
		s.logger.Error("list open projects", zap.Error(err))
		return Summary{}, err
	}

	var summary Summary
	for _, id := range ids {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Visited++
		outcome, err := s.engine.ReconcileProject(ctx, id)
		if err != nil {
			summary.Failed++
			metrics.ReconcileFailures.Inc()
			s.logger.Warn("reconcile project failed", zap.Uint64("project_id", id), zap.Error(err))
			continue
		}
		if outcome.Changed {
			summary.Changed++
			s.logger.Info("project reconciled",
				zap.Uint64("project_id", id),
				zap.Uint64("phase", outcome.Phase),
				zap.String("phase_status", string(outcome.PhaseStatus)),
				zap.String("project_status", string(outcome.ProjectStatus)))
		}
	}
	s.logger.Debug("reconcile tick finished",
		zap.Int("visited", summary.Visited),
		zap.Int("changed", summary.Changed),
		zap.Int("failed", summary.Failed))
	return summary, nil
}
