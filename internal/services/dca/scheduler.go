package dca

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tidepool/internal/domain"
)

// Scheduler polls tracked strategies on a fixed cadence and executes
// whichever are eligible. The work is idempotent: the ledger re-checks
// eligibility on submission, so a second scheduler (or a manual
// execute-now racing a tick) produces at most a rejected redundant
// call, never a double fill.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	l        *zap.Logger
}

// NewScheduler creates a scheduler ticking at the given cadence.
func NewScheduler(engine *Engine, interval time.Duration, l *zap.Logger) *Scheduler {
	if l == nil {
		l = zap.NewNop()
	}
	return &Scheduler{engine: engine, interval: interval, l: l}
}

// Run blocks until ctx is cancelled, executing eligible orders each
// tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.l.Info("dca scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.l.Info("dca scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.engine.clock()
	for _, st := range s.engine.Strategies() {
		if !st.IsExecutable(now) {
			continue
		}

		rec, err := s.engine.ExecuteOne(ctx, st.ID)
		switch {
		case err == nil && rec == nil:
			// price band skip; next eligible tick retries
		case errors.Is(err, domain.ErrStrategyNotExecutable):
			// a competing executor consumed the order first
			s.l.Debug("order already consumed", zap.String("strategy", st.ID))
		case errors.Is(err, domain.ErrSlippageExceeded):
			s.l.Warn("order rejected by slippage floor, will retry",
				zap.String("strategy", st.ID), zap.Error(err))
		case err != nil:
			s.l.Error("dca execution failed", zap.String("strategy", st.ID), zap.Error(err))
		}
	}
}
