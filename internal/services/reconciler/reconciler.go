// Package reconciler consumes ledger events to keep local caches and
// the execution journal consistent with on-ledger state.
package reconciler

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tidepool/internal/domain"
	"tidepool/internal/ledger"
)

type poolRememberer interface {
	Remember(pool *domain.Pool)
}

type stateInvalidator interface {
	Invalidate(id domain.PoolID)
}

type recordAppender interface {
	Append(rec domain.ExecutionRecord) error
}

// Reconciler applies ledger events. All handlers are idempotent:
// replaying an event invalidates an already-invalid cache line or
// re-appends an already-journaled record, both no-ops.
type Reconciler struct {
	events  <-chan ledger.Event
	locator poolRememberer
	reader  stateInvalidator
	journal recordAppender
	l       *zap.Logger
}

// New wires a reconciler over a ledger event stream.
func New(events <-chan ledger.Event, locator poolRememberer, reader stateInvalidator, journal recordAppender, l *zap.Logger) *Reconciler {
	if l == nil {
		l = zap.NewNop()
	}
	return &Reconciler{events: events, locator: locator, reader: reader, journal: journal, l: l}
}

// Run blocks consuming events until ctx is cancelled or the stream
// closes.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.events:
			if !ok {
				r.l.Info("ledger event stream closed")
				return nil
			}
			r.apply(ev)
		}
	}
}

func (r *Reconciler) apply(ev ledger.Event) {
	switch ev.Kind {
	case ledger.EventPoolCreated:
		r.locator.Remember(&domain.Pool{
			ID:        ev.PoolID,
			CoinTypeA: ev.CoinTypeA,
			CoinTypeB: ev.CoinTypeB,
		})
		r.l.Debug("pool created event applied", zap.String("pool", string(ev.PoolID)))

	case ledger.EventPoolMutated:
		r.reader.Invalidate(ev.PoolID)

	case ledger.EventDCAOrderExecuted:
		r.reader.Invalidate(ev.PoolID)
		rec := domain.ExecutionRecord{
			StrategyID:  ev.StrategyID,
			OrderNumber: ev.OrderNumber,
			AmountIn:    ev.AmountIn,
			AmountOut:   ev.AmountOut,
			Timestamp:   ev.Timestamp,
		}
		if ev.AmountOut > 0 {
			rec.ExecutionPrice = decimal.NewFromUint64(ev.AmountIn).Div(decimal.NewFromUint64(ev.AmountOut))
		}
		if err := r.journal.Append(rec); err != nil {
			r.l.Error("failed to journal execution event", zap.Error(err), zap.String("strategy", ev.StrategyID))
		}

	default:
		r.l.Warn("unknown ledger event", zap.String("kind", string(ev.Kind)))
	}
}
