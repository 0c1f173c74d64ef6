package eligibility

import (
	"context"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/model"
	"github.com/unclebandit/cartrecovery/internal/repository"
)

// CandidateFinder loads carts matching a due query.
type CandidateFinder interface {
	FindDue(ctx context.Context, q repository.DueQuery) ([]model.DueCart, error)
}

// Engine runs the selection pass of the follow-up schedule against the store.
type Engine struct {
	carts    CandidateFinder
	schedule Schedule
	limit    int
	log      *zap.Logger
}

func NewEngine(carts CandidateFinder, schedule Schedule, limit int, log *zap.Logger) (*Engine, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		carts:    carts,
		schedule: schedule,
		limit:    limit,
		log:      log.Named("eligibility"),
	}, nil
}

func (e *Engine) Schedule() Schedule { return e.schedule }

// SelectDue returns the carts due for contact at now, most recently abandoned
// first, at most limit of them. A read failure aborts the pass with no partial result.
func (e *Engine) SelectDue(ctx context.Context, now time.Time) ([]model.DueCart, error) {
	q := repository.DueQuery{
		WindowStart: e.schedule.WindowStart(now),
		Cutoffs:     e.schedule.Cutoffs(now),
		Limit:       e.limit,
	}
	candidates, err := e.carts.FindDue(ctx, q)
	if err != nil {
		if appErrors.IsPersistence(err) {
			return nil, err
		}
		return nil, appErrors.NewPersistence("select due carts", err)
	}

	due := make([]model.DueCart, 0, len(candidates))
	for _, c := range candidates {
		state := e.schedule.Evaluate(now, stateOf(c))
		if state != Due {
			e.log.Warn("store returned a cart that is not due",
				zap.String("checkout_id", c.CheckoutID),
				zap.Int("outreach_count", c.OutreachCount),
				zap.Stringer("state", state),
			)
			continue
		}
		due = append(due, c)
	}

	e.log.Info("selected due carts",
		zap.Int("candidates", len(candidates)),
		zap.Int("due", len(due)),
		zap.Time("now", now),
	)
	return due, nil
}

// Evaluate reports the state of a single loaded cart.
func (e *Engine) Evaluate(now time.Time, c model.DueCart) State {
	return e.schedule.Evaluate(now, stateOf(c))
}

func stateOf(c model.DueCart) CartState {
	return CartState{
		AbandonedAt:   c.AbandonedAt,
		RecoveredAt:   c.RecoveredAt,
		OutreachCount: c.OutreachCount,
		LastSentAt:    c.LastSentAt,
	}
}
