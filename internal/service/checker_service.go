// internal/service/checker_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/cartrecovery/internal/clock"
	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/lock"
	"github.com/unclebandit/cartrecovery/internal/metrics"
	"github.com/unclebandit/cartrecovery/internal/model"
)

// DueSelector returns the carts due for contact at now.
type DueSelector interface {
	SelectDue(ctx context.Context, now time.Time) ([]model.DueCart, error)
}

// BatchResult summarises one checker pass.
type BatchResult struct {
	Selected  int       `json:"selected"`
	Processed int       `json:"processed"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Errored   int       `json:"errored"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckerService runs one abandoned cart batch at a time.
type CheckerService struct {
	Selector DueSelector
	Outreach CartProcessor
	Locker   lock.Locker
	LockKey  string
	LockTTL  time.Duration
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// Run selects due carts and processes them one by one. It returns
// ErrBatchInProgress when another run holds the lock and a PersistenceError
// when selection fails. Per-cart failures are counted, never returned.
func (s *CheckerService) Run(ctx context.Context) (*BatchResult, error) {
	log := s.logger()
	started := time.Now()

	release, err := s.acquire(ctx)
	if err != nil {
		if errors.Is(err, appErrors.ErrBatchInProgress) {
			s.Metrics.ObserveBatch("locked", 0, time.Since(started))
			log.Info("batch skipped, another run holds the lock")
		} else {
			s.Metrics.ObserveBatch("error", 0, time.Since(started))
		}
		return nil, err
	}
	defer release()

	now := s.now()
	carts, err := s.Selector.SelectDue(ctx, now)
	if err != nil {
		s.Metrics.ObserveBatch("error", 0, time.Since(started))
		log.Error("batch aborted, selection failed", zap.Error(err))
		return nil, err
	}

	result := &BatchResult{Selected: len(carts), Timestamp: now}
	for i := range carts {
		if err := ctx.Err(); err != nil {
			log.Warn("batch interrupted", zap.Int("remaining", len(carts)-i), zap.Error(err))
			break
		}

		outcome, err := s.processOne(ctx, &carts[i])
		if err != nil {
			result.Errored++
			log.Warn("cart skipped",
				zap.String("checkout_id", carts[i].CheckoutID),
				zap.Error(err))
			continue
		}
		if outcome.Status == OutreachSkipped {
			result.Skipped++
			continue
		}
		result.Processed++
		if outcome.Sent() {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	s.Metrics.ObserveBatch("ok", result.Selected, time.Since(started))
	log.Info("batch complete",
		zap.Int("selected", result.Selected),
		zap.Int("processed", result.Processed),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errored", result.Errored),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

// processOne isolates a cart so that a panic in a collaborator cannot end the batch.
func (s *CheckerService) processOne(ctx context.Context, c *model.DueCart) (outcome *OutreachOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("panic processing cart %s: %v", c.CheckoutID, r)
		}
	}()
	return s.Outreach.Process(ctx, c)
}

func (s *CheckerService) acquire(ctx context.Context) (func(), error) {
	if s.Locker == nil {
		return func() {}, nil
	}
	key := s.LockKey
	if key == "" {
		key = lock.CheckerKey
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	token, ok, err := s.Locker.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire checker lock: %w", err)
	}
	if !ok {
		return nil, appErrors.ErrBatchInProgress
	}
	return func() {
		// The batch context may already be cancelled.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Locker.Release(relCtx, key, token); err != nil {
			s.logger().Warn("release checker lock failed", zap.Error(err))
		}
	}, nil
}

func (s *CheckerService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *CheckerService) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
