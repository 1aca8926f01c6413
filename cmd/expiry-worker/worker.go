package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

type ExpiredLister interface {
	GetExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error)
}

type Canceler interface {
	Cancel(ctx context.Context, id uuid.UUID) error
}

// ExpiryWorker cancels transactions left PENDING for longer than ttl.
type ExpiryWorker struct {
	lister     ExpiredLister
	canceler   Canceler
	ttl        time.Duration
	batch      int
	maxRetries int
	backoff    time.Duration
	logger     observability.Logger
}

func NewExpiryWorker(lister ExpiredLister, canceler Canceler, ttl time.Duration, batch int, logger observability.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		lister:     lister,
		canceler:   canceler,
		ttl:        ttl,
		batch:      batch,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logger,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := w.Sweep(ctx, now)
			if err != nil {
				w.logger.Error("failed to get expired transactions: ", err)
				continue
			}
			if n > 0 {
				w.logger.WithField("count", n).Info("expired transactions cancelled")
			}
		}
	}
}

// Sweep cancels one batch of transactions created before now-ttl and returns
// how many it cancelled.
func (w *ExpiryWorker) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := w.lister.GetExpiredPending(ctx, now.Add(-w.ttl), w.batch)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, t := range expired {
		err := w.cancelWithRetry(ctx, t.ID)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
			// settled by a payment callback in the meantime
		default:
			w.logger.WithField("transaction_id", t.ID.String()).Error("failed to cancel expired transaction after retries: ", err)
		}
	}
	return cancelled, nil
}

func (w *ExpiryWorker) cancelWithRetry(ctx context.Context, id uuid.UUID) error {
	var err error
	for i := 0; i < w.maxRetries; i++ {
		err = w.canceler.Cancel(ctx, id)
		if err == nil || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff * time.Duration(1<<i)):
		}
	}
	return errors.Wrapf(err, "cancel %s failed after %d attempts", id, w.maxRetries)
}
