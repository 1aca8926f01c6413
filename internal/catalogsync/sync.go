// Package catalogsync keeps the catalog in step with transaction status
// changes: tickets of cancelled transactions go back on sale and cached
// offerings are dropped.
package catalogsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/transactions"
)

const dedupeTTL = 7 * 24 * time.Hour

// ErrMalformed marks a message that can never be applied.
var ErrMalformed = errors.New("malformed transaction event")

type SoldCounter interface {
	DecrementSold(ctx context.Context, eventID, offeringID string, qty int) error
}

type Cache interface {
	InvalidateOfferings(ctx context.Context, eventID string) error
	MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) (bool, error)
	ForgetProcessed(ctx context.Context, messageID string) error
}

type Syncer struct {
	catalog SoldCounter
	cache   Cache
	logger  observability.Logger
}

func NewSyncer(catalog SoldCounter, cache Cache, logger observability.Logger) *Syncer {
	return &Syncer{catalog: catalog, cache: cache, logger: logger}
}

// Handle applies one transaction event. Tickets are reserved at checkout, so
// only cancellations touch sold counts. Each released item is deduplicated on
// its own, so a redelivery after a partial failure only applies the rest.
func (s *Syncer) Handle(ctx context.Context, messageID string, body []byte) error {
	var ev transactions.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return errors.Mark(errors.Wrap(err, "decode transaction event"), ErrMalformed)
	}
	if ev.EventID == "" {
		return errors.Wrap(ErrMalformed, "missing event id")
	}
	if ev.Status == domain.StatusCancelled {
		if messageID == "" {
			messageID = transactions.EventCancelled + ":" + ev.TransactionID.String()
		}
		if err := s.release(ctx, messageID, ev); err != nil {
			return err
		}
	}
	if err := s.cache.InvalidateOfferings(ctx, ev.EventID); err != nil {
		s.logger.WithField("event_id", ev.EventID).Warn("cache invalidation failed: ", err)
	}
	return nil
}

func (s *Syncer) release(ctx context.Context, messageID string, ev transactions.Event) error {
	for _, item := range ev.Items {
		key := messageID + "/" + item.OfferingID
		fresh, err := s.cache.MarkProcessed(ctx, key, dedupeTTL)
		if err != nil {
			return err
		}
		if !fresh {
			s.logger.WithField("key", key).Debug("duplicate delivery skipped")
			continue
		}
		err = s.catalog.DecrementSold(ctx, ev.EventID, item.OfferingID, item.Quantity)
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
			s.logger.WithFields(map[string]interface{}{"event_id": ev.EventID, "offering_id": item.OfferingID}).
				Warn("nothing to release for cancelled tickets: ", err)
			continue
		}
		if err != nil {
			if ferr := s.cache.ForgetProcessed(ctx, key); ferr != nil {
				s.logger.WithField("key", key).Error("failed to release dedupe key: ", ferr)
			}
			return err
		}
	}
	return nil
}

// Run consumes deliveries until ctx is done or the channel closes.
func (s *Syncer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			err := s.Handle(ctx, d.MessageId, d.Body)
			if errors.Is(err, ErrMalformed) {
				s.logger.WithField("message_id", d.MessageId).Error("dropping message: ", err)
				d.Nack(false, false)
				continue
			}
			if err != nil {
				s.logger.WithField("message_id", d.MessageId).Error("catalog sync failed: ", err)
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}
