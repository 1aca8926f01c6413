// Package catalog decorates the event catalog used by checkout: a redis
// read-through cache for browsing and a mock fallback for development.
package catalog

import (
	"context"
	"time"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

type Source interface {
	Offerings(ctx context.Context, eventID string) ([]domain.TicketOffering, error)
}

type OfferingsCache interface {
	GetOfferings(ctx context.Context, eventID string) ([]domain.TicketOffering, bool, error)
	SetOfferings(ctx context.Context, eventID string, offerings []domain.TicketOffering, ttl time.Duration) error
}

// Cached serves offerings from cache when present. Cache failures degrade to
// reading the source.
type Cached struct {
	source Source
	cache  OfferingsCache
	ttl    time.Duration
	logger observability.Logger
}

func NewCached(source Source, cache OfferingsCache, ttl time.Duration, logger observability.Logger) *Cached {
	return &Cached{source: source, cache: cache, ttl: ttl, logger: logger}
}

func (c *Cached) Offerings(ctx context.Context, eventID string) ([]domain.TicketOffering, error) {
	offerings, found, err := c.cache.GetOfferings(ctx, eventID)
	if err != nil {
		c.logger.WithField("event_id", eventID).Warn("catalog cache read failed: ", err)
	}
	if found {
		return offerings, nil
	}

	offerings, err = c.source.Offerings(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetOfferings(ctx, eventID, offerings, c.ttl); err != nil {
		c.logger.WithField("event_id", eventID).Warn("catalog cache write failed: ", err)
	}
	return offerings, nil
}
