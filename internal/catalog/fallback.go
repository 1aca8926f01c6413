package catalog

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// Fallback answers with MockOfferings when the primary source is unreachable
// and mock data is enabled. Disabled, it is a pass-through. It is meant for
// browsing only; purchases must be confirmed against the real catalog.
type Fallback struct {
	primary Source
	enabled bool
	logger  observability.Logger
}

func NewFallback(primary Source, enabled bool, logger observability.Logger) *Fallback {
	return &Fallback{primary: primary, enabled: enabled, logger: logger}
}

func (f *Fallback) Offerings(ctx context.Context, eventID string) ([]domain.TicketOffering, error) {
	offerings, err := f.primary.Offerings(ctx, eventID)
	if err == nil || !f.enabled {
		return offerings, err
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	observability.CatalogFallbacks.Inc()
	f.logger.WithField("event_id", eventID).Warn("catalog unavailable, serving mock offerings: ", err)
	return MockOfferings(), nil
}

// MockOfferings is the fixed development catalog: one offering of each kind.
func MockOfferings() []domain.TicketOffering {
	return []domain.TicketOffering{
		{ID: "mock-early-bird", Kind: domain.KindEarlyBird, UnitPrice: 150000, TotalQuantity: 50, SoldQuantity: 50, Description: "Limited early bird pricing"},
		{ID: "mock-regular", Kind: domain.KindRegular, UnitPrice: 250000, TotalQuantity: 200, SoldQuantity: 37, Description: "General admission"},
		{ID: "mock-vip", Kind: domain.KindVIP, UnitPrice: 750000, TotalQuantity: 20, SoldQuantity: 12, Description: "Front row seating and lounge access"},
	}
}
