package catalog

import (
	"context"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

type EventStore interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, int64, error)
	ListByOrganizer(ctx context.Context, organizerID string) ([]domain.Event, error)
	CreateEvent(ctx context.Context, event domain.Event) error
	UpdateEvent(ctx context.Context, organizerID, id string, upd domain.EventUpdate) (*domain.Event, error)
	DeleteEvent(ctx context.Context, organizerID, id string) error
}

type Invalidator interface {
	InvalidateOfferings(ctx context.Context, eventID string) error
}

// Events manages catalog entries and keeps cached offerings from outliving
// an edit.
type Events struct {
	EventStore
	cache  Invalidator
	logger observability.Logger
}

func NewEvents(store EventStore, cache Invalidator, logger observability.Logger) *Events {
	return &Events{EventStore: store, cache: cache, logger: logger}
}

func (e *Events) UpdateEvent(ctx context.Context, organizerID, id string, upd domain.EventUpdate) (*domain.Event, error) {
	event, err := e.EventStore.UpdateEvent(ctx, organizerID, id, upd)
	if len(upd.Offerings) > 0 {
		// a failed update may still have changed some offerings
		e.invalidate(ctx, id)
	}
	return event, err
}

func (e *Events) DeleteEvent(ctx context.Context, organizerID, id string) error {
	if err := e.EventStore.DeleteEvent(ctx, organizerID, id); err != nil {
		return err
	}
	e.invalidate(ctx, id)
	return nil
}

func (e *Events) invalidate(ctx context.Context, id string) {
	if err := e.cache.InvalidateOfferings(ctx, id); err != nil {
		e.logger.WithField("event_id", id).Warn("cache invalidation failed: ", err)
	}
}
