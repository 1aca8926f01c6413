package domain

import "time"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Normalize fills in defaults and clamps the size.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// EventFilter narrows the public event listing. Search matches name and
// description, case-insensitively.
type EventFilter struct {
	Search   string
	Category string
	Location string
	Page     Page
}

// TransactionFilter selects transactions by owner or by event. At least one
// of UserID and EventIDs should be set; an empty Status matches any.
type TransactionFilter struct {
	UserID   string
	EventIDs []string
	Status   TransactionStatus
	Page     Page
}

// EventUpdate carries the fields an organizer may change. Nil fields are
// left alone. Offerings are upserted by id; existing offerings are never
// removed and their quantity cannot drop below what is already sold.
type EventUpdate struct {
	Name        *string
	Description *string
	Location    *string
	Category    *string
	StartsAt    *time.Time
	Status      *EventStatus
	Offerings   []TicketOffering
}
