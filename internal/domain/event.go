package domain

import "time"

type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCancelled EventStatus = "CANCELLED"
	EventCompleted EventStatus = "COMPLETED"
)

// Event is a catalog entry together with its ticket offerings.
type Event struct {
	ID          string
	OrganizerID string
	Name        string
	Description string
	Location    string
	Category    string
	StartsAt    time.Time
	Status      EventStatus
	Offerings   []TicketOffering
}
