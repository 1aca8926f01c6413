package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

type offeringView struct {
	domain.TicketOffering
	Available int `json:"available"`
}

func offeringViews(offerings []domain.TicketOffering) []offeringView {
	views := make([]offeringView, len(offerings))
	for i, o := range offerings {
		views[i] = offeringView{TicketOffering: o, Available: o.Available()}
	}
	return views
}

type eventView struct {
	ID          string             `json:"event_id"`
	OrganizerID string             `json:"organizer_id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Location    string             `json:"location"`
	Category    string             `json:"category,omitempty"`
	StartsAt    time.Time          `json:"starts_at"`
	Status      domain.EventStatus `json:"status"`
	Offerings   []offeringView     `json:"offerings"`
}

func eventViewOf(e domain.Event) eventView {
	return eventView{
		ID:          e.ID,
		OrganizerID: e.OrganizerID,
		Name:        e.Name,
		Description: e.Description,
		Location:    e.Location,
		Category:    e.Category,
		StartsAt:    e.StartsAt,
		Status:      e.Status,
		Offerings:   offeringViews(e.Offerings),
	}
}

type pageView struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// pageFrom reads the page and limit query parameters.
func pageFrom(w http.ResponseWriter, r *http.Request) (domain.Page, bool) {
	var p domain.Page
	for name, dst := range map[string]*int{"page": &p.Number, "limit": &p.Size} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_query", name+" must be a positive integer")
			return domain.Page{}, false
		}
		*dst = n
	}
	return p.Normalize(), true
}

// ListEvents is the public catalog listing.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	page, ok := pageFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	events, total, err := h.events.ListEvents(r.Context(), domain.EventFilter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Location: q.Get("location"),
		Page:     page,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]eventView, len(events))
	for i, e := range events {
		views[i] = eventViewOf(e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": views,
		"page":   pageView{Page: page.Number, Limit: page.Size, Total: total},
	})
}

// GetEvent shows published events to anyone and unpublished ones only to
// their organizer.
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if event.Status != domain.EventPublished && IdentityFrom(r.Context()).ID != event.OrganizerID {
		writeError(w, http.StatusNotFound, "not_found", "event not found")
		return
	}
	writeJSON(w, http.StatusOK, eventViewOf(*event))
}

type updateEventRequest struct {
	Name        *string           `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string           `json:"description" validate:"omitempty,max=5000"`
	Location    *string           `json:"location" validate:"omitempty,min=1,max=200"`
	Category    *string           `json:"category" validate:"omitempty,max=64"`
	StartsAt    *time.Time        `json:"starts_at"`
	Status      *string           `json:"status" validate:"omitempty,oneof=DRAFT PUBLISHED CANCELLED COMPLETED"`
	Offerings   []offeringRequest `json:"offerings" validate:"omitempty,dive"`
}

func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req updateEventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.StartsAt != nil && req.StartsAt.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_body", "starts_at must be a valid time")
		return
	}
	offerings, ok := offeringsFrom(w, req.Offerings)
	if !ok {
		return
	}
	upd := domain.EventUpdate{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Category:    req.Category,
		StartsAt:    req.StartsAt,
		Offerings:   offerings,
	}
	if req.Status != nil {
		status := domain.EventStatus(*req.Status)
		upd.Status = &status
	}

	ac, _ := AccessFrom(r.Context())
	event, err := h.events.UpdateEvent(r.Context(), ac.IdentityID, chi.URLParam(r, "id"), upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventViewOf(*event))
}

func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	ac, _ := AccessFrom(r.Context())
	if err := h.events.DeleteEvent(r.Context(), ac.IdentityID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OrganizerEvents lists every event of the calling organizer, drafts
// included.
func (h *Handlers) OrganizerEvents(w http.ResponseWriter, r *http.Request) {
	ac, _ := AccessFrom(r.Context())
	events, err := h.events.ListByOrganizer(r.Context(), ac.IdentityID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]eventView, len(events))
	for i, e := range events {
		views[i] = eventViewOf(e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": views})
}

// offeringsFrom converts requested offerings, rejecting duplicate ids.
func offeringsFrom(w http.ResponseWriter, reqs []offeringRequest) ([]domain.TicketOffering, bool) {
	seen := make(map[string]bool, len(reqs))
	offerings := make([]domain.TicketOffering, 0, len(reqs))
	for _, o := range reqs {
		if seen[o.ID] {
			writeError(w, http.StatusUnprocessableEntity, "duplicate_offering", "offering ids must be unique: "+o.ID)
			return nil, false
		}
		seen[o.ID] = true
		offerings = append(offerings, domain.TicketOffering{
			ID:            o.ID,
			Kind:          domain.TicketKind(o.Type),
			UnitPrice:     o.Price,
			TotalQuantity: o.Quantity,
			Description:   o.Description,
		})
	}
	return offerings, true
}
