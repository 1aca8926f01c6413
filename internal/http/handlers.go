package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/checkout"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"golang.org/x/sync/errgroup"
)

type RoleController interface {
	GetRole(ctx context.Context, identityID string) domain.Role
	SetRole(ctx context.Context, identityID string, role domain.Role)
	Context(ctx context.Context, signedIn bool, identityID string) domain.AccessContext
}

type RoleAuditor interface {
	LogRoleSwitch(ctx context.Context, identityID string, from, to domain.Role) error
}

type Checkout interface {
	Offerings(ctx context.Context, eventID string) ([]domain.TicketOffering, error)
	SetQuantity(ctx context.Context, sel domain.Selection, offeringID string, quantity int) (checkout.Summary, error)
	Summarize(ctx context.Context, sel domain.Selection) (checkout.Summary, error)
	Checkout(ctx context.Context, identityID string, sel domain.Selection, paymentMethod string) (domain.Transaction, error)
}

type Transactions interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Settle(ctx context.Context, id uuid.UUID, succeeded bool) (domain.TransactionStatus, error)
	CustomerStats(ctx context.Context, userID string) (domain.CustomerStats, error)
	SalesStats(ctx context.Context, eventIDs []string) (domain.SalesStats, error)
	ListForUser(ctx context.Context, identityID string, status domain.TransactionStatus, page domain.Page) ([]domain.Transaction, int, error)
	ListSales(ctx context.Context, eventIDs []string, status domain.TransactionStatus, page domain.Page) ([]domain.Transaction, int, error)
}

type Events interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, int64, error)
	ListByOrganizer(ctx context.Context, organizerID string) ([]domain.Event, error)
	CreateEvent(ctx context.Context, event domain.Event) error
	UpdateEvent(ctx context.Context, organizerID, id string, upd domain.EventUpdate) (*domain.Event, error)
	DeleteEvent(ctx context.Context, organizerID, id string) error
}

// Check is a named readiness check.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handlers struct {
	cfg      *config.Config
	roles    RoleController
	audit    RoleAuditor
	checkout Checkout
	txs      Transactions
	events   Events
	checks   []Check
	logger   observability.Logger
}

func NewHandlers(cfg *config.Config, roles RoleController, audit RoleAuditor, co Checkout, txs Transactions, events Events, checks []Check, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:      cfg,
		roles:    roles,
		audit:    audit,
		checkout: co,
		txs:      txs,
		events:   events,
		checks:   checks,
		logger:   logger,
	}
}

type roleView struct {
	IdentityID string      `json:"identity_id"`
	Role       domain.Role `json:"role"`
}

func (h *Handlers) GetMyRole(w http.ResponseWriter, r *http.Request) {
	ac, _ := AccessFrom(r.Context())
	writeJSON(w, http.StatusOK, roleView{IdentityID: ac.IdentityID, Role: ac.Role})
}

func (h *Handlers) SwitchRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role" validate:"required"`
	}
	if !decode(w, r, &req) {
		return
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid_role", "role must be CUSTOMER or ORGANIZER")
		return
	}

	ac, _ := AccessFrom(r.Context())
	h.roles.SetRole(r.Context(), ac.IdentityID, role)
	current := h.roles.GetRole(r.Context(), ac.IdentityID)
	if current != ac.Role && h.audit != nil {
		if err := h.audit.LogRoleSwitch(r.Context(), ac.IdentityID, ac.Role, current); err != nil {
			LoggerFrom(r.Context(), h.logger).Warn("role switch audit failed: ", err)
		}
	}
	writeJSON(w, http.StatusOK, roleView{IdentityID: ac.IdentityID, Role: current})
}

type decisionView struct {
	Allowed     bool        `json:"allowed"`
	Reason      string      `json:"reason,omitempty"`
	Role        domain.Role `json:"role,omitempty"`
	CurrentRole domain.Role `json:"current_role,omitempty"`
}

// CheckAccess answers whether the caller would pass a guard requiring any of
// the comma separated roles query parameter. Unknown names are ignored.
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var required []domain.Role
	for _, name := range strings.Split(r.URL.Query().Get("roles"), ",") {
		if role, ok := domain.ParseRole(name); ok {
			required = append(required, role)
		}
	}
	id := IdentityFrom(r.Context())
	ac := h.roles.Context(r.Context(), id.SignedIn, id.ID)
	d := domain.Authorize(ac, required...)
	view := decisionView{Allowed: d.Allowed, Reason: string(d.Reason), CurrentRole: d.CurrentRole}
	if ac.SignedIn {
		view.Role = ac.Role
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) ListOfferings(w http.ResponseWriter, r *http.Request) {
	offerings, err := h.checkout.Offerings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"event_id": chi.URLParam(r, "id"), "offerings": offeringViews(offerings)})
}

type createEventRequest struct {
	Name        string            `json:"name" validate:"required,max=200"`
	Description string            `json:"description" validate:"max=5000"`
	Location    string            `json:"location" validate:"required,max=200"`
	Category    string            `json:"category" validate:"max=64"`
	StartsAt    time.Time         `json:"starts_at"`
	Offerings   []offeringRequest `json:"offerings" validate:"required,min=1,dive"`
}

type offeringRequest struct {
	ID          string `json:"id" validate:"required,max=64"`
	Type        string `json:"type" validate:"required,oneof=REGULAR VIP EARLY_BIRD"`
	Price       int64  `json:"price" validate:"gte=0"`
	Quantity    int    `json:"quantity" validate:"gte=1"`
	Description string `json:"description" validate:"max=500"`
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.StartsAt.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_body", "starts_at is required")
		return
	}

	offerings, ok := offeringsFrom(w, req.Offerings)
	if !ok {
		return
	}

	ac, _ := AccessFrom(r.Context())
	event := domain.Event{
		ID:          uuid.New().String(),
		OrganizerID: ac.IdentityID,
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Category:    req.Category,
		StartsAt:    req.StartsAt.UTC(),
		Status:      domain.EventPublished,
		Offerings:   offerings,
	}
	if err := h.events.CreateEvent(r.Context(), event); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"event_id": event.ID, "status": event.Status})
}

type selectionRequest struct {
	Selection  map[string]int `json:"selection"`
	OfferingID string         `json:"offering_id" validate:"max=64"`
	Quantity   *int           `json:"quantity"`
}

// UpdateSelection applies one quantity change to a client-held selection, or
// only prices it when no offering is named.
func (h *Handlers) UpdateSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decode(w, r, &req) {
		return
	}
	sel, err := domain.SelectionFrom(chi.URLParam(r, "id"), req.Selection)
	if err != nil {
		writeSelectionError(w, err, nil)
		return
	}

	var sum checkout.Summary
	if req.OfferingID == "" {
		sum, err = h.checkout.Summarize(r.Context(), sel)
	} else {
		if req.Quantity == nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "quantity is required with offering_id")
			return
		}
		sum, err = h.checkout.SetQuantity(r.Context(), sel, req.OfferingID, *req.Quantity)
	}
	if _, isKind := domain.KindOf(err); isKind {
		writeSelectionError(w, err, sum)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type checkoutRequest struct {
	Selection     map[string]int `json:"selection"`
	PaymentMethod string         `json:"payment_method" validate:"required,max=32"`
}

type transactionItemView struct {
	OfferingID string            `json:"offering_id"`
	Type       domain.TicketKind `json:"type"`
	Quantity   int               `json:"quantity"`
	UnitPrice  int64             `json:"unit_price"`
	Subtotal   int64             `json:"subtotal"`
}

type transactionView struct {
	ID            uuid.UUID                `json:"transaction_id"`
	UserID        string                   `json:"user_id"`
	EventID       string                   `json:"event_id"`
	Status        domain.TransactionStatus `json:"status"`
	PaymentMethod string                   `json:"payment_method"`
	Total         int64                    `json:"total"`
	Items         []transactionItemView    `json:"items"`
	CreatedAt     time.Time                `json:"created_at"`
	PayBefore     *time.Time               `json:"pay_before,omitempty"`
}

func viewOf(t domain.Transaction) transactionView {
	items := make([]transactionItemView, len(t.Items))
	for i, it := range t.Items {
		items[i] = transactionItemView{
			OfferingID: it.OfferingID,
			Type:       it.Kind,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			Subtotal:   it.TotalPrice(),
		}
	}
	return transactionView{
		ID:            t.ID,
		UserID:        t.UserID,
		EventID:       t.EventID,
		Status:        t.Status,
		PaymentMethod: t.PaymentMethod,
		Total:         t.TotalAmount,
		Items:         items,
		CreatedAt:     t.CreatedAt,
	}
}

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decode(w, r, &req) {
		return
	}
	sel, err := domain.SelectionFrom(chi.URLParam(r, "id"), req.Selection)
	if err != nil {
		writeSelectionError(w, err, nil)
		return
	}

	ac, _ := AccessFrom(r.Context())
	t, err := h.checkout.Checkout(r.Context(), ac.IdentityID, sel, req.PaymentMethod)
	if _, isKind := domain.KindOf(err); isKind {
		writeSelectionError(w, err, sel.Items())
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	view := viewOf(t)
	payBefore := t.CreatedAt.Add(h.cfg.PaymentTTL)
	view.PayBefore = &payBefore
	writeJSON(w, http.StatusCreated, view)
}

// GetTransaction only shows a transaction to the identity that owns it.
func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid id")
		return
	}
	t, err := h.txs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ac, _ := AccessFrom(r.Context())
	if t.UserID != ac.IdentityID {
		writeError(w, http.StatusNotFound, "not_found", "transaction not found")
		return
	}
	view := viewOf(*t)
	if t.Status == domain.StatusPending {
		payBefore := t.CreatedAt.Add(h.cfg.PaymentTTL)
		view.PayBefore = &payBefore
	}
	writeJSON(w, http.StatusOK, view)
}

// statusFrom reads the optional status query parameter.
func statusFrom(w http.ResponseWriter, r *http.Request) (domain.TransactionStatus, bool) {
	raw := strings.ToUpper(r.URL.Query().Get("status"))
	switch status := domain.TransactionStatus(raw); status {
	case "", domain.StatusPending, domain.StatusCompleted, domain.StatusCancelled, domain.StatusRefunded:
		return status, true
	}
	writeError(w, http.StatusBadRequest, "invalid_query", "unknown status "+raw)
	return "", false
}

func writeTransactions(w http.ResponseWriter, txs []domain.Transaction, page domain.Page, total int) {
	views := make([]transactionView, len(txs))
	for i, t := range txs {
		views[i] = viewOf(t)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": views,
		"page":         pageView{Page: page.Number, Limit: page.Size, Total: int64(total)},
	})
}

// ListMyTransactions is the caller's purchase history, newest first.
func (h *Handlers) ListMyTransactions(w http.ResponseWriter, r *http.Request) {
	page, ok := pageFrom(w, r)
	if !ok {
		return
	}
	status, ok := statusFrom(w, r)
	if !ok {
		return
	}
	ac, _ := AccessFrom(r.Context())
	txs, total, err := h.txs.ListForUser(r.Context(), ac.IdentityID, status, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeTransactions(w, txs, page, total)
}

// OrganizerSales lists transactions across the caller's events, or one of
// them when event_id is given.
func (h *Handlers) OrganizerSales(w http.ResponseWriter, r *http.Request) {
	page, ok := pageFrom(w, r)
	if !ok {
		return
	}
	status, ok := statusFrom(w, r)
	if !ok {
		return
	}
	ac, _ := AccessFrom(r.Context())
	events, err := h.events.ListByOrganizer(r.Context(), ac.IdentityID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids := make([]string, 0, len(events))
	only := r.URL.Query().Get("event_id")
	for _, e := range events {
		if only == "" || e.ID == only {
			ids = append(ids, e.ID)
		}
	}
	if only != "" && len(ids) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "event not found")
		return
	}
	txs, total, err := h.txs.ListSales(r.Context(), ids, status, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeTransactions(w, txs, page, total)
}

func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transaction_id" validate:"required,uuid"`
		Status        string `json:"status" validate:"required,oneof=SUCCEEDED FAILED"`
		ProviderRef   string `json:"provider_ref" validate:"max=128"`
	}
	if !decode(w, r, &req) {
		return
	}
	id := uuid.MustParse(req.TransactionID)

	status, err := h.txs.Settle(r.Context(), id, req.Status == "SUCCEEDED")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	LoggerFrom(r.Context(), h.logger).WithFields(map[string]interface{}{
		"transaction_id": id.String(),
		"provider_ref":   req.ProviderRef,
		"status":         string(status),
	}).Info("payment settled")
	writeJSON(w, http.StatusOK, map[string]interface{}{"transaction_id": id, "status": status})
}

func (h *Handlers) CustomerDashboard(w http.ResponseWriter, r *http.Request) {
	ac, _ := AccessFrom(r.Context())
	stats, err := h.txs.CustomerStats(r.Context(), ac.IdentityID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) OrganizerDashboard(w http.ResponseWriter, r *http.Request) {
	ac, _ := AccessFrom(r.Context())
	events, err := h.events.ListByOrganizer(r.Context(), ac.IdentityID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	stats := domain.OrganizerStats{TotalEvents: len(events)}
	ids := make([]string, 0, len(events))
	now := time.Now()
	for _, e := range events {
		ids = append(ids, e.ID)
		if e.StartsAt.After(now) && e.Status != domain.EventCancelled {
			stats.UpcomingEvents++
		}
	}
	if len(ids) > 0 {
		stats.SalesStats, err = h.txs.SalesStats(r.Context(), ids)
		if err != nil {
			h.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz pings every dependency concurrently and reports each one.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make([]string, len(h.checks))
	var g errgroup.Group
	for i, c := range h.checks {
		i, c := i, c
		g.Go(func() error {
			if err := c.Ping(ctx); err != nil {
				results[i] = err.Error()
				return err
			}
			results[i] = "ok"
			return nil
		})
	}
	err := g.Wait()

	body := make(map[string]string, len(h.checks))
	for i, c := range h.checks {
		body[c.Name] = results[i]
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}
