// Package checkout drives ticket selection for one event and hands confirmed
// purchases to the transaction service.
package checkout

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

type Catalog interface {
	Offerings(ctx context.Context, eventID string) ([]domain.TicketOffering, error)
}

// Inventory is the live catalog. IncrementSold must refuse to take an
// offering past its total quantity, failing with domain.ErrExceedsAvailability.
type Inventory interface {
	Catalog
	IncrementSold(ctx context.Context, eventID, offeringID string, qty int) error
	DecrementSold(ctx context.Context, eventID, offeringID string, qty int) error
}

type TransactionCreator interface {
	Create(ctx context.Context, t domain.Transaction) error
}

type Auditor interface {
	LogTransaction(ctx context.Context, t domain.Transaction) error
}

type Line struct {
	OfferingID string            `json:"offering_id"`
	Kind       domain.TicketKind `json:"type"`
	Quantity   int               `json:"quantity"`
	UnitPrice  int64             `json:"unit_price"`
	Subtotal   int64             `json:"subtotal"`
}

// Summary is a selection with its derived totals, as shown before purchase.
type Summary struct {
	EventID       string         `json:"event_id"`
	Selection     map[string]int `json:"selection"`
	Lines         []Line         `json:"lines"`
	TotalQuantity int            `json:"total_quantity"`
	TotalPrice    int64          `json:"total_price"`
	Unknown       []string       `json:"unknown_offerings,omitempty"`
}

type Service struct {
	browse         Catalog
	live           Inventory
	txs            TransactionCreator
	audit          Auditor
	maxPerOffering int
	logger         observability.Logger
}

// NewService wires checkout. browse may be cached; live must read the
// current catalog since purchases are re-validated and reserved against it.
func NewService(browse Catalog, live Inventory, txs TransactionCreator, audit Auditor, maxPerOffering int, logger observability.Logger) *Service {
	return &Service{
		browse:         browse,
		live:           live,
		txs:            txs,
		audit:          audit,
		maxPerOffering: maxPerOffering,
		logger:         logger,
	}
}

func (s *Service) Offerings(ctx context.Context, eventID string) ([]domain.TicketOffering, error) {
	return s.browse.Offerings(ctx, eventID)
}

// SetQuantity applies one quantity change. On a rejected change the returned
// summary describes the unchanged selection.
func (s *Service) SetQuantity(ctx context.Context, sel domain.Selection, offeringID string, quantity int) (Summary, error) {
	offerings, err := s.browse.Offerings(ctx, sel.EventID())
	if err != nil {
		return Summary{}, err
	}
	if s.maxPerOffering > 0 && quantity > s.maxPerOffering {
		err := &domain.Error{Kind: domain.KindExceedsLimit, OfferingID: offeringID, Requested: quantity, Available: s.maxPerOffering}
		return s.reject(sel, offerings, err)
	}
	next, err := sel.SetQuantity(offeringID, quantity, offerings)
	if err != nil {
		return s.reject(sel, offerings, err)
	}
	return s.summarize(next, offerings), nil
}

// Summarize prices a client-held selection against the browse catalog.
func (s *Service) Summarize(ctx context.Context, sel domain.Selection) (Summary, error) {
	offerings, err := s.browse.Offerings(ctx, sel.EventID())
	if err != nil {
		return Summary{}, err
	}
	return s.summarize(sel, offerings), nil
}

// Checkout confirms sel against the live catalog, reserves the tickets and
// records a PENDING transaction for identityID. Reserved tickets count as
// sold until the transaction is cancelled.
func (s *Service) Checkout(ctx context.Context, identityID string, sel domain.Selection, paymentMethod string) (domain.Transaction, error) {
	if err := s.checkLimit(sel); err != nil {
		s.countRejection(err)
		return domain.Transaction{}, err
	}
	offerings, err := s.live.Offerings(ctx, sel.EventID())
	if err != nil {
		return domain.Transaction{}, err
	}
	intent, err := sel.ConfirmPurchase(offerings)
	if err != nil {
		s.countRejection(err)
		return domain.Transaction{}, err
	}
	if err := s.reserve(ctx, intent); err != nil {
		s.countRejection(err)
		return domain.Transaction{}, err
	}

	t := domain.NewTransaction(intent, identityID, paymentMethod)
	if err := s.txs.Create(ctx, t); err != nil {
		s.release(ctx, intent.EventID, intent.Items)
		return domain.Transaction{}, errors.Wrap(err, "create transaction")
	}
	observability.CheckoutAmount.Observe(float64(t.TotalAmount))

	if s.audit != nil {
		if err := s.audit.LogTransaction(ctx, t); err != nil {
			s.logger.WithField("transaction_id", t.ID.String()).Warn("audit failed: ", err)
		}
	}
	return t, nil
}

func (s *Service) checkLimit(sel domain.Selection) error {
	if s.maxPerOffering <= 0 {
		return nil
	}
	items := sel.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if q := items[id]; q > s.maxPerOffering {
			return &domain.Error{Kind: domain.KindExceedsLimit, OfferingID: id, Requested: q, Available: s.maxPerOffering}
		}
	}
	return nil
}

// reserve takes every item out of stock or none of them.
func (s *Service) reserve(ctx context.Context, intent domain.PurchaseIntent) error {
	for i, item := range intent.Items {
		err := s.live.IncrementSold(ctx, intent.EventID, item.OfferingID, item.Quantity)
		if err == nil {
			continue
		}
		s.release(ctx, intent.EventID, intent.Items[:i])
		if errors.Is(err, domain.ErrExceedsAvailability) {
			return s.soldOut(ctx, intent.EventID, item)
		}
		return errors.Wrapf(err, "reserve %s", item.OfferingID)
	}
	return nil
}

func (s *Service) release(ctx context.Context, eventID string, items []domain.PurchaseItem) {
	ctx = context.WithoutCancel(ctx)
	for _, item := range items {
		if err := s.live.DecrementSold(ctx, eventID, item.OfferingID, item.Quantity); err != nil {
			s.logger.WithFields(map[string]interface{}{"event_id": eventID, "offering_id": item.OfferingID}).
				Error("failed to release reserved tickets: ", err)
		}
	}
}

// soldOut reports a lost reservation race with the availability seen now.
func (s *Service) soldOut(ctx context.Context, eventID string, item domain.PurchaseItem) error {
	available := 0
	if offerings, err := s.live.Offerings(ctx, eventID); err == nil {
		for _, o := range offerings {
			if o.ID == item.OfferingID {
				available = o.Available()
			}
		}
	}
	return &domain.Error{Kind: domain.KindExceedsAvailability, OfferingID: item.OfferingID, Requested: item.Quantity, Available: available}
}

func (s *Service) reject(sel domain.Selection, offerings []domain.TicketOffering, err error) (Summary, error) {
	s.countRejection(err)
	return s.summarize(sel, offerings), err
}

func (s *Service) countRejection(err error) {
	if kind, ok := domain.KindOf(err); ok {
		observability.SelectionErrors.WithLabelValues(string(kind)).Inc()
	}
}

func (s *Service) summarize(sel domain.Selection, offerings []domain.TicketOffering) Summary {
	sum := Summary{
		EventID:       sel.EventID(),
		Selection:     sel.Items(),
		Lines:         []Line{},
		TotalQuantity: sel.TotalQuantity(),
		TotalPrice:    sel.TotalPrice(offerings),
		Unknown:       sel.UnknownOfferings(offerings),
	}
	for _, o := range offerings {
		q := sel.Quantity(o.ID)
		if q == 0 {
			continue
		}
		sum.Lines = append(sum.Lines, Line{
			OfferingID: o.ID,
			Kind:       o.Kind,
			Quantity:   q,
			UnitPrice:  o.UnitPrice,
			Subtotal:   int64(q) * o.UnitPrice,
		})
	}
	if len(sum.Unknown) > 0 {
		s.logger.WithFields(map[string]interface{}{"event_id": sel.EventID(), "offerings": sum.Unknown}).
			Warn("selection references offerings missing from catalog")
	}
	return sum
}
