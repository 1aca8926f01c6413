// Package transactions is the transaction-creation side of checkout: it
// records confirmed purchases and settles them, emitting outbox events in the
// same database transaction.
package transactions

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

const (
	EventCreated   = "transaction.created"
	EventCompleted = "transaction.completed"
	EventCancelled = "transaction.cancelled"
)

// Event is the message body published for every transaction status change.
type Event struct {
	TransactionID uuid.UUID                `json:"transaction_id"`
	EventID       string                   `json:"event_id"`
	UserID        string                   `json:"user_id"`
	Status        domain.TransactionStatus `json:"status"`
	Total         int64                    `json:"total"`
	Items         []EventItem              `json:"items"`
}

type EventItem struct {
	OfferingID string `json:"offering_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
}

func eventOf(t domain.Transaction) Event {
	items := make([]EventItem, len(t.Items))
	for i, it := range t.Items {
		items[i] = EventItem{OfferingID: it.OfferingID, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return Event{
		TransactionID: t.ID,
		EventID:       t.EventID,
		UserID:        t.UserID,
		Status:        t.Status,
		Total:         t.TotalAmount,
		Items:         items,
	}
}

type Service struct {
	repo   *crdb.Repository
	logger observability.Logger
}

func NewService(repo *crdb.Repository, logger observability.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create stores a PENDING transaction and its created event.
func (s *Service) Create(ctx context.Context, t domain.Transaction) error {
	return s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return err
		}
		rec, err := crdb.NewOutboxRecord(t.ID, EventCreated, eventOf(t))
		if err != nil {
			return err
		}
		return s.repo.InsertOutbox(ctx, tx, rec)
	})
}

// Settle applies a payment outcome to a PENDING transaction.
func (s *Service) Settle(ctx context.Context, id uuid.UUID, succeeded bool) (domain.TransactionStatus, error) {
	to := domain.StatusCancelled
	if succeeded {
		to = domain.StatusCompleted
	}
	return to, s.transition(ctx, id, domain.StatusPending, to)
}

// Cancel cancels a transaction that is still PENDING.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.StatusPending, domain.StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus) error {
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.UpdateTransactionStatus(ctx, tx, id, from, to); err != nil {
			return err
		}
		t, err := s.repo.GetTransactionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		eventType := EventCancelled
		if to == domain.StatusCompleted {
			eventType = EventCompleted
		}
		rec, err := crdb.NewOutboxRecord(id, eventType, eventOf(*t))
		if err != nil {
			return err
		}
		return s.repo.InsertOutbox(ctx, tx, rec)
	})
	if err != nil {
		return errors.Wrapf(err, "%s -> %s for %s", from, to, id)
	}
	s.logger.WithFields(map[string]interface{}{"transaction_id": id.String(), "status": string(to)}).Info("transaction settled")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

func (s *Service) CustomerStats(ctx context.Context, userID string) (domain.CustomerStats, error) {
	return s.repo.CustomerStats(ctx, userID)
}

func (s *Service) SalesStats(ctx context.Context, eventIDs []string) (domain.SalesStats, error) {
	return s.repo.SalesStats(ctx, eventIDs)
}

// ListForUser pages through the transactions identityID owns.
func (s *Service) ListForUser(ctx context.Context, identityID string, status domain.TransactionStatus, page domain.Page) ([]domain.Transaction, int, error) {
	return s.repo.ListTransactions(ctx, domain.TransactionFilter{UserID: identityID, Status: status, Page: page})
}

// ListSales pages through the transactions of eventIDs.
func (s *Service) ListSales(ctx context.Context, eventIDs []string, status domain.TransactionStatus, page domain.Page) ([]domain.Transaction, int, error) {
	if eventIDs == nil {
		eventIDs = []string{}
	}
	return s.repo.ListTransactions(ctx, domain.TransactionFilter{EventIDs: eventIDs, Status: status, Page: page})
}
