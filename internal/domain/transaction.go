package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusCancelled TransactionStatus = "CANCELLED"
	StatusRefunded  TransactionStatus = "REFUNDED"
)

type Transaction struct {
	ID            uuid.UUID
	UserID        string
	EventID       string
	Status        TransactionStatus
	PaymentMethod string
	TotalAmount   int64
	Items         []TransactionItem
	CreatedAt     time.Time
}

type TransactionItem struct {
	OfferingID string
	Kind       TicketKind
	Quantity   int
	UnitPrice  int64
}

func (i TransactionItem) TotalPrice() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// NewTransaction turns a confirmed purchase into a PENDING transaction owned
// by userID. Amounts are copied from the intent, never recomputed.
func NewTransaction(intent PurchaseIntent, userID, paymentMethod string) Transaction {
	items := make([]TransactionItem, len(intent.Items))
	for i, it := range intent.Items {
		items[i] = TransactionItem{
			OfferingID: it.OfferingID,
			Kind:       it.Kind,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
		}
	}
	return Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		EventID:       intent.EventID,
		Status:        StatusPending,
		PaymentMethod: paymentMethod,
		TotalAmount:   intent.Total,
		Items:         items,
		CreatedAt:     time.Now().UTC(),
	}
}
