package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID         uuid.UUID `bson:"_id"`
	Action     string    `bson:"action"`
	IdentityID string    `bson:"identity_id"`
	Timestamp  time.Time `bson:"timestamp"`
	Data       bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, identityID string, data map[string]interface{}) error {
	log := AuditLog{
		ID:         uuid.New(),
		Action:     action,
		IdentityID: identityID,
		Timestamp:  time.Now(),
		Data:       bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogRoleSwitch(ctx context.Context, identityID string, from, to domain.Role) error {
	return a.LogEvent(ctx, "role.switched", identityID, map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
}

func (a *AuditLogger) LogTransaction(ctx context.Context, tx domain.Transaction) error {
	items := make([]bson.M, len(tx.Items))
	for i, it := range tx.Items {
		items[i] = bson.M{
			"offering_id": it.OfferingID,
			"type":        string(it.Kind),
			"quantity":    it.Quantity,
			"unit_price":  it.UnitPrice,
		}
	}
	return a.LogEvent(ctx, "transaction.created", tx.UserID, map[string]interface{}{
		"transaction_id": tx.ID.String(),
		"event_id":       tx.EventID,
		"status":         string(tx.Status),
		"total":          tx.TotalAmount,
		"items":          items,
	})
}
