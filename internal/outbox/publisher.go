package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/event-ticketing/internal/adapters/rabbit"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
	batch     int
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger, batch int) *Publisher {
	if batch <= 0 {
		batch = 10
	}
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger, batch: batch}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Flush(ctx)
			if err != nil {
				p.logger.Error("outbox flush failed: ", err)
				continue
			}
			if n > 0 {
				p.logger.WithField("count", n).Debug("outbox records published")
			}
		}
	}
}

// Flush publishes one batch. A record that fails to publish stays NEW and is
// retried on the next tick; delivery is at least once.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	published := 0
	err := p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.LockUnpublished(ctx, tx, p.batch)
		if err != nil {
			return err
		}
		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Timestamp:   rec.CreatedAt,
				Body:        rec.Payload,
			}
			if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
				p.logger.WithField("outbox_id", rec.ID.String()).Warn("publish failed: ", err)
				continue
			}
			observability.OutboxLag.Set(time.Since(rec.CreatedAt).Seconds())
			if err := p.repo.MarkPublished(ctx, tx, rec.ID, time.Now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}
