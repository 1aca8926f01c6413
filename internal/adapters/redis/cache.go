package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func offeringsKey(eventID string) string {
	return "catalog:offerings:" + eventID
}

// GetOfferings returns cached offerings for an event; found is false on a miss.
func (c *Cache) GetOfferings(ctx context.Context, eventID string) ([]domain.TicketOffering, bool, error) {
	data, err := c.client.Get(ctx, offeringsKey(eventID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get cached offerings")
	}
	var offerings []domain.TicketOffering
	if err := json.Unmarshal(data, &offerings); err != nil {
		return nil, false, errors.Wrap(err, "decode cached offerings")
	}
	return offerings, true, nil
}

func (c *Cache) SetOfferings(ctx context.Context, eventID string, offerings []domain.TicketOffering, ttl time.Duration) error {
	data, err := json.Marshal(offerings)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, offeringsKey(eventID), data, ttl).Err()
}

// InvalidateOfferings drops the cached offerings of an event, e.g. after
// sold counts change.
func (c *Cache) InvalidateOfferings(ctx context.Context, eventID string) error {
	return c.client.Del(ctx, offeringsKey(eventID)).Err()
}

// IncrWindow counts hits on key in a fixed window starting at the first hit.
func (c *Cache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MarkProcessed records a message id and reports whether it was new.
func (c *Cache) MarkProcessed(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "processed:"+messageID, 1, ttl)
	return res.Val(), res.Err()
}

func (c *Cache) ForgetProcessed(ctx context.Context, messageID string) error {
	return c.client.Del(ctx, "processed:"+messageID).Err()
}
