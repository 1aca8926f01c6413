package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/event-ticketing/internal/adapters/redis"
)

// ErrInFlight means a request with the same key is still being processed.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

const claimTTL = 30 * time.Second

type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.StoredResponse, error)
	Save(ctx context.Context, key string, resp redisadapter.StoredResponse, ttl time.Duration) error
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// Begin returns the recorded response for key if there is one. Otherwise it
// claims the key; the caller must then call Finish or Abort.
func (i *Idempotency) Begin(ctx context.Context, key string) (*Response, error) {
	stored, err := i.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return replayOf(stored), nil
	}
	ok, err := i.store.Claim(ctx, key, claimTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}
	// the previous holder may have finished between Get and Claim
	stored, err = i.store.Get(ctx, key)
	if err != nil || stored != nil {
		i.store.Release(ctx, key)
		if err != nil {
			return nil, err
		}
		return replayOf(stored), nil
	}
	return nil, nil
}

func replayOf(stored *redisadapter.StoredResponse) *Response {
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Body}
}

// Finish records resp for replay and releases the claim. Server errors are
// not recorded so the client may retry them.
func (i *Idempotency) Finish(ctx context.Context, key string, resp Response) error {
	defer i.store.Release(ctx, key)
	if resp.Status >= 500 {
		return nil
	}
	return i.store.Save(ctx, key, redisadapter.StoredResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Body:        resp.Result,
	}, i.ttl)
}

func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.store.Release(ctx, key)
}
