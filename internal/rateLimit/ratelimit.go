package rateLimit

import (
	"context"
	"time"

	"github.com/robertarktes/event-ticketing/internal/observability"
)

// Counter increments key within a fixed window and returns the new count.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Rule struct {
	Limit  int
	Period time.Duration
}

type RateLimiter struct {
	counter Counter
	logger  observability.Logger
}

func NewRateLimiter(counter Counter, logger observability.Logger) *RateLimiter {
	return &RateLimiter{counter: counter, logger: logger}
}

// Allow reports whether key is within rule. If the counter is unavailable
// the request is let through.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rule Rule) bool {
	n, err := rl.counter.IncrWindow(ctx, "rl:"+key, rule.Period)
	if err != nil {
		rl.logger.WithField("key", key).Warn("rate limiter unavailable: ", err)
		return true
	}
	if n > int64(rule.Limit) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
