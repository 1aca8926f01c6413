package redis

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RoleStore persists roles as plain string keys without expiry.
type RoleStore struct {
	client *redis.Client
}

func NewRoleStore(client *redis.Client) *RoleStore {
	return &RoleStore{client: client}
}

func (s *RoleStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	return val, true, nil
}

func (s *RoleStore) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(s.client.Set(ctx, key, value, 0).Err(), "set %s", key)
}
