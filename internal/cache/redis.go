package cache

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

const redisPrefix = "fragd:cache:"

// Redis stores entries without expiry.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, redisPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *Redis) Put(ctx context.Context, key Key, value []byte) error {
	return r.client.Set(ctx, redisPrefix+key.String(), value, 0).Err()
}
