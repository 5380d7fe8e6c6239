package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces dedup keys in Redis.
const keyPrefix = "livedesk:mail:seen:"

// Redis is a seen-set that survives restarts and is shared across replicas.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a seen-set on an existing client. Close closes the client.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

// CheckAndMark implements Set using SETNX.
func (r *Redis) CheckAndMark(ctx context.Context, key string) (bool, error) {
	set, err := r.rdb.SetNX(ctx, keyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return !set, nil
}

// Forget implements Set.
func (r *Redis) Forget(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Close implements Set.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
