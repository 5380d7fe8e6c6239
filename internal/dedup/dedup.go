// Package dedup remembers which inbound mail replies have already been
// applied so overlapping poll windows never apply the same reply twice.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/soyeahso/livedesk/internal/config"
)

// Set is a seen-set of dedup keys.
type Set interface {
	// CheckAndMark reports whether key was already seen, marking it if not.
	CheckAndMark(ctx context.Context, key string) (bool, error)
	// Forget removes key so a later attempt is treated as new.
	Forget(ctx context.Context, key string) error
	Close() error
}

// Open builds the seen-set selected by cfg.
func Open(cfg config.DedupConfig) (Set, error) {
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch cfg.Backend {
	case "", "memory":
		max := cfg.MaxEntries
		if max <= 0 {
			max = config.DefaultDedupMaxEntries
		}
		return NewMemory(ttl, max), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedis(rdb, ttl), nil
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Backend)
	}
}
