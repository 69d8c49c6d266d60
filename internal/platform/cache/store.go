// Package cache holds expiring key/value stores used to keep recent gateway
// reads.
package cache

import (
	"context"
	"time"
)

// Store is a cache backend. An entry older than its TTL is reported as absent.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteMatching removes every key for which match returns true and
	// reports how many were removed.
	DeleteMatching(ctx context.Context, match func(key string) bool) (int, error)
	Clear(ctx context.Context) error
}
