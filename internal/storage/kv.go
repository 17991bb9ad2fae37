// Package storage provides the durable key-value backend shared by the
// session store and the UI state manager.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound marks a key miss, as opposed to a backend failure.
var ErrNotFound = errors.New("storage: key not found")

// KV is the minimal contract the service needs from its durable store:
// string keys, string values, per-key TTL.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}
