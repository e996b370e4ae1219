// Package cache holds derived, expiring copies of registry data.
//
// A cache is never authoritative. Every failure behaves as a miss on read
// and as a no-op on write or delete, so callers fall through to the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cognicore/infiniwiki/internal/logger"
	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
)

// Cache is a byte-oriented key/value cache with per-entry expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	Close() error
}

// Keys
const StatsKey = "stats"

func HistoryKey(viewer string) string { return "history:" + viewer }
func ArticleKey(id string) string     { return "article:" + id }
func TokenKey(name string) string     { return "token:" + name }

// GetJSON decodes the value under key into a T. A value that no longer
// decodes is treated as a miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var out T
	data, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(ctx, key, data, ttl)
}

// Backends
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	RedisURL string
	MaxSize  int
	TTL      time.Duration
}

// Open builds the configured cache. An unreachable Redis is logged and
// replaced by Nop so the service keeps running on the store alone.
func Open(ctx context.Context, opts Options, log *logger.Logger) (Cache, error) {
	log = logger.OrNop(log)
	switch opts.Backend {
	case BackendRedis:
		c, err := NewRedis(ctx, RedisOptions{URL: opts.RedisURL, Log: log})
		if err != nil {
			log.Warn("redis cache unavailable, caching disabled", "error", err)
			return Nop{}, nil
		}
		return c, nil
	case BackendMemory, "":
		return NewMemory(opts.MaxSize, opts.TTL), nil
	case BackendNone:
		return Nop{}, nil
	}
	return nil, fmt.Errorf("cache backend %q: %w", opts.Backend, internalerr.ErrInvalidConfig)
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Nop) Set(context.Context, string, []byte, time.Duration) {}
func (Nop) Delete(context.Context, ...string)                  {}
func (Nop) Close() error                                       { return nil }
