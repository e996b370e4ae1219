package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMaxSize = 1000
	defaultTTL     = 5 * time.Minute
)

type memItem struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process LRU. The LRU's own TTL bounds every entry; a
// shorter per-entry ttl is checked on read.
type Memory struct {
	lru *expirable.LRU[string, memItem]
	ttl time.Duration
	now func() time.Time
}

// NewMemory creates an LRU holding up to size entries for at most ttl.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = defaultMaxSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Memory{
		lru: expirable.NewLRU[string, memItem](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	item, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !item.expires.IsZero() && !m.now().Before(item.expires) {
		m.lru.Remove(key)
		return nil, false
	}
	return item.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	item := memItem{value: append([]byte(nil), value...)}
	if ttl > 0 && ttl < m.ttl {
		item.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, item)
}

func (m *Memory) Delete(_ context.Context, keys ...string) {
	for _, k := range keys {
		m.lru.Remove(k)
	}
}

// Len reports the number of live entries.
func (m *Memory) Len() int { return m.lru.Len() }

func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
