package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/internalerr"
)

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "stats", StatsKey)
	assert.Equal(t, "history:alice", HistoryKey("alice"))
	assert.Equal(t, "article:abc", ArticleKey("abc"))
	assert.Equal(t, "token:cat", TokenKey("cat"))
}

func TestRedisRoundTrip(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "token:cat")
	assert.False(t, ok)

	c.Set(ctx, "token:cat", []byte("id-cat"), time.Minute)
	got, ok := c.Get(ctx, "token:cat")
	require.True(t, ok)
	assert.Equal(t, "id-cat", string(got))

	assert.True(t, mr.Exists("infiniwiki:token:cat"), "keys are namespaced")
	assert.Equal(t, time.Minute, mr.TTL("infiniwiki:token:cat"))

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "token:cat")
	assert.False(t, ok, "expired entry must miss")
}

func TestRedisDelete(t *testing.T) {
	c, _ := setupRedis(t)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), 0)
	c.Set(ctx, "b", []byte("2"), 0)
	c.Delete(ctx, "a", "b", "missing")
	c.Delete(ctx)

	_, okA := c.Get(ctx, "a")
	_, okB := c.Get(ctx, "b")
	assert.False(t, okA)
	assert.False(t, okB)
}

func TestRedisOutageBehavesAsMiss(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	mr.Close()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.NotPanics(t, func() {
		c.Set(ctx, "k", []byte("v"), time.Minute)
		c.Delete(ctx, "k")
	})
}

func TestNewRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), RedisOptions{
		URL:            "redis://" + addr,
		ConnectTimeout: 200 * time.Millisecond,
	})
	require.Error(t, err)

	_, err = NewRedis(context.Background(), RedisOptions{URL: "://bad"})
	require.Error(t, err)
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory(10, time.Minute)
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), 0)
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))

	m.Delete(ctx, "k")
	_, ok = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryPerEntryTTL(t *testing.T) {
	m := NewMemory(10, time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Set(ctx, "short", []byte("v"), time.Second)
	m.Set(ctx, "long", []byte("v"), 0)

	now = now.Add(2 * time.Second)
	_, ok := m.Get(ctx, "short")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "long")
	assert.True(t, ok)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	m := NewMemory(2, time.Minute)
	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), 0)
	m.Set(ctx, "b", []byte("2"), 0)
	m.Get(ctx, "a")
	m.Set(ctx, "c", []byte("3"), 0)

	assert.Equal(t, 2, m.Len())
	_, ok := m.Get(ctx, "b")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "a")
	assert.True(t, ok)
}

func TestMemoryCopiesValue(t *testing.T) {
	m := NewMemory(2, time.Minute)
	ctx := context.Background()

	buf := []byte("abc")
	m.Set(ctx, "k", buf, 0)
	buf[0] = 'x'

	got, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
}

func TestJSONHelpers(t *testing.T) {
	type payload struct {
		Name  string
		Count int
	}
	m := NewMemory(10, time.Minute)
	ctx := context.Background()

	SetJSON(ctx, m, "p", payload{Name: "cat", Count: 3}, 0)
	got, ok := GetJSON[payload](ctx, m, "p")
	require.True(t, ok)
	assert.Equal(t, payload{Name: "cat", Count: 3}, got)

	m.Set(ctx, "broken", []byte("{"), 0)
	_, ok = GetJSON[payload](ctx, m, "broken")
	assert.False(t, ok)

	_, ok = GetJSON[payload](ctx, Nop{}, "p")
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	c, err := Open(ctx, Options{Backend: BackendMemory, MaxSize: 5, TTL: time.Minute}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = Open(ctx, Options{Backend: BackendNone}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, c)

	mr := miniredis.RunT(t)
	c, err = Open(ctx, Options{Backend: BackendRedis, RedisURL: "redis://" + mr.Addr()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, c)
	require.NoError(t, c.Close())

	_, err = Open(ctx, Options{Backend: "memcached"}, nil)
	assert.True(t, errors.Is(err, internalerr.ErrInvalidConfig))
}

func TestOpenFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c, err := Open(context.Background(), Options{Backend: BackendRedis, RedisURL: "redis://" + addr}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, c)
}
