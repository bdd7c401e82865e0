package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache(10, time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	assert.True(t, IsMiss(err))

	val := []byte("v1")
	require.NoError(t, c.Set(ctx, "k", val, 0))
	val[0] = 'x'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestMemoryCache_PerEntryTTL(t *testing.T) {
	c := NewMemoryCache(10, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("a"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("b"), 0))

	now = now.Add(2 * time.Second)
	_, err := c.Get(ctx, "short")
	assert.True(t, IsMiss(err))

	got, err := c.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, err := c.Get(ctx, "b")
	assert.True(t, IsMiss(err))
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(0, 0)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	require.NoError(t, c.Delete(ctx, "a", "b", "missing"))
	assert.Equal(t, 0, c.Len())
}

type countingObserver struct{ hits, misses int }

func (o *countingObserver) CacheHit(string)  { o.hits++ }
func (o *countingObserver) CacheMiss(string) { o.misses++ }

func TestInstrumented(t *testing.T) {
	obs := &countingObserver{}
	c := Instrumented(NewMemoryCache(10, time.Minute), "memory", obs)
	ctx := context.Background()

	_, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	_, _ = c.Get(ctx, "a")

	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
}
