package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCacheTest(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := NewRedisCache("redis://"+mr.Addr(), 30*time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c, mr
}

func TestCache_SetGet(t *testing.T) {
	c, _ := setupCacheTest(t)
	ctx := context.Background()

	data := map[string]interface{}{"id": float64(1), "barcode": "0400", "brand_id": nil}
	require.NoError(t, c.Set(ctx, "product", 1, data))

	got, err := c.Get(ctx, "product", 1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCache_MissReturnsNil(t *testing.T) {
	c, _ := setupCacheTest(t)

	got, err := c.Get(context.Background(), "product", 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := setupCacheTest(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "product", 1, map[string]interface{}{"id": float64(1)}))
	require.NoError(t, c.Invalidate(ctx, "product", 1))

	got, err := c.Get(ctx, "product", 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_InvalidateModel(t *testing.T) {
	c, _ := setupCacheTest(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "product", 1, map[string]interface{}{"id": float64(1)}))
	require.NoError(t, c.Set(ctx, "product", 2, map[string]interface{}{"id": float64(2)}))
	require.NoError(t, c.Set(ctx, "brand", 1, map[string]interface{}{"id": float64(1)}))

	require.NoError(t, c.InvalidateModel(ctx, "product"))

	got, err := c.Get(ctx, "product", 1)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = c.Get(ctx, "product", 2)
	require.NoError(t, err)
	assert.Nil(t, got)

	// other models keep their entries
	got, err = c.Get(ctx, "brand", 1)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestCache_CorruptEntryIsDropped(t *testing.T) {
	c, mr := setupCacheTest(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("serialization:product:1", "not json"))

	_, err := c.Get(ctx, "product", 1)
	assert.Error(t, err)

	// the corrupt entry was deleted so the next read is a clean miss
	got, err := c.Get(ctx, "product", 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_EntriesExpire(t *testing.T) {
	c, mr := setupCacheTest(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "product", 1, map[string]interface{}{"id": float64(1)}))
	mr.FastForward(31 * time.Minute)

	got, err := c.Get(ctx, "product", 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNoopCache(t *testing.T) {
	var c SerializationCache = NoopCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "product", 1, map[string]interface{}{"id": float64(1)}))
	got, err := c.Get(ctx, "product", 1)
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, c.Invalidate(ctx, "product", 1))
	require.NoError(t, c.Ping(ctx))
}
