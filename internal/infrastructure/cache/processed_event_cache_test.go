package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/domain/service"
	"github.com/bivex/entitlement-sync/internal/infrastructure/cache"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestProcessedEventCache(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	store := cache.NewProcessedEventCache(client, zap.NewNop())

	exists, err := store.Exists(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Mark(ctx, "stripe:evt_1", time.Hour))

	exists, err = store.Exists(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, mr.Exists("processed_event:stripe:evt_1"))
	assert.Equal(t, time.Hour, mr.TTL("processed_event:stripe:evt_1"))

	mr.FastForward(2 * time.Hour)

	exists, err = store.Exists(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.False(t, exists)

	n, err := store.Purge(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessedEventCache_BacksDeduplicator(t *testing.T) {
	ctx := context.Background()
	_, client := setupRedis(t)
	dedup := service.NewEventDeduplicator(cache.NewProcessedEventCache(client, zap.NewNop()), 24*time.Hour)

	should, err := dedup.ShouldProcess(ctx, "apple:apple:notif:1")
	require.NoError(t, err)
	assert.True(t, should)

	require.NoError(t, dedup.MarkProcessed(ctx, "apple:apple:notif:1"))

	// a fresh client models a restarted process
	other := redis.NewClient(&redis.Options{Addr: client.Options().Addr})
	defer other.Close()
	restarted := service.NewEventDeduplicator(cache.NewProcessedEventCache(other, zap.NewNop()), 24*time.Hour)

	should, err = restarted.ShouldProcess(ctx, "apple:apple:notif:1")
	require.NoError(t, err)
	assert.False(t, should)
}

func TestProcessedEventCache_RedisDown(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	store := cache.NewProcessedEventCache(client, zap.NewNop())
	mr.Close()

	_, err := store.Exists(ctx, "stripe:evt_1")
	assert.Error(t, err)
}
