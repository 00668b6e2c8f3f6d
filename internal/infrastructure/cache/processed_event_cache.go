package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyProcessedEvent namespaces dedup keys in Redis
const KeyProcessedEvent = "processed_event:%s"

// ProcessedEventCache stores processed event keys in Redis with a TTL equal
// to the dedup retention window.
type ProcessedEventCache struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewProcessedEventCache creates a new Redis-backed processed event store
func NewProcessedEventCache(client redis.Cmdable, logger *zap.Logger) *ProcessedEventCache {
	return &ProcessedEventCache{
		client: client,
		logger: logger,
	}
}

// Exists reports whether the key was marked within its retention window
func (c *ProcessedEventCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, fmt.Sprintf(KeyProcessedEvent, key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return n > 0, nil
}

// Mark records the key with the given TTL
func (c *ProcessedEventCache) Mark(ctx context.Context, key string, ttl time.Duration) error {
	err := c.client.Set(ctx, fmt.Sprintf(KeyProcessedEvent, key), time.Now().UTC().Format(time.RFC3339), ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to mark processed event: %w", err)
	}
	return nil
}

// Purge is a no-op: Redis expires keys on its own
func (c *ProcessedEventCache) Purge(_ context.Context, _ time.Time) (int64, error) {
	c.logger.Debug("Processed event purge skipped, keys expire by TTL")
	return 0, nil
}
