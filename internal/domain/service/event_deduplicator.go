package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	"github.com/bivex/entitlement-sync/internal/domain/repository"
)

// DefaultDedupRetention exceeds the longest platform retry horizon
const DefaultDedupRetention = 30 * 24 * time.Hour

// EventDeduplicator guarantees at-most-once application of a platform event
type EventDeduplicator struct {
	store     repository.ProcessedEventRepository
	retention time.Duration
}

// NewEventDeduplicator creates a new deduplicator over a durable store
func NewEventDeduplicator(store repository.ProcessedEventRepository, retention time.Duration) *EventDeduplicator {
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	return &EventDeduplicator{
		store:     store,
		retention: retention,
	}
}

// Key returns the dedup key for an event. Events without an id are keyed by
// a hash of their normalized content.
func (d *EventDeduplicator) Key(ev *entity.SubscriptionEvent) string {
	if ev.EventID != "" {
		return fmt.Sprintf("%s:%s", ev.Platform, ev.EventID)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d",
		ev.Platform, ev.ExternalID, ev.Kind, ev.OccurredAt.UTC().UnixNano())))
	return "hash:" + hex.EncodeToString(sum[:])
}

// ShouldProcess returns false if the key was already processed
func (d *EventDeduplicator) ShouldProcess(ctx context.Context, key string) (bool, error) {
	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return !exists, nil
}

// MarkProcessed records the key for the retention window
func (d *EventDeduplicator) MarkProcessed(ctx context.Context, key string) error {
	if err := d.store.Mark(ctx, key, d.retention); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// Retention returns the configured retention window
func (d *EventDeduplicator) Retention() time.Duration {
	return d.retention
}
