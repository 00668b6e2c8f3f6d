package repository

import (
	"context"
	"time"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// SubscriptionRepository defines the entitlement store the reconciliation
// engine reads and conditionally writes.
type SubscriptionRepository interface {
	// GetByUserID retrieves the record for a user, ErrSubscriptionNotFound if absent
	GetByUserID(ctx context.Context, userID string) (*entity.SubscriptionRecord, error)

	// GetByExternalID retrieves the record joined to a platform subscription id
	GetByExternalID(ctx context.Context, platform valueobject.Platform, externalID string) (*entity.SubscriptionRecord, error)

	// Create inserts a new record with version 1.
	// Returns ErrConcurrencyConflict if the user already has a record and
	// ErrExternalIDTaken if the platform id is joined elsewhere.
	Create(ctx context.Context, record *entity.SubscriptionRecord) error

	// ConditionalUpdate replaces the record only if its version still equals
	// expectedVersion, bumping the version on success.
	ConditionalUpdate(ctx context.Context, userID string, expectedVersion int64, next *entity.SubscriptionRecord) error

	// ListExpiring lists active, at-risk or canceled records whose period ended before now
	ListExpiring(ctx context.Context, now time.Time, limit int) ([]*entity.SubscriptionRecord, error)
}

// ProcessedEventRepository is the durable store of processed event keys.
type ProcessedEventRepository interface {
	// Exists reports whether the key was marked and has not expired
	Exists(ctx context.Context, key string) (bool, error)

	// Mark records the key for the retention window
	Mark(ctx context.Context, key string, ttl time.Duration) error

	// Purge removes keys that expired before the given time
	Purge(ctx context.Context, before time.Time) (int64, error)
}
