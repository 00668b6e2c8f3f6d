// Package memstore holds in-memory implementations of the domain
// repositories for development and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

type externalKey struct {
	platform   valueobject.Platform
	externalID string
}

// SubscriptionStore is an in-memory entitlement store with the same
// uniqueness and versioning rules as the PostgreSQL repository.
type SubscriptionStore struct {
	mu         sync.RWMutex
	byUser     map[string]*entity.SubscriptionRecord
	byExternal map[externalKey]string
}

// NewSubscriptionStore creates an empty store
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		byUser:     make(map[string]*entity.SubscriptionRecord),
		byExternal: make(map[externalKey]string),
	}
}

// GetByUserID returns a copy of the user's record
func (s *SubscriptionStore) GetByUserID(_ context.Context, userID string) (*entity.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byUser[userID]
	if !ok {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	return rec.Clone(), nil
}

// GetByExternalID returns a copy of the record joined to a platform subscription id
func (s *SubscriptionStore) GetByExternalID(_ context.Context, platform valueobject.Platform, externalID string) (*entity.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.byExternal[externalKey{platform, externalID}]
	if !ok {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	return s.byUser[userID].Clone(), nil
}

// Create inserts a new record at version 1
func (s *SubscriptionStore) Create(_ context.Context, record *entity.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUser[record.UserID]; ok {
		return domainErrors.ErrConcurrencyConflict
	}
	if err := s.checkExternal(record); err != nil {
		return err
	}

	rec := record.Clone()
	rec.Version = 1
	s.byUser[rec.UserID] = rec
	s.index(rec)
	return nil
}

// ConditionalUpdate replaces the record only if its version still matches
func (s *SubscriptionStore) ConditionalUpdate(_ context.Context, userID string, expectedVersion int64, next *entity.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byUser[userID]
	if !ok {
		return domainErrors.ErrSubscriptionNotFound
	}
	if cur.Version != expectedVersion {
		return domainErrors.ErrConcurrencyConflict
	}
	if err := s.checkExternal(next); err != nil {
		return err
	}

	delete(s.byExternal, externalKey{cur.Platform, cur.ExternalSubscriptionID})
	rec := next.Clone()
	rec.UserID = userID
	rec.Version = expectedVersion + 1
	rec.CreatedAt = cur.CreatedAt
	s.byUser[userID] = rec
	s.index(rec)
	return nil
}

// ListExpiring returns entitled records whose period ended before now, oldest first
func (s *SubscriptionStore) ListExpiring(_ context.Context, now time.Time, limit int) ([]*entity.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.SubscriptionRecord
	for _, rec := range s.byUser {
		switch rec.Status {
		case valueobject.StatusActive, valueobject.StatusAtRisk, valueobject.StatusCanceled:
		default:
			continue
		}
		if rec.PeriodEndAt != nil && rec.PeriodEndAt.Before(now) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodEndAt.Before(*out[j].PeriodEndAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of records
func (s *SubscriptionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser)
}

func (s *SubscriptionStore) checkExternal(rec *entity.SubscriptionRecord) error {
	if rec.ExternalSubscriptionID == "" {
		return nil
	}
	owner, ok := s.byExternal[externalKey{rec.Platform, rec.ExternalSubscriptionID}]
	if ok && owner != rec.UserID {
		return domainErrors.ErrExternalIDTaken
	}
	return nil
}

func (s *SubscriptionStore) index(rec *entity.SubscriptionRecord) {
	if rec.ExternalSubscriptionID != "" {
		s.byExternal[externalKey{rec.Platform, rec.ExternalSubscriptionID}] = rec.UserID
	}
}
