package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// MockSubscriptionRepository is a mock implementation of SubscriptionRepository
type MockSubscriptionRepository struct {
	mock.Mock
}

// NewMockSubscriptionRepository creates a new mock subscription repository
func NewMockSubscriptionRepository() *MockSubscriptionRepository {
	return &MockSubscriptionRepository{}
}

func (m *MockSubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*entity.SubscriptionRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SubscriptionRecord), args.Error(1)
}

func (m *MockSubscriptionRepository) GetByExternalID(ctx context.Context, platform valueobject.Platform, externalID string) (*entity.SubscriptionRecord, error) {
	args := m.Called(ctx, platform, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SubscriptionRecord), args.Error(1)
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, record *entity.SubscriptionRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ConditionalUpdate(ctx context.Context, userID string, expectedVersion int64, next *entity.SubscriptionRecord) error {
	args := m.Called(ctx, userID, expectedVersion, next)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ListExpiring(ctx context.Context, now time.Time, limit int) ([]*entity.SubscriptionRecord, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entity.SubscriptionRecord), args.Error(1)
}
