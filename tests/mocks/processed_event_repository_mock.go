package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockProcessedEventRepository is a mock implementation of ProcessedEventRepository
type MockProcessedEventRepository struct {
	mock.Mock
}

// NewMockProcessedEventRepository creates a new mock processed event repository
func NewMockProcessedEventRepository() *MockProcessedEventRepository {
	return &MockProcessedEventRepository{}
}

func (m *MockProcessedEventRepository) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockProcessedEventRepository) Mark(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *MockProcessedEventRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}
