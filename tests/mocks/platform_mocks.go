package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// MockCheckoutProvider is a mock of the outbound Stripe surface
type MockCheckoutProvider struct {
	mock.Mock
}

// NewMockCheckoutProvider creates a new mock checkout provider
func NewMockCheckoutProvider() *MockCheckoutProvider {
	return &MockCheckoutProvider{}
}

func (m *MockCheckoutProvider) CreateCheckoutSession(ctx context.Context, userID string, period valueobject.PlanType) (string, error) {
	args := m.Called(ctx, userID, period)
	return args.String(0), args.Error(1)
}

func (m *MockCheckoutProvider) FetchCheckoutEvent(ctx context.Context, sessionID string) (*entity.SubscriptionEvent, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SubscriptionEvent), args.Error(1)
}

func (m *MockCheckoutProvider) CancelAtPeriodEnd(ctx context.Context, externalSubscriptionID string) (*time.Time, error) {
	args := m.Called(ctx, externalSubscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

// MockStripeWebhookParser is a mock Stripe webhook parser
type MockStripeWebhookParser struct {
	mock.Mock
}

// NewMockStripeWebhookParser creates a new mock Stripe webhook parser
func NewMockStripeWebhookParser() *MockStripeWebhookParser {
	return &MockStripeWebhookParser{}
}

func (m *MockStripeWebhookParser) ParseWebhook(ctx context.Context, payload []byte, signatureHeader string) (*entity.SubscriptionEvent, error) {
	args := m.Called(ctx, payload, signatureHeader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SubscriptionEvent), args.Error(1)
}

// MockAppleNotificationParser is a mock App Store notification parser
type MockAppleNotificationParser struct {
	mock.Mock
}

// NewMockAppleNotificationParser creates a new mock App Store notification parser
func NewMockAppleNotificationParser() *MockAppleNotificationParser {
	return &MockAppleNotificationParser{}
}

func (m *MockAppleNotificationParser) ParseServerNotification(ctx context.Context, body []byte) (*entity.SubscriptionEvent, error) {
	args := m.Called(ctx, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SubscriptionEvent), args.Error(1)
}

// MockReceiptVerifier is a mock App Store receipt verifier
type MockReceiptVerifier struct {
	mock.Mock
}

// NewMockReceiptVerifier creates a new mock receipt verifier
func NewMockReceiptVerifier() *MockReceiptVerifier {
	return &MockReceiptVerifier{}
}

func (m *MockReceiptVerifier) VerifyReceipt(ctx context.Context, userID, receiptData string) (*entity.SubscriptionEvent, error) {
	args := m.Called(ctx, userID, receiptData)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SubscriptionEvent), args.Error(1)
}
