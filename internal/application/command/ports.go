package command

import (
	"context"
	"errors"
	"time"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/service"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
	"github.com/bivex/entitlement-sync/internal/infrastructure/metrics"
)

// EventIngester is the single mutation path for subscription state
type EventIngester interface {
	Ingest(ctx context.Context, ev *entity.SubscriptionEvent) (*service.Result, error)
}

// CheckoutProvider is the outbound Stripe surface
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, userID string, period valueobject.PlanType) (string, error)
	FetchCheckoutEvent(ctx context.Context, sessionID string) (*entity.SubscriptionEvent, error)
	CancelAtPeriodEnd(ctx context.Context, externalSubscriptionID string) (*time.Time, error)
}

// StripeWebhookParser verifies and maps a Stripe webhook
type StripeWebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, signatureHeader string) (*entity.SubscriptionEvent, error)
}

// AppleNotificationParser verifies and maps an App Store server notification
type AppleNotificationParser interface {
	ParseServerNotification(ctx context.Context, body []byte) (*entity.SubscriptionEvent, error)
}

// ReceiptVerifier validates an App Store receipt for a user
type ReceiptVerifier interface {
	VerifyReceipt(ctx context.Context, userID, receiptData string) (*entity.SubscriptionEvent, error)
}

// ingest runs the event through the pipeline and records the outcome
func ingest(ctx context.Context, pipeline EventIngester, ev *entity.SubscriptionEvent) (*service.Result, error) {
	result, err := pipeline.Ingest(ctx, ev)
	if err != nil {
		metrics.RecordError(ev.Platform.String(), errorClass(err))
		return nil, err
	}
	metrics.RecordOutcome(ev.Platform.String(), string(ev.Kind), string(result.Outcome))
	return result, nil
}

func errorClass(err error) string {
	switch {
	case domainErrors.IsVerification(err):
		return metrics.ClassVerification
	case domainErrors.IsTransient(err):
		return metrics.ClassTransient
	default:
		return metrics.ClassOther
	}
}

func requireUser(userID string) error {
	if userID == "" {
		return domainErrors.WrapValidationError("userID", domainErrors.ErrRequiredField)
	}
	return nil
}

// currentRecord returns nil without error when the user has no record
func currentRecord(ctx context.Context, get func(context.Context, string) (*entity.SubscriptionRecord, error), userID string) (*entity.SubscriptionRecord, error) {
	rec, err := get(ctx, userID)
	if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return rec, err
}
