package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/application/dto"
	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/repository"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

const (
	messageCancelAtPeriodEnd = "Your subscription will be canceled at the end of the current billing period."
	messageCancelApple       = "To stop renewal, turn off auto-renew in your App Store subscription settings. Access continues until the end of the current billing period."
)

// CancelSubscriptionCommand turns off renewal for the user's subscription.
// Access continues until the period end.
type CancelSubscriptionCommand struct {
	repo     repository.SubscriptionRepository
	checkout CheckoutProvider
	pipeline EventIngester
	logger   *zap.Logger
	now      func() time.Time
}

// NewCancelSubscriptionCommand creates a new cancel subscription command
func NewCancelSubscriptionCommand(repo repository.SubscriptionRepository, checkout CheckoutProvider, pipeline EventIngester, logger *zap.Logger) *CancelSubscriptionCommand {
	return &CancelSubscriptionCommand{
		repo:     repo,
		checkout: checkout,
		pipeline: pipeline,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute cancels at period end. Stripe is told first; the local soft-cancel
// then reflects it immediately rather than waiting for the webhook.
func (c *CancelSubscriptionCommand) Execute(ctx context.Context, userID string) (*dto.CancelSubscriptionResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	rec, err := c.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	renewing := rec.Status == valueobject.StatusActive || rec.Status == valueobject.StatusAtRisk
	switch {
	case rec.Plan.IsLifetime():
		return nil, domainErrors.ErrLifetimeNotCancelable
	case rec.Status == valueobject.StatusCanceled, renewing && rec.CancelAtPeriodEnd:
		return nil, domainErrors.ErrAlreadyCanceled
	case !renewing:
		return nil, domainErrors.ErrSubscriptionNotActive
	}

	message := messageCancelAtPeriodEnd
	effective := rec.PeriodEndAt
	switch rec.Platform {
	case valueobject.PlatformStripe:
		end, err := c.checkout.CancelAtPeriodEnd(ctx, rec.ExternalSubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel Stripe subscription: %w", err)
		}
		if end != nil {
			effective = end
		}
	case valueobject.PlatformApple:
		message = messageCancelApple
	}

	ev := &entity.SubscriptionEvent{
		Platform:     rec.Platform,
		ExternalID:   rec.ExternalSubscriptionID,
		EventID:      "local:cancel:" + uuid.NewString(),
		Kind:         entity.EventCanceled,
		OccurredAt:   c.now(),
		Soft:         true,
		Origin:       entity.OriginLocal,
		PlatformType: "user_cancel",
	}
	if _, err := ingest(ctx, c.pipeline, ev); err != nil {
		c.logger.Error("Failed to record local cancellation",
			zap.String("user_id", userID),
			zap.String("platform", rec.Platform.String()),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Info("Subscription set to cancel at period end",
		zap.String("user_id", userID),
		zap.String("platform", rec.Platform.String()),
	)
	return &dto.CancelSubscriptionResponse{
		Success: true,
		Message: message,
		EndDate: dto.FormatTime(effective),
	}, nil
}
