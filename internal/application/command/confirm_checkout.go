package command

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/application/dto"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/repository"
	"github.com/bivex/entitlement-sync/internal/domain/service"
)

// ConfirmCheckoutCommand applies a completed checkout from the success
// redirect. It shares the event key with the checkout webhook, so whichever
// arrives first applies and the other is a no-op.
type ConfirmCheckoutCommand struct {
	checkout CheckoutProvider
	pipeline EventIngester
	repo     repository.SubscriptionRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewConfirmCheckoutCommand creates a new confirm checkout command
func NewConfirmCheckoutCommand(checkout CheckoutProvider, pipeline EventIngester, repo repository.SubscriptionRepository, logger *zap.Logger) *ConfirmCheckoutCommand {
	return &ConfirmCheckoutCommand{
		checkout: checkout,
		pipeline: pipeline,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute re-fetches the session from Stripe and reconciles it for userID
func (c *ConfirmCheckoutCommand) Execute(ctx context.Context, userID, sessionID string) (*dto.ProcessCheckoutResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, domainErrors.WrapValidationError("session_id", domainErrors.ErrRequiredField)
	}

	ev, err := c.checkout.FetchCheckoutEvent(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkout session: %w", err)
	}
	if ev.UserID != "" && ev.UserID != userID {
		c.logger.Warn("Checkout session confirmed by a different user",
			zap.String("user_id", userID),
			zap.String("session_user_id", ev.UserID),
			zap.String("session_id", sessionID),
		)
		return nil, domainErrors.ErrForeignSession
	}
	ev.UserID = userID

	result, err := ingest(ctx, c.pipeline, ev)
	if err != nil {
		return nil, err
	}
	if result.Outcome == service.OutcomeRejected {
		return nil, domainErrors.ErrExternalIDTaken
	}

	rec, err := currentRecord(ctx, c.repo.GetByUserID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &dto.ProcessCheckoutResponse{
		Success:      true,
		Subscription: dto.StatusFromRecord(rec, c.now()),
	}, nil
}
