package command

import (
	"context"
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

// GrantManualCommand gives a user a plan outside any payment platform
type GrantManualCommand struct {
	pipeline EventIngester
	repo     repository.SubscriptionRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewGrantManualCommand creates a new grant command
func NewGrantManualCommand(pipeline EventIngester, repo repository.SubscriptionRepository, logger *zap.Logger) *GrantManualCommand {
	return &GrantManualCommand{
		pipeline: pipeline,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute grants the billing period until ExpiresAt, or one period from now
func (c *GrantManualCommand) Execute(ctx context.Context, userID string, req *dto.GrantManualRequest) (*dto.ManualSubscriptionResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	period, err := valueobject.NewBillingPeriod(req.BillingPeriod)
	if err != nil {
		return nil, domainErrors.WrapValidationError("billingPeriod", domainErrors.ErrInvalidBillingPeriod)
	}

	now := c.now()
	var periodEnd *time.Time
	if !period.IsLifetime() {
		end, err := grantEnd(period, req.ExpiresAt, now)
		if err != nil {
			return nil, err
		}
		periodEnd = &end
	}

	ev := &entity.SubscriptionEvent{
		Platform:     valueobject.PlatformManual,
		ExternalID:   "manual_" + uuid.NewString(),
		Kind:         entity.EventCheckoutCompleted,
		OccurredAt:   now,
		Plan:         period,
		PeriodEndAt:  periodEnd,
		UserID:       userID,
		Origin:       entity.OriginPlatform,
		PlatformType: "manual_grant",
	}
	ev.EventID = "grant:" + ev.ExternalID

	result, err := ingest(ctx, c.pipeline, ev)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Manual subscription granted",
		zap.String("user_id", userID),
		zap.String("billing_period", period.String()),
		zap.String("outcome", string(result.Outcome)),
	)
	return c.respond(ctx, userID, string(result.Outcome), now)
}

func (c *GrantManualCommand) respond(ctx context.Context, userID, outcome string, now time.Time) (*dto.ManualSubscriptionResponse, error) {
	rec, err := currentRecord(ctx, c.repo.GetByUserID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &dto.ManualSubscriptionResponse{
		Outcome:      outcome,
		Subscription: dto.StatusFromRecord(rec, now),
	}, nil
}

func grantEnd(period valueobject.PlanType, expiresAt string, now time.Time) (time.Time, error) {
	if expiresAt == "" {
		if period == valueobject.PlanYearly {
			return now.AddDate(1, 0, 0), nil
		}
		return now.AddDate(0, 1, 0), nil
	}
	end, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return time.Time{}, domainErrors.NewValidationError("expiresAt", "must be an RFC3339 timestamp")
	}
	if !end.After(now) {
		return time.Time{}, domainErrors.NewValidationError("expiresAt", "must be in the future")
	}
	return end.UTC(), nil
}

// RevokeManualCommand ends a manual grant immediately
type RevokeManualCommand struct {
	pipeline EventIngester
	repo     repository.SubscriptionRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewRevokeManualCommand creates a new revoke command
func NewRevokeManualCommand(pipeline EventIngester, repo repository.SubscriptionRepository, logger *zap.Logger) *RevokeManualCommand {
	return &RevokeManualCommand{
		pipeline: pipeline,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute expires the user's manual record. Paid platforms are not touched.
func (c *RevokeManualCommand) Execute(ctx context.Context, userID string) (*dto.ManualSubscriptionResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	rec, err := c.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.Platform != valueobject.PlatformManual {
		return nil, fmt.Errorf("%w: subscription is managed by %s", domainErrors.ErrSubscriptionNotActive, rec.Platform)
	}

	now := c.now()
	ev := &entity.SubscriptionEvent{
		Platform:     valueobject.PlatformManual,
		ExternalID:   rec.ExternalSubscriptionID,
		EventID:      "revoke:" + uuid.NewString(),
		Kind:         entity.EventExpired,
		OccurredAt:   now,
		Origin:       entity.OriginLocal,
		PlatformType: "manual_revoke",
	}
	result, err := ingest(ctx, c.pipeline, ev)
	if err != nil {
		return nil, err
	}
	c.logger.Info("Manual subscription revoked",
		zap.String("user_id", userID),
		zap.String("outcome", string(result.Outcome)),
	)

	after, err := currentRecord(ctx, c.repo.GetByUserID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &dto.ManualSubscriptionResponse{
		Outcome:      string(result.Outcome),
		Subscription: dto.StatusFromRecord(after, now),
	}, nil
}
