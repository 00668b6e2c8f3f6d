package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/application/dto"
	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/repository"
	"github.com/bivex/entitlement-sync/internal/domain/service"
)

// VerifyIAPCommand applies an App Store purchase reported by the iOS client
type VerifyIAPCommand struct {
	verifier ReceiptVerifier
	pipeline EventIngester
	repo     repository.SubscriptionRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewVerifyIAPCommand creates a new verify IAP command
func NewVerifyIAPCommand(verifier ReceiptVerifier, pipeline EventIngester, repo repository.SubscriptionRepository, logger *zap.Logger) *VerifyIAPCommand {
	return &VerifyIAPCommand{
		verifier: verifier,
		pipeline: pipeline,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute verifies the receipt with Apple and reconciles the latest transaction
func (c *VerifyIAPCommand) Execute(ctx context.Context, userID string, req *dto.VerifyIAPRequest) (*dto.VerifyIAPResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if req.ReceiptData == "" {
		return nil, domainErrors.WrapValidationError("receiptData", domainErrors.ErrRequiredField)
	}

	ev, err := c.verifier.VerifyReceipt(ctx, userID, req.ReceiptData)
	if err != nil {
		return nil, fmt.Errorf("failed to verify receipt: %w", err)
	}

	result, err := ingest(ctx, c.pipeline, ev)
	if err != nil {
		return nil, err
	}
	taken := result.Outcome == service.OutcomeRejected
	if result.Outcome == service.OutcomeDuplicate {
		if taken, err = c.ownedByAnother(ctx, userID, ev); err != nil {
			return nil, err
		}
	}
	if taken {
		c.logger.Warn("Receipt belongs to another user",
			zap.String("user_id", userID),
			zap.String("original_transaction_id", ev.ExternalID),
		)
		return nil, domainErrors.ErrExternalIDTaken
	}

	rec, err := currentRecord(ctx, c.repo.GetByUserID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	status := dto.StatusFromRecord(rec, c.now())
	if req.ProductID != "" && rec != nil && rec.Plan != ev.Plan {
		c.logger.Info("Receipt resolved to a different product than requested",
			zap.String("user_id", userID),
			zap.String("product_id", req.ProductID),
			zap.String("plan", rec.Plan.String()),
		)
	}
	return &dto.VerifyIAPResponse{
		Success:   status.IsActive,
		Plan:      status.Plan,
		ExpiresAt: status.ExpiresAt,
	}, nil
}

// ownedByAnother reports whether the receipt's subscription is joined to a
// different user. A redelivered receipt skips the engine, so ownership is
// checked against the store directly.
func (c *VerifyIAPCommand) ownedByAnother(ctx context.Context, userID string, ev *entity.SubscriptionEvent) (bool, error) {
	rec, err := c.repo.GetByExternalID(ctx, ev.Platform, ev.ExternalID)
	if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &domainErrors.TransientStoreError{Op: "read subscription", Err: err}
	}
	return rec.UserID != userID, nil
}
