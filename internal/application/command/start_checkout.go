package command

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/application/dto"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// StartCheckoutCommand creates a hosted Stripe checkout session. It never
// mutates subscription state.
type StartCheckoutCommand struct {
	checkout CheckoutProvider
	logger   *zap.Logger
}

// NewStartCheckoutCommand creates a new start checkout command
func NewStartCheckoutCommand(checkout CheckoutProvider, logger *zap.Logger) *StartCheckoutCommand {
	return &StartCheckoutCommand{
		checkout: checkout,
		logger:   logger,
	}
}

// Execute validates the requested plan and returns the checkout URL
func (c *StartCheckoutCommand) Execute(ctx context.Context, userID string, req *dto.CreateCheckoutRequest) (*dto.CreateCheckoutResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if req.Plan != dto.PlanPremium {
		return nil, domainErrors.WrapValidationError("plan", domainErrors.ErrInvalidPlan)
	}
	period, err := valueobject.NewBillingPeriod(req.BillingPeriod)
	if err != nil {
		return nil, domainErrors.WrapValidationError("billingPeriod", domainErrors.ErrInvalidBillingPeriod)
	}

	url, err := c.checkout.CreateCheckoutSession(ctx, userID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &dto.CreateCheckoutResponse{URL: url}, nil
}
