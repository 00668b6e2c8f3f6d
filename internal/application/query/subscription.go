package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bivex/entitlement-sync/internal/application/dto"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/repository"
)

// GetSubscriptionQuery reports a user's entitlement
type GetSubscriptionQuery struct {
	repo repository.SubscriptionRepository
	now  func() time.Time
}

// NewGetSubscriptionQuery creates a new get subscription query
func NewGetSubscriptionQuery(repo repository.SubscriptionRepository) *GetSubscriptionQuery {
	return &GetSubscriptionQuery{
		repo: repo,
		now:  time.Now,
	}
}

// SetClock overrides the time source
func (q *GetSubscriptionQuery) SetClock(now func() time.Time) {
	q.now = now
}

// Execute returns the free defaults when the user has no record
func (q *GetSubscriptionQuery) Execute(ctx context.Context, userID string) (*dto.SubscriptionStatusResponse, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domainErrors.ErrInvalidInput)
	}

	rec, err := q.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			return dto.FreeStatus(), nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return dto.StatusFromRecord(rec, q.now()), nil
}
