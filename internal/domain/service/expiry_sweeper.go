package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	"github.com/bivex/entitlement-sync/internal/domain/repository"
)

const (
	DefaultSweepBatchSize   = 500
	DefaultSweepConcurrency = 8
)

// SweepReport summarizes one sweep cycle
type SweepReport struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

// ExpirySweeper expires records whose paid period ended without a platform event
type ExpirySweeper struct {
	repo        repository.SubscriptionRepository
	engine      *ReconciliationEngine
	logger      *zap.Logger
	batchSize   int
	concurrency int
	now         func() time.Time
}

// NewExpirySweeper creates a new expiry sweeper
func NewExpirySweeper(repo repository.SubscriptionRepository, engine *ReconciliationEngine, logger *zap.Logger, batchSize int) *ExpirySweeper {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	return &ExpirySweeper{
		repo:        repo,
		engine:      engine,
		logger:      logger,
		batchSize:   batchSize,
		concurrency: DefaultSweepConcurrency,
		now:         time.Now,
	}
}

// SetClock overrides the sweeper's time source
func (s *ExpirySweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep expires one batch of lapsed records. Individual failures are logged
// and counted; the next cycle picks them up again.
func (s *ExpirySweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	now := s.now()
	records, err := s.repo.ListExpiring(ctx, now, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}

	var expired, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, rec := range records {
		g.Go(func() error {
			result, err := s.engine.Apply(gctx, sweepEvent(rec, now))
			if err != nil {
				failed.Add(1)
				s.logger.Error("Failed to expire subscription",
					zap.String("user_id", rec.UserID),
					zap.Error(err),
				)
				return nil
			}
			if result.Outcome == OutcomeApplied {
				expired.Add(1)
				s.logger.Info("Subscription expired by sweep",
					zap.String("user_id", rec.UserID),
					zap.String("platform", rec.Platform.String()),
				)
				return nil
			}
			skipped.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &SweepReport{
		Scanned: len(records),
		Expired: int(expired.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}, ctx.Err()
}

func sweepEvent(rec *entity.SubscriptionRecord, now time.Time) *entity.SubscriptionEvent {
	return &entity.SubscriptionEvent{
		Platform:      rec.Platform,
		ExternalID:    rec.ExternalSubscriptionID,
		EventID:       fmt.Sprintf("local:sweep:%s:%d", rec.UserID, now.Unix()),
		Kind:          entity.EventExpired,
		OccurredAt:    now,
		UserID:        rec.UserID,
		Origin:        entity.OriginLocal,
		IfPeriodEnded: true,
		PlatformType:  "expiry_sweep",
	}
}
