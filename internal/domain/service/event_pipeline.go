package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
)

// EventPipeline is the single mutation path for subscription state:
// deduplicator check, engine apply, then mark processed.
type EventPipeline struct {
	dedup  *EventDeduplicator
	engine *ReconciliationEngine
	logger *zap.Logger
}

// NewEventPipeline creates a new event pipeline
func NewEventPipeline(dedup *EventDeduplicator, engine *ReconciliationEngine, logger *zap.Logger) *EventPipeline {
	return &EventPipeline{
		dedup:  dedup,
		engine: engine,
		logger: logger,
	}
}

// Ingest runs a verified event through deduplication and reconciliation.
// Only transient failures are returned as errors; the event is then left
// unmarked so a platform retry can apply it.
func (p *EventPipeline) Ingest(ctx context.Context, ev *entity.SubscriptionEvent) (*Result, error) {
	key := p.dedup.Key(ev)
	log := p.logger.With(
		zap.String("platform", ev.Platform.String()),
		zap.String("event_key", key),
		zap.String("kind", string(ev.Kind)),
		zap.String("external_id", ev.ExternalID),
		zap.String("platform_type", ev.PlatformType),
	)

	should, err := p.dedup.ShouldProcess(ctx, key)
	if err != nil {
		return nil, &domainErrors.TransientStoreError{Op: "check processed event", Err: err}
	}
	if !should {
		log.Info("Duplicate subscription event skipped")
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	start := time.Now()
	result, err := p.engine.Apply(ctx, ev)
	if err != nil {
		log.Error("Failed to apply subscription event", zap.Error(err))
		return nil, err
	}

	if err := p.dedup.MarkProcessed(ctx, key); err != nil {
		log.Warn("Failed to mark subscription event processed", zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("outcome", string(result.Outcome)),
		zap.Duration("duration", time.Since(start)),
	}
	if result.Reason != "" {
		fields = append(fields, zap.String("reason", result.Reason))
	}
	if result.Record != nil {
		fields = append(fields,
			zap.String("user_id", result.Record.UserID),
			zap.String("status", result.Record.Status.String()),
		)
	}

	switch result.Outcome {
	case OutcomeApplied:
		log.Info("Subscription event applied", fields...)
	case OutcomeOrphaned, OutcomeRejected, OutcomeUnhandled:
		log.Warn("Subscription event dropped", fields...)
	default:
		log.Info("Subscription event skipped", fields...)
	}

	return result, nil
}
