package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/repository"
)

// Outcome describes what happened to an event
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeStale     Outcome = "stale"
	OutcomeOrphaned  Outcome = "orphaned"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnhandled Outcome = "unhandled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
)

// DefaultMaxAttempts bounds the optimistic read-modify-write loop
const DefaultMaxAttempts = 3

// Result is the outcome of applying one event
type Result struct {
	Outcome Outcome
	// Record is the state after the event, or the unchanged state when the
	// event was not applied. Nil when no record exists.
	Record *entity.SubscriptionRecord
	Reason string
	// Conflicts counts optimistic write collisions that were retried
	Conflicts int
}

// ReconciliationEngine applies normalized subscription events to the entitlement store
type ReconciliationEngine struct {
	repo        repository.SubscriptionRepository
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time
}

// EngineOption configures a ReconciliationEngine
type EngineOption func(*ReconciliationEngine)

// WithClock overrides the engine's time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *ReconciliationEngine) {
		e.now = now
	}
}

// WithMaxAttempts overrides the number of conditional write attempts
func WithMaxAttempts(n int) EngineOption {
	return func(e *ReconciliationEngine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// NewReconciliationEngine creates a new reconciliation engine
func NewReconciliationEngine(repo repository.SubscriptionRepository, logger *zap.Logger, opts ...EngineOption) *ReconciliationEngine {
	e := &ReconciliationEngine{
		repo:        repo,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply reads the matching record, computes the transition and writes it
// conditionally, re-reading on conflict. Stale, orphaned and ignored events
// are not errors. Store failures and exhausted retries return a
// TransientStoreError and leave the record untouched.
func (e *ReconciliationEngine) Apply(ctx context.Context, ev *entity.SubscriptionEvent) (*Result, error) {
	if ev.Kind == entity.EventUnhandled {
		return &Result{Outcome: OutcomeUnhandled, Reason: ev.PlatformType}, nil
	}

	conflicts := 0
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		cur, err := e.resolve(ctx, ev)
		if err != nil {
			return nil, &domainErrors.TransientStoreError{Op: "read subscription", Err: err}
		}

		if cur == nil && (!ev.Kind.CreatesRecord() || ev.UserID == "") {
			return &Result{Outcome: OutcomeOrphaned, Reason: domainErrors.ErrOrphanedEvent.Error(), Conflicts: conflicts}, nil
		}

		if cur != nil && ev.UserID != "" && cur.UserID != ev.UserID && cur.OwnsExternalID(ev.Platform, ev.ExternalID) {
			return &Result{Outcome: OutcomeRejected, Record: cur, Reason: domainErrors.ErrExternalIDTaken.Error(), Conflicts: conflicts}, nil
		}

		if isStale(cur, ev) {
			return &Result{Outcome: OutcomeStale, Record: cur, Reason: domainErrors.ErrStaleEvent.Error(), Conflicts: conflicts}, nil
		}

		now := e.now()
		next, changed := Transition(cur, ev, now)
		if !changed {
			return &Result{Outcome: OutcomeIgnored, Record: cur, Reason: "no transition for " + string(ev.Kind), Conflicts: conflicts}, nil
		}

		if cur == nil {
			next.Version = 1
			err = e.repo.Create(ctx, next)
		} else {
			err = e.repo.ConditionalUpdate(ctx, cur.UserID, cur.Version, next)
			next.Version = cur.Version + 1
		}

		switch {
		case err == nil:
			return &Result{Outcome: OutcomeApplied, Record: next, Conflicts: conflicts}, nil
		case errors.Is(err, domainErrors.ErrConcurrencyConflict):
			conflicts++
			e.logger.Debug("Subscription write conflict, retrying",
				zap.String("user_id", next.UserID),
				zap.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, domainErrors.ErrExternalIDTaken):
			return &Result{Outcome: OutcomeRejected, Record: cur, Reason: err.Error(), Conflicts: conflicts}, nil
		default:
			return nil, &domainErrors.TransientStoreError{Op: "write subscription", Err: err}
		}
	}

	return nil, &domainErrors.TransientStoreError{Op: "write subscription", Err: domainErrors.ErrConcurrencyConflict}
}

// resolve finds the record by (platform, externalId). Record-creating events
// fall back to the owning user so a new subscription can replace an old one.
func (e *ReconciliationEngine) resolve(ctx context.Context, ev *entity.SubscriptionEvent) (*entity.SubscriptionRecord, error) {
	if ev.ExternalID != "" {
		rec, err := e.repo.GetByExternalID(ctx, ev.Platform, ev.ExternalID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
			return nil, err
		}
	}

	if !ev.Kind.CreatesRecord() || ev.UserID == "" {
		return nil, nil
	}

	rec, err := e.repo.GetByUserID(ctx, ev.UserID)
	if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return rec, err
}

// isStale applies only to platform events joined to the record's current
// external id. Local events and the first event of a new join are never stale.
func isStale(cur *entity.SubscriptionRecord, ev *entity.SubscriptionEvent) bool {
	if cur == nil || ev.IsLocal() || cur.LastEventAt == nil {
		return false
	}
	if !cur.OwnsExternalID(ev.Platform, ev.ExternalID) {
		return false
	}
	return !ev.OccurredAt.After(*cur.LastEventAt)
}
