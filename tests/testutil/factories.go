package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// RecordFactory creates subscription records for tests
type RecordFactory struct{}

func NewRecordFactory() *RecordFactory {
	return &RecordFactory{}
}

// Active returns an active record on platform ending after d
func (f *RecordFactory) Active(platform valueobject.Platform, plan valueobject.PlanType, d time.Duration) *entity.SubscriptionRecord {
	end := time.Now().Add(d).UTC().Truncate(time.Microsecond)
	last := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	rec := &entity.SubscriptionRecord{
		UserID:                 "user-" + uuid.New().String()[:8],
		Plan:                   plan,
		Status:                 valueobject.StatusActive,
		Platform:               platform,
		ExternalSubscriptionID: externalID(platform),
		LastEventAt:            &last,
	}
	if !plan.IsLifetime() {
		rec.PeriodEndAt = &end
	}
	return rec
}

// Lapsed returns a record whose paid period ended d ago
func (f *RecordFactory) Lapsed(status valueobject.SubscriptionStatus, d time.Duration) *entity.SubscriptionRecord {
	rec := f.Active(valueobject.PlatformStripe, valueobject.PlanMonthly, -d)
	rec.Status = status
	return rec
}

// EventFactory creates subscription events for tests
type EventFactory struct{}

func NewEventFactory() *EventFactory {
	return &EventFactory{}
}

// For returns an event of kind for rec occurring at
func (f *EventFactory) For(rec *entity.SubscriptionRecord, kind entity.EventKind, at time.Time) *entity.SubscriptionEvent {
	return &entity.SubscriptionEvent{
		Platform:   rec.Platform,
		ExternalID: rec.ExternalSubscriptionID,
		EventID:    "evt_" + uuid.New().String(),
		Kind:       kind,
		OccurredAt: at,
		Plan:       rec.Plan,
		UserID:     rec.UserID,
		Origin:     entity.OriginPlatform,
	}
}

func externalID(platform valueobject.Platform) string {
	switch platform {
	case valueobject.PlatformStripe:
		return "sub_" + uuid.New().String()[:12]
	case valueobject.PlatformApple:
		return uuid.New().String()[:12]
	default:
		return "manual_" + uuid.New().String()
	}
}
