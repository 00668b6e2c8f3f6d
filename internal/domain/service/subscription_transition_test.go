package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	"github.com/bivex/entitlement-sync/internal/domain/service"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

var transitionNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }

func ptrBool(b bool) *bool { return &b }

func stripeRecord(status valueobject.SubscriptionStatus, periodEnd *time.Time) *entity.SubscriptionRecord {
	return &entity.SubscriptionRecord{
		UserID:                 "user-1",
		Plan:                   valueobject.PlanMonthly,
		Status:                 status,
		Platform:               valueobject.PlatformStripe,
		ExternalSubscriptionID: "sub_1",
		PeriodEndAt:            periodEnd,
		Version:                4,
	}
}

func stripeEvent(kind entity.EventKind) *entity.SubscriptionEvent {
	return &entity.SubscriptionEvent{
		Platform:   valueobject.PlatformStripe,
		ExternalID: "sub_1",
		EventID:    "evt_x",
		Kind:       kind,
		OccurredAt: transitionNow.Add(-time.Minute),
		Origin:     entity.OriginPlatform,
	}
}

func TestTransition_Table(t *testing.T) {
	future := transitionNow.Add(30 * 24 * time.Hour)
	later := transitionNow.Add(60 * 24 * time.Hour)

	tests := []struct {
		name       string
		current    *entity.SubscriptionRecord
		event      func() *entity.SubscriptionEvent
		changed    bool
		wantStatus valueobject.SubscriptionStatus
		wantEnd    *time.Time
		wantCancel bool
	}{
		{
			name:    "checkout creates active record",
			current: nil,
			event: func() *entity.SubscriptionEvent {
				ev := stripeEvent(entity.EventCheckoutCompleted)
				ev.UserID = "user-1"
				ev.Plan = valueobject.PlanMonthly
				ev.PeriodEndAt = &future
				return ev
			},
			changed:    true,
			wantStatus: valueobject.StatusActive,
			wantEnd:    &future,
		},
		{
			name:    "checkout without period end is pending",
			current: nil,
			event: func() *entity.SubscriptionEvent {
				ev := stripeEvent(entity.EventCheckoutCompleted)
				ev.UserID = "user-1"
				ev.Plan = valueobject.PlanYearly
				return ev
			},
			changed:    true,
			wantStatus: valueobject.StatusPending,
		},
		{
			name:    "renewal activates pending",
			current: stripeRecord(valueobject.StatusPending, nil),
			event: func() *entity.SubscriptionEvent {
				ev := stripeEvent(entity.EventRenewed)
				ev.PeriodEndAt = &future
				return ev
			},
			changed:    true,
			wantStatus: valueobject.StatusActive,
			wantEnd:    &future,
		},
		{
			name:    "renewal clears at risk",
			current: stripeRecord(valueobject.StatusAtRisk, &future),
			event: func() *entity.SubscriptionEvent {
				ev := stripeEvent(entity.EventRenewed)
				ev.PeriodEndAt = &later
				return ev
			},
			changed:    true,
			wantStatus: valueobject.StatusActive,
			wantEnd:    &later,
		},
		{
			name:    "renewal failure puts active at risk",
			current: stripeRecord(valueobject.StatusActive, &future),
			event: func() *entity.SubscriptionEvent {
				return stripeEvent(entity.EventRenewalFailed)
			},
			changed:    true,
			wantStatus: valueobject.StatusAtRisk,
			wantEnd:    &future,
		},
		{
			name:    "hard cancel from at risk",
			current: stripeRecord(valueobject.StatusAtRisk, &future),
			event: func() *entity.SubscriptionEvent {
				return stripeEvent(entity.EventCanceled)
			},
			changed:    true,
			wantStatus: valueobject.StatusCanceled,
			wantEnd:    &future,
			wantCancel: true,
		},
		{
			name:    "soft cancel keeps active",
			current: stripeRecord(valueobject.StatusActive, &future),
			event: func() *entity.SubscriptionEvent {
				ev := stripeEvent(entity.EventCanceled)
				ev.Soft = true
				return ev
			},
			changed:    true,
			wantStatus: valueobject.StatusActive,
			wantEnd:    &future,
			wantCancel: true,
		},
		{
			name:    "expiry revokes canceled",
			current: stripeRecord(valueobject.StatusCanceled, &future),
			event: func() *entity.SubscriptionEvent {
				return stripeEvent(entity.EventExpired)
			},
			changed:    true,
			wantStatus: valueobject.StatusExpired,
			wantEnd:    &transitionNow,
		},
		{
			name:    "renewal failure on canceled is ignored",
			current: stripeRecord(valueobject.StatusCanceled, &future),
			event: func() *entity.SubscriptionEvent {
				return stripeEvent(entity.EventRenewalFailed)
			},
			changed: false,
		},
		{
			name:    "expiry of expired is ignored",
			current: stripeRecord(valueobject.StatusExpired, &future),
			event: func() *entity.SubscriptionEvent {
				return stripeEvent(entity.EventExpired)
			},
			changed: false,
		},
		{
			name:    "renewal for another external id is ignored",
			current: stripeRecord(valueobject.StatusActive, &future),
			event: func() *entity.SubscriptionEvent {
				ev := stripeEvent(entity.EventRenewed)
				ev.ExternalID = "sub_other"
				ev.PeriodEndAt = &later
				return ev
			},
			changed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, changed := service.Transition(tt.current, tt.event(), transitionNow)
			assert.Equal(t, tt.changed, changed)
			if !tt.changed {
				return
			}
			require.NotNil(t, next)
			assert.Equal(t, tt.wantStatus, next.Status)
			assert.Equal(t, tt.wantCancel, next.CancelAtPeriodEnd)
			if tt.wantEnd == nil {
				assert.Nil(t, next.PeriodEndAt)
			} else {
				require.NotNil(t, next.PeriodEndAt)
				assert.True(t, tt.wantEnd.Equal(*next.PeriodEndAt))
			}
		})
	}
}

func TestTransition_DoesNotMutateCurrent(t *testing.T) {
	future := transitionNow.Add(time.Hour)
	cur := stripeRecord(valueobject.StatusActive, &future)

	next, changed := service.Transition(cur, stripeEvent(entity.EventExpired), transitionNow)
	require.True(t, changed)

	assert.Equal(t, valueobject.StatusActive, cur.Status)
	assert.True(t, future.Equal(*cur.PeriodEndAt))
	assert.Equal(t, valueobject.StatusExpired, next.Status)
}

func TestTransition_PlatformValuesWin(t *testing.T) {
	future := transitionNow.Add(365 * 24 * time.Hour)
	cur := stripeRecord(valueobject.StatusActive, ptrTime(transitionNow.Add(time.Hour)))

	ev := stripeEvent(entity.EventRenewed)
	ev.Plan = valueobject.PlanYearly
	ev.PeriodEndAt = &future
	ev.CancelAtPeriodEnd = ptrBool(true)

	next, changed := service.Transition(cur, ev, transitionNow)
	require.True(t, changed)
	assert.Equal(t, valueobject.PlanYearly, next.Plan)
	assert.True(t, future.Equal(*next.PeriodEndAt))
	assert.True(t, next.CancelAtPeriodEnd)
	require.NotNil(t, next.LastEventAt)
	assert.True(t, ev.OccurredAt.Equal(*next.LastEventAt))
}

func TestTransition_LifetimeHasNoPeriodEnd(t *testing.T) {
	ev := stripeEvent(entity.EventCheckoutCompleted)
	ev.UserID = "user-1"
	ev.Plan = valueobject.PlanLifetime
	ev.PeriodEndAt = ptrTime(transitionNow.Add(time.Hour))

	next, changed := service.Transition(nil, ev, transitionNow)
	require.True(t, changed)
	assert.Equal(t, valueobject.StatusActive, next.Status)
	assert.Nil(t, next.PeriodEndAt)
}

func TestTransition_CheckoutSwitchesPlatform(t *testing.T) {
	cur := stripeRecord(valueobject.StatusExpired, ptrTime(transitionNow.Add(-time.Hour)))
	cur.LastEventAt = ptrTime(transitionNow)

	future := transitionNow.Add(30 * 24 * time.Hour)
	ev := &entity.SubscriptionEvent{
		Platform:    valueobject.PlatformApple,
		ExternalID:  "1000000123",
		Kind:        entity.EventCheckoutCompleted,
		OccurredAt:  transitionNow.Add(-2 * time.Hour),
		UserID:      "user-1",
		Plan:        valueobject.PlanMonthly,
		PeriodEndAt: &future,
		Origin:      entity.OriginPlatform,
	}

	next, changed := service.Transition(cur, ev, transitionNow)
	require.True(t, changed)
	assert.Equal(t, valueobject.PlatformApple, next.Platform)
	assert.Equal(t, "1000000123", next.ExternalSubscriptionID)
	assert.Equal(t, valueobject.StatusActive, next.Status)
	assert.True(t, ev.OccurredAt.Equal(*next.LastEventAt))
}

func TestTransition_LocalEventsKeepLastEventAt(t *testing.T) {
	last := transitionNow.Add(-time.Hour)
	cur := stripeRecord(valueobject.StatusActive, ptrTime(transitionNow.Add(time.Hour)))
	cur.LastEventAt = &last

	ev := stripeEvent(entity.EventCanceled)
	ev.Soft = true
	ev.Origin = entity.OriginLocal

	next, changed := service.Transition(cur, ev, transitionNow)
	require.True(t, changed)
	assert.True(t, last.Equal(*next.LastEventAt))
}

func TestTransition_SweepOnlyExpiresLapsedRecords(t *testing.T) {
	cur := stripeRecord(valueobject.StatusActive, ptrTime(transitionNow.Add(time.Hour)))
	ev := stripeEvent(entity.EventExpired)
	ev.Origin = entity.OriginLocal
	ev.IfPeriodEnded = true

	_, changed := service.Transition(cur, ev, transitionNow)
	assert.False(t, changed)

	cur.PeriodEndAt = ptrTime(transitionNow.Add(-time.Hour))
	next, changed := service.Transition(cur, ev, transitionNow)
	require.True(t, changed)
	assert.Equal(t, valueobject.StatusExpired, next.Status)
}
