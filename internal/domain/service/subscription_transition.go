package service

import (
	"time"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// Transition computes the record that results from applying ev to cur.
// cur may be nil when no record exists yet. The second return value is false
// when the event does not change the record.
func Transition(cur *entity.SubscriptionRecord, ev *entity.SubscriptionEvent, now time.Time) (*entity.SubscriptionRecord, bool) {
	if cur == nil {
		if !ev.Kind.CreatesRecord() || ev.UserID == "" {
			return nil, false
		}
		cur = entity.NewFreeRecord(ev.UserID, now)
	}
	next := cur.Clone()
	joined := cur.OwnsExternalID(ev.Platform, ev.ExternalID)

	switch ev.Kind {
	case entity.EventCheckoutCompleted, entity.EventSubscribed:
		if !joined {
			// A new platform subscription replaces whatever the record was joined to.
			next.Platform = ev.Platform
			next.ExternalSubscriptionID = ev.ExternalID
			next.LastEventAt = nil
			next.PeriodEndAt = nil
		}
		activate(next, ev, now)
	case entity.EventRenewed:
		if !joined {
			return cur, false
		}
		switch cur.Status {
		case valueobject.StatusPending, valueobject.StatusActive, valueobject.StatusAtRisk,
			valueobject.StatusCanceled, valueobject.StatusExpired:
			activate(next, ev, now)
		default:
			return cur, false
		}
	case entity.EventRenewalFailed:
		if !joined || cur.Status != valueobject.StatusActive {
			return cur, false
		}
		next.Status = valueobject.StatusAtRisk
	case entity.EventCanceled:
		if !joined {
			return cur, false
		}
		if ev.Soft {
			if cur.Status != valueobject.StatusActive && cur.Status != valueobject.StatusAtRisk {
				return cur, false
			}
			next.CancelAtPeriodEnd = true
			break
		}
		if cur.Status != valueobject.StatusActive && cur.Status != valueobject.StatusAtRisk {
			return cur, false
		}
		next.Status = valueobject.StatusCanceled
		next.CancelAtPeriodEnd = true
	case entity.EventExpired:
		if !joined {
			return cur, false
		}
		switch cur.Status {
		case valueobject.StatusActive, valueobject.StatusCanceled, valueobject.StatusAtRisk, valueobject.StatusPending:
		default:
			return cur, false
		}
		if ev.IfPeriodEnded && !cur.IsPastPeriodEnd(now) {
			return cur, false
		}
		expiredAt := now
		next.Status = valueobject.StatusExpired
		next.PeriodEndAt = &expiredAt
		next.CancelAtPeriodEnd = false
	default:
		return cur, false
	}

	if !ev.IsLocal() {
		occurred := ev.OccurredAt
		next.LastEventAt = &occurred
	}
	if sameState(cur, next) && cur.Version != 0 {
		return cur, false
	}
	next.UpdatedAt = now
	return next, true
}

// activate applies the platform-reported plan and period. Platform values
// always replace what the record held.
func activate(next *entity.SubscriptionRecord, ev *entity.SubscriptionEvent, now time.Time) {
	if ev.Plan != "" && ev.Plan != valueobject.PlanNone {
		next.Plan = ev.Plan
	}
	switch {
	case next.Plan.IsLifetime():
		next.PeriodEndAt = nil
	case ev.PeriodEndAt != nil:
		end := *ev.PeriodEndAt
		next.PeriodEndAt = &end
	}
	next.CancelAtPeriodEnd = false
	if ev.CancelAtPeriodEnd != nil {
		next.CancelAtPeriodEnd = *ev.CancelAtPeriodEnd
	}
	next.Status = activationStatus(next.Plan, next.PeriodEndAt, now)
}

// activationStatus keeps active records either lifetime or bounded by a future period end.
func activationStatus(plan valueobject.PlanType, periodEnd *time.Time, now time.Time) valueobject.SubscriptionStatus {
	switch {
	case plan.IsLifetime():
		return valueobject.StatusActive
	case periodEnd == nil:
		return valueobject.StatusPending
	case periodEnd.After(now):
		return valueobject.StatusActive
	default:
		return valueobject.StatusExpired
	}
}

func sameState(a, b *entity.SubscriptionRecord) bool {
	return a.Plan == b.Plan &&
		a.Status == b.Status &&
		a.Platform == b.Platform &&
		a.ExternalSubscriptionID == b.ExternalSubscriptionID &&
		a.CancelAtPeriodEnd == b.CancelAtPeriodEnd &&
		timeEqual(a.PeriodEndAt, b.PeriodEndAt) &&
		timeEqual(a.LastEventAt, b.LastEventAt)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
