package entity

import (
	"time"

	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// SubscriptionRecord is the per-user entitlement state. Only the
// reconciliation engine writes it.
type SubscriptionRecord struct {
	UserID                 string
	Plan                   valueobject.PlanType
	Status                 valueobject.SubscriptionStatus
	Platform               valueobject.Platform
	ExternalSubscriptionID string
	PeriodEndAt            *time.Time
	CancelAtPeriodEnd      bool
	LastEventAt            *time.Time
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewFreeRecord creates the empty record a user starts with
func NewFreeRecord(userID string, now time.Time) *SubscriptionRecord {
	return &SubscriptionRecord{
		UserID:    userID,
		Plan:      valueobject.PlanNone,
		Status:    valueobject.StatusFree,
		Platform:  valueobject.PlatformNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the record
func (r *SubscriptionRecord) Clone() *SubscriptionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.PeriodEndAt = cloneTime(r.PeriodEndAt)
	c.LastEventAt = cloneTime(r.LastEventAt)
	return &c
}

// IsEntitled reports whether the record grants premium access at now.
// Canceled and at-risk records keep access until the period ends.
func (r *SubscriptionRecord) IsEntitled(now time.Time) bool {
	if r == nil || !r.Status.GrantsAccess() {
		return false
	}
	if r.Plan.IsLifetime() && r.Status == valueobject.StatusActive {
		return true
	}
	return r.PeriodEndAt != nil && r.PeriodEndAt.After(now)
}

// IsPastPeriodEnd returns true if the paid period has ended
func (r *SubscriptionRecord) IsPastPeriodEnd(now time.Time) bool {
	return r.PeriodEndAt != nil && !r.PeriodEndAt.After(now)
}

// OwnsExternalID reports whether the record is currently joined to the
// given platform subscription.
func (r *SubscriptionRecord) OwnsExternalID(platform valueobject.Platform, externalID string) bool {
	return r.Platform == platform && r.ExternalSubscriptionID == externalID
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
