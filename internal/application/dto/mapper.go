package dto

import (
	"time"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
)

const (
	PlanPremium = "premium"
	PlanFree    = "free"
)

// FormatTime renders an optional timestamp as RFC3339
func FormatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// FreeStatus is reported for users without a record
func FreeStatus() *SubscriptionStatusResponse {
	return &SubscriptionStatusResponse{Plan: PlanFree}
}

// StatusFromRecord reports "premium" only while the record grants access at now
func StatusFromRecord(rec *entity.SubscriptionRecord, now time.Time) *SubscriptionStatusResponse {
	if rec == nil {
		return FreeStatus()
	}
	resp := &SubscriptionStatusResponse{
		Plan:              PlanFree,
		IsActive:          rec.IsEntitled(now),
		ExpiresAt:         FormatTime(rec.PeriodEndAt),
		CancelAtPeriodEnd: rec.CancelAtPeriodEnd,
		BillingPeriod:     rec.Plan.String(),
		Platform:          rec.Platform.String(),
		Status:            rec.Status.String(),
	}
	if resp.IsActive {
		resp.Plan = PlanPremium
	}
	return resp
}
