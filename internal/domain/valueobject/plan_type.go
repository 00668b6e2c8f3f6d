package valueobject

import (
	"errors"
)

var (
	ErrInvalidPlanType = errors.New("invalid plan type")
)

// PlanType is the billing cadence a subscription record is entitled under.
type PlanType string

const (
	PlanNone     PlanType = "none"
	PlanMonthly  PlanType = "monthly"
	PlanYearly   PlanType = "yearly"
	PlanLifetime PlanType = "lifetime"
)

// NewPlanType creates a new PlanType value object
func NewPlanType(planType string) (PlanType, error) {
	pt := PlanType(planType)
	switch pt {
	case PlanNone, PlanMonthly, PlanYearly, PlanLifetime:
		return pt, nil
	default:
		return "", ErrInvalidPlanType
	}
}

// NewBillingPeriod parses a purchasable billing period. PlanNone is not purchasable.
func NewBillingPeriod(period string) (PlanType, error) {
	pt, err := NewPlanType(period)
	if err != nil || pt == PlanNone {
		return "", ErrInvalidPlanType
	}
	return pt, nil
}

// String returns the string representation of the plan type
func (p PlanType) String() string {
	return string(p)
}

// IsLifetime reports whether the plan never expires.
func (p PlanType) IsLifetime() bool {
	return p == PlanLifetime
}
