package valueobject

import (
	"errors"
)

var (
	ErrInvalidSubscriptionStatus = errors.New("invalid subscription status")
)

// SubscriptionStatus is the lifecycle state of a subscription record.
type SubscriptionStatus string

const (
	StatusFree     SubscriptionStatus = "free"
	StatusPending  SubscriptionStatus = "pending"
	StatusActive   SubscriptionStatus = "active"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusExpired  SubscriptionStatus = "expired"
	StatusAtRisk   SubscriptionStatus = "at_risk"
)

// NewSubscriptionStatus creates a new SubscriptionStatus value object
func NewSubscriptionStatus(status string) (SubscriptionStatus, error) {
	s := SubscriptionStatus(status)
	switch s {
	case StatusFree, StatusPending, StatusActive, StatusCanceled, StatusExpired, StatusAtRisk:
		return s, nil
	default:
		return "", ErrInvalidSubscriptionStatus
	}
}

// String returns the string representation of the status
func (s SubscriptionStatus) String() string {
	return string(s)
}

// GrantsAccess reports whether the status can carry premium access while the
// period has not ended.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == StatusActive || s == StatusAtRisk || s == StatusCanceled
}
