package entity

import (
	"time"

	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// EventKind is the normalized meaning of a platform callback.
type EventKind string

const (
	EventSubscribed        EventKind = "subscribed"
	EventRenewed           EventKind = "renewed"
	EventCanceled          EventKind = "canceled"
	EventExpired           EventKind = "expired"
	EventRenewalFailed     EventKind = "renewal_failed"
	EventCheckoutCompleted EventKind = "checkout_completed"
	EventUnhandled         EventKind = "unhandled"
)

// CreatesRecord reports whether the kind may create a record that does not exist yet
func (k EventKind) CreatesRecord() bool {
	return k == EventCheckoutCompleted || k == EventSubscribed
}

// EventOrigin tells apart verified platform payloads from locally produced events.
type EventOrigin string

const (
	OriginPlatform EventOrigin = "platform"
	OriginLocal    EventOrigin = "local"
)

// SubscriptionEvent is a verified, platform-independent subscription change.
type SubscriptionEvent struct {
	Platform   valueobject.Platform
	ExternalID string
	EventID    string
	Kind       EventKind
	OccurredAt time.Time
	Plan       valueobject.PlanType
	// PeriodEndAt is nil for lifetime plans or when the platform did not report it.
	PeriodEndAt *time.Time
	// UserID is set when the payload names the owner.
	UserID string
	// Soft marks an auto-renew-off cancel that keeps the status.
	Soft              bool
	CancelAtPeriodEnd *bool
	// IfPeriodEnded limits an Expired event to records whose period has already ended.
	IfPeriodEnded bool
	Origin        EventOrigin
	RawPayloadRef string
	PlatformType  string
}

// IsLocal returns true if the event was produced by this service rather than a platform
func (e *SubscriptionEvent) IsLocal() bool {
	return e.Origin == OriginLocal
}
