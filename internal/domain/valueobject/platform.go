package valueobject

import (
	"errors"
)

var (
	ErrInvalidPlatform = errors.New("invalid platform")
)

// Platform is the source of truth that owns a subscription.
type Platform string

const (
	PlatformNone   Platform = "none"
	PlatformStripe Platform = "stripe"
	PlatformApple  Platform = "apple"
	PlatformManual Platform = "manual"
)

// NewPlatform creates a new Platform value object
func NewPlatform(platform string) (Platform, error) {
	p := Platform(platform)
	switch p {
	case PlatformNone, PlatformStripe, PlatformApple, PlatformManual:
		return p, nil
	default:
		return "", ErrInvalidPlatform
	}
}

// String returns the string representation of the platform
func (p Platform) String() string {
	return string(p)
}
