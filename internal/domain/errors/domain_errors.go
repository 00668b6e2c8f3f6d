package errors

import (
	"errors"
	"fmt"
)

var (
	// Request validation errors
	ErrInvalidInput         = errors.New("invalid input")
	ErrRequiredField        = errors.New("required field is missing")
	ErrInvalidPlatform      = errors.New("invalid platform")
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrInvalidBillingPeriod = errors.New("invalid billing period")
	ErrInvalidReceipt       = errors.New("invalid receipt data")

	// Subscription errors
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrSubscriptionNotActive = errors.New("subscription is not active")
	ErrLifetimeNotCancelable = errors.New("lifetime plans cannot be canceled")
	ErrAlreadyCanceled       = errors.New("subscription is already set to cancel")

	// Reconciliation errors
	ErrOrphanedEvent       = errors.New("event has no matching subscription record")
	ErrStaleEvent          = errors.New("event is older than the last applied event")
	ErrConcurrencyConflict = errors.New("concurrent subscription update")
	ErrExternalIDTaken     = errors.New("external subscription id is owned by another record")
	ErrForeignSession      = errors.New("checkout session belongs to another user")

	// External service errors
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
	ErrIAPVerificationFailed      = errors.New("IAP verification failed")
	ErrCheckoutIncomplete         = errors.New("checkout session is not complete")
)

// Verification failure codes
const (
	CodeSignatureMismatch = "signature_mismatch"
	CodeMalformedPayload  = "malformed_payload"
	CodeBundleMismatch    = "bundle_mismatch"
	CodeUnknownProduct    = "unknown_product"
	CodeNoTransactions    = "no_transactions"
)

// VerificationError reports a platform payload that failed signature,
// receipt or shape verification. Nothing from such a payload is trusted.
type VerificationError struct {
	Platform string
	Code     string
	Err      error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s verification failed (%s): %v", e.Platform, e.Code, e.Err)
	}
	return fmt.Sprintf("%s verification failed (%s)", e.Platform, e.Code)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// NewVerificationError creates a new verification error
func NewVerificationError(platform, code string, err error) *VerificationError {
	return &VerificationError{Platform: platform, Code: code, Err: err}
}

// TransientStoreError is returned when the entitlement store could not be
// written, including exhausted optimistic retries. Callers surface it as 5xx.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// TransientNetworkError wraps a failed or timed out platform call.
type TransientNetworkError struct {
	Platform string
	Op       string
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Platform, e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports missing or invalid startup configuration.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Key, e.Reason)
}

// NotFoundError wraps an error with not found context
type NotFoundError struct {
	Entity string
	ID     string
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found: %v", e.Entity, e.ID, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// IsVerification reports whether err is a VerificationError.
func IsVerification(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err should be surfaced so the caller retries.
func IsTransient(err error) bool {
	var se *TransientStoreError
	var ne *TransientNetworkError
	return errors.As(err, &se) || errors.As(err, &ne)
}

// ValidationError names the request field that was rejected. It matches
// ErrInvalidInput as well as its wrapped sentinel.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	reason := e.Message
	if reason == "" && e.Err != nil {
		reason = e.Err.Error()
	}
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func WrapValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}
