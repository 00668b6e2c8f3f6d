package response

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
)

// Meta contains response metadata
type Meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Meta    Meta   `json:"meta"`
}

// OK writes the body as-is; clients read the documented fields at the top level
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Error sends an error response
func Error(c *gin.Context, statusCode int, errCode string, message string) {
	ErrorWithCode(c, statusCode, errCode, "", message)
}

// ErrorWithCode sends an error response with a platform or field code
func ErrorWithCode(c *gin.Context, statusCode int, errCode, code, message string) {
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	c.JSON(statusCode, ErrorResponse{
		Error:   errCode,
		Message: message,
		Code:    code,
		Meta: Meta{
			RequestID: requestID,
			Timestamp: time.Now(),
		},
	})
}

// BadRequest sends a 400 Bad Request response
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "INVALID_REQUEST", message)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// Forbidden sends a 403 Forbidden response
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, "FORBIDDEN", message)
}

// ServiceUnavailable sends a 503 Service Unavailable response
func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message)
}

// FromError maps a domain error to its HTTP status and writes it
func FromError(c *gin.Context, err error) {
	status, errCode, code := Classify(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	ErrorWithCode(c, status, errCode, code, message)
}

// Classify returns the HTTP status, error code and detail code for err
func Classify(err error) (int, string, string) {
	var (
		verr  *domainErrors.VerificationError
		valid *domainErrors.ValidationError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "VERIFICATION_FAILED", verr.Code
	case errors.As(err, &valid):
		return http.StatusBadRequest, "INVALID_REQUEST", valid.Field
	case errors.Is(err, domainErrors.ErrInvalidInput),
		errors.Is(err, domainErrors.ErrInvalidPlatform),
		errors.Is(err, domainErrors.ErrCheckoutIncomplete):
		return http.StatusBadRequest, "INVALID_REQUEST", ""
	case errors.Is(err, domainErrors.ErrSubscriptionNotFound):
		return http.StatusNotFound, "NOT_FOUND", ""
	case errors.Is(err, domainErrors.ErrForeignSession):
		return http.StatusForbidden, "FORBIDDEN", ""
	case errors.Is(err, domainErrors.ErrLifetimeNotCancelable),
		errors.Is(err, domainErrors.ErrAlreadyCanceled),
		errors.Is(err, domainErrors.ErrSubscriptionNotActive),
		errors.Is(err, domainErrors.ErrExternalIDTaken):
		return http.StatusConflict, "CONFLICT", ""
	case domainErrors.IsTransient(err):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", ""
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", ""
	}
}
