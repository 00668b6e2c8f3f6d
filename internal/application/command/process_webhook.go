package command

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/service"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

// StripeSignatureHeader carries the Stripe webhook signature
const StripeSignatureHeader = "Stripe-Signature"

// ProcessWebhookCommand verifies a platform webhook and reconciles it.
// Verification errors and transient errors are returned; every business
// outcome is a success so the platform stops retrying.
type ProcessWebhookCommand struct {
	stripe   StripeWebhookParser
	apple    AppleNotificationParser
	pipeline EventIngester
}

// NewProcessWebhookCommand creates a new process webhook command
func NewProcessWebhookCommand(stripe StripeWebhookParser, apple AppleNotificationParser, pipeline EventIngester) *ProcessWebhookCommand {
	return &ProcessWebhookCommand{
		stripe:   stripe,
		apple:    apple,
		pipeline: pipeline,
	}
}

// Execute runs the raw webhook body through the platform adapter and the pipeline
func (c *ProcessWebhookCommand) Execute(ctx context.Context, platform valueobject.Platform, body []byte, headers http.Header) (*service.Result, error) {
	var (
		ev  *entity.SubscriptionEvent
		err error
	)
	switch platform {
	case valueobject.PlatformStripe:
		ev, err = c.stripe.ParseWebhook(ctx, body, headers.Get(StripeSignatureHeader))
	case valueobject.PlatformApple:
		ev, err = c.apple.ParseServerNotification(ctx, body)
	default:
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrInvalidPlatform, platform)
	}
	if err != nil {
		return nil, err
	}
	return ingest(ctx, c.pipeline, ev)
}
