package stripe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripesubscription "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

const (
	platformName = "stripe"

	metadataUserID        = "user_id"
	metadataBillingPeriod = "billing_period"
)

// Config holds the Stripe adapter settings
type Config struct {
	SecretKey     string
	WebhookSecret string
	Prices        map[valueobject.PlanType]string
	SuccessURL    string
	CancelURL     string
	Timeout       time.Duration
}

// Adapter translates Stripe checkout sessions and webhooks into subscription
// events and performs the outbound Stripe calls. It never touches the store.
type Adapter struct {
	webhookSecret string
	prices        map[valueobject.PlanType]string
	planByPrice   map[string]valueobject.PlanType
	successURL    string
	cancelURL     string
	timeout       time.Duration
	logger        *zap.Logger

	createSession      func(params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
	fetchSession       func(ctx context.Context, id string) ([]byte, error)
	fetchSubscription  func(ctx context.Context, id string) ([]byte, error)
	updateSubscription func(ctx context.Context, id string, params *stripeapi.SubscriptionParams) ([]byte, error)
}

// NewAdapter creates a Stripe adapter using the live API
func NewAdapter(cfg Config, logger *zap.Logger) *Adapter {
	stripeapi.Key = cfg.SecretKey

	a := newAdapter(cfg, logger)
	a.createSession = stripesession.New
	a.fetchSession = func(ctx context.Context, id string) ([]byte, error) {
		params := &stripeapi.CheckoutSessionParams{}
		params.Context = ctx
		params.AddExpand("subscription")
		s, err := stripesession.Get(id, params)
		if err != nil {
			return nil, err
		}
		return rawJSON(s.LastResponse)
	}
	a.fetchSubscription = func(ctx context.Context, id string) ([]byte, error) {
		params := &stripeapi.SubscriptionParams{}
		params.Context = ctx
		s, err := stripesubscription.Get(id, params)
		if err != nil {
			return nil, err
		}
		return rawJSON(s.LastResponse)
	}
	a.updateSubscription = func(ctx context.Context, id string, params *stripeapi.SubscriptionParams) ([]byte, error) {
		params.Context = ctx
		s, err := stripesubscription.Update(id, params)
		if err != nil {
			return nil, err
		}
		return rawJSON(s.LastResponse)
	}
	return a
}

func newAdapter(cfg Config, logger *zap.Logger) *Adapter {
	planByPrice := make(map[string]valueobject.PlanType, len(cfg.Prices))
	for plan, price := range cfg.Prices {
		planByPrice[price] = plan
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		webhookSecret: cfg.WebhookSecret,
		prices:        cfg.Prices,
		planByPrice:   planByPrice,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		timeout:       timeout,
		logger:        logger,
	}
}

// ParseWebhook verifies the signature and maps the event. Unknown event
// types map to an Unhandled event.
func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte, signatureHeader string) (*entity.SubscriptionEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, domainErrors.NewVerificationError(platformName, verificationCode(err), err)
	}

	ev, err := a.mapEvent(ctx, &event)
	if err != nil {
		return nil, err
	}
	ev.RawPayloadRef = payloadRef(payload)
	return ev, nil
}

func (a *Adapter) mapEvent(ctx context.Context, event *stripeapi.Event) (*entity.SubscriptionEvent, error) {
	occurredAt := time.Unix(event.Created, 0).UTC()
	base := entity.SubscriptionEvent{
		Platform:     valueobject.PlatformStripe,
		EventID:      event.ID,
		OccurredAt:   occurredAt,
		Origin:       entity.OriginPlatform,
		PlatformType: string(event.Type),
	}
	if event.Data == nil {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeMalformedPayload, errors.New("event has no data"))
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var session checkoutSessionPayload
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, malformed(err)
		}
		ev, err := a.checkoutEvent(ctx, &session)
		if err != nil {
			return nil, err
		}
		ev.PlatformType = string(event.Type)
		if event.Type == "checkout.session.async_payment_succeeded" {
			ev.EventID = event.ID
			ev.OccurredAt = occurredAt
		}
		return ev, nil

	case "customer.subscription.created", "customer.subscription.updated":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, malformed(err)
		}
		ev := base
		a.fillFromSubscription(&ev, &sub)
		ev.Kind = subscriptionKind(string(event.Type), sub.Status)
		return &ev, nil

	case "customer.subscription.deleted":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, malformed(err)
		}
		ev := base
		ev.ExternalID = sub.ID
		ev.UserID = sub.Metadata[metadataUserID]
		ev.Kind = entity.EventExpired
		return &ev, nil

	case "invoice.payment_failed":
		var invoice invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, malformed(err)
		}
		ev := base
		ev.ExternalID = invoice.subscriptionID()
		ev.Kind = entity.EventRenewalFailed
		if ev.ExternalID == "" {
			ev.Kind = entity.EventUnhandled
		}
		return &ev, nil

	default:
		ev := base
		ev.Kind = entity.EventUnhandled
		return &ev, nil
	}
}

func subscriptionKind(eventType, status string) entity.EventKind {
	switch status {
	case "active", "trialing":
		if eventType == "customer.subscription.created" {
			return entity.EventSubscribed
		}
		return entity.EventRenewed
	case "canceled", "unpaid":
		if eventType == "customer.subscription.created" {
			return entity.EventUnhandled
		}
		return entity.EventCanceled
	case "past_due":
		return entity.EventRenewalFailed
	case "incomplete_expired":
		return entity.EventExpired
	default:
		return entity.EventUnhandled
	}
}

func (a *Adapter) fillFromSubscription(ev *entity.SubscriptionEvent, sub *subscriptionPayload) {
	ev.ExternalID = sub.ID
	ev.UserID = sub.Metadata[metadataUserID]
	ev.Plan = a.planFor(sub.priceID(), sub.Metadata[metadataBillingPeriod])
	ev.PeriodEndAt = sub.periodEnd()
	cancel := sub.CancelAtPeriodEnd
	ev.CancelAtPeriodEnd = &cancel
}

// checkoutEvent builds the CheckoutCompleted event shared by the webhook and
// the redirect confirmation. Both use the session id and creation time so
// they deduplicate against each other.
func (a *Adapter) checkoutEvent(ctx context.Context, session *checkoutSessionPayload) (*entity.SubscriptionEvent, error) {
	ev := &entity.SubscriptionEvent{
		Platform:     valueobject.PlatformStripe,
		EventID:      "checkout:" + session.ID,
		Kind:         entity.EventCheckoutCompleted,
		OccurredAt:   time.Unix(session.Created, 0).UTC(),
		UserID:       session.userID(),
		Origin:       entity.OriginPlatform,
		PlatformType: "checkout.session.completed",
	}

	if session.Mode == string(stripeapi.CheckoutSessionModePayment) {
		ev.ExternalID = session.ID
		ev.Plan = a.planFor("", session.Metadata[metadataBillingPeriod])
		if ev.Plan != valueobject.PlanLifetime {
			return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeUnknownProduct,
				fmt.Errorf("one-time checkout %s is not a lifetime purchase", session.ID))
		}
		if !session.isPaid() {
			ev.Plan = valueobject.PlanNone
			ev.Kind = entity.EventUnhandled
		}
		return ev, nil
	}

	if session.Subscription.ID == "" {
		return nil, domainErrors.NewVerificationError(platformName, domainErrors.CodeMalformedPayload,
			fmt.Errorf("checkout session %s has no subscription", session.ID))
	}
	ev.ExternalID = session.Subscription.ID

	sub := session.Subscription.Expanded
	if sub == nil {
		fetched, err := a.getSubscription(ctx, session.Subscription.ID)
		if err != nil {
			return nil, err
		}
		sub = fetched
	}

	ev.Plan = a.planFor(sub.priceID(), session.Metadata[metadataBillingPeriod])
	if session.isPaid() {
		ev.PeriodEndAt = sub.periodEnd()
	}
	cancel := sub.CancelAtPeriodEnd
	ev.CancelAtPeriodEnd = &cancel
	return ev, nil
}

// FetchCheckoutEvent re-fetches a session for the redirect confirmation path.
// Sessions that are not complete and paid are rejected.
func (a *Adapter) FetchCheckoutEvent(ctx context.Context, sessionID string) (*entity.SubscriptionEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.fetchSession(ctx, sessionID)
	if err != nil {
		return nil, a.apiError("fetch checkout session", err)
	}
	var session checkoutSessionPayload
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, malformed(err)
	}
	if session.Status != "complete" || !session.isPaid() {
		return nil, fmt.Errorf("%w: status=%s payment_status=%s", domainErrors.ErrCheckoutIncomplete, session.Status, session.PaymentStatus)
	}

	ev, err := a.checkoutEvent(ctx, &session)
	if err != nil {
		return nil, err
	}
	ev.RawPayloadRef = payloadRef(raw)
	return ev, nil
}

// CreateCheckoutSession always creates a new hosted checkout session
func (a *Adapter) CreateCheckoutSession(ctx context.Context, userID string, period valueobject.PlanType) (string, error) {
	price, ok := a.prices[period]
	if !ok || price == "" {
		return "", domainErrors.WrapValidationError("billingPeriod", domainErrors.ErrInvalidBillingPeriod)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	metadata := map[string]string{
		metadataUserID:        userID,
		metadataBillingPeriod: period.String(),
	}
	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		SuccessURL:        stripeapi.String(a.successURL),
		CancelURL:         stripeapi.String(a.cancelURL),
		ClientReferenceID: stripeapi.String(userID),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Price:    stripeapi.String(price),
				Quantity: stripeapi.Int64(1),
			},
		},
		Metadata: metadata,
	}
	if period.IsLifetime() {
		params.Mode = stripeapi.String(string(stripeapi.CheckoutSessionModePayment))
	} else {
		params.SubscriptionData = &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		}
	}
	params.Context = ctx

	session, err := a.createSession(params)
	if err != nil {
		return "", a.apiError("create checkout session", err)
	}
	if session == nil || session.URL == "" {
		return "", &domainErrors.TransientNetworkError{Platform: platformName, Op: "create checkout session", Err: errors.New("stripe returned empty checkout URL")}
	}

	a.logger.Info("Stripe checkout session created",
		zap.String("user_id", userID),
		zap.String("session_id", session.ID),
		zap.String("billing_period", period.String()),
	)
	return session.URL, nil
}

// CancelAtPeriodEnd sets the Stripe-side cancel flag and returns the period end
func (a *Adapter) CancelAtPeriodEnd(ctx context.Context, externalSubscriptionID string) (*time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.updateSubscription(ctx, externalSubscriptionID, &stripeapi.SubscriptionParams{
		CancelAtPeriodEnd: stripeapi.Bool(true),
	})
	if err != nil {
		return nil, a.apiError("cancel subscription", err)
	}
	var sub subscriptionPayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, malformed(err)
	}
	return sub.periodEnd(), nil
}

func (a *Adapter) getSubscription(ctx context.Context, id string) (*subscriptionPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.fetchSubscription(ctx, id)
	if err != nil {
		return nil, a.apiError("fetch subscription", err)
	}
	var sub subscriptionPayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, malformed(err)
	}
	return &sub, nil
}

// planFor prefers the price id over metadata so the platform stays authoritative
func (a *Adapter) planFor(priceID, metadataPeriod string) valueobject.PlanType {
	if plan, ok := a.planByPrice[priceID]; ok && priceID != "" {
		return plan
	}
	if plan, err := valueobject.NewBillingPeriod(metadataPeriod); err == nil {
		return plan
	}
	return ""
}

// apiError separates request errors Stripe rejected from transient failures
func (a *Adapter) apiError(op string, err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= http.StatusBadRequest &&
		se.HTTPStatusCode < http.StatusInternalServerError && se.HTTPStatusCode != http.StatusTooManyRequests {
		return domainErrors.NewVerificationError(platformName, string(se.Code), err)
	}
	a.logger.Warn("Stripe API call failed", zap.String("op", op), zap.Error(err))
	return &domainErrors.TransientNetworkError{Platform: platformName, Op: op, Err: err}
}

func verificationCode(err error) string {
	switch {
	case errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrTooOld):
		return domainErrors.CodeSignatureMismatch
	default:
		return domainErrors.CodeMalformedPayload
	}
}

func malformed(err error) error {
	return domainErrors.NewVerificationError(platformName, domainErrors.CodeMalformedPayload, err)
}

func rawJSON(resp *stripeapi.APIResponse) ([]byte, error) {
	if resp == nil || len(resp.RawJSON) == 0 {
		return nil, errors.New("stripe response has no body")
	}
	return resp.RawJSON, nil
}

func payloadRef(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:])
}
