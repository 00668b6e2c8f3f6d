package iap

import (
	"context"
	"net/http"
	"time"

	"github.com/awa/go-iap/appstore"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
)

const platformName = "apple"

// ReceiptClient posts a receipt to the App Store verifyReceipt endpoint.
// *appstore.Client satisfies it and retries against sandbox on status 21007.
type ReceiptClient interface {
	Verify(ctx context.Context, req appstore.IAPRequest, result interface{}) error
}

// JWSVerifier verifies a signed App Store payload and decodes its claims
type JWSVerifier interface {
	Verify(token string, claims jwt.Claims) error
}

// appStoreJWSVerifier checks the x5c certificate chain against Apple's root
type appStoreJWSVerifier struct {
	client *appstore.Client
}

func (v *appStoreJWSVerifier) Verify(token string, claims jwt.Claims) error {
	return v.client.ParseNotificationV2WithClaim(token, claims)
}

// AppleConfig holds the App Store settings
type AppleConfig struct {
	SharedSecret string
	BundleID     string
	ProductPlans map[string]valueobject.PlanType
	Timeout      time.Duration
}

// AppleAdapter turns App Store receipts and server notifications into
// subscription events. It does not touch the store.
type AppleAdapter struct {
	receipts     ReceiptClient
	jws          JWSVerifier
	sharedSecret string
	bundleID     string
	productPlans map[string]valueobject.PlanType
	timeout      time.Duration
	logger       *zap.Logger
}

// NewAppleAdapter creates an adapter backed by the live App Store endpoints
func NewAppleAdapter(cfg AppleConfig, logger *zap.Logger) *AppleAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := appstore.NewWithClient(&http.Client{Timeout: timeout})
	return NewAppleAdapterWithClients(cfg, client, &appStoreJWSVerifier{client: client}, logger)
}

// NewAppleAdapterWithClients creates an adapter with explicit receipt and JWS clients
func NewAppleAdapterWithClients(cfg AppleConfig, receipts ReceiptClient, jws JWSVerifier, logger *zap.Logger) *AppleAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AppleAdapter{
		receipts:     receipts,
		jws:          jws,
		sharedSecret: cfg.SharedSecret,
		bundleID:     cfg.BundleID,
		productPlans: cfg.ProductPlans,
		timeout:      timeout,
		logger:       logger,
	}
}

func (a *AppleAdapter) planFor(productID string) (valueobject.PlanType, bool) {
	plan, ok := a.productPlans[productID]
	return plan, ok
}

func msToTime(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
