package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/application/command"
	"github.com/bivex/entitlement-sync/internal/application/middleware"
	"github.com/bivex/entitlement-sync/internal/application/query"
	"github.com/bivex/entitlement-sync/internal/domain/entity"
	domainErrors "github.com/bivex/entitlement-sync/internal/domain/errors"
	"github.com/bivex/entitlement-sync/internal/domain/service"
	"github.com/bivex/entitlement-sync/internal/domain/valueobject"
	"github.com/bivex/entitlement-sync/internal/infrastructure/external/stripe"
	"github.com/bivex/entitlement-sync/internal/infrastructure/logging"
	"github.com/bivex/entitlement-sync/internal/infrastructure/persistence/memstore"
	"github.com/bivex/entitlement-sync/internal/interfaces/http/handlers"
	"github.com/bivex/entitlement-sync/tests/mocks"
)

const (
	jwtSecret     = "test-secret-that-is-at-least-32-chars"
	webhookSecret = "whsec_handlers_test"
)

type server struct {
	router   *gin.Engine
	store    *memstore.SubscriptionStore
	jwt      *middleware.JWTMiddleware
	checkout *mocks.MockCheckoutProvider
	apple    *mocks.MockAppleNotificationParser
	receipts *mocks.MockReceiptVerifier
	redis    *miniredis.Miniredis
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	store := memstore.NewSubscriptionStore()
	dedup := service.NewEventDeduplicator(memstore.NewProcessedEventStore(), 0)
	engine := service.NewReconciliationEngine(store, zap.NewNop())
	pipeline := service.NewEventPipeline(dedup, engine, zap.NewNop())

	checkout := mocks.NewMockCheckoutProvider()
	apple := mocks.NewMockAppleNotificationParser()
	receipts := mocks.NewMockReceiptVerifier()
	stripeAdapter := stripe.NewAdapter(stripe.Config{
		SecretKey:     "sk_test_unused",
		WebhookSecret: webhookSecret,
		Prices: map[valueobject.PlanType]string{
			valueobject.PlanMonthly: "price_monthly",
			valueobject.PlanYearly:  "price_yearly",
		},
	}, zap.NewNop())

	jwt := middleware.NewJWTMiddleware(jwtSecret, redisClient, time.Hour, "entitlement-sync")
	routes := &handlers.Routes{
		Subscription: handlers.NewSubscriptionHandler(
			query.NewGetSubscriptionQuery(store),
			command.NewStartCheckoutCommand(checkout, zap.NewNop()),
			command.NewConfirmCheckoutCommand(checkout, pipeline, store, zap.NewNop()),
			command.NewCancelSubscriptionCommand(store, checkout, pipeline, zap.NewNop()),
		),
		IAP:     handlers.NewIAPHandler(command.NewVerifyIAPCommand(receipts, pipeline, store, zap.NewNop())),
		Webhook: handlers.NewWebhookHandler(command.NewProcessWebhookCommand(stripeAdapter, apple, pipeline)),
		Admin: handlers.NewAdminHandler(
			command.NewGrantManualCommand(pipeline, store, zap.NewNop()),
			command.NewRevokeManualCommand(pipeline, store, zap.NewNop()),
		),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
		JWT:         jwt,
		RateLimiter: middleware.NewRateLimiter(redisClient, true),
	}

	router := gin.New()
	router.Use(gin.Recovery(), logging.RequestMiddleware(zap.NewNop()))
	routes.Register(router)

	return &server{
		router:   router,
		store:    store,
		jwt:      jwt,
		checkout: checkout,
		apple:    apple,
		receipts: receipts,
		redis:    mr,
	}
}

func (s *server) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, _, err := s.jwt.GenerateAccessToken(userID, role)
	require.NoError(t, err)
	return token
}

func (s *server) do(t *testing.T, method, path, token string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func seedStripe(t *testing.T, s *server, userID, ext string, end time.Time, lastEvent time.Time) {
	t.Helper()
	require.NoError(t, s.store.Create(context.Background(), &entity.SubscriptionRecord{
		UserID:                 userID,
		Plan:                   valueobject.PlanMonthly,
		Status:                 valueobject.StatusActive,
		Platform:               valueobject.PlatformStripe,
		ExternalSubscriptionID: ext,
		PeriodEndAt:            &end,
		LastEventAt:            &lastEvent,
	}))
}

func TestSubscriptionStatus(t *testing.T) {
	s := newServer(t)

	t.Run("unauthenticated", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/subscription/status", "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("revoked token", func(t *testing.T) {
		token, jti, err := s.jwt.GenerateAccessToken("user-1", "")
		require.NoError(t, err)
		require.NoError(t, s.jwt.RevokeToken(context.Background(), jti, time.Hour))

		w := s.do(t, http.MethodGet, "/api/subscription/status", token, nil, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "TOKEN_REVOKED", decode(t, w)["error"])
	})

	t.Run("free user", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/subscription/status", s.token(t, "user-1", ""), nil, nil)

		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "free", body["plan"])
		assert.Equal(t, false, body["isActive"])
		assert.Nil(t, body["expiresAt"])
	})

	t.Run("premium user", func(t *testing.T) {
		end := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
		seedStripe(t, s, "user-2", "sub_2", end, time.Now().Add(-time.Hour))

		w := s.do(t, http.MethodGet, "/api/subscription/status", s.token(t, "user-2", ""), nil, nil)

		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "premium", body["plan"])
		assert.Equal(t, true, body["isActive"])
		assert.Equal(t, "monthly", body["billingPeriod"])
		assert.Equal(t, end.Format(time.RFC3339), body["expiresAt"])
	})
}

func TestCreateCheckoutSession(t *testing.T) {
	s := newServer(t)
	token := s.token(t, "user-1", "")

	t.Run("invalid plan", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/create-checkout-session", token,
			bytes.NewBufferString(`{"plan":"gold","billingPeriod":"monthly"}`), map[string]string{"Content-Type": "application/json"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns url", func(t *testing.T) {
		s.checkout.On("CreateCheckoutSession", mock.Anything, "user-1", valueobject.PlanMonthly).
			Return("https://checkout.stripe.com/c/cs_1", nil).Once()

		w := s.do(t, http.MethodPost, "/api/create-checkout-session", token,
			bytes.NewBufferString(`{"plan":"premium","billingPeriod":"monthly"}`), map[string]string{"Content-Type": "application/json"})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://checkout.stripe.com/c/cs_1", decode(t, w)["url"])
	})

	t.Run("stripe unavailable", func(t *testing.T) {
		s.checkout.On("CreateCheckoutSession", mock.Anything, "user-1", valueobject.PlanYearly).
			Return("", &domainErrors.TransientNetworkError{Platform: "stripe", Op: "create", Err: errors.New("timeout")}).Once()

		w := s.do(t, http.MethodPost, "/api/create-checkout-session", token,
			bytes.NewBufferString(`{"plan":"premium","billingPeriod":"yearly"}`), map[string]string{"Content-Type": "application/json"})

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestProcessCheckout(t *testing.T) {
	s := newServer(t)
	end := time.Now().Add(30 * 24 * time.Hour)
	s.checkout.On("FetchCheckoutEvent", mock.Anything, "cs_other").Return(&entity.SubscriptionEvent{
		Platform:    valueobject.PlatformStripe,
		ExternalID:  "sub_x",
		EventID:     "checkout:cs_other",
		Kind:        entity.EventCheckoutCompleted,
		OccurredAt:  time.Now(),
		Plan:        valueobject.PlanMonthly,
		PeriodEndAt: &end,
		UserID:      "user-2",
	}, nil)

	t.Run("foreign session", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/subscription/process-checkout?session_id=cs_other", s.token(t, "user-1", ""), nil, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing session id", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/subscription/process-checkout", s.token(t, "user-1", ""), nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func signedStripe(t *testing.T, eventID, eventType string, created int64, object map[string]any) ([]byte, string) {
	t.Helper()
	obj, err := json.Marshal(object)
	require.NoError(t, err)
	payload := []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":%s}}`, eventID, eventType, created, obj))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func TestStripeWebhook(t *testing.T) {
	s := newServer(t)
	oldEnd := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	newEnd := time.Now().Add(31 * 24 * time.Hour).UTC().Truncate(time.Second)
	seedStripe(t, s, "user-1", "sub_123", oldEnd, time.Now().Add(-2*time.Hour))

	renewal := map[string]any{
		"id":                   "sub_123",
		"object":               "subscription",
		"status":               "active",
		"cancel_at_period_end": false,
		"metadata":             map[string]string{"user_id": "user-1"},
		"items": map[string]any{
			"data": []map[string]any{{"current_period_end": newEnd.Unix(), "price": map[string]string{"id": "price_monthly"}}},
		},
	}

	t.Run("bad signature", func(t *testing.T) {
		payload, _ := signedStripe(t, "evt_bad", "customer.subscription.updated", time.Now().Unix(), renewal)

		w := s.do(t, http.MethodPost, "/api/webhook/stripe", "", bytes.NewReader(payload),
			map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VERIFICATION_FAILED", decode(t, w)["error"])
	})

	t.Run("renewal is applied once", func(t *testing.T) {
		payload, header := signedStripe(t, "evt_renew", "customer.subscription.updated", time.Now().Unix(), renewal)

		w := s.do(t, http.MethodPost, "/api/webhook/stripe", "", bytes.NewReader(payload), map[string]string{"Stripe-Signature": header})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["received"])
		assert.Equal(t, "applied", body["outcome"])

		w = s.do(t, http.MethodPost, "/api/webhook/stripe", "", bytes.NewReader(payload), map[string]string{"Stripe-Signature": header})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "duplicate", decode(t, w)["outcome"])

		rec, err := s.store.GetByUserID(context.Background(), "user-1")
		require.NoError(t, err)
		assert.True(t, newEnd.Equal(*rec.PeriodEndAt))
		assert.Equal(t, int64(2), rec.Version)
	})

	t.Run("unknown subscription is acknowledged", func(t *testing.T) {
		orphan := map[string]any{"id": "sub_unknown", "object": "subscription", "status": "past_due"}
		payload, header := signedStripe(t, "evt_orphan", "customer.subscription.updated", time.Now().Unix(), orphan)

		w := s.do(t, http.MethodPost, "/api/webhook/stripe", "", bytes.NewReader(payload), map[string]string{"Stripe-Signature": header})

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "orphaned", decode(t, w)["outcome"])
	})
}

func TestMonthlyCheckoutWebhookScenario(t *testing.T) {
	s := newServer(t)
	token := s.token(t, "user-1", "")
	periodEnd := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)

	w := s.do(t, http.MethodGet, "/api/subscription/status", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "free", decode(t, w)["plan"])

	session := map[string]any{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"mode":                "subscription",
		"status":              "complete",
		"payment_status":      "paid",
		"created":             time.Now().Add(-time.Minute).Unix(),
		"client_reference_id": "user-1",
		"metadata":            map[string]string{"user_id": "user-1", "billing_period": "monthly"},
		"subscription": map[string]any{
			"id":                   "sub_1",
			"object":               "subscription",
			"status":               "active",
			"cancel_at_period_end": false,
			"items": map[string]any{
				"data": []map[string]any{{"current_period_end": periodEnd.Unix(), "price": map[string]string{"id": "price_monthly"}}},
			},
		},
	}
	payload, header := signedStripe(t, "evt_1", "checkout.session.completed", time.Now().Unix(), session)

	w = s.do(t, http.MethodPost, "/api/webhook/stripe", "", bytes.NewReader(payload), map[string]string{"Stripe-Signature": header})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "applied", decode(t, w)["outcome"])

	w = s.do(t, http.MethodGet, "/api/subscription/status", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "premium", body["plan"])
	assert.Equal(t, true, body["isActive"])
	assert.Equal(t, periodEnd.Format(time.RFC3339), body["expiresAt"])
	assert.Equal(t, false, body["cancelAtPeriodEnd"])

	rec, err := s.store.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, valueobject.PlatformStripe, rec.Platform)
	assert.Equal(t, "sub_1", rec.ExternalSubscriptionID)
	assert.Equal(t, valueobject.PlanMonthly, rec.Plan)
}

func TestAppleWebhook(t *testing.T) {
	s := newServer(t)

	t.Run("transient failure asks for a retry", func(t *testing.T) {
		s.apple.On("ParseServerNotification", mock.Anything, []byte("jws-1")).
			Return(nil, &domainErrors.TransientNetworkError{Platform: "apple", Op: "verify", Err: errors.New("timeout")}).Once()

		w := s.do(t, http.MethodPost, "/api/apple/webhook", "", bytes.NewBufferString("jws-1"), nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("unhandled notification is acknowledged", func(t *testing.T) {
		s.apple.On("ParseServerNotification", mock.Anything, []byte("jws-2")).Return(&entity.SubscriptionEvent{
			Platform:     valueobject.PlatformApple,
			EventID:      "notification:uuid-2",
			Kind:         entity.EventUnhandled,
			PlatformType: "PRICE_INCREASE",
		}, nil).Once()

		w := s.do(t, http.MethodPost, "/api/apple/webhook", "", bytes.NewBufferString("jws-2"), nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "unhandled", decode(t, w)["outcome"])
	})
}

func TestCancelAndPurchase(t *testing.T) {
	s := newServer(t)
	end := time.Now().Add(10 * 24 * time.Hour).UTC().Truncate(time.Second)

	t.Run("cancel without subscription", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/cancel-subscription", s.token(t, "user-9", ""), nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cancel stripe subscription", func(t *testing.T) {
		seedStripe(t, s, "user-1", "sub_1", end, time.Now().Add(-time.Hour))
		s.checkout.On("CancelAtPeriodEnd", mock.Anything, "sub_1").Return(&end, nil).Once()

		w := s.do(t, http.MethodPost, "/api/cancel-subscription", s.token(t, "user-1", ""), nil, nil)

		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, end.Format(time.RFC3339), body["endDate"])

		w = s.do(t, http.MethodPost, "/api/cancel-subscription", s.token(t, "user-1", ""), nil, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("ios purchase", func(t *testing.T) {
		s.receipts.On("VerifyReceipt", mock.Anything, "user-3", "receipt").Return(&entity.SubscriptionEvent{
			Platform:    valueobject.PlatformApple,
			ExternalID:  "700",
			EventID:     "tx:701",
			Kind:        entity.EventCheckoutCompleted,
			OccurredAt:  time.Now().Add(-time.Minute),
			Plan:        valueobject.PlanYearly,
			PeriodEndAt: &end,
			UserID:      "user-3",
			Origin:      entity.OriginPlatform,
		}, nil).Once()

		w := s.do(t, http.MethodPost, "/api/ios/purchase", s.token(t, "user-3", ""),
			bytes.NewBufferString(`{"productId":"premium.yearly","receiptData":"receipt"}`), map[string]string{"Content-Type": "application/json"})

		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "premium", body["plan"])
	})

	t.Run("ios purchase without receipt", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/ios/purchase", s.token(t, "user-3", ""),
			bytes.NewBufferString(`{"productId":"premium.yearly"}`), map[string]string{"Content-Type": "application/json"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)

	t.Run("requires admin role", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/admin/users/user-1/grant", s.token(t, "user-1", ""),
			bytes.NewBufferString(`{"billingPeriod":"monthly"}`), map[string]string{"Content-Type": "application/json"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("grant then revoke", func(t *testing.T) {
		admin := s.token(t, "admin-1", middleware.RoleAdmin)

		w := s.do(t, http.MethodPost, "/api/admin/users/user-1/grant", admin,
			bytes.NewBufferString(`{"billingPeriod":"lifetime"}`), map[string]string{"Content-Type": "application/json"})
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, http.MethodGet, "/api/subscription/status", s.token(t, "user-1", ""), nil, nil)
		assert.Equal(t, "premium", decode(t, w)["plan"])

		w = s.do(t, http.MethodPost, "/api/admin/users/user-1/revoke", admin, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, http.MethodGet, "/api/subscription/status", s.token(t, "user-1", ""), nil, nil)
		assert.Equal(t, "free", decode(t, w)["plan"])
	})
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.redis.Close()
	w = s.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
