package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bivex/entitlement-sync/internal/application/middleware"
)

// Routes holds everything the HTTP surface is built from
type Routes struct {
	Subscription *SubscriptionHandler
	IAP          *IAPHandler
	Webhook      *WebhookHandler
	Admin        *AdminHandler
	Health       *HealthHandler
	JWT          *middleware.JWTMiddleware
	RateLimiter  *middleware.RateLimiter
}

// Register mounts the routes on router
func (r *Routes) Register(router *gin.Engine) {
	router.GET("/health", r.Health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	webhooks := api.Group("")
	{
		webhooks.POST("/webhook/stripe",
			r.RateLimiter.Middleware(middleware.ByPlatform("stripe"), middleware.WebhookConfig),
			r.Webhook.StripeWebhook,
		)
		webhooks.POST("/apple/webhook",
			r.RateLimiter.Middleware(middleware.ByPlatform("apple"), middleware.WebhookConfig),
			r.Webhook.AppleWebhook,
		)
	}

	protected := api.Group("")
	protected.Use(r.JWT.Authenticate())
	{
		protected.GET("/subscription/status",
			r.RateLimiter.Middleware(middleware.ByUserID, middleware.DefaultConfig),
			r.Subscription.GetStatus,
		)
		protected.GET("/subscription/process-checkout",
			r.RateLimiter.Middleware(middleware.ByUserID, middleware.DefaultConfig),
			r.Subscription.ProcessCheckout,
		)
		protected.POST("/create-checkout-session",
			r.RateLimiter.Middleware(middleware.ByUserID, middleware.CheckoutConfig),
			r.Subscription.CreateCheckoutSession,
		)
		protected.POST("/cancel-subscription",
			r.RateLimiter.Middleware(middleware.ByUserID, middleware.CheckoutConfig),
			r.Subscription.CancelSubscription,
		)
		protected.POST("/ios/purchase",
			r.RateLimiter.Middleware(middleware.ByUserID, middleware.CheckoutConfig),
			r.IAP.VerifyPurchase,
		)
	}

	admin := api.Group("/admin")
	admin.Use(r.JWT.Authenticate(), middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/users/:id/grant", r.Admin.GrantSubscription)
		admin.POST("/users/:id/revoke", r.Admin.RevokeSubscription)
	}
}
