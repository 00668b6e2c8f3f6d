package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/app"
	"github.com/bivex/entitlement-sync/internal/application/command"
	"github.com/bivex/entitlement-sync/internal/application/middleware"
	"github.com/bivex/entitlement-sync/internal/application/query"
	"github.com/bivex/entitlement-sync/internal/infrastructure/config"
	"github.com/bivex/entitlement-sync/internal/infrastructure/logging"
	"github.com/bivex/entitlement-sync/internal/infrastructure/persistence/pool"
	app_handler "github.com/bivex/entitlement-sync/internal/interfaces/http/handlers"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logging.Init(&cfg.Sentry); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()

	logging.Logger.Info("Starting entitlement API server",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Sentry.Environment),
	)

	ctx := context.Background()
	redisClient, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		logging.Logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	stores, err := app.OpenStores(ctx, cfg, redisClient, logging.Logger)
	if err != nil {
		logging.Logger.Fatal("Failed to open stores", zap.Error(err))
	}
	defer stores.Close()

	// Domain services and platform adapters
	reconciler := app.NewReconciler(cfg, stores, logging.Logger)
	stripeAdapter := app.NewStripeAdapter(cfg, logging.Logger)
	appleAdapter := app.NewAppleAdapter(cfg, logging.Logger)

	// Initialize middleware
	jwtMiddleware := middleware.NewJWTMiddleware(cfg.JWT.Secret, redisClient, cfg.JWT.AccessTTL, cfg.JWT.Issuer)
	rateLimiter := middleware.NewRateLimiter(redisClient, true) // fail open

	// Initialize commands
	cmdLogger := logging.WithComponent("command")
	startCheckoutCmd := command.NewStartCheckoutCommand(stripeAdapter, cmdLogger)
	confirmCheckoutCmd := command.NewConfirmCheckoutCommand(stripeAdapter, reconciler.Pipeline, stores.Subscriptions, cmdLogger)
	cancelCmd := command.NewCancelSubscriptionCommand(stores.Subscriptions, stripeAdapter, reconciler.Pipeline, cmdLogger)
	processWebhookCmd := command.NewProcessWebhookCommand(stripeAdapter, appleAdapter, reconciler.Pipeline)
	verifyIAPCmd := command.NewVerifyIAPCommand(appleAdapter, reconciler.Pipeline, stores.Subscriptions, cmdLogger)
	grantCmd := command.NewGrantManualCommand(reconciler.Pipeline, stores.Subscriptions, cmdLogger)
	revokeCmd := command.NewRevokeManualCommand(reconciler.Pipeline, stores.Subscriptions, cmdLogger)

	// Initialize queries
	getSubQuery := query.NewGetSubscriptionQuery(stores.Subscriptions)

	health := map[string]app_handler.HealthCheck{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
	if stores.Pool != nil {
		health["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx, stores.Pool) }
	}

	routes := &app_handler.Routes{
		Subscription: app_handler.NewSubscriptionHandler(getSubQuery, startCheckoutCmd, confirmCheckoutCmd, cancelCmd),
		IAP:          app_handler.NewIAPHandler(verifyIAPCmd),
		Webhook:      app_handler.NewWebhookHandler(processWebhookCmd),
		Admin:        app_handler.NewAdminHandler(grantCmd, revokeCmd),
		Health:       app_handler.NewHealthHandler(health),
		JWT:          jwtMiddleware,
		RateLimiter:  rateLimiter,
	}

	// Setup Gin router
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		logging.RequestMiddleware(logging.Logger),
	)
	routes.Register(router)

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		logging.Logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logging.Logger.Info("Server exited")
}
