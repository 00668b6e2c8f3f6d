package main

import (
	"context"

	"github.com/bivex/entitlement-sync/internal/app"
	"github.com/bivex/entitlement-sync/internal/application/command"
	"github.com/bivex/entitlement-sync/internal/application/middleware"
	"github.com/bivex/entitlement-sync/internal/application/query"
	"github.com/bivex/entitlement-sync/internal/domain/repository"
	"github.com/bivex/entitlement-sync/internal/domain/service"
	"github.com/bivex/entitlement-sync/internal/infrastructure/config"
	"github.com/bivex/entitlement-sync/internal/infrastructure/logging"
)

// runtime is everything the subcommands operate on
type runtime struct {
	status  *query.GetSubscriptionQuery
	grant   *command.GrantManualCommand
	revoke  *command.RevokeManualCommand
	sweeper *service.ExpirySweeper
	events  repository.ProcessedEventRepository
	jwt     *middleware.JWTMiddleware
	close   func()
}

type runtimeOpener func(ctx context.Context) (*runtime, error)

// openRuntime connects to the configured stores
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(&cfg.Sentry); err != nil {
		return nil, err
	}
	logger := logging.WithComponent("subctl")

	redisClient, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	stores, err := app.OpenStores(ctx, cfg, redisClient, logger)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}
	r := app.NewReconciler(cfg, stores, logger)

	return &runtime{
		status:  query.NewGetSubscriptionQuery(stores.Subscriptions),
		grant:   command.NewGrantManualCommand(r.Pipeline, stores.Subscriptions, logger),
		revoke:  command.NewRevokeManualCommand(r.Pipeline, stores.Subscriptions, logger),
		sweeper: r.Sweeper,
		events:  stores.Events,
		jwt:     middleware.NewJWTMiddleware(cfg.JWT.Secret, redisClient, cfg.JWT.AccessTTL, cfg.JWT.Issuer),
		close: func() {
			stores.Close()
			logging.Sync()
		},
	}, nil
}
