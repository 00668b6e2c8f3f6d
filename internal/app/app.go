// Package app wires the stores and the event pipeline shared by the API,
// the worker and subctl.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/domain/repository"
	"github.com/bivex/entitlement-sync/internal/domain/service"
	"github.com/bivex/entitlement-sync/internal/infrastructure/cache"
	"github.com/bivex/entitlement-sync/internal/infrastructure/config"
	"github.com/bivex/entitlement-sync/internal/infrastructure/external/iap"
	"github.com/bivex/entitlement-sync/internal/infrastructure/external/stripe"
	"github.com/bivex/entitlement-sync/internal/infrastructure/persistence/memstore"
	"github.com/bivex/entitlement-sync/internal/infrastructure/persistence/pool"
	pgrepo "github.com/bivex/entitlement-sync/internal/infrastructure/persistence/repository"
)

// Stores holds the opened backends
type Stores struct {
	Subscriptions repository.SubscriptionRepository
	Events        repository.ProcessedEventRepository
	Pool          *pgxpool.Pool
	Redis         *redis.Client
}

// Close releases the connections opened by OpenStores
func (s *Stores) Close() {
	pool.Close(s.Pool)
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
}

// OpenRedis connects to Redis and checks the connection
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return client, nil
}

// OpenStores opens the entitlement store and the processed-event store
// selected by configuration. The pool is only opened when a backend needs it.
func OpenStores(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (*Stores, error) {
	rc := cfg.Reconciliation
	s := &Stores{Redis: redisClient}

	if rc.StoreBackend == config.BackendPostgres || rc.DedupBackend == config.BackendPostgres {
		dbPool, err := pool.NewPool(ctx, cfg.Database, "entitlement-sync")
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx, dbPool); err != nil {
			pool.Close(dbPool)
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.Pool = dbPool
	}

	switch rc.StoreBackend {
	case config.BackendMemory:
		logger.Warn("Using in-memory entitlement store; records are lost on restart")
		s.Subscriptions = memstore.NewSubscriptionStore()
	default:
		s.Subscriptions = pgrepo.NewSubscriptionRepository(s.Pool)
	}

	switch rc.DedupBackend {
	case config.BackendPostgres:
		s.Events = pgrepo.NewProcessedEventRepository(s.Pool)
	default:
		s.Events = cache.NewProcessedEventCache(redisClient, logger.Named("dedup"))
	}

	logger.Info("Stores opened",
		zap.String("store_backend", rc.StoreBackend),
		zap.String("dedup_backend", rc.DedupBackend),
	)
	return s, nil
}

// Reconciler bundles the domain services built on top of the stores
type Reconciler struct {
	Engine   *service.ReconciliationEngine
	Dedup    *service.EventDeduplicator
	Pipeline *service.EventPipeline
	Sweeper  *service.ExpirySweeper
}

// NewReconciler builds the engine, deduplicator, pipeline and sweeper
func NewReconciler(cfg *config.Config, stores *Stores, logger *zap.Logger) *Reconciler {
	engine := service.NewReconciliationEngine(stores.Subscriptions, logger.Named("engine"))
	dedup := service.NewEventDeduplicator(stores.Events, cfg.Reconciliation.DedupRetention)
	return &Reconciler{
		Engine:   engine,
		Dedup:    dedup,
		Pipeline: service.NewEventPipeline(dedup, engine, logger.Named("pipeline")),
		Sweeper:  service.NewExpirySweeper(stores.Subscriptions, engine, logger.Named("sweeper"), cfg.Reconciliation.SweepBatchSize),
	}
}

// NewStripeAdapter builds the Stripe adapter from configuration
func NewStripeAdapter(cfg *config.Config, logger *zap.Logger) *stripe.Adapter {
	return stripe.NewAdapter(stripe.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Prices:        cfg.Stripe.Prices,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
		Timeout:       cfg.Reconciliation.PlatformTimeout,
	}, logger.Named("stripe"))
}

// NewAppleAdapter builds the App Store adapter from configuration
func NewAppleAdapter(cfg *config.Config, logger *zap.Logger) *iap.AppleAdapter {
	return iap.NewAppleAdapter(iap.AppleConfig{
		SharedSecret: cfg.Apple.SharedSecret,
		BundleID:     cfg.Apple.BundleID,
		ProductPlans: cfg.Apple.ProductPlans,
		Timeout:      cfg.Reconciliation.PlatformTimeout,
	}, logger.Named("apple"))
}
