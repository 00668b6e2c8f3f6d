package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/app"
	"github.com/bivex/entitlement-sync/internal/infrastructure/config"
	"github.com/bivex/entitlement-sync/internal/infrastructure/logging"
	worker_tasks "github.com/bivex/entitlement-sync/internal/worker/tasks"
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

	logging.Logger.Info("Starting entitlement worker")

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

	reconciler := app.NewReconciler(cfg, stores, logging.Logger)
	taskHandlers := worker_tasks.NewTaskHandlers(reconciler.Sweeper, stores.Events, logging.WithComponent("worker"))

	// Initialize Asynq server
	server := asynq.NewServerFromRedisClient(redisClient, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"default": 3,
			"low":     1,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			// Exponential backoff: 2^n seconds
			return time.Duration(1<<uint(n)) * time.Second
		},
	})

	// Register task handlers
	mux := asynq.NewServeMux()
	worker_tasks.RegisterHandlers(mux, taskHandlers)

	// Start server in background
	if err := server.Start(mux); err != nil {
		logging.Logger.Fatal("Failed to start worker", zap.Error(err))
	}

	// Register scheduled tasks
	scheduler := asynq.NewSchedulerFromRedisClient(redisClient, nil)
	if err := worker_tasks.RegisterScheduledTasks(scheduler, cfg.Reconciliation.SweepSchedule, logging.Logger); err != nil {
		logging.Logger.Fatal("Failed to register scheduled tasks", zap.Error(err))
	}

	// Start scheduler
	if err := scheduler.Start(); err != nil {
		logging.Logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	logging.Logger.Info("Worker started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down worker...")

	scheduler.Shutdown()
	server.Shutdown()

	logging.Logger.Info("Worker exited")
}
