package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/bivex/entitlement-sync/internal/domain/repository"
	"github.com/bivex/entitlement-sync/internal/domain/service"
	"github.com/bivex/entitlement-sync/internal/infrastructure/metrics"
)

// Task names
const (
	TypeExpirySweep          = "subscription:expiry_sweep"
	TypePurgeProcessedEvents = "processed_events:purge"
)

// Default cron schedules
const (
	DefaultSweepSchedule = "*/5 * * * *"
	DefaultPurgeSchedule = "30 3 * * *"
)

// PurgeProcessedEventsPayload is the payload for the purge task
type PurgeProcessedEventsPayload struct {
	// Before overrides the cutoff; zero means now
	Before time.Time `json:"before,omitempty"`
}

// TaskHandlers holds dependencies for all task handlers.
type TaskHandlers struct {
	sweeper *service.ExpirySweeper
	events  repository.ProcessedEventRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewTaskHandlers creates task handlers for the sweep and purge jobs.
func NewTaskHandlers(sweeper *service.ExpirySweeper, events repository.ProcessedEventRepository, logger *zap.Logger) *TaskHandlers {
	return &TaskHandlers{
		sweeper: sweeper,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterHandlers registers all task handlers with the server mux.
func RegisterHandlers(mux *asynq.ServeMux, h *TaskHandlers) {
	mux.HandleFunc(TypeExpirySweep, h.HandleExpirySweep)
	mux.HandleFunc(TypePurgeProcessedEvents, h.HandlePurgeProcessedEvents)
}

// RegisterScheduledTasks registers all scheduled (cron) tasks
func RegisterScheduledTasks(scheduler *asynq.Scheduler, sweepSchedule string, logger *zap.Logger) error {
	if sweepSchedule == "" {
		sweepSchedule = DefaultSweepSchedule
	}

	// Overlapping sweeps collapse into one
	if _, err := scheduler.Register(sweepSchedule, asynq.NewTask(TypeExpirySweep, nil),
		asynq.Unique(time.Minute*4), asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	if _, err := scheduler.Register(DefaultPurgeSchedule, asynq.NewTask(TypePurgeProcessedEvents, nil),
		asynq.Queue("low")); err != nil {
		return fmt.Errorf("failed to schedule processed event purge: %w", err)
	}

	logger.Info("Scheduled tasks registered",
		zap.String("sweep_schedule", sweepSchedule),
		zap.String("purge_schedule", DefaultPurgeSchedule),
	)
	return nil
}

// HandleExpirySweep expires records whose paid period ended without a platform event
func (h *TaskHandlers) HandleExpirySweep(ctx context.Context, _ *asynq.Task) error {
	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("expiry sweep failed: %w", err)
	}

	metrics.SweepExpiredTotal.Add(float64(report.Expired))
	h.logger.Info("Expiry sweep finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("expired", report.Expired),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return nil
}

// HandlePurgeProcessedEvents drops dedup keys past their retention
func (h *TaskHandlers) HandlePurgeProcessedEvents(ctx context.Context, t *asynq.Task) error {
	var p PurgeProcessedEventsPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
		}
	}

	before := p.Before
	if before.IsZero() {
		before = h.now()
	}

	purged, err := h.events.Purge(ctx, before)
	if err != nil {
		return fmt.Errorf("failed to purge processed events: %w", err)
	}

	metrics.PurgedEventsTotal.Add(float64(purged))
	h.logger.Info("Processed events purged",
		zap.Int64("purged", purged),
		zap.Time("before", before),
	)
	return nil
}
