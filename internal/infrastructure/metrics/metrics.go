package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "entitlement"
	subsystem = "sync"
)

var (
	// EventsTotal counts subscription events reaching the pipeline by platform, kind and outcome.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "events_total",
		Help:      "Subscription events by platform, kind and reconciliation outcome.",
	}, []string{"platform", "kind", "outcome"})

	// WebhookRequestsTotal counts inbound webhooks by platform and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "webhook_requests_total",
		Help:      "Inbound platform webhooks by platform and HTTP status.",
	}, []string{"platform", "status"})

	// WebhookDuration tracks webhook handling latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "webhook_duration_seconds",
		Help:      "Webhook handling duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"platform"})

	// PipelineErrorsTotal counts events that failed with a retryable or verification error.
	PipelineErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pipeline_errors_total",
		Help:      "Events rejected by verification or failed transiently.",
	}, []string{"platform", "class"})

	// SweepExpiredTotal counts records expired by the periodic sweep.
	SweepExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sweep_expired_total",
		Help:      "Records moved to expired by the expiry sweep.",
	})

	// PurgedEventsTotal counts processed-event keys removed after retention.
	PurgedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "processed_events_purged_total",
		Help:      "Processed event keys removed after the retention window.",
	})
)

// Error classes for PipelineErrorsTotal
const (
	ClassVerification = "verification"
	ClassTransient    = "transient"
	ClassOther        = "other"
)

// RecordOutcome counts one reconciled event
func RecordOutcome(platform, kind, outcome string) {
	EventsTotal.WithLabelValues(platform, kind, outcome).Inc()
}

// RecordError counts one failed event
func RecordError(platform, class string) {
	PipelineErrorsTotal.WithLabelValues(platform, class).Inc()
}
