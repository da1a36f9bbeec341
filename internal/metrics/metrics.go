package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchBatchDuration tracks the latency of one campaign batch dispatch
	DispatchBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "campaign_dispatch_batch_duration_seconds",
			Help: "Duration of a single campaign batch dispatch in seconds",
			Buckets: []float64{
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
				10.0,  // 10s
				30.0,  // 30s
			},
		},
		[]string{"status"}, // completed, advanced, skipped or failure
	)

	// EmailsEnqueued counts emails handed to the send queue
	EmailsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_enqueued_total",
			Help: "Emails placed on the send queue",
		},
		[]string{"source"}, // campaign or api
	)

	// EmailsEnqueueFailures counts recipients that could not be enqueued
	EmailsEnqueueFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_enqueue_failures_total",
			Help: "Recipients whose email could not be stored or enqueued",
		},
		[]string{"source"},
	)

	// IdempotencyRequests counts guarded requests by outcome
	IdempotencyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_requests_total",
			Help: "Idempotency-guarded requests by outcome",
		},
		[]string{"outcome"}, // executed, replayed, in_flight, reused
	)
)

// RecordDispatchBatch records the duration of one batch dispatch
func RecordDispatchBatch(status string, duration float64) {
	DispatchBatchDuration.WithLabelValues(status).Observe(duration)
}

// RecordIdempotencyOutcome counts one guarded request
func RecordIdempotencyOutcome(outcome string) {
	IdempotencyRequests.WithLabelValues(outcome).Inc()
}
