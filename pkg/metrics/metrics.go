// Package metrics holds the Prometheus collectors for the delivery pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "word_reminder_job_runs_total",
			Help: "Total number of scheduler and processor runs",
		},
		[]string{"job", "result"}, // job: "schedule" | "process"; result: "ok" | "error" | "locked"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "word_reminder_job_duration_seconds",
			Help:    "Duration of scheduler and processor runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	ScheduledSubscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "word_reminder_scheduled_subscriptions_total",
			Help: "Per-subscription scheduling results",
		},
		[]string{"status"}, // "scheduled", "partial", "failed", "skipped"
	)

	OutboxRowsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "word_reminder_outbox_rows_inserted_total",
			Help: "Total number of outbox rows inserted by the scheduler",
		},
	)

	OutboxOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "word_reminder_outbox_outcomes_total",
			Help: "Per-row outcomes of the outbox processor",
		},
		[]string{"outcome"}, // "sent", "failed", "expired", "retrying", "skipped"
	)

	OutboxReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "word_reminder_outbox_reclaimed_total",
			Help: "Rows moved from sending back to queued after a stalled run",
		},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "word_reminder_send_duration_seconds",
			Help:    "Latency of message provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "result"},
	)

	GeneratedWords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "word_reminder_generated_words_total",
			Help: "Words obtained from the generation service",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "word_reminder_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "word_reminder_operator_notifications_total",
			Help: "Operator summary notifications by channel and result",
		},
		[]string{"channel", "result"},
	)
)

func RecordJob(job string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JobRuns.WithLabelValues(job, result).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func RecordJobLocked(job string) {
	JobRuns.WithLabelValues(job, "locked").Inc()
}

func RecordSend(provider string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SendDuration.WithLabelValues(provider, result).Observe(duration.Seconds())
}

func RecordNotification(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	NotificationsSent.WithLabelValues(channel, result).Inc()
}
