// Package observability holds Prometheus metrics and OpenTelemetry tracing setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "picpaygo"

// CreditsConsumed counts credits spent by source (free, purchased).
var CreditsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "credits_consumed_total",
	Help:      "Credits spent on generation jobs, by source.",
}, []string{"source"})

// CreditsGranted counts credits added to accounts by ledger reason.
var CreditsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "credits_granted_total",
	Help:      "Credits added to account balances, by reason.",
}, []string{"reason"})

// InsufficientCredits counts rejected consumes.
var InsufficientCredits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "insufficient_credits_total",
	Help:      "Consume attempts rejected for lack of credits.",
})

// JobsFinished counts jobs reaching a terminal status.
var JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "jobs",
	Name:      "finished_total",
	Help:      "Generation jobs reaching a terminal status.",
}, []string{"status"})

// JobsSubmitted counts accepted generation requests.
var JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "jobs",
	Name:      "submitted_total",
	Help:      "Generation jobs created.",
})

// JobDuration observes processing time from claim to terminal status.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "jobs",
	Name:      "processing_seconds",
	Help:      "Time spent processing a claimed job.",
	Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
}, []string{"status"})

// WorkersBusy tracks workers currently processing a job.
var WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "jobs",
	Name:      "workers_busy",
	Help:      "Workers currently processing a job.",
})

// WebhookEvents counts payment events by outcome and handling result.
var WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "payments",
	Name:      "webhook_events_total",
	Help:      "Payment provider events, by outcome and result.",
}, []string{"outcome", "result"})
