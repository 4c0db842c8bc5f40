// Package metrics holds the Prometheus instruments for the bot lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "botledger"

type Metrics struct {
	WebhookEventsTotal       *prometheus.CounterVec
	WebhookProcessingSeconds prometheus.Histogram

	TransitionsTotal        *prometheus.CounterVec
	UnknownProviderCodes    *prometheus.CounterVec
	LedgerMinutesTotal      prometheus.Counter
	FinalizedRecordingTotal *prometheus.CounterVec

	SweepRunsTotal       prometheus.Counter
	SweepDurationSeconds prometheus.Histogram
	SweepBotsTotal       *prometheus.CounterVec

	ProviderRequestsTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Inbound provider webhook requests by result",
			},
			[]string{"event", "result"},
		),
		WebhookProcessingSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_processing_seconds",
				Help:      "Time spent applying a webhook event",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Status transitions seen by the reconciler",
			},
			[]string{"source", "decision", "reason"},
		),
		UnknownProviderCodes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unknown_provider_codes_total",
				Help:      "Provider status codes or sub-codes outside the mapping table",
			},
			[]string{"kind"},
		),
		LedgerMinutesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_minutes_total",
				Help:      "Usage ledger rows written",
			},
		),
		FinalizedRecordingTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "finalized_recordings_total",
				Help:      "Bot sessions closed by terminal status",
			},
			[]string{"status"},
		),
		SweepRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Stale bot sweeps executed",
			},
		),
		SweepDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Wall time of one stale bot sweep",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),
		SweepBotsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_bots_total",
				Help:      "Bots visited by the sweeper by outcome",
			},
			[]string{"action"},
		),
		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Calls to the bot provider API by operation and result",
			},
			[]string{"op", "result"},
		),
	}
}

// NewNop returns instruments bound to a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
