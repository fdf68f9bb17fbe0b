// Package telemetry exposes Prometheus metrics for the engagement engine.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all engine Prometheus metrics. Each instance carries its
// own registry so collectors never collide across instances.
type Metrics struct {
	registry *prometheus.Registry

	// Publish pipeline
	PublishAttempts  *prometheus.CounterVec // outcome label
	PublishDuration  prometheus.Histogram
	RateLimitWaits   prometheus.Counter
	ItemsDispatched  prometheus.Counter
	ItemsRequeued    prometheus.Counter
	QueueDepth       prometheus.Gauge

	// Metric collection
	CollectionPasses  prometheus.Counter
	SourceFailures    *prometheus.CounterVec // source label
	AggregateUpdates  prometheus.Counter

	// Experiments
	ExperimentsConcluded *prometheus.CounterVec // reason label
	Evaluations          prometheus.Counter

	// Engagement
	EventsClassified *prometheus.CounterVec // category label
	RepliesSent      prometheus.Counter
	EventsSuppressed prometheus.Counter
	Escalations      prometheus.Counter

	// Viral
	ViralTriggers  prometheus.Counter
	ViralDebounced prometheus.Counter
}

// NewMetrics registers and returns the engine metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		PublishAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amplify_publish_attempts_total",
			Help: "Publish attempts by outcome",
		}, []string{"outcome"}),
		PublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "amplify_publish_duration_seconds",
			Help:    "Duration of publish calls including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		RateLimitWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_rate_limit_waits_total",
			Help: "Times a publish waited on the channel rate limiter",
		}),
		ItemsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_items_dispatched_total",
			Help: "Content items released to the publisher",
		}),
		ItemsRequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_items_requeued_total",
			Help: "Content items re-enqueued after a retryable publish failure",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "amplify_queue_depth",
			Help: "Pending content items",
		}),
		CollectionPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_collection_passes_total",
			Help: "Metric collection passes",
		}),
		SourceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amplify_source_failures_total",
			Help: "Metric source fetch failures by source",
		}, []string{"source"}),
		AggregateUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_aggregate_updates_total",
			Help: "Metric aggregate recomputations",
		}),
		ExperimentsConcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amplify_experiments_concluded_total",
			Help: "Experiments concluded by reason",
		}, []string{"reason"}),
		Evaluations: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_experiment_evaluations_total",
			Help: "Experiment evaluation passes",
		}),
		EventsClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amplify_engagement_events_classified_total",
			Help: "Engagement events classified by category",
		}, []string{"category"}),
		RepliesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_engagement_replies_total",
			Help: "Automated replies issued",
		}),
		EventsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_engagement_suppressed_total",
			Help: "Engagement events suppressed as spam",
		}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_engagement_escalations_total",
			Help: "Engagement events escalated to a human",
		}),
		ViralTriggers: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_viral_triggers_total",
			Help: "Amplification triggers fired",
		}),
		ViralDebounced: factory.NewCounter(prometheus.CounterOpts{
			Name: "amplify_viral_debounced_total",
			Help: "Amplification triggers swallowed by the cooldown",
		}),
	}
}

// Handler returns the HTTP handler serving this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePublish records the outcome and duration of one publish call.
func (m *Metrics) ObservePublish(outcome string, elapsed time.Duration) {
	m.PublishAttempts.WithLabelValues(outcome).Inc()
	m.PublishDuration.Observe(elapsed.Seconds())
}
