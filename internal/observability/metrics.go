package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "notam"

// Metrics holds the Prometheus counters, histograms, and gauges for polling,
// normalization and the highlight lifecycle.
type Metrics struct {
	// Upstream adapter metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: adapter={primary,secondary}, outcome={success,empty,client_error,rate_limited,unavailable}
	UpstreamDuration *prometheus.HistogramVec // labels: adapter
	Fallbacks        *prometheus.CounterVec   // labels: reason={primary_error,primary_empty}
	NormalizeDropped *prometheus.CounterVec   // labels: source
	RecordsFiltered  prometheus.Counter

	// Scheduler metrics.
	Polls            *prometheus.CounterVec // labels: outcome={success,error,rate_limited,exhausted}
	Changes          *prometheus.CounterVec // labels: kind={added,removed}
	QueueDepth       prometheus.Gauge
	WindowCalls      prometheus.Gauge
	SchedulerRunning prometheus.Gauge
	BatchSize        prometheus.Histogram
	BatchDuration    prometheus.Histogram

	// Highlight and notification metrics.
	HighlightsActive    prometheus.Gauge
	NotificationsPosted prometheus.Counter

	// Sink metrics.
	SinkWrites *prometheus.CounterVec // labels: sink={kafka,redis}, outcome={success,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.Fallbacks,
		m.NormalizeDropped,
		m.RecordsFiltered,
		m.Polls,
		m.Changes,
		m.QueueDepth,
		m.WindowCalls,
		m.SchedulerRunning,
		m.BatchSize,
		m.BatchDuration,
		m.HighlightsActive,
		m.NotificationsPosted,
		m.SinkWrites,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream NOTAM API requests by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream NOTAM API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"adapter"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Polls served by the secondary adapter, by reason.",
		}, []string{"reason"}),
		NormalizeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalize_dropped_total",
			Help:      "Upstream items that could not be normalized.",
		}, []string{"source"}),
		RecordsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_filtered_total",
			Help:      "Records dropped because their validity had ended.",
		}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed airport polls by outcome.",
		}, []string{"outcome"}),
		Changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Detected NOTAM additions and removals.",
		}, []string{"kind"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Airport codes waiting to be polled.",
		}),
		WindowCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_calls",
			Help:      "Upstream calls counted in the current rate-limit window.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the scheduler loop is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of airport codes polled per batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30},
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of one batch of concurrent polls.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 15, 30},
		}),
		HighlightsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "highlights_active",
			Help:      "NOTAMs currently highlighted as new.",
		}),
		NotificationsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_posted_total",
			Help:      "Notifications added to the feed.",
		}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Writes to change publishers and snapshot stores by outcome.",
		}, []string{"sink", "outcome"}),
	}
}
