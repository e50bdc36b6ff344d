package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	alertsSent       *prometheus.CounterVec
	suppressed       *prometheus.CounterVec
	sourceErrors     *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec
	streamHealthy    *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg; tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		alertsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertgate_alerts_sent_total",
				Help: "Alerts delivered to sinks",
			},
			[]string{"strategy", "tier"},
		),
		suppressed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertgate_alerts_suppressed_total",
				Help: "Candidates rejected by deduplication",
			},
			[]string{"strategy", "reason"},
		),
		sourceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertgate_source_errors_total",
				Help: "Sources excluded from a collection round",
			},
			[]string{"source"},
		),
		deliveryFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertgate_delivery_failures_total",
				Help: "Failed sink sends",
			},
			[]string{"sink", "permanent"},
		),
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alertgate_queue_entries",
				Help: "Delivery queue entries by state",
			},
			[]string{"state"},
		),
		streamHealthy: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alertgate_stream_healthy",
				Help: "1 when the exchange stream is connected and fresh",
			},
			[]string{"exchange"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alertgate_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordAlertSent(strategy string, tier int) {
	r.alertsSent.WithLabelValues(strategy, strconv.Itoa(tier)).Inc()
}

func (r *Recorder) RecordSuppressed(strategy, reason string) {
	r.suppressed.WithLabelValues(strategy, reason).Inc()
}

func (r *Recorder) RecordSourceError(source string) {
	r.sourceErrors.WithLabelValues(source).Inc()
}

func (r *Recorder) RecordDeliveryFailure(sink string, permanent bool) {
	r.deliveryFailures.WithLabelValues(sink, strconv.FormatBool(permanent)).Inc()
}

func (r *Recorder) RecordQueueDepth(state string, n int) {
	r.queueDepth.WithLabelValues(state).Set(float64(n))
}

func (r *Recorder) RecordStreamHealth(exchange string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	r.streamHealthy.WithLabelValues(exchange).Set(v)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, d time.Duration) {
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

// Nop discards everything. Used by tests and when metrics are disabled.
type Nop struct{}

func (Nop) RecordAlertSent(string, int) {}
func (Nop) RecordSuppressed(string, string) {}
func (Nop) RecordSourceError(string) {}
func (Nop) RecordDeliveryFailure(string, bool) {}
func (Nop) RecordQueueDepth(string, int) {}
func (Nop) RecordStreamHealth(string, bool) {}
func (Nop) RecordLatency(string, time.Duration) {}
