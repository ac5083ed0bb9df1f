package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the streaming server. It
// satisfies playback.Metrics so controllers report into it directly.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	sessionsTotal   prometheus.Counter
	activeSessions  prometheus.Gauge
	tierSwitches    *prometheus.CounterVec
	sessionErrors   *prometheus.CounterVec
	bufferingEvents prometheus.Counter
	segmentLoads    prometheus.Counter
	staleEvents     prometheus.Counter
	bandwidthBps    prometheus.Histogram
}

// New creates and registers Prometheus metrics for the server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunestream_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunestream_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunestream_sessions_started_total",
			Help: "Total number of playback sessions opened",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tunestream_active_sessions",
			Help: "Number of connected playback sessions",
		}),
		tierSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunestream_tier_switches_total",
			Help: "Quality tier changes by cause",
		}, []string{"reason"}),
		sessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tunestream_session_errors_total",
			Help: "Session errors by kind",
		}, []string{"kind"}),
		bufferingEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunestream_buffering_events_total",
			Help: "Times a session started buffering",
		}),
		segmentLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunestream_segment_loads_total",
			Help: "Segment transfers reported for bandwidth estimation",
		}),
		staleEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tunestream_stale_events_total",
			Help: "Media events dropped because their session had been replaced",
		}),
		bandwidthBps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunestream_bandwidth_estimate_bps",
			Help:    "Smoothed bandwidth estimates in bits per second",
			Buckets: prometheus.ExponentialBuckets(64_000, 2, 10),
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsTotal,
		m.activeSessions,
		m.tierSwitches,
		m.sessionErrors,
		m.bufferingEvents,
		m.segmentLoads,
		m.staleEvents,
		m.bandwidthBps,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

func (m *Metrics) IncSessionsStarted() {
	m.sessionsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) IncTierSwitch(reason string) {
	m.tierSwitches.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncSessionError(kind string) {
	m.sessionErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncBufferingEvent() {
	m.bufferingEvents.Inc()
}

func (m *Metrics) IncSegmentLoad() {
	m.segmentLoads.Inc()
}

func (m *Metrics) IncStaleEvent() {
	m.staleEvents.Inc()
}

func (m *Metrics) ObserveBandwidth(bps float64) {
	m.bandwidthBps.Observe(bps)
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
