package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"medchat-backend/frames"
)

const namespace = "medchat"

// Relay outcomes.
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomeAborted  = "aborted"
)

// otherType labels forwarded frames of a response type outside the known
// set, which keeps the label space bounded.
const otherType = "other"

// Drop reasons.
const (
	DropMetadata  = "metadata"
	DropMalformed = "malformed"
)

// Metrics holds the relay collectors. A nil *Metrics is valid and records
// nothing, so packages can be used without a registry.
type Metrics struct {
	FramesForwarded *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	ActiveRelays    prometheus.Gauge
	RelaysTotal     *prometheus.CounterVec
	UpstreamErrors  *prometheus.CounterVec
	RelayDuration   prometheus.Histogram
	KeepAlives      prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_forwarded_total",
			Help:      "Frames forwarded to clients by response type",
		}, []string{"response_type"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "frames_dropped_total",
			Help:      "Upstream lines not forwarded, by reason",
		}, []string{"reason"}),
		ActiveRelays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "active_streams",
			Help:      "Relay loops currently running",
		}),
		RelaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "streams_total",
			Help:      "Finished relay loops by outcome",
		}, []string{"outcome"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Upstream failures before relaying, by status code",
		}, []string{"status"}),
		RelayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "stream_duration_seconds",
			Help:      "Relay loop duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		KeepAlives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "keepalives_total",
			Help:      "Keep-alive comments written",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesForwarded,
			m.FramesDropped,
			m.ActiveRelays,
			m.RelaysTotal,
			m.UpstreamErrors,
			m.RelayDuration,
			m.KeepAlives,
		)
	}
	return m
}

func (m *Metrics) Forwarded(responseType string) {
	if m == nil {
		return
	}
	if !frames.IsKnownType(responseType) {
		responseType = otherType
	}
	m.FramesForwarded.WithLabelValues(responseType).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// StreamStarted increments the active gauge; call the returned func with
// the outcome and elapsed seconds when the loop ends.
func (m *Metrics) StreamStarted() func(outcome string, seconds float64) {
	if m == nil {
		return func(string, float64) {}
	}
	m.ActiveRelays.Inc()
	return func(outcome string, seconds float64) {
		m.ActiveRelays.Dec()
		m.RelaysTotal.WithLabelValues(outcome).Inc()
		m.RelayDuration.Observe(seconds)
	}
}

func (m *Metrics) UpstreamError(status string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(status).Inc()
}

func (m *Metrics) KeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlives.Inc()
}
