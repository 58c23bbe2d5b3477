// Package telemetry provides observability primitives for the Boreas
// streaming client.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the streaming client.
// A nil *Metrics disables recording everywhere it is accepted.
type Metrics struct {
	ConnectsTotal   prometheus.Counter
	ReconnectsTotal prometheus.Counter
	ConnFailures    prometheus.Counter
	ConnState       prometheus.Gauge
	StreamBytes     prometheus.Counter
	FramesTotal     *prometheus.CounterVec
	FramesDropped   prometheus.Counter
	EventsTotal     *prometheus.CounterVec
	RequestDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boreas",
			Name:      "connects_total",
			Help:      "Total successful stream connections, reconnects included.",
		}),

		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boreas",
			Name:      "reconnects_total",
			Help:      "Total reconnect attempts scheduled after an unexpected drop.",
		}),

		ConnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boreas",
			Name:      "conn_failures_total",
			Help:      "Total fatal connection failures after retries were exhausted.",
		}),

		ConnState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "boreas",
			Name:      "conn_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed).",
		}),

		StreamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boreas",
			Name:      "stream_bytes_total",
			Help:      "Total raw bytes received on stream bodies.",
		}),

		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boreas",
			Name:      "frames_total",
			Help:      "Total complete frames parsed from the wire.",
		}, []string{"event"}),

		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "boreas",
			Name:      "frames_dropped_total",
			Help:      "Total frames dropped by parse or interpretation failures.",
		}),

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boreas",
			Name:      "events_total",
			Help:      "Total typed events dispatched to callbacks.",
		}, []string{"kind"}),

		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                       "boreas",
			Name:                            "request_duration_seconds",
			Help:                            "Streamed request duration from POST to terminal event.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),
	}

	reg.MustRegister(
		m.ConnectsTotal,
		m.ReconnectsTotal,
		m.ConnFailures,
		m.ConnState,
		m.StreamBytes,
		m.FramesTotal,
		m.FramesDropped,
		m.EventsTotal,
		m.RequestDuration,
	)
	return m
}

// SetConnState records the numeric connection state on the gauge.
func (m *Metrics) SetConnState(state int) {
	if m == nil {
		return
	}
	m.ConnState.Set(float64(state))
}
