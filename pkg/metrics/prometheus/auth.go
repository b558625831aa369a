// Package prometheus provides the Prometheus-backed implementations
// of the pkg/metrics interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/outpost-games/authd/pkg/metrics"
)

// authMetrics is the Prometheus implementation of metrics.AuthMetrics.
type authMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	handshakes      prometheus.Counter
	activeSessions  prometheus.Gauge
}

// NewAuthMetrics creates a Prometheus-backed AuthMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewAuthMetrics() metrics.AuthMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &authMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_requests_total",
				Help: "Total number of handled datagrams by packet kind and outcome",
			},
			[]string{"kind", "outcome"}, // outcome: "ok", "error", "drop"
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "authd_request_duration_milliseconds",
				Help: "Duration of datagram handling in milliseconds",
				Buckets: []float64{
					0.05, // 50us - codec-only paths
					0.1,
					0.5,
					1,
					5,
					10,
					50,  // modular exponentiation
					100, // credential store round trip
					500,
					1000,
				},
			},
			[]string{"kind"},
		),
		handshakes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "authd_handshakes_completed_total",
				Help: "Total number of handshakes that reached the proven state",
			},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "authd_active_sessions",
				Help: "Current number of live handshake sessions",
			},
		),
	}
}

func (m *authMetrics) RecordRequest(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, outcome).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(duration.Seconds() * 1000)
}

func (m *authMetrics) RecordHandshakeCompleted() {
	if m == nil {
		return
	}
	m.handshakes.Inc()
}

func (m *authMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
