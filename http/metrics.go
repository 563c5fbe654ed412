// SPDX-License-Identifier: Apache-2.0

package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/golang-auth/go-sspi"
)

// Metrics tracks Prometheus metrics for Negotiate handshakes.
//
// Methods handle a nil receiver, so a nil *Metrics disables collection.
type Metrics struct {
	// Handshakes counts handshakes by result and security package.
	// Labels: result=[success, failure], package
	Handshakes *prometheus.CounterVec

	// Rounds tracks the number of provider rounds per handshake.
	Rounds prometheus.Histogram

	// Duration tracks the wall time from the first request to the final response.
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the handshake metrics and registers them with registerer.
// If registerer is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Handshakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "negotiate_handshakes_total",
				Help: "Total Negotiate handshakes by result",
			},
			[]string{"result", "package"},
		),
		Rounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "negotiate_handshake_rounds",
				Help:    "Provider rounds per Negotiate handshake",
				Buckets: []float64{1, 2, 3, 4, 6, 8},
			},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "negotiate_handshake_duration_seconds",
				Help:    "Negotiate handshake duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
	}

	registerer.MustRegister(
		m.Handshakes,
		m.Rounds,
		m.Duration,
	)

	return m
}

// recordHandshake records the outcome of one authenticated request.  secCtx
// is nil when the failure happened before a context existed.
func (m *Metrics) recordHandshake(success bool, secCtx *sspi.ClientContext, started time.Time) {
	if m == nil {
		return
	}

	result := "failure"
	if success {
		result = "success"
	}

	pkg := ""
	if secCtx != nil {
		pkg = secCtx.Credential().Package()
		m.Rounds.Observe(float64(secCtx.Round()))
	}

	m.Handshakes.WithLabelValues(result, pkg).Inc()
	m.Duration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}
