package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chat-relay/internal/usecase"
)

// Metrics holds the relay collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	buildInfo        *prometheus.GaugeVec
	requests         *prometheus.CounterVec
	chunks           prometheus.Counter
	upstreamDuration prometheus.Histogram
	archiveFailures  prometheus.Counter
}

// New creates the collectors and registers them with r.
func New(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chat_relay_build_info",
				Help: "Build information for the chat relay",
			},
			[]string{"date", "sha", "version"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_relay_requests_total",
				Help: "Total number of chat relays by outcome",
			},
			[]string{"outcome"},
		),
		chunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_relay_upstream_chunks_total",
				Help: "Total number of streamed chunks consumed from the upstream",
			},
		),
		upstreamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chat_relay_upstream_duration_seconds",
				Help:    "Time from upstream call to end of stream",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
			},
		),
		archiveFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_relay_archive_failures_total",
				Help: "Total number of exchanges that could not be archived",
			},
		),
	}
	r.MustRegister(m.buildInfo, m.requests, m.chunks, m.upstreamDuration, m.archiveFailures)
	return m
}

// SetBuildInfo sets the build info metric.
func (m *Metrics) SetBuildInfo(version, sha, date string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// ObserveRelay records one finished relay.
func (m *Metrics) ObserveRelay(outcome string, chunks int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.chunks.Add(float64(chunks))
	if outcome == usecase.OutcomeOK || outcome == usecase.OutcomeUpstream {
		m.upstreamDuration.Observe(d.Seconds())
	}
}

// ArchiveFailed counts an exchange that could not be archived.
func (m *Metrics) ArchiveFailed() {
	if m == nil {
		return
	}
	m.archiveFailures.Inc()
}
