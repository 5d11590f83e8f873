// Package metrics exposes Prometheus instruments for dispatch, tracking and
// scheduling. All methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery results.
const (
	ResultSent        = "sent"
	ResultSkipped     = "skipped"
	ResultDuplicate   = "duplicate"
	ResultFailed      = "failed"
	ResultLedgerError = "ledger_error"
)

// Metrics holds the registered instruments.
type Metrics struct {
	deliveries     *prometheus.CounterVec
	fetchErrors    *prometheus.CounterVec
	trackerFired   *prometheus.CounterVec
	ledgerPurged   prometheus.Counter
	cycleDuration  *prometheus.HistogramVec
	sessionsActive prometheus.Gauge
}

// New creates the instruments and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameclaim_deliveries_total",
				Help: "Offer deliveries per destination by source and result.",
			},
			[]string{"source", "result"}, // sent | skipped | duplicate | failed | ledger_error
		),
		fetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameclaim_source_fetch_errors_total",
				Help: "Failed offer source polls.",
			},
			[]string{"source"},
		),
		trackerFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gameclaim_tracker_fired_total",
				Help: "Price tracking subscriptions that fired.",
			},
			[]string{"mode"},
		),
		ledgerPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gameclaim_ledger_purged_total",
				Help: "Dedup ledger records removed by retention purges.",
			},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gameclaim_cycle_duration_seconds",
				Help: "Duration of scheduled job runs.",
				Buckets: []float64{
					0.1,
					0.5,
					1,
					5,
					15,
					60,
					300,
				},
			},
			[]string{"job"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gameclaim_sessions_active",
				Help: "Open interactive tracking sessions.",
			},
		),
	}

	reg.MustRegister(
		m.deliveries,
		m.fetchErrors,
		m.trackerFired,
		m.ledgerPurged,
		m.cycleDuration,
		m.sessionsActive,
	)
	return m
}

// Delivery counts one per-destination outcome.
func (m *Metrics) Delivery(source, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(source, result).Inc()
}

// FetchError counts a failed source poll.
func (m *Metrics) FetchError(source string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(source).Inc()
}

// TrackerFired counts a fired subscription.
func (m *Metrics) TrackerFired(mode string) {
	if m == nil {
		return
	}
	m.trackerFired.WithLabelValues(mode).Inc()
}

// LedgerPurged adds purged record counts.
func (m *Metrics) LedgerPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ledgerPurged.Add(float64(n))
}

// ObserveCycle records how long a job run took.
func (m *Metrics) ObserveCycle(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(job).Observe(d.Seconds())
}

// SetSessionsActive sets the open session gauge.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}
