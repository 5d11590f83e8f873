package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Delivery("epic", ResultSent)
	m.Delivery("epic", ResultSent)
	m.Delivery("steam", ResultFailed)
	m.FetchError("epic")
	m.TrackerFired("atl")
	m.LedgerPurged(3)
	m.LedgerPurged(0)
	m.SetSessionsActive(2)
	m.ObserveCycle("tracker", 2*time.Second)

	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("epic", ResultSent)); got != 2 {
		t.Errorf("epic sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("steam", ResultFailed)); got != 1 {
		t.Errorf("steam failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ledgerPurged); got != 3 {
		t.Errorf("ledger purged = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.sessionsActive); got != 2 {
		t.Errorf("sessions active = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.cycleDuration); got != 1 {
		t.Errorf("cycle duration series = %d, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Delivery("epic", ResultSent)
	m.FetchError("epic")
	m.TrackerFired("sale")
	m.LedgerPurged(1)
	m.ObserveCycle("x", time.Second)
	m.SetSessionsActive(1)
}
