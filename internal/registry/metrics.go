package registry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kozaktomas/reunite/internal/database"
)

// Metrics holds the Prometheus collectors of the matching engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	recordsSubmitted *prometheus.CounterVec
	candidatesStored *prometheus.CounterVec
	invalidPairs     prometheus.Counter
	coalesced        prometheus.Counter
	matchesInflight  prometheus.Gauge
	matchDuration    prometheus.Histogram
	rescanRecords    *prometheus.CounterVec
	confirmed        prometheus.Counter
	invalidated      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reunite_records_submitted_total",
				Help: "Total number of submitted records by pool and validity",
			},
			[]string{"pool", "valid"},
		),
		candidatesStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reunite_candidates_stored_total",
				Help: "Total number of match candidates written by tier",
			},
			[]string{"tier"},
		),
		invalidPairs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reunite_invalid_pairs_total",
				Help: "Pairs skipped because an embedding could not be scored",
			},
		),
		coalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reunite_match_coalesced_total",
				Help: "Match triggers dropped because the record was already being matched",
			},
		),
		matchesInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reunite_matches_inflight",
				Help: "Number of records currently being matched",
			},
		),
		matchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reunite_match_duration_seconds",
				Help:    "Duration of single-record matching units in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
		),
		rescanRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reunite_rescan_records_total",
				Help: "Records visited by full rescans by pool and outcome",
			},
			[]string{"pool", "outcome"},
		),
		confirmed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reunite_matches_confirmed_total",
				Help: "Total number of confirmed matches",
			},
		),
		invalidated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reunite_records_invalidated_total",
				Help: "Total number of records invalidated by an operator or audit",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.recordsSubmitted, m.candidatesStored, m.invalidPairs, m.coalesced,
			m.matchesInflight, m.matchDuration, m.rescanRecords, m.confirmed, m.invalidated,
		)
	}
	return m
}

// CandidateStored implements matching.Observer.
func (m *Metrics) CandidateStored(tier database.Tier) {
	if m == nil {
		return
	}
	m.candidatesStored.WithLabelValues(string(tier)).Inc()
}

// InvalidPair implements matching.Observer.
func (m *Metrics) InvalidPair() {
	if m == nil {
		return
	}
	m.invalidPairs.Inc()
}

func (m *Metrics) recordSubmitted(pool database.Pool, valid bool) {
	if m == nil {
		return
	}
	m.recordsSubmitted.WithLabelValues(string(pool), strconv.FormatBool(valid)).Inc()
}

func (m *Metrics) matchCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// matchStarted bumps the in-flight gauge and returns the matching completion func.
func (m *Metrics) matchStarted() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.matchesInflight.Inc()
	return func() {
		m.matchesInflight.Dec()
		m.matchDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) rescanRecord(pool database.Pool, outcome string) {
	if m == nil {
		return
	}
	m.rescanRecords.WithLabelValues(string(pool), outcome).Inc()
}

func (m *Metrics) matchConfirmed() {
	if m == nil {
		return
	}
	m.confirmed.Inc()
}

func (m *Metrics) recordInvalidated() {
	if m == nil {
		return
	}
	m.invalidated.Inc()
}
