// Package metrics collects harness counters on a private registry and
// writes them in the node-exporter textfile format for batch runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"itemharness/internal/credential"
	"itemharness/internal/lease"
	"itemharness/internal/pool"
	"itemharness/internal/seed"
)

const namespace = "itemharness"

// Metrics holds the harness collectors.
type Metrics struct {
	registry *prometheus.Registry

	leaseAcquire *prometheus.CounterVec
	lockWait     prometheus.Histogram
	auth         *prometheus.CounterVec
	seedOutcomes *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		leaseAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_acquire_total",
			Help:      "Identity lease attempts by role and outcome.",
		}, []string{"role", "outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the reservation lock.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_total",
			Help:      "Credential cache lookups by variant and result.",
		}, []string{"variant", "result"}),
		seedOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seed_outcomes_total",
			Help:      "Heal outcomes by terminal state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(m.leaseAcquire, m.lockWait, m.auth, m.seedOutcomes)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveLease records a lease attempt. It matches lease.WithObserver.
func (m *Metrics) ObserveLease(role pool.Role, outcome lease.Outcome) {
	m.leaseAcquire.WithLabelValues(string(role), string(outcome)).Inc()
}

// ObserveLockWait records time spent waiting for the lock. It matches
// lock.WithWaitObserver.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	m.lockWait.Observe(d.Seconds())
}

// AuthObserver returns a credential.WithObserver callback for variant
// ("token" or "session").
func (m *Metrics) AuthObserver(variant string) func(credential.Result) {
	return func(r credential.Result) {
		m.auth.WithLabelValues(variant, string(r)).Inc()
	}
}

// ObserveSeed records a heal outcome. It matches seed.WithObserver.
func (m *Metrics) ObserveSeed(state seed.State) {
	m.seedOutcomes.WithLabelValues(string(state)).Inc()
}

// WriteTextfile writes every metric to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
