package balances

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics observes the projection cache and trial balance builds.
type Metrics struct {
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	build    *prometheus.HistogramVec
	failures prometheus.Counter
}

// NewMetrics registers the balance collectors. Collectors already registered
// by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_balance_cache_hits_total",
			Help: "Number of balance projection cache hits.",
		}, []string{"kind"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_balance_cache_miss_total",
			Help: "Number of balance projection cache misses.",
		}, []string{"kind"}),
		build: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_balance_build_duration_seconds",
			Help:    "Duration required to compute balance projections from the ledger.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_trial_balance_unbalanced_total",
			Help: "Trial balances computed with total debits different from total credits.",
		}),
	}
	if err := register(reg, &m.hits); err != nil {
		return nil, err
	}
	if err := register(reg, &m.misses); err != nil {
		return nil, err
	}
	if err := register(reg, &m.build); err != nil {
		return nil, err
	}
	if err := register(reg, &m.failures); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return err
		}
		*c = existing
	}
	return nil
}

func (m *Metrics) hit(kind string) {
	if m != nil {
		m.hits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) miss(kind string) {
	if m != nil {
		m.misses.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) observe(kind string, started time.Time) {
	if m != nil {
		m.build.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) unbalanced() {
	if m != nil {
		m.failures.Inc()
	}
}
