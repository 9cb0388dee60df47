// Package metrics exposes admission control counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/serroba/admission-go/internal/ratelimit"
)

// Outcome labels for admission decisions.
const (
	OutcomeAllowed    = "allowed"
	OutcomeDenied     = "denied"
	OutcomeFailedOpen = "failed_open"
)

// Admission holds the collectors for admission control.
type Admission struct {
	registry    *prometheus.Registry
	decisions   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	storeTime   prometheus.Histogram
}

// NewAdmission creates and registers the admission collectors on a fresh registry.
func NewAdmission() *Admission {
	m := &Admission{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Admission decisions by outcome.",
		}, []string{"outcome"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_store_errors_total",
			Help: "Rate limit store failures by kind.",
		}, []string{"kind"}),
		storeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "admission_store_duration_seconds",
			Help:    "Latency of rate limit store round trips.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
	}

	m.registry.MustRegister(m.decisions, m.storeErrors, m.storeTime)

	return m
}

// Decision counts one admission outcome. A nil Admission counts nothing.
func (m *Admission) Decision(outcome string) {
	if m == nil {
		return
	}

	m.decisions.WithLabelValues(outcome).Inc()
}

// Handler serves the registry.
func (m *Admission) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Admission) Registry() *prometheus.Registry {
	return m.registry
}

// InstrumentedStore wraps a ratelimit.Store and records latency and failures.
type InstrumentedStore struct {
	store   ratelimit.Store
	metrics *Admission
}

// NewInstrumentedStore creates a new instrumented store decorator.
func NewInstrumentedStore(store ratelimit.Store, metrics *Admission) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

func (s *InstrumentedStore) Record(
	ctx context.Context, key string, limit int64, window time.Duration, now time.Time,
) (ratelimit.Window, error) {
	start := time.Now()
	w, err := s.store.Record(ctx, key, limit, window, now)
	s.observe(start, err)

	return w, err
}

func (s *InstrumentedStore) Usage(
	ctx context.Context, key string, window time.Duration, now time.Time,
) (ratelimit.Usage, error) {
	start := time.Now()
	u, err := s.store.Usage(ctx, key, window, now)
	s.observe(start, err)

	return u, err
}

func (s *InstrumentedStore) observe(start time.Time, err error) {
	s.metrics.storeTime.Observe(time.Since(start).Seconds())

	if err == nil {
		return
	}

	kind := ratelimit.StoreUnavailable

	var se *ratelimit.StoreError
	if errors.As(err, &se) {
		kind = se.Kind
	}

	s.metrics.storeErrors.WithLabelValues(string(kind)).Inc()
}

var _ ratelimit.Store = (*InstrumentedStore)(nil)
