package observability

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stateful"

// Outcome labels.
const (
	OutcomeOK               = "ok"
	OutcomeApplicationError = "application_error"
	OutcomeSystemError      = "system_error"
)

// ErrNotRegistered is returned by Unregister for unknown names.
var ErrNotRegistered = errors.New("component not registered")

// Metrics is a prometheus-backed ports.Monitor and ports.InvocationObserver.
type Metrics struct {
	registry *prometheus.Registry

	deployed    *prometheus.GaugeVec
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec

	mu         sync.Mutex
	registered map[string]struct{}
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		deployed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "components_deployed",
			Help:      "Deployed components (1 while deployed).",
		}, []string{"component"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Completed invocations by component, operation and outcome.",
		}, []string{"component", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Duration of invocations, including transaction completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "operation"}),
		registered: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{m.deployed, m.invocations, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// Register marks a component as deployed.
func (m *Metrics) Register(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registered[name]; ok {
		return fmt.Errorf("component %s already registered", name)
	}
	m.registered[name] = struct{}{}
	m.deployed.WithLabelValues(name).Set(1)
	return nil
}

// Unregister removes a component.
func (m *Metrics) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registered[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	delete(m.registered, name)
	m.deployed.DeleteLabelValues(name)
	return nil
}

// ObserveInvocation records a completed invocation.
func (m *Metrics) ObserveInvocation(componentID string, op domain.Operation, _ string, elapsed time.Duration, err error) {
	m.invocations.WithLabelValues(componentID, op.String(), Outcome(err)).Inc()
	m.duration.WithLabelValues(componentID, op.String()).Observe(elapsed.Seconds())
}

// Outcome labels an invocation error with the default classification.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case domain.ClassifyError(err) == domain.ExceptionSystem:
		return OutcomeSystemError
	default:
		return OutcomeApplicationError
	}
}

// WatchCache exports the statistics returned by stats.
func (m *Metrics) WatchCache(stats func() cache.Stats) error {
	return m.registry.Register(newCacheCollector(stats))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
