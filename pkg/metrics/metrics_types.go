package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the encryption subsystem
type Registry struct {
	// Configuration Metrics
	ConfigUpdatesTotal    *prometheus.CounterVec
	ConfigRejectionsTotal *prometheus.CounterVec
	ConfigURIErrorsTotal  prometheus.Counter

	// Codec Metrics
	PagesEncryptedTotal *prometheus.CounterVec
	PagesDecryptedTotal *prometheus.CounterVec
	AuthFailuresTotal   prometheus.Counter
	ConnectionsOpen     prometheus.Gauge

	// Rekey Metrics
	RekeyOperationsTotal *prometheus.CounterVec
	RekeyDuration        prometheus.Histogram
	RekeyPagesTotal      prometheus.Counter

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initConfigMetrics()
	r.initCodecMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
