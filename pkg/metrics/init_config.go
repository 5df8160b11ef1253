package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initConfigMetrics() {
	r.ConfigUpdatesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrypt_config_updates_total",
			Help: "Total number of accepted cipher parameter updates",
		},
		[]string{"scope"},
	)

	r.ConfigRejectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrypt_config_rejections_total",
			Help: "Total number of rejected configuration attempts",
		},
		[]string{"reason"},
	)

	r.ConfigURIErrorsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "pagecrypt_config_uri_errors_total",
			Help: "Total number of connection-string auto-configuration failures",
		},
	)
}
