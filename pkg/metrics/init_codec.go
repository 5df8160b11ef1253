package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCodecMetrics() {
	r.PagesEncryptedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrypt_pages_encrypted_total",
			Help: "Total number of pages encrypted",
		},
		[]string{"cipher"},
	)

	r.PagesDecryptedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrypt_pages_decrypted_total",
			Help: "Total number of pages decrypted",
		},
		[]string{"cipher"},
	)

	r.AuthFailuresTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "pagecrypt_auth_failures_total",
			Help: "Total number of page authentication failures (wrong key or corruption)",
		},
	)

	r.ConnectionsOpen = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "pagecrypt_connections_open",
			Help: "Number of currently open connections",
		},
	)

	r.RekeyOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecrypt_rekey_operations_total",
			Help: "Total number of rekey operations by outcome",
		},
		[]string{"status"},
	)

	r.RekeyDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagecrypt_rekey_duration_seconds",
			Help:    "Rekey operation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	r.RekeyPagesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "pagecrypt_rekey_pages_total",
			Help: "Total number of pages rewritten by rekey operations",
		},
	)
}
