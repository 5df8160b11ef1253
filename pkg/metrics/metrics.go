package metrics

import (
	"time"
)

// RecordConfigUpdate records an accepted parameter update for the given scope
// ("global" or "connection")
func (r *Registry) RecordConfigUpdate(scope string) {
	r.ConfigUpdatesTotal.WithLabelValues(scope).Inc()
}

// RecordConfigRejection records a rejected configuration attempt
func (r *Registry) RecordConfigRejection(reason string) {
	r.ConfigRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordURIError records a connection-string auto-configuration failure
func (r *Registry) RecordURIError() {
	r.ConfigURIErrorsTotal.Inc()
}

// RecordPageEncrypted records an encrypted page for the given cipher
func (r *Registry) RecordPageEncrypted(cipher string) {
	r.PagesEncryptedTotal.WithLabelValues(cipher).Inc()
}

// RecordPageDecrypted records a decrypted page for the given cipher
func (r *Registry) RecordPageDecrypted(cipher string) {
	r.PagesDecryptedTotal.WithLabelValues(cipher).Inc()
}

// RecordAuthFailure records a page authentication failure
func (r *Registry) RecordAuthFailure() {
	r.AuthFailuresTotal.Inc()
}

// ConnectionOpened increments the open connections gauge
func (r *Registry) ConnectionOpened() {
	r.ConnectionsOpen.Inc()
}

// ConnectionClosed decrements the open connections gauge
func (r *Registry) ConnectionClosed() {
	r.ConnectionsOpen.Dec()
}

// RecordRekey records a completed rekey operation with its outcome and duration
func (r *Registry) RecordRekey(status string, duration time.Duration, pages int) {
	r.RekeyOperationsTotal.WithLabelValues(status).Inc()
	r.RekeyDuration.Observe(duration.Seconds())
	r.RekeyPagesTotal.Add(float64(pages))
}
