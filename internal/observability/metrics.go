// Package observability instruments the core with Prometheus counters
// and gauges: promauto-registered package-level vars plus small Record*
// helpers that attach the right labels.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpncore_admissions_total",
			Help: "Total number of requests admitted by the protection layer",
		},
		[]string{"bucket"},
	)

	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpncore_rejections_total",
			Help: "Total number of requests rejected by the protection layer",
		},
		[]string{"bucket", "reason"},
	)

	BansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpncore_bans_total",
			Help: "Total number of IP bans issued",
		},
		[]string{"reason"},
	)

	ActiveBans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vpncore_active_bans",
			Help: "Current number of active IP bans",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vpncore_active_sessions",
			Help: "Current number of connected VPN sessions",
		},
	)

	SessionConnectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vpncore_session_connect_duration_seconds",
			Help:    "Duration of the connect operation, from request to tunnel config issuance",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionConnectErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpncore_session_connect_errors_total",
			Help: "Total number of failed connect attempts",
		},
		[]string{"reason"},
	)

	ServerLoad = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vpncore_server_load",
			Help: "Current load fraction (0-1) reported per server",
		},
		[]string{"server_id", "location"},
	)

	ActiveServers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vpncore_active_servers",
			Help: "Current number of servers with status active",
		},
	)

	TotalSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vpncore_total_subscribers",
			Help: "Current total number of registered subscribers",
		},
	)

	VerificationCodesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpncore_verification_codes_issued_total",
			Help: "Total number of verification/reset codes issued",
		},
		[]string{"purpose"},
	)

	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpncore_verification_outcomes_total",
			Help: "Total number of verification attempts by outcome",
		},
		[]string{"purpose", "result"},
	)

	PaymentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vpncore_payments_processed_total",
			Help: "Total number of processed payments by status",
		},
		[]string{"status"},
	)

	NotificationPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vpncore_notification_publish_failures_total",
			Help: "Total number of notification events that failed to publish",
		},
	)

	WSConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vpncore_ws_connections_active",
			Help: "Current number of open metrics push websocket channels",
		},
		[]string{"kind"},
	)
)

// RecordAdmission records a protection-layer admission decision.
func RecordAdmission(bucket string) {
	AdmissionsTotal.WithLabelValues(bucket).Inc()
}

// RecordRejection records a protection-layer rejection with its reason,
// e.g. "RateLimited", "Banned", "protection_error".
func RecordRejection(bucket, reason string) {
	RejectionsTotal.WithLabelValues(bucket, reason).Inc()
}

// RecordBan records a new ban being issued and updates the active-ban
// gauge. activeDelta is typically +1 on issue and -1 on expiry sweep.
func RecordBan(reason string, activeDelta float64) {
	BansTotal.WithLabelValues(reason).Inc()
	ActiveBans.Add(activeDelta)
}

// SetActiveSessions sets the current connected-session gauge.
func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}

// RecordSessionConnect records the outcome of a connect attempt.
func RecordSessionConnect(duration time.Duration, err error, reason string) {
	if err != nil {
		SessionConnectErrors.WithLabelValues(reason).Inc()
		return
	}
	SessionConnectDuration.Observe(duration.Seconds())
}

// SetServerLoad updates a single server's load gauge.
func SetServerLoad(serverID, location string, load float64) {
	ServerLoad.WithLabelValues(serverID, location).Set(load)
}

// SetActiveServers sets the current active-server-count gauge.
func SetActiveServers(n int) {
	ActiveServers.Set(float64(n))
}

// SetTotalSubscribers sets the current subscriber-count gauge.
func SetTotalSubscribers(n int) {
	TotalSubscribers.Set(float64(n))
}

// RecordVerificationIssued records a verification or reset code being
// issued for the given purpose.
func RecordVerificationIssued(purpose string) {
	VerificationCodesIssued.WithLabelValues(purpose).Inc()
}

// RecordVerificationOutcome records a verify attempt's result: "ok",
// "bad", or "expired".
func RecordVerificationOutcome(purpose, result string) {
	VerificationOutcomes.WithLabelValues(purpose, result).Inc()
}

// RecordPayment records a payment reaching a terminal or
// initial status.
func RecordPayment(status string) {
	PaymentsProcessed.WithLabelValues(status).Inc()
}

// RecordNotificationPublishFailure records a notification event that
// failed to publish after the circuit breaker gave up.
func RecordNotificationPublishFailure() {
	NotificationPublishFailures.Inc()
}

// AdjustWSConnectionsActive applies delta to the open-channel gauge for
// a given kind of metrics push channel: "session" or "operator".
// Callers add 1 when a channel opens and -1 when it closes, so
// concurrent channels of the same kind don't clobber each other.
func AdjustWSConnectionsActive(kind string, delta float64) {
	WSConnectionsActive.WithLabelValues(kind).Add(delta)
}
