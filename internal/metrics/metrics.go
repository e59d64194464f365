package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanaahub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sanaahub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CashoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanaahub_cashouts_total",
			Help: "Total number of cashout requests by terminal outcome",
		},
		[]string{"channel", "outcome"},
	)

	CashoutCompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanaahub_cashout_compensations_total",
			Help: "Locks released after a gateway failure, by failure stage",
		},
		[]string{"stage"},
	)

	WorkflowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanaahub_workflow_transitions_total",
			Help: "Project workflow transitions by target status and outcome",
		},
		[]string{"to", "outcome"},
	)

	EscrowEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanaahub_escrow_events_total",
			Help: "Escrow payment-status events",
		},
		[]string{"event"},
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanaahub_emails_sent_total",
			Help: "Total number of emails sent",
		},
		[]string{"type", "status"},
	)

	EmailQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sanaahub_email_queue_length",
			Help: "Current length of email queue",
		},
	)

	StalePayoutsReconciledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sanaahub_stale_payouts_reconciled_total",
			Help: "Processing payout requests force-compensated by the sweep",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordCashout(channel, outcome string) {
	CashoutsTotal.WithLabelValues(channel, outcome).Inc()
}

func RecordCashoutCompensation(stage string) {
	CashoutCompensationsTotal.WithLabelValues(stage).Inc()
}

func RecordWorkflowTransition(to, outcome string) {
	WorkflowTransitionsTotal.WithLabelValues(to, outcome).Inc()
}

func RecordEscrowEvent(event string) {
	EscrowEventsTotal.WithLabelValues(event).Inc()
}

func RecordEmail(emailType, status string) {
	EmailsSentTotal.WithLabelValues(emailType, status).Inc()
}

func RecordStalePayoutReconciled() {
	StalePayoutsReconciledTotal.Inc()
}
