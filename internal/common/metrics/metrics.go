// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailsQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_emails_queued_total",
			Help: "Total number of email tasks enqueued",
		},
		[]string{"group"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_emails_sent_total",
			Help: "Total number of emails delivered successfully",
		},
		[]string{"group"},
	)

	EmailsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_emails_failed_total",
			Help: "Total number of email delivery failures",
		},
		[]string{"group", "error_code"},
	)

	EmailsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_emails_retried_total",
			Help: "Total number of email tasks re-queued after a failed attempt",
		},
		[]string{"group"},
	)

	EmailsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_emails_cancelled_total",
			Help: "Total number of email tasks cancelled while queued",
		},
		[]string{"group"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "mailer_send_duration_seconds",
			Help: "Duration of SMTP/SES send calls in seconds",
		},
		[]string{"provider"},
	)

	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailer_queue_size",
			Help: "Number of email tasks waiting in the priority queue",
		},
	)
)
