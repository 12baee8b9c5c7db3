// Package observability exposes the operational counters that surface
// conditions the lifecycle itself never reflects: cancellation signals
// that failed to propagate, illegal transition attempts, dropped webhook
// deliveries.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted      prometheus.Counter
	jobTransitions     *prometheus.CounterVec
	launchFailures     prometheus.Counter
	pollErrors         prometheus.Counter
	unreachableFailed  prometheus.Counter
	staleFailed        prometheus.Counter
	illegalTransitions prometheus.Counter
	cancelPropFailures prometheus.Counter
	webhookDelivered   prometheus.Counter
	webhookRetries     prometheus.Counter
	webhookDropped     prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		jobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_jobs_submitted_total",
			Help: "Jobs accepted for execution.",
		}),
		jobTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seqflow_job_transitions_total",
			Help: "Applied job lifecycle transitions by target status.",
		}, []string{"status"}),
		launchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_launch_failures_total",
			Help: "Jobs that failed at engine launch.",
		}),
		pollErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_poll_errors_total",
			Help: "Transient engine poll failures.",
		}),
		unreachableFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_jobs_failed_unreachable_total",
			Help: "Jobs failed after the consecutive poll-failure bound.",
		}),
		staleFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_jobs_failed_stale_total",
			Help: "Jobs failed by the stale-submission timeout.",
		}),
		illegalTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_illegal_transitions_total",
			Help: "Rejected transition attempts logged as consistency warnings.",
		}),
		cancelPropFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_cancel_propagation_failures_total",
			Help: "Cancellations the engine did not accept; the run may still be consuming resources.",
		}),
		webhookDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_webhook_delivered_total",
			Help: "Webhook notifications delivered.",
		}),
		webhookRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_webhook_retries_total",
			Help: "Webhook delivery retries.",
		}),
		webhookDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "seqflow_webhook_dropped_total",
			Help: "Webhook notifications dropped after the retry budget.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobSubmitted() {
	if m == nil {
		return
	}
	m.jobsSubmitted.Inc()
}

func (m *Metrics) JobTransition(status string) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) LaunchFailure() {
	if m == nil {
		return
	}
	m.launchFailures.Inc()
}

func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *Metrics) UnreachableFailure() {
	if m == nil {
		return
	}
	m.unreachableFailed.Inc()
}

func (m *Metrics) StaleFailure() {
	if m == nil {
		return
	}
	m.staleFailed.Inc()
}

func (m *Metrics) IllegalTransition() {
	if m == nil {
		return
	}
	m.illegalTransitions.Inc()
}

func (m *Metrics) CancelPropagationFailure() {
	if m == nil {
		return
	}
	m.cancelPropFailures.Inc()
}

func (m *Metrics) WebhookDelivered() {
	if m == nil {
		return
	}
	m.webhookDelivered.Inc()
}

func (m *Metrics) WebhookRetry() {
	if m == nil {
		return
	}
	m.webhookRetries.Inc()
}

func (m *Metrics) WebhookDropped() {
	if m == nil {
		return
	}
	m.webhookDropped.Inc()
}
