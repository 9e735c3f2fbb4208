// Package metrics holds the Prometheus collectors for creditflow.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the registered collectors.
type Metrics struct {
	AuditsTotal        prometheus.Counter
	FindingsTotal      *prometheus.CounterVec
	SchedulerPhases    *prometheus.CounterVec
	SchedulerFailures  *prometheus.CounterVec
	SchedulerDuration  prometheus.Histogram
	RemindersSent      prometheus.Counter
	ReminderFailures   prometheus.Counter
	ProviderJobsTotal  *prometheus.CounterVec
	DisputesTransition *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// Get returns the process-wide metrics, registering them on first use.
//
// Metrics:
//   - creditflow_audits_total - audit runs persisted
//   - creditflow_audit_findings_total{rule} - findings produced per rule
//   - creditflow_scheduler_phase_runs_total{phase} - scheduler phases executed
//   - creditflow_scheduler_phase_failures_total{phase} - scheduler phases that returned an error
//   - creditflow_scheduler_pass_duration_seconds - wall time of a full pass
//   - creditflow_reminders_sent_total - reminder mails delivered
//   - creditflow_reminder_failures_total - reminder sends that failed
//   - creditflow_provider_jobs_total{outcome} - provider jobs by final status
//   - creditflow_dispute_transitions_total{status} - dispute status updates
//   - creditflow_http_requests_total{method,route,status} - HTTP requests served
//   - creditflow_http_request_duration_seconds{method,route} - HTTP handler latency
func Get() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			AuditsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "creditflow_audits_total",
				Help: "Total number of audit runs persisted",
			}),
			FindingsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "creditflow_audit_findings_total",
					Help: "Total number of audit findings by rule",
				},
				[]string{"rule"},
			),
			SchedulerPhases: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "creditflow_scheduler_phase_runs_total",
					Help: "Total number of scheduler phases executed",
				},
				[]string{"phase"},
			),
			SchedulerFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "creditflow_scheduler_phase_failures_total",
					Help: "Total number of scheduler phases that failed",
				},
				[]string{"phase"},
			),
			SchedulerDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "creditflow_scheduler_pass_duration_seconds",
				Help:    "Duration of a full scheduler pass in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			}),
			RemindersSent: promauto.NewCounter(prometheus.CounterOpts{
				Name: "creditflow_reminders_sent_total",
				Help: "Total number of dispute reminder mails delivered",
			}),
			ReminderFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "creditflow_reminder_failures_total",
				Help: "Total number of dispute reminders that failed",
			}),
			ProviderJobsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "creditflow_provider_jobs_total",
					Help: "Total number of provider jobs by outcome",
				},
				[]string{"outcome"},
			),
			DisputesTransition: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "creditflow_dispute_transitions_total",
					Help: "Total number of dispute status updates by target status",
				},
				[]string{"status"},
			),
			HTTPRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "creditflow_http_requests_total",
					Help: "Total number of HTTP requests by method, route and status",
				},
				[]string{"method", "route", "status"},
			),
			HTTPDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "creditflow_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"method", "route"},
			),
		}
	})
	return globalMetrics
}
