// Package metrics exposes Prometheus counters for jobs and conversions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dirsync"

// Save outcomes
const (
	OutcomeSaved   = "saved"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds every collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	problemsTotal  *prometheus.CounterVec
	savesTotal     *prometheus.CounterVec
	scheduledTotal *prometheus.CounterVec
	notifyTotal    prometheus.Counter
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job invocations by kind and resulting status",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of one job invocation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		problemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_problems_total",
			Help:      "Conversion problems by job kind and problem",
		}, []string{"kind", "problem"}),
		savesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Conversion and deletion outcomes by job kind",
		}, []string{"kind", "outcome"}),
		scheduledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_actions_total",
			Help:      "Child jobs scheduled by reconciliations, by action",
		}, []string{"action"}),
		notifyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_notifications_total",
			Help:      "Local account changes that scheduled a directory update",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.jobDuration,
		m.problemsTotal,
		m.savesTotal,
		m.scheduledTotal,
		m.notifyTotal,
	)

	return m
}

// ObserveJob counts one invocation ending in status
func (m *Metrics) ObserveJob(kind, status string, elapsed time.Duration) {
	m.jobsTotal.WithLabelValues(kind, status).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveProblem counts one conversion problem
func (m *Metrics) ObserveProblem(kind, problem string) {
	m.problemsTotal.WithLabelValues(kind, problem).Inc()
}

// ObserveSave counts one save outcome
func (m *Metrics) ObserveSave(kind, outcome string) {
	m.savesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveScheduled counts one scheduled child job
func (m *Metrics) ObserveScheduled(action string) {
	m.scheduledTotal.WithLabelValues(action).Inc()
}

// ObserveNotification counts one change notification
func (m *Metrics) ObserveNotification() {
	m.notifyTotal.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
