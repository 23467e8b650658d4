// Package metrics exposes the Prometheus instruments of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal counts finished jobs.
	// Labels:
	// - result: "success" or "failure"
	// - kind:   error kind for failures, "none" for successes
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certgen",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of certificate jobs by outcome",
		},
		[]string{"result", "kind"},
	)

	// phaseDuration observes how long each job phase took.
	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "certgen",
			Subsystem: "jobs",
			Name:      "phase_duration_seconds",
			Help:      "Duration of certificate job phases",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	templateDirty = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "certgen",
			Subsystem: "template",
			Name:      "dirty_total",
			Help:      "Number of times a template was left without its placeholder",
		},
	)

	lockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "certgen",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a template document lock",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
		},
	)

	queueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certgen",
			Subsystem: "queue",
			Name:      "messages_total",
			Help:      "Queued jobs by action taken",
		},
		[]string{"action"},
	)

	rateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certgen",
			Subsystem: "http",
			Name:      "rate_limit_exceeded_total",
			Help:      "Number of requests rejected due to rate limiting (HTTP 429)",
		},
		[]string{"route"},
	)
)

// IncJob records a finished job.
func IncJob(result, kind string) {
	if kind == "" {
		kind = "none"
	}
	jobsTotal.WithLabelValues(result, kind).Inc()
}

// ObservePhase records the duration of a job phase.
func ObservePhase(phase string, d time.Duration) {
	phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// IncTemplateDirty records a template left dirty.
func IncTemplateDirty() {
	templateDirty.Inc()
}

// ObserveLockWait records how long a job waited for its lock.
func ObserveLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

// IncQueue records a queue action: "published", "acked", "nacked" or "terminated".
func IncQueue(action string) {
	queueMessages.WithLabelValues(action).Inc()
}

// IncRateLimitExceeded increments the 429 counter for the given route.
func IncRateLimitExceeded(route string) {
	if route == "" {
		route = "unknown"
	}
	rateLimitExceeded.WithLabelValues(route).Inc()
}
