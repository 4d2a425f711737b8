package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "submissions_total",
			Help:      "Submissions by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "storesync",
			Name:      "queue_depth",
			Help:      "Current number of pending submissions.",
		},
	)

	drains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "drains_total",
			Help:      "Drain passes by result.",
		},
		[]string{"result"},
	)

	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "storesync",
			Name:      "drain_duration_seconds",
			Help:      "Duration of drain passes.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(submissions, queueDepth, drains, drainDuration, httpRequests)
	})
}

// IncSubmission counts one submission outcome for a type label.
func IncSubmission(submissionType, outcome string) {
	submissions.WithLabelValues(submissionType, outcome).Inc()
}

// SetQueueDepth records the current pending-queue size.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// ObserveDrain records one drain pass.
func ObserveDrain(dur time.Duration, failed int) {
	result := "clean"
	if failed > 0 {
		result = "partial"
	}
	drains.WithLabelValues(result).Inc()
	drainDuration.Observe(dur.Seconds())
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
