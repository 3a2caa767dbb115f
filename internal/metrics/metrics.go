package metrics

import (
	"net/http"
	"time"

	"alertdesk/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertdesk"

// SchedulerMetrics exports task scheduler activity as Prometheus collectors.
type SchedulerMetrics struct {
	submitted    *prometheus.CounterVec
	deduplicated *prometheus.CounterVec
	completed    *prometheus.CounterVec
	queueWait    *prometheus.HistogramVec
	duration     *prometheus.HistogramVec
	queued       prometheus.Gauge
	running      prometheus.Gauge
}

// NewSchedulerMetrics creates and registers scheduler collectors.
// Params: registerer owning the collectors.
// Returns: observer ready to attach to the scheduler, or registration error.
func NewSchedulerMetrics(reg prometheus.Registerer) (*SchedulerMetrics, error) {
	m := &SchedulerMetrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Task requests accepted into the queue by type.",
		}, []string{"type"}),
		deduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "deduplicated_total",
			Help:      "Task requests dropped by deduplication by type.",
		}, []string{"type"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Executed tasks by type and outcome.",
		}, []string{"type", "outcome"}), // outcome: success, failure, config_error
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "queue_wait_seconds",
			Help:      "Time between a task becoming due and its dispatch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Task execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "queued",
			Help:      "Pending task requests.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "running",
			Help:      "Tasks currently executing.",
		}),
	}
	for _, collector := range []prometheus.Collector{m.submitted, m.deduplicated, m.completed, m.queueWait, m.duration, m.queued, m.running} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TaskSubmitted counts accepted request.
func (m *SchedulerMetrics) TaskSubmitted(taskType domain.TaskType) {
	m.submitted.WithLabelValues(string(taskType)).Inc()
}

// TaskDeduplicated counts dropped request.
func (m *SchedulerMetrics) TaskDeduplicated(taskType domain.TaskType) {
	m.deduplicated.WithLabelValues(string(taskType)).Inc()
}

// TaskStarted observes queue wait.
func (m *SchedulerMetrics) TaskStarted(taskType domain.TaskType, wait time.Duration) {
	m.queueWait.WithLabelValues(string(taskType)).Observe(wait.Seconds())
}

// TaskCompleted counts outcome and observes duration.
func (m *SchedulerMetrics) TaskCompleted(completion domain.TaskCompletion) {
	outcome := "failure"
	if completion.Success {
		outcome = "success"
	} else if completion.Permanent {
		outcome = "config_error"
	}
	m.completed.WithLabelValues(string(completion.Type), outcome).Inc()
	m.duration.WithLabelValues(string(completion.Type)).Observe(completion.Duration.Seconds())
}

// QueueDepth sets queue gauges.
func (m *SchedulerMetrics) QueueDepth(queued, running int) {
	m.queued.Set(float64(queued))
	m.running.Set(float64(running))
}

// Handler serves metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
