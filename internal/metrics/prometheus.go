// Package metrics implements the fire-and-forget metrics sink on Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sf7293/task-dispatch/internal/domain"
)

type PrometheusMetrics struct {
	tasksCreated      *prometheus.CounterVec
	tasksCompleted    prometheus.Counter
	tasksFailed       prometheus.Counter
	tasksCancelled    prometheus.Counter
	tasksRequeued     prometheus.Counter
	executionDuration prometheus.Histogram
	activeTasks       prometheus.Gauge
	messagesPublished prometheus.Counter
	messagesConsumed  prometheus.Counter
	poisonMessages    prometheus.Counter
}

func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		tasksCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_created_total",
			Help: "Total number of tasks created",
		}, []string{"priority"}),
		tasksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		}),
		tasksFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of tasks failed",
		}),
		tasksCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tasks_cancelled_total",
			Help: "Total number of tasks cancelled",
		}),
		tasksRequeued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tasks_requeued_total",
			Help: "Total number of tasks requeued for retry",
		}),
		executionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "task_processing_duration_seconds",
			Help:    "Time spent processing tasks",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		activeTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "active_tasks",
			Help: "Number of tasks currently being processed",
		}),
		messagesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rabbitmq_messages_published_total",
			Help: "Total messages published to RabbitMQ",
		}),
		messagesConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rabbitmq_messages_consumed_total",
			Help: "Total messages consumed from RabbitMQ",
		}),
		poisonMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rabbitmq_poison_messages_total",
			Help: "Total malformed messages dropped after acknowledgment",
		}),
	}
}

func (m *PrometheusMetrics) TaskCreated(priority domain.TaskPriority) {
	m.tasksCreated.WithLabelValues(string(priority)).Inc()
}

func (m *PrometheusMetrics) TaskCompleted() { m.tasksCompleted.Inc() }
func (m *PrometheusMetrics) TaskFailed()    { m.tasksFailed.Inc() }
func (m *PrometheusMetrics) TaskCancelled() { m.tasksCancelled.Inc() }
func (m *PrometheusMetrics) TaskRequeued()  { m.tasksRequeued.Inc() }

func (m *PrometheusMetrics) ObserveExecution(d time.Duration) {
	m.executionDuration.Observe(d.Seconds())
}

func (m *PrometheusMetrics) IncInFlight() { m.activeTasks.Inc() }
func (m *PrometheusMetrics) DecInFlight() { m.activeTasks.Dec() }

func (m *PrometheusMetrics) MessagePublished() { m.messagesPublished.Inc() }
func (m *PrometheusMetrics) MessageConsumed()  { m.messagesConsumed.Inc() }
func (m *PrometheusMetrics) PoisonMessage()    { m.poisonMessages.Inc() }
