package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Name:      "events_dispatched_total",
			Help:      "Count of task events published to observers.",
		},
		[]string{"kind"},
	)

	TasksResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Name:      "tasks_resolved_total",
			Help:      "Tasks that reached a final status.",
		},
		[]string{"status"},
	)

	RetriesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Name:      "retries_scheduled_total",
			Help:      "Backoff timers armed after a retryable failure.",
		},
	)

	ProtocolViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ferry",
			Name:      "protocol_violations_total",
			Help:      "Collaborator reports dropped as invalid (late or unknown).",
		},
		[]string{"reason"},
	)

	ActiveTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ferry",
			Name:      "active_tasks",
			Help:      "Number of live (non-retired) task state machines.",
		},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ferry",
			Name:      "task_duration_seconds",
			Help:      "Time from submission to final status.",
		},
		[]string{"status"},
	)
)

// Register registers the ferry metrics into the default registry.
func Register() {
	prometheus.MustRegister(EventsDispatched, TasksResolved, RetriesScheduled, ProtocolViolations, ActiveTasks, TaskDuration)
}
