// Package metrics exposes Prometheus instrumentation for task sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive is the number of streams currently being served.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskstream_sessions_active",
		Help: "Number of task sessions currently open",
	})

	// SessionDuration tracks how long sessions stay open.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskstream_session_duration_seconds",
		Help:    "Lifetime of a task session from stream open to close",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	})

	// TasksTotal counts finished task bodies by type and outcome.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskstream_tasks_total",
		Help: "Total number of finished tasks by task type and outcome",
	}, []string{"task_type", "outcome"})

	// CommandsTotal counts inbound commands by action and acceptance.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskstream_commands_total",
		Help: "Total number of inbound commands by action and result",
	}, []string{"action", "result"})

	// DialogsPending is the number of dialogs awaiting an answer.
	DialogsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskstream_dialogs_pending",
		Help: "Number of dialog requests awaiting a client answer",
	})

	// DialogsTotal counts dialog resolutions by how they were resolved.
	DialogsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskstream_dialogs_total",
		Help: "Total number of dialogs by resolution (answered, cancelled, stale)",
	}, []string{"resolution"})

	// OutboundMessagesTotal counts frames written to clients by kind.
	OutboundMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskstream_outbound_messages_total",
		Help: "Total number of frames written to clients by message kind",
	}, []string{"kind"})

	// OutboundWriteFailuresTotal counts failed writes to the transport.
	OutboundWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskstream_outbound_write_failures_total",
		Help: "Total number of transport write failures",
	})
)

// ObserveSessionDuration records a closed session's lifetime.
func ObserveSessionDuration(d time.Duration) {
	SessionDuration.Observe(d.Seconds())
}

// RecordTask counts a finished task.
func RecordTask(taskType, outcome string) {
	TasksTotal.WithLabelValues(taskType, outcome).Inc()
}

// RecordCommand counts an inbound command.
func RecordCommand(action string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	CommandsTotal.WithLabelValues(action, result).Inc()
}

// RecordDialog counts a dialog resolution.
func RecordDialog(resolution string) {
	DialogsTotal.WithLabelValues(resolution).Inc()
}

// RecordOutbound counts a frame written to a client.
func RecordOutbound(kind string) {
	OutboundMessagesTotal.WithLabelValues(kind).Inc()
}
