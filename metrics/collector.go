package metrics

import (
	"diffusion_backend/generation"
	"diffusion_backend/training"
)

// MetricsCollector is the read/write surface the server depends on.
// It doubles as a generation recorder and a training observer so the
// store can be attached to both streams directly.
type MetricsCollector interface {
	generation.Recorder
	training.Observer

	RecordTask(task TaskRecord)

	GetTaskMetrics() TaskMetrics

	// GetRecentTasks returns up to limit tasks, oldest first.
	GetRecentTasks(limit int) []TaskRecord

	GetSystemStatus() SystemStatus
}
