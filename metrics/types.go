// Package metrics keeps in-memory counters for generation and training
// tasks and assembles the status view served by the API.
package metrics

import (
	"time"

	"diffusion_backend/artifacts"
)

// TaskRecord is one finished task.
type TaskRecord struct {
	ID string `json:"id"`

	// Type is TaskTypeGenerate or TaskTypeTrain.
	Type string `json:"type"`

	// Variant is the pipeline variant for generations; empty for training
	// and for requests that failed validation.
	Variant string `json:"variant,omitempty"`

	Status string `json:"status"`

	CacheHit bool `json:"cache_hit,omitempty"`

	StartTime time.Time `json:"start_time"`

	EndTime time.Time `json:"end_time,omitempty"`

	Duration time.Duration `json:"duration"`

	ErrorKind string `json:"error_kind,omitempty"`

	ErrorMsg string `json:"error_msg,omitempty"`
}

// SystemStatus is the service-wide snapshot returned by /api/status.
type SystemStatus struct {
	Health string `json:"health"`

	Version string `json:"version"`

	Uptime time.Duration `json:"uptime"`

	LastCheck time.Time `json:"last_check"`

	Backend string `json:"backend,omitempty"`

	Device string `json:"device,omitempty"`

	// LoadedVariants lists pipelines already constructed.
	LoadedVariants []string `json:"loaded_variants"`

	Artifacts *artifacts.Stats `json:"artifacts,omitempty"`

	Tasks TaskMetrics `json:"tasks"`
}

// TaskMetrics aggregates every task recorded since start.
type TaskMetrics struct {
	TotalProcessed int64 `json:"total_processed"`

	TotalSuccess int64 `json:"total_success"`

	TotalErrors int64 `json:"total_errors"`

	ByType map[string]*TaskTypeMetrics `json:"by_type"`
}

// TaskTypeMetrics holds the aggregates for a single task type.
type TaskTypeMetrics struct {
	Count int64 `json:"count"`

	SuccessRate float64 `json:"success_rate"`

	CacheHits int64 `json:"cache_hits"`

	AvgDuration time.Duration `json:"avg_duration"`
}

const (
	TaskStatusSuccess = "success"
	TaskStatusError   = "error"
)

const (
	SystemHealthRunning  = "running"
	SystemHealthDegraded = "degraded"
)

const (
	TaskTypeGenerate = "generate"
	TaskTypeTrain    = "train"
)
