package metrics

import (
	"context"
	"sync"
	"time"

	"diffusion_backend/artifacts"
	"diffusion_backend/generation"
	"diffusion_backend/pipelines"
	"diffusion_backend/training"
)

// MetricsStore is a thread-safe MetricsCollector backed by a circular
// buffer of recent tasks and running per-type totals.
type MetricsStore struct {
	mu sync.RWMutex

	taskHistory []TaskRecord // Circular buffer of recent tasks
	taskCap     int          // Maximum tasks to retain
	taskHead    int          // Write index
	taskSize    int          // Current number of tasks

	totalTasks   int64
	totalSuccess int64
	totalErrors  int64
	taskByType   map[string]*taskTypeStats

	// Consecutive generation failures that were not the caller's fault.
	serverFailures int

	// Accepted training jobs awaiting their terminal event.
	pendingJobs map[string]time.Time

	startTime time.Time
	cfg       StoreConfig
}

type taskTypeStats struct {
	count         int64
	successCount  int64
	cacheHits     int64
	totalDuration time.Duration
}

// StoreConfig configures a MetricsStore. The probe functions are optional
// and are called on every status snapshot.
type StoreConfig struct {
	TaskHistoryCapacity int

	Version string
	Backend string
	Device  string

	// DegradedAfter is how many generation failures in a row, excluding
	// validation errors, mark the service degraded.
	DegradedAfter int

	LoadedVariants func() []pipelines.Variant
	ArtifactStats  func() artifacts.Stats
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		TaskHistoryCapacity: 100,
		Version:             "0.0.0",
		DegradedAfter:       3,
	}
}

func NewMetricsStore(config StoreConfig, startTime time.Time) *MetricsStore {
	cap := config.TaskHistoryCapacity
	if cap < 1 {
		cap = 100
	}
	if config.DegradedAfter < 1 {
		config.DegradedAfter = 3
	}

	return &MetricsStore{
		taskHistory: make([]TaskRecord, cap),
		taskCap:     cap,
		taskByType:  make(map[string]*taskTypeStats),
		pendingJobs: make(map[string]time.Time),
		startTime:   startTime,
		cfg:         config,
	}
}

func (s *MetricsStore) RecordTask(task TaskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(task)
}

func (s *MetricsStore) recordLocked(task TaskRecord) {
	s.taskHistory[s.taskHead] = task
	s.taskHead = (s.taskHead + 1) % s.taskCap
	if s.taskSize < s.taskCap {
		s.taskSize++
	}

	s.totalTasks++
	switch task.Status {
	case TaskStatusSuccess:
		s.totalSuccess++
	case TaskStatusError:
		s.totalErrors++
	}

	stats, ok := s.taskByType[task.Type]
	if !ok {
		stats = &taskTypeStats{}
		s.taskByType[task.Type] = stats
	}
	stats.count++
	if task.Status == TaskStatusSuccess {
		stats.successCount++
	}
	if task.CacheHit {
		stats.cacheHits++
	}
	stats.totalDuration += task.Duration

	if task.Type == TaskTypeGenerate {
		switch {
		case task.Status == TaskStatusSuccess:
			s.serverFailures = 0
		case task.ErrorKind != generation.KindValidation:
			s.serverFailures++
		}
	}
}

// RecordGeneration implements generation.Recorder.
func (s *MetricsStore) RecordGeneration(_ context.Context, o generation.Outcome) {
	task := TaskRecord{
		ID:        o.RequestID,
		Type:      TaskTypeGenerate,
		Status:    TaskStatusSuccess,
		CacheHit:  o.CacheHit,
		StartTime: o.StartedAt,
		EndTime:   o.StartedAt.Add(o.Duration),
		Duration:  o.Duration,
	}
	if o.Key != (artifacts.Key{}) {
		task.Variant = o.Key.Variant
	}
	if o.Err != nil {
		task.Status = TaskStatusError
		task.ErrorKind = generation.KindOf(o.Err)
		task.ErrorMsg = o.Err.Error()
	}
	s.RecordTask(task)
}

// Publish implements training.Observer. A job becomes a task once its
// terminal event arrives; the duration runs from the accepted event.
func (s *MetricsStore) Publish(e training.Event) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Name == training.EventAccepted {
		s.pendingJobs[e.JobID] = at
		return
	}
	if !e.Terminal() {
		return
	}

	start, ok := s.pendingJobs[e.JobID]
	if !ok {
		start = at
	}
	delete(s.pendingJobs, e.JobID)

	task := TaskRecord{
		ID:        e.JobID,
		Type:      TaskTypeTrain,
		Status:    TaskStatusSuccess,
		StartTime: start,
		EndTime:   at,
		Duration:  at.Sub(start),
	}
	if e.Name == training.EventError {
		task.Status = TaskStatusError
		if msg, ok := e.Data["message"].(string); ok {
			task.ErrorMsg = msg
		}
	}
	s.recordLocked(task)
}

func (s *MetricsStore) GetTaskMetrics() TaskMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskMetricsLocked()
}

func (s *MetricsStore) taskMetricsLocked() TaskMetrics {
	metrics := TaskMetrics{
		TotalProcessed: s.totalTasks,
		TotalSuccess:   s.totalSuccess,
		TotalErrors:    s.totalErrors,
		ByType:         make(map[string]*TaskTypeMetrics, len(s.taskByType)),
	}

	for taskType, stats := range s.taskByType {
		var successRate float64
		var avgDuration time.Duration
		if stats.count > 0 {
			successRate = float64(stats.successCount) / float64(stats.count) * 100
			avgDuration = stats.totalDuration / time.Duration(stats.count)
		}

		metrics.ByType[taskType] = &TaskTypeMetrics{
			Count:       stats.count,
			SuccessRate: successRate,
			CacheHits:   stats.cacheHits,
			AvgDuration: avgDuration,
		}
	}

	return metrics
}

func (s *MetricsStore) GetRecentTasks(limit int) []TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || s.taskSize == 0 {
		return []TaskRecord{}
	}

	if limit > s.taskSize {
		limit = s.taskSize
	}

	result := make([]TaskRecord, limit)
	for i := 0; i < limit; i++ {
		idx := (s.taskHead - limit + i + s.taskCap) % s.taskCap
		result[i] = s.taskHistory[idx]
	}

	return result
}

func (s *MetricsStore) GetSystemStatus() SystemStatus {
	status := SystemStatus{
		Version:        s.cfg.Version,
		Backend:        s.cfg.Backend,
		Device:         s.cfg.Device,
		Uptime:         time.Since(s.startTime),
		LastCheck:      time.Now(),
		LoadedVariants: []string{},
	}

	// Probes take their own locks; call them outside ours.
	if s.cfg.LoadedVariants != nil {
		for _, v := range s.cfg.LoadedVariants() {
			status.LoadedVariants = append(status.LoadedVariants, string(v))
		}
	}
	if s.cfg.ArtifactStats != nil {
		stats := s.cfg.ArtifactStats()
		status.Artifacts = &stats
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status.Health = SystemHealthRunning
	if s.serverFailures >= s.cfg.DegradedAfter {
		status.Health = SystemHealthDegraded
	}
	status.Tasks = s.taskMetricsLocked()
	return status
}

var _ MetricsCollector = (*MetricsStore)(nil)
