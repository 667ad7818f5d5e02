package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"diffusion_backend/artifacts"
	"diffusion_backend/generation"
	"diffusion_backend/training"

	"go.uber.org/zap"
)

// HistoryRecorder stores generation outcomes through an AsyncWriter. It
// implements generation.Recorder.
type HistoryRecorder struct {
	writer *AsyncWriter[GenerationRecord]
}

// NewHistoryRecorder creates and starts a recorder.
func NewHistoryRecorder(repo *Repository, logger *zap.Logger) *HistoryRecorder {
	h := &HistoryRecorder{}
	h.writer = NewAsyncWriter(func(rec GenerationRecord) error {
		_, err := repo.InsertGeneration(context.Background(), rec)
		return err
	}, DefaultChannelCapacity, logger)
	h.writer.Start()
	return h
}

// RecordGeneration queues o. It never blocks.
func (h *HistoryRecorder) RecordGeneration(_ context.Context, o generation.Outcome) {
	h.writer.Write(RecordFromOutcome(o))
}

// Writer exposes queue counters.
func (h *HistoryRecorder) Writer() *AsyncWriter[GenerationRecord] { return h.writer }

// Close drains pending records.
func (h *HistoryRecorder) Close(ctx context.Context) error {
	return h.writer.Close(ctx)
}

// RecordFromOutcome converts a finished generation to a history row.
func RecordFromOutcome(o generation.Outcome) GenerationRecord {
	req := o.Request
	rec := GenerationRecord{
		RequestID:      o.RequestID,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Steps:          req.Steps,
		GuidanceScale:  req.GuidanceScale,
		Seed:           req.Seed,
		Width:          req.Width,
		Height:         req.Height,
		AdapterScale:   req.AdapterScale,
		CacheHit:       o.CacheHit,
		DurationMS:     o.Duration.Milliseconds(),
		Status:         StatusOK,
		CreatedAt:      o.StartedAt,
	}
	// A zero key means validation failed before a variant was chosen.
	if o.Key != (artifacts.Key{}) {
		rec.Variant = string(req.Variant())
		rec.CacheKey = o.Key.String()
	}
	if o.Err != nil {
		rec.Status = StatusError
		rec.ErrorKind = generation.KindOf(o.Err)
		rec.ErrorMessage = o.Err.Error()
	}
	return rec
}

// JobRecorder tracks training job status. It implements training.Observer.
type JobRecorder struct {
	writer *AsyncWriter[JobRecord]
}

// NewJobRecorder creates and starts a recorder.
func NewJobRecorder(repo *Repository, logger *zap.Logger) *JobRecorder {
	w := NewAsyncWriter(func(j JobRecord) error {
		return repo.UpsertJob(context.Background(), j)
	}, DefaultChannelCapacity, logger)
	w.Start()
	return &JobRecorder{writer: w}
}

// Publish stores the job state carried by e. Progress events are skipped.
func (j *JobRecorder) Publish(e training.Event) {
	rec := JobRecord{ID: e.JobID}
	switch e.Name {
	case training.EventAccepted:
		params := make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			if k != "status" {
				params[k] = v
			}
		}
		b, err := json.Marshal(params)
		if err != nil {
			return
		}
		rec.Params = string(b)
		rec.Status = training.StatusAccepted
	case training.EventComplete:
		rec.Status = training.StatusQueued
	case training.EventError:
		rec.Status = training.StatusError
		rec.Message, _ = e.Data["message"].(string)
	default:
		return
	}
	j.writer.Write(rec)
}

// Close drains pending updates.
func (j *JobRecorder) Close(ctx context.Context) error {
	return j.writer.Close(ctx)
}

// CloseAll closes recorders within timeout, joining their errors.
func CloseAll(timeout time.Duration, closers ...interface{ Close(context.Context) error }) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close(ctx))
	}
	return errors.Join(errs...)
}
