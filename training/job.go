// Package training accepts fine-tuning jobs and reports them as an ordered
// stream of events.
//
// A job moves through accepted, zero or more progress events, and a single
// terminal event (complete or error). Events are written and flushed one at
// a time; the stream cannot be paused or replayed.
package training

import (
	"context"
	"errors"

	"diffusion_backend/payload"

	"github.com/google/uuid"
)

// Schema lists the fields every training request must carry.
var Schema = payload.Schema{
	payload.F("prompt", payload.String),
	payload.F("negative_prompt", payload.String),
	payload.F("num_inference_steps", payload.Integer),
	payload.F("guidance_scale", payload.Integer, payload.Number),
	payload.F("seed", payload.Integer),
	payload.F("width", payload.Integer),
	payload.F("height", payload.Integer),
	payload.F("lora_scale", payload.Integer, payload.Number),
}

// Job is a validated training request. It lives only as long as its stream.
type Job struct {
	ID string
	// Params holds every schema field with plain Go numbers.
	Params map[string]any
}

// NewJob validates body and assigns a job id. Failures are *payload.Error.
func NewJob(body map[string]any) (*Job, error) {
	if err := payload.NewError(payload.Validate(body, Schema)); err != nil {
		return nil, err
	}
	params := make(map[string]any, len(Schema))
	for _, name := range Schema.Names() {
		params[name] = payload.Plain(body[name])
	}
	return &Job{ID: uuid.NewString(), Params: params}, nil
}

// Progress is one intermediate report from an Executor.
type Progress struct {
	Step    int     `json:"step"`
	Total   int     `json:"total"`
	Message string  `json:"message,omitempty"`
	Loss    float64 `json:"loss,omitempty"`
}

// Executor performs the work behind a job. It calls report for each
// progress update, in order, and returns when the job has been handed off
// or has failed.
type Executor interface {
	Execute(ctx context.Context, job *Job, report func(Progress)) error
}

// QueueExecutor acknowledges jobs without running them. It reports no
// progress.
type QueueExecutor struct{}

func (QueueExecutor) Execute(ctx context.Context, job *Job, report func(Progress)) error {
	if job == nil {
		return errors.New("training: nil job")
	}
	return ctx.Err()
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job *Job, report func(Progress)) error

func (f ExecutorFunc) Execute(ctx context.Context, job *Job, report func(Progress)) error {
	return f(ctx, job, report)
}
