package training

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event names in emission order.
const (
	EventAccepted = "accepted"
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Status values carried in event data.
const (
	StatusAccepted = "accepted"
	StatusQueued   = "queued"
	StatusError    = "error"
)

// Event is one message on a job stream.
type Event struct {
	Name  string         `json:"event"`
	JobID string         `json:"job_id"`
	Data  map[string]any `json:"data"`
	Time  time.Time      `json:"time"`
}

// Terminal reports whether no event can follow this one.
func (e Event) Terminal() bool {
	return e.Name == EventComplete || e.Name == EventError
}

// FormatSSE renders one server-sent event frame.
func FormatSSE(event string, data any) ([]byte, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("training: encode %s event: %w", event, err)
	}
	return []byte("event: " + event + "\ndata: " + string(b) + "\n\n"), nil
}

// Observer receives a copy of every emitted event. Publish must not block.
type Observer interface {
	Publish(Event)
}

// Observers fans every event out to each member.
type Observers []Observer

func (obs Observers) Publish(e Event) {
	for _, o := range obs {
		if o != nil {
			o.Publish(e)
		}
	}
}

// SSEWriter writes events as server-sent event frames and flushes after
// each one when the underlying writer supports it.
type SSEWriter struct {
	mu sync.Mutex
	w  io.Writer
}

type flusher interface{ Flush() }

func NewSSEWriter(w io.Writer) *SSEWriter { return &SSEWriter{w: w} }

// Write sends one event.
func (s *SSEWriter) Write(e Event) error {
	frame, err := FormatSSE(e.Name, e.Data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if f, ok := s.w.(flusher); ok {
		f.Flush()
	}
	return nil
}

// Runner drives a job through its event sequence.
type Runner struct {
	executor Executor
	observer Observer
	logger   *zap.Logger
}

// NewRunner creates a Runner. A nil executor acknowledges jobs without
// running them.
func NewRunner(exec Executor, obs Observer, logger *zap.Logger) *Runner {
	if exec == nil {
		exec = QueueExecutor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{executor: exec, observer: obs, logger: logger.With(zap.String("component", "training"))}
}

// Run emits accepted, any progress the executor reports, and exactly one
// terminal event. It returns the first write error, after which nothing
// more is written.
func (r *Runner) Run(ctx context.Context, job *Job, w *SSEWriter) error {
	log := r.logger.With(zap.String("job_id", job.ID))
	var (
		mu       sync.Mutex
		writeErr error
		done     bool
	)
	emit := func(name string, data map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		if writeErr != nil || done {
			return
		}
		e := Event{Name: name, JobID: job.ID, Data: data, Time: time.Now()}
		if err := w.Write(e); err != nil {
			writeErr = err
			log.Warn("job stream closed by client", zap.String("event", name), zap.Error(err))
			return
		}
		if r.observer != nil {
			r.observer.Publish(e)
		}
		done = e.Terminal()
	}

	accepted := make(map[string]any, len(job.Params)+1)
	for k, v := range job.Params {
		accepted[k] = v
	}
	accepted["status"] = StatusAccepted
	emit(EventAccepted, accepted)
	log.Info("training job accepted")

	err := r.executor.Execute(ctx, job, func(p Progress) {
		data := map[string]any{"step": p.Step, "total": p.Total}
		if p.Message != "" {
			data["message"] = p.Message
		}
		if p.Loss != 0 {
			data["loss"] = p.Loss
		}
		emit(EventProgress, data)
	})
	if err != nil {
		log.Error("training job failed", zap.Error(err))
		emit(EventError, map[string]any{"status": StatusError, "message": err.Error()})
	} else {
		log.Info("training job queued")
		emit(EventComplete, map[string]any{"status": StatusQueued})
	}

	mu.Lock()
	defer mu.Unlock()
	return writeErr
}
