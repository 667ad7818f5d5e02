package db

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultChannelCapacity is the AsyncWriter queue length.
const DefaultChannelCapacity = 100

// AsyncWriter queues values for a background handler so request paths never
// wait on the database. When the queue is full the value is dropped and
// counted.
type AsyncWriter[T any] struct {
	ch      chan T
	handler func(T) error
	logger  *zap.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncWriter creates a writer. capacity <= 0 uses DefaultChannelCapacity.
func NewAsyncWriter[T any](handler func(T) error, capacity int, logger *zap.Logger) *AsyncWriter[T] {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncWriter[T]{
		ch:      make(chan T, capacity),
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the handler goroutine. Later calls do nothing.
func (w *AsyncWriter[T]) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	go w.run()
}

func (w *AsyncWriter[T]) run() {
	defer close(w.done)
	for v := range w.ch {
		if err := w.handler(v); err != nil {
			w.failed.Add(1)
			w.logger.Warn("async write failed", zap.Error(err))
		}
	}
}

// Write queues v without blocking. It returns false when the queue is full
// or the writer is closed.
func (w *AsyncWriter[T]) Write(v T) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.ch <- v:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Pending is the number of queued values.
func (w *AsyncWriter[T]) Pending() int { return len(w.ch) }

// Dropped counts values rejected by Write.
func (w *AsyncWriter[T]) Dropped() int64 { return w.dropped.Load() }

// Failed counts values the handler returned an error for.
func (w *AsyncWriter[T]) Failed() int64 { return w.failed.Load() }

// Close stops accepting values and waits until the queue is drained or ctx
// ends. A writer that was never started is drained on the caller's
// goroutine.
func (w *AsyncWriter[T]) Close(ctx context.Context) error {
	w.mu.Lock()
	first := !w.closed
	started := w.started
	if first {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()

	if first && !started {
		w.run()
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("async writer closed before drain", zap.Int("pending", w.Pending()))
		return ctx.Err()
	}
}
