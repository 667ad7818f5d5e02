package shutdown

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Func releases one resource. It should honor ctx's deadline and be safe
// to call more than once.
type Func func(ctx context.Context) error

// Priorities used by the service. Lower values run first, so the HTTP
// listener stops before the writers it feeds are drained, and the logger
// is flushed last.
const (
	PriorityHTTP      = 10
	PriorityScheduler = 15
	PriorityRecorders = 20
	PriorityPipelines = 30
	PriorityDatabase  = 35
	PriorityFiles     = 45
	PriorityLogger    = 90
)

type entry struct {
	name     string
	fn       Func
	priority int
}

// Registry holds cleanup functions and runs them once, in priority order.
// Entries with equal priority run in registration order.
type Registry struct {
	mu      sync.Mutex
	entries []entry
	closed  bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn. Registration after Shutdown is ignored.
func (r *Registry) Register(name string, priority int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.entries = append(r.entries, entry{name: name, fn: fn, priority: priority})
}

// Shutdown runs every function even if earlier ones fail and returns the
// failures wrapped with their names. Later calls return nil.
func (r *Registry) Shutdown(ctx context.Context) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sorted := r.sortedLocked()
	r.mu.Unlock()

	var errs []error
	for _, e := range sorted {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errs
}

// Names lists registered functions in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := r.sortedLocked()
	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.name
	}
	return names
}

func (r *Registry) sortedLocked() []entry {
	sorted := make([]entry, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Closer adapts an io.Closer. The context is ignored.
func Closer(c io.Closer) Func {
	return func(context.Context) error { return c.Close() }
}
