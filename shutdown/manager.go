package shutdown

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Manager ties together the operation tracker, the cleanup registry and
// OS signal handling.
//
//	m := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
//	m.Register("http", shutdown.PriorityHTTP, srv.Shutdown)
//	m.Start()
//	<-m.Context().Done()
//	err := m.Shutdown()
type Manager struct {
	logger   *zap.Logger
	timeout  time.Duration
	exit     func(code int)
	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelCauseFunc

	tracker  *OperationTracker
	registry *Registry
	signals  *SignalCounter
	sigChan  chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout bounds the whole shutdown sequence. Default 30s.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithExit replaces os.Exit for forced termination.
func WithExit(exit func(code int)) ManagerOption {
	return func(m *Manager) { m.exit = exit }
}

func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancelCause(context.Background())

	m := &Manager{
		logger:   logger.With(zap.String("component", "shutdown")),
		timeout:  30 * time.Second,
		exit:     os.Exit,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func(sig os.Signal) {
		m.logger.Warn("second signal received, exiting immediately", zap.String("signal", sig.String()))
		_ = m.logger.Sync()
		m.exit(ExitCodeFor(sig))
	})
	return m
}

// Context is cancelled once shutdown has been requested.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Cause returns why the context was cancelled, or nil while running.
func (m *Manager) Cause() error {
	return context.Cause(m.ctx)
}

// Trigger requests shutdown without a signal, e.g. when the listener fails.
func (m *Manager) Trigger(reason error) {
	if reason == nil {
		reason = context.Canceled
	}
	m.cancel(reason)
}

// Register adds a cleanup function; see the Priority constants.
func (m *Manager) Register(name string, priority int, fn Func) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler",
		zap.String("name", name),
		zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Calling it twice is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			if m.signals.Increment(sig) == 1 {
				m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
				m.cancel(&SignalError{Signal: sig})
			}
		}
	}()
}

// SignalError is the cancellation cause when a signal stopped the service.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string { return "received " + e.Signal.String() }

// Shutdown rejects new operations, waits for running ones and then runs
// every registered function. All of it shares one timeout. Later calls
// return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	m.cancel(context.Canceled)
	begin := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Info("shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Int64("in_flight", m.tracker.ActiveCount()),
		zap.Strings("handlers", m.registry.Names()))

	m.tracker.Close()
	if err := m.tracker.Wait(ctx); err != nil {
		m.logger.Warn("in-flight operations did not finish",
			zap.Int64("remaining", m.tracker.ActiveCount()))
	}

	// Cleanup always gets at least a second, even after a slow drain.
	cleanupCtx := ctx
	if deadline, _ := ctx.Deadline(); time.Until(deadline) < time.Second {
		var cancelCleanup context.CancelFunc
		cleanupCtx, cancelCleanup = context.WithTimeout(context.Background(), time.Second)
		defer cancelCleanup()
	}

	errs := m.registry.Shutdown(cleanupCtx)
	for _, err := range errs {
		m.logger.Error("shutdown handler failed", zap.Error(err))
	}

	if started {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}

	m.logger.Info("shutdown complete",
		zap.Duration("duration", time.Since(begin)),
		zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}

// WrapOperation runs fn as a tracked operation. It returns
// ErrTrackerClosed without calling fn once shutdown has begun.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("operation rejected during shutdown", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Middleware tracks each request as an operation and answers 503 once
// shutdown has begun.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := m.WrapOperation(r.Context(), r.URL.Path, func(context.Context) error {
			next.ServeHTTP(w, r)
			return nil
		})
		if errors.Is(err, ErrTrackerClosed) {
			w.Header().Set("Connection", "close")
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		}
	})
}

func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown || m.tracker.IsClosed()
}

// RegisteredHandlers lists handler names in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
