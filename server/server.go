// Package server exposes generation, training and status over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"diffusion_backend/db"
	"diffusion_backend/generation"
	"diffusion_backend/metrics"
	"diffusion_backend/training"

	"go.uber.org/zap"
)

// Generator produces images. *generation.Orchestrator satisfies it.
type Generator interface {
	Generate(ctx context.Context, body map[string]any) (*generation.Result, error)
}

// HistoryStore lists persisted generations. *db.Repository satisfies it.
type HistoryStore interface {
	RecentGenerations(ctx context.Context, limit int) ([]db.GenerationRecord, error)
}

// StatusSource reports the service snapshot. *metrics.MetricsStore
// satisfies it.
type StatusSource interface {
	GetSystemStatus() metrics.SystemStatus
}

// Config configures the listener and request limits.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
	// TokenHash enables bearer-token auth on write routes and history when
	// set. It must be a bcrypt hash.
	TokenHash    string
	LogSkipPaths []string
}

func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:5000",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
		MaxBodyBytes: 1 << 20,
		LogSkipPaths: []string{"/health", "/api/status"},
	}
}

// Deps are the collaborators behind the routes. Generator and Trainer are
// required; the rest disable their routes when nil.
type Deps struct {
	Generator Generator
	Trainer   *training.Runner
	Status    StatusSource
	History   HistoryStore
	Jobs      *JobFeed
	// Guard wraps every route, typically shutdown.Manager.Middleware.
	Guard  func(http.Handler) http.Handler
	Logger *zap.Logger
}

// Server is the HTTP front end.
type Server struct {
	cfg        Config
	deps       Deps
	logger     *zap.Logger
	mux        *http.ServeMux
	auth       *TokenAuth
	httpServer *http.Server
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Generator == nil {
		return nil, errors.New("server: generator is required")
	}
	if deps.Trainer == nil {
		return nil, errors.New("server: training runner is required")
	}
	def := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("component", "server")),
		mux:    http.NewServeMux(),
	}
	if cfg.TokenHash != "" {
		auth, err := NewTokenAuth(cfg.TokenHash, nil, s.logger)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		s.auth = auth
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     zap.NewStdLog(s.logger),
	}
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.Handle("POST /generate", s.protect(http.HandlerFunc(s.handleGenerate)))
	s.mux.Handle("POST /generate/image", s.protect(s.imageHandler(nil)))
	base, trained := false, true
	s.mux.Handle("POST /api/ai/baseModel", s.protect(s.imageHandler(&base)))
	s.mux.Handle("POST /api/ai/trainedModel", s.protect(s.imageHandler(&trained)))
	s.mux.Handle("POST /train", s.protect(http.HandlerFunc(s.handleTrain)))

	if s.deps.Status != nil {
		s.mux.HandleFunc("GET /api/status", s.handleStatus)
	}
	if s.deps.History != nil {
		s.mux.Handle("GET /api/history", s.protect(http.HandlerFunc(s.handleHistory)))
	}
	if s.deps.Jobs != nil {
		s.mux.Handle("GET /ws/jobs", s.deps.Jobs)
	}
}

func (s *Server) protect(h http.Handler) http.Handler {
	if s.auth == nil {
		return h
	}
	return s.auth.Middleware(h)
}

// Handler returns the routes wrapped in the middleware stack.
func (s *Server) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		requestLogger(s.logger, s.cfg.LogSkipPaths),
		recoverer(s.logger),
	}
	if s.deps.Guard != nil {
		mws = append(mws, s.deps.Guard)
	}
	return chain(s.mux, mws...)
}

// Serve accepts connections on l until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if s.auth != nil {
		go s.sweepRateLimits(ctx)
	}
	s.logger.Info("http server listening",
		zap.String("addr", l.Addr().String()),
		zap.Bool("auth_enabled", s.auth != nil))

	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, l)
}

// Shutdown stops accepting connections and waits for active requests
// within ctx. Open job feed sockets are closed first since the HTTP server
// does not track hijacked connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.deps.Jobs != nil {
		s.deps.Jobs.Close(ctx)
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) Addr() string { return s.cfg.Addr }

func (s *Server) sweepRateLimits(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.auth.limiter.Cleanup()
		}
	}
}
