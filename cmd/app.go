package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"diffusion_backend/artifacts"
	"diffusion_backend/core"
	"diffusion_backend/db"
	"diffusion_backend/generation"
	"diffusion_backend/imagegen"
	"diffusion_backend/logging"
	"diffusion_backend/metrics"
	"diffusion_backend/modelstore"
	"diffusion_backend/pipelines"
	"diffusion_backend/sdruntime"
	"diffusion_backend/server"
	"diffusion_backend/shutdown"
	"diffusion_backend/training"

	"go.uber.org/zap"
)

// cleanupInterval is how often expired history is purged.
const cleanupInterval = time.Hour

// App is the assembled service: every component plus the shutdown manager
// that tears them down in order.
type App struct {
	cfg     *core.Config
	logger  *logging.Logger
	manager *shutdown.Manager

	pipelines *pipelines.Cache
	metrics   *metrics.MetricsStore
	database  *db.Database
	feed      *server.JobFeed
	server    *server.Server

	// handleSignals is false when a service manager owns the process.
	handleSignals bool
}

type appOption func(*appOptions)

type appOptions struct {
	loader        sdruntime.Loader
	progress      io.Writer
	handleSignals bool
	exit          func(int)
}

// withLoader replaces the backend chosen by configuration.
func withLoader(l sdruntime.Loader) appOption {
	return func(o *appOptions) { o.loader = l }
}

// withoutSignals leaves SIGINT and SIGTERM to the caller.
func withoutSignals() appOption {
	return func(o *appOptions) { o.handleSignals = false }
}

func withExit(exit func(int)) appOption {
	return func(o *appOptions) { o.exit = exit }
}

// NewApp wires every component. Nothing listens until Run or Serve.
func NewApp(cfg *core.Config, logger *logging.Logger, opts ...appOption) (_ *App, err error) {
	o := appOptions{progress: os.Stderr, handleSignals: true}
	for _, opt := range opts {
		opt(&o)
	}
	z := logger.Zap()

	mopts := []shutdown.ManagerOption{shutdown.WithTimeout(cfg.ShutdownTimeout)}
	if o.exit != nil {
		mopts = append(mopts, shutdown.WithExit(o.exit))
	}
	app := &App{
		cfg:           cfg,
		logger:        logger,
		manager:       shutdown.NewManager(z, mopts...),
		handleSignals: o.handleSignals,
	}
	// Release whatever was built if a later step fails.
	defer func() {
		if err != nil {
			app.manager.Shutdown()
		}
	}()

	loader := o.loader
	if loader == nil {
		if loader, err = newLoader(cfg, z, o.progress); err != nil {
			return nil, err
		}
	}
	device := sdruntime.Device("")
	if cfg.Backend == core.BackendOpenAI {
		device = sdruntime.DeviceRemote
	}
	app.pipelines, err = pipelines.New(pipelines.Config{
		Loader:            loader,
		AdapterDir:        cfg.AdapterDir,
		AdapterWeightName: cfg.AdapterWeightName,
		Device:            device,
		Threads:           cfg.Threads,
		Logger:            z,
	})
	if err != nil {
		return nil, err
	}
	app.manager.Register("pipelines", shutdown.PriorityPipelines, shutdown.Closer(app.pipelines))
	if cfg.Backend == core.BackendLocal {
		app.manager.Register("partial-downloads", shutdown.PriorityFiles,
			shutdown.RemoveIncompleteDownloads(z, filepath.Dir(cfg.ModelPath)))
	}

	cache := artifacts.New(artifacts.WithLogger(z), artifacts.WarnThreshold(cfg.ArtifactCacheWarnEntries))

	storeCfg := metrics.DefaultStoreConfig()
	storeCfg.Version = core.Version
	storeCfg.Backend = cfg.Backend
	storeCfg.Device = app.pipelines.Device().String()
	storeCfg.LoadedVariants = app.pipelines.Loaded
	storeCfg.ArtifactStats = cache.Stats
	app.metrics = metrics.NewMetricsStore(storeCfg, time.Now())

	recorders := []generation.Recorder{app.metrics}
	observers := training.Observers{app.metrics}
	var history server.HistoryStore
	if cfg.HistoryEnabled {
		app.database, err = db.Open(db.Config{Path: cfg.HistoryDBPath})
		if err != nil {
			return nil, fmt.Errorf("history database: %w", err)
		}
		app.manager.Register("database", shutdown.PriorityDatabase, shutdown.Closer(app.database))

		repo := db.NewRepository(app.database)
		historyRec := db.NewHistoryRecorder(repo, z)
		jobRec := db.NewJobRecorder(repo, z)
		app.manager.Register("recorders", shutdown.PriorityRecorders, func(ctx context.Context) error {
			return errors.Join(historyRec.Close(ctx), jobRec.Close(ctx))
		})
		recorders = append(recorders, historyRec)
		observers = append(observers, jobRec)
		history = repo

		if retention := cfg.HistoryRetention(); retention > 0 {
			app.database.StartCleanupScheduler(app.manager.Context(), retention, cleanupInterval, z)
		}
	}

	orchestrator, err := generation.New(generation.Config{
		Pipelines: app.pipelines,
		Artifacts: cache,
		Timeout:   cfg.GenerationTimeout,
		Logger:    z,
		Recorders: recorders,
	})
	if err != nil {
		return nil, err
	}

	app.feed = server.NewJobFeed(server.DefaultFeedConfig(), z)
	observers = append(observers, app.feed)
	// Feed sockets are long-lived tracked requests; drop them as soon as
	// shutdown starts so the drain does not wait on them.
	context.AfterFunc(app.manager.Context(), func() { app.feed.Close(context.Background()) })

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Addr()
	srvCfg.ReadTimeout = cfg.ReadTimeout
	srvCfg.WriteTimeout = cfg.WriteTimeout
	srvCfg.TokenHash = cfg.APITokenHash
	deps := server.Deps{
		Generator: orchestrator,
		Trainer:   training.NewRunner(nil, observers, z),
		Status:    app.metrics,
		History:   history,
		Jobs:      app.feed,
		Guard:     app.manager.Middleware,
		Logger:    z,
	}
	app.server, err = server.New(srvCfg, deps)
	if err != nil {
		return nil, err
	}
	app.manager.Register("http", shutdown.PriorityHTTP, app.server.Shutdown)
	app.manager.Register("logger", shutdown.PriorityLogger, func(context.Context) error {
		// Syncing a terminal fails on some platforms; nothing to act on.
		_ = logger.Sync()
		return nil
	})
	return app, nil
}

// newLoader builds the pipeline loader for the configured backend.
func newLoader(cfg *core.Config, logger *zap.Logger, progress io.Writer) (sdruntime.Loader, error) {
	switch cfg.Backend {
	case core.BackendOpenAI:
		loader, err := imagegen.NewOpenAILoader(imagegen.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.ImageAPIURL,
			Model:   cfg.OpenAIImageModel,
		})
		if err != nil {
			return nil, err
		}
		return loader, nil
	case core.BackendLocal:
		loader := sdruntime.NewLocalLoader(cfg.ModelPath)
		if cfg.ModelURL != "" {
			store := modelstore.New(modelstore.WithLogger(logger), modelstore.WithProgressOutput(progress))
			spec := modelstore.Spec{
				Name:   "base model",
				URL:    cfg.ModelURL,
				Path:   cfg.ModelPath,
				SHA256: cfg.ModelSHA256,
			}
			loader.Provision = func(ctx context.Context) (string, error) {
				return store.Ensure(ctx, spec)
			}
		}
		return loader, nil
	default:
		return nil, core.ErrInvalidBackend(cfg.Backend)
	}
}

// Run listens on the configured address and blocks until shutdown.
func (a *App) Run() error {
	l, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		a.manager.Shutdown()
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(l)
}

// Serve accepts connections on l until a signal, Stop or a server error,
// then runs the shutdown sequence. A signal is returned as a
// *shutdown.SignalError so the caller can pick the exit code.
func (a *App) Serve(l net.Listener) error {
	if a.handleSignals {
		a.manager.Start()
	}
	a.logger.Info("diffusion backend starting",
		zap.String("version", core.Version),
		zap.String("addr", l.Addr().String()),
		zap.String("backend", a.cfg.Backend),
		zap.String("device", a.pipelines.Device().String()),
		zap.Bool("history", a.database != nil))

	ctx := a.manager.Context()
	go func() {
		if err := a.server.Serve(ctx, l); err != nil {
			a.manager.Trigger(err)
		}
	}()

	<-ctx.Done()
	cause := a.manager.Cause()
	shutdownErr := a.manager.Shutdown()

	if errors.Is(cause, context.Canceled) {
		cause = nil
	}
	return errors.Join(cause, shutdownErr)
}

// Stop requests shutdown; Serve returns once it completes.
func (a *App) Stop() {
	a.manager.Trigger(nil)
}
