// Package pipelines owns the lifecycle of loaded text-to-image pipelines.
//
// A Cache builds at most one pipeline per Variant, lazily on first use, and
// hands the same instance to every later caller. Construction can take
// minutes and pins device memory, so concurrent first requests for the
// same variant wait for a single build instead of starting their own.
package pipelines

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"diffusion_backend/sdruntime"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Variant selects a pipeline configuration.
type Variant string

const (
	Base      Variant = "base"
	FineTuned Variant = "fine_tuned"
)

// VariantFor maps the request's trained flag to a variant.
func VariantFor(trained bool) Variant {
	if trained {
		return FineTuned
	}
	return Base
}

func (v Variant) Valid() bool { return v == Base || v == FineTuned }

// DefaultAdapterWeightName is the file name LoRA training writes by default.
const DefaultAdapterWeightName = "pytorch_lora_weights.safetensors"

// Config configures a Cache.
type Config struct {
	Loader sdruntime.Loader
	// AdapterDir holds the fine-tuned adapter weights.
	AdapterDir string
	// AdapterWeightName is the weight file inside AdapterDir.
	AdapterWeightName string
	// Device overrides detection. Empty means detect once at creation.
	Device  sdruntime.Device
	Threads int
	Logger  *zap.Logger
}

// Cache memoizes one pipeline per variant.
type Cache struct {
	loader     sdruntime.Loader
	adapterDir string
	weightName string
	opts       sdruntime.LoadOptions
	logger     *zap.Logger

	mu        sync.RWMutex
	instances map[Variant]sdruntime.Pipeline
	group     singleflight.Group
	builds    atomic.Int64

	textEncoder componentOnce
	tokenizer   componentOnce
}

// componentOnce loads a component until it first succeeds and keeps that
// result. Failures are returned but not kept.
type componentOnce struct {
	mu   sync.Mutex
	load func() (*sdruntime.Component, error)
	comp *sdruntime.Component
}

func (o *componentOnce) get() (*sdruntime.Component, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.comp != nil {
		return o.comp, nil
	}
	comp, err := o.load()
	if err != nil {
		return nil, err
	}
	o.comp = comp
	return comp, nil
}

// New creates a Cache. The device is fixed here for the life of the cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Loader == nil {
		return nil, errors.New("pipelines: loader is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	weightName := cfg.AdapterWeightName
	if weightName == "" {
		weightName = DefaultAdapterWeightName
	}
	device := cfg.Device
	if device == "" {
		device = sdruntime.DetectDevice()
	}

	c := &Cache{
		loader:     cfg.Loader,
		adapterDir: cfg.AdapterDir,
		weightName: weightName,
		opts:       sdruntime.LoadOptions{Device: device, Threads: cfg.Threads},
		logger:     logger.With(zap.String("component", "pipelines")),
		instances:  make(map[Variant]sdruntime.Pipeline),
	}

	// Auxiliary components are loaded only if the single-file fallback is
	// ever taken, and kept once a load succeeds.
	c.textEncoder.load = func() (*sdruntime.Component, error) {
		return c.loader.LoadTextEncoder(context.Background())
	}
	c.tokenizer.load = func() (*sdruntime.Component, error) {
		return c.loader.LoadTokenizer(context.Background())
	}

	logger.Info("pipeline cache ready",
		zap.String("device", device.String()),
		zap.String("adapter_path", c.AdapterPath()))
	return c, nil
}

// Device returns the device every pipeline is placed on.
func (c *Cache) Device() sdruntime.Device { return c.opts.Device }

// AdapterPath is the on-disk location of the fine-tuned weights.
func (c *Cache) AdapterPath() string {
	return filepath.Join(c.adapterDir, c.weightName)
}

// Builds returns how many pipelines have been constructed successfully.
func (c *Cache) Builds() int64 { return c.builds.Load() }

// Loaded lists the variants with a live pipeline, sorted.
func (c *Cache) Loaded() []Variant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Variant, 0, len(c.instances))
	for v := range c.instances {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Acquire returns the pipeline for variant, building it on first use.
// Failed builds are not remembered; the next call tries again.
func (c *Cache) Acquire(ctx context.Context, variant Variant) (sdruntime.Pipeline, error) {
	if !variant.Valid() {
		return nil, fmt.Errorf("pipelines: unknown variant %q", variant)
	}
	if p := c.lookup(variant); p != nil {
		return p, nil
	}

	ch := c.group.DoChan(string(variant), func() (any, error) {
		// A build that finished between lookup and DoChan left its result.
		if p := c.lookup(variant); p != nil {
			return p, nil
		}
		// Detached so one caller's cancellation cannot abort a build that
		// others are waiting on.
		p, err := c.build(context.WithoutCancel(ctx), variant)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.instances[variant] = p
		c.mu.Unlock()
		c.builds.Add(1)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(sdruntime.Pipeline), nil
	}
}

func (c *Cache) lookup(variant Variant) sdruntime.Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instances[variant]
}

func (c *Cache) build(ctx context.Context, variant Variant) (sdruntime.Pipeline, error) {
	start := time.Now()
	log := c.logger.With(zap.String("variant", string(variant)))

	if variant == FineTuned {
		// Checked before anything touches the device.
		path := c.AdapterPath()
		if _, err := os.Stat(path); err != nil {
			log.Warn("adapter weights missing", zap.String("path", path))
			return nil, &NotFoundError{Path: path, Err: err}
		}
	}

	log.Info("building pipeline", zap.String("device", c.opts.Device.String()))

	var (
		p   sdruntime.Pipeline
		err error
	)
	if variant == FineTuned {
		p, err = c.buildFineTuned(ctx, log)
	} else {
		p, err = c.loader.LoadBase(ctx, c.opts)
		if err != nil {
			err = &ConstructionError{Variant: variant, Causes: []error{err}}
		}
	}
	if err != nil {
		log.Error("pipeline build failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	log.Info("pipeline ready", zap.Duration("elapsed", time.Since(start)))
	return p, nil
}

// buildFineTuned loads the base pipeline and fuses the adapter into it.
// If that fails the weight file is loaded as a standalone checkpoint that
// borrows the base text encoder and tokenizer.
func (c *Cache) buildFineTuned(ctx context.Context, log *zap.Logger) (sdruntime.Pipeline, error) {
	p, adapterErr := c.loadWithAdapter(ctx)
	if adapterErr == nil {
		return p, nil
	}

	log.Warn("adapter load failed, trying single-file checkpoint", zap.Error(adapterErr))

	single, singleErr := c.loadSingleFile(ctx)
	if singleErr == nil {
		return single, nil
	}

	return nil, &ConstructionError{
		Variant: FineTuned,
		Causes:  []error{adapterErr, singleErr},
	}
}

func (c *Cache) loadWithAdapter(ctx context.Context) (sdruntime.Pipeline, error) {
	p, err := c.loader.LoadBase(ctx, c.opts)
	if err != nil {
		return nil, fmt.Errorf("load base: %w", err)
	}
	if err := c.loader.ApplyAdapter(ctx, p, c.adapterDir, c.weightName); err != nil {
		p.Close()
		return nil, fmt.Errorf("apply adapter: %w", err)
	}
	return p, nil
}

func (c *Cache) loadSingleFile(ctx context.Context) (sdruntime.Pipeline, error) {
	te, err := c.textEncoder.get()
	if err != nil {
		return nil, fmt.Errorf("load text encoder: %w", err)
	}
	tok, err := c.tokenizer.get()
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	p, err := c.loader.LoadSingleFile(ctx, c.AdapterPath(), sdruntime.Components{TextEncoder: te, Tokenizer: tok}, c.opts)
	if err != nil {
		return nil, fmt.Errorf("load single file: %w", err)
	}
	return p, nil
}

// Close releases every pipeline. The cache must not be used afterwards.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for v, p := range c.instances {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", v, err))
		}
		delete(c.instances, v)
	}
	return errors.Join(errs...)
}
