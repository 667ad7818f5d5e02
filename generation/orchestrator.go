// Package generation turns a request body into a PNG image.
//
// The Orchestrator validates the body, picks the pipeline variant, acquires
// the pipeline from the resource cache and runs it through the artifact
// cache so identical requests are computed once.
package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"time"

	"diffusion_backend/artifacts"
	"diffusion_backend/logging"
	"diffusion_backend/pipelines"
	"diffusion_backend/sdruntime"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one pipeline call when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// Acquirer hands out pipelines by variant. *pipelines.Cache satisfies it.
type Acquirer interface {
	Acquire(ctx context.Context, variant pipelines.Variant) (sdruntime.Pipeline, error)
}

// Outcome describes one finished Generate call, successful or not.
type Outcome struct {
	RequestID string
	// Request is zero when validation failed.
	Request   Request
	Key       artifacts.Key
	CacheHit  bool
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Recorder receives every outcome. Implementations must not block.
type Recorder interface {
	RecordGeneration(ctx context.Context, o Outcome)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, o Outcome)

func (f RecorderFunc) RecordGeneration(ctx context.Context, o Outcome) { f(ctx, o) }

// Result is a generated image ready for transport.
type Result struct {
	RequestID string
	PNG       []byte
	Variant   pipelines.Variant
	CacheHit  bool
	Key       artifacts.Key
}

// Base64 returns the PNG in standard base64 for JSON responses.
func (r *Result) Base64() string {
	return base64.StdEncoding.EncodeToString(r.PNG)
}

// Trained reports whether the fine-tuned pipeline produced the image.
func (r *Result) Trained() bool { return r.Variant == pipelines.FineTuned }

// Config wires an Orchestrator.
type Config struct {
	Pipelines Acquirer
	Artifacts *artifacts.Cache
	Timeout   time.Duration
	Logger    *zap.Logger
	Recorders []Recorder
}

// Orchestrator runs generation requests.
type Orchestrator struct {
	pipelines Acquirer
	artifacts *artifacts.Cache
	timeout   time.Duration
	logger    *zap.Logger
	recorders []Recorder
}

// New creates an Orchestrator. A nil artifact cache gets a fresh one.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Pipelines == nil {
		return nil, errors.New("generation: pipeline source is required")
	}
	o := &Orchestrator{
		pipelines: cfg.Pipelines,
		artifacts: cfg.Artifacts,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		recorders: cfg.Recorders,
	}
	if o.artifacts == nil {
		o.artifacts = artifacts.New()
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("component", "generation"))
	return o, nil
}

// Artifacts exposes the artifact cache for status reporting.
func (o *Orchestrator) Artifacts() *artifacts.Cache { return o.artifacts }

// Generate validates body and produces a PNG.
//
// Errors are *payload.Error for bad input, *pipelines.NotFoundError or
// *pipelines.ConstructionError when the pipeline cannot be built, and
// *Error when the pipeline call fails. Nothing is cached on failure.
func (o *Orchestrator) Generate(ctx context.Context, body map[string]any) (res *Result, err error) {
	out := Outcome{RequestID: uuid.NewString(), StartedAt: time.Now()}
	defer func() {
		out.Duration = time.Since(out.StartedAt)
		out.Err = err
		if res != nil {
			out.CacheHit = res.CacheHit
		}
		o.record(ctx, out)
	}()

	req, err := ParseRequest(body)
	if err != nil {
		return nil, err
	}
	out.Request = req
	out.Key = req.Key()

	log := o.logger.With(
		zap.String("request_id", out.RequestID),
		zap.String("variant", string(req.Variant())),
		zap.String("key", out.Key.String()))

	pipe, err := o.pipelines.Acquire(ctx, req.Variant())
	if err != nil {
		log.Error("pipeline unavailable", zap.Error(err))
		return nil, err
	}

	var gen *sdruntime.Generator
	if req.Deterministic() {
		gen = &sdruntime.Generator{Seed: req.Seed, Device: pipe.Device()}
	}
	call := req.Call(gen)

	img, hit, err := o.artifacts.GetOrCompute(ctx, out.Key, func(ctx context.Context) (image.Image, error) {
		return o.run(ctx, pipe, call)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// The caller went away; the shared compute carries on for others.
			log.Info("request abandoned", zap.Error(err))
			return nil, err
		}
		log.Error("generation failed", zap.Error(err))
		return nil, &Error{Err: err}
	}

	png, err := sdruntime.EncodePNG(img)
	if err != nil {
		return nil, &Error{Err: err}
	}

	w, h := call.ResolvedSize()
	log.Info("image generated", logging.GenerationFields(logging.GenerationMetrics{
		Variant:  string(req.Variant()),
		Steps:    req.Steps,
		Width:    w,
		Height:   h,
		CacheHit: hit,
		Bytes:    len(png),
		Duration: time.Since(out.StartedAt),
	}))

	return &Result{
		RequestID: out.RequestID,
		PNG:       png,
		Variant:   req.Variant(),
		CacheHit:  hit,
		Key:       out.Key,
	}, nil
}

// run calls the pipeline and gives up after the configured timeout. ctx is
// already detached from the requesting caller. The
// native call cannot be interrupted, so on timeout it is left to finish in
// the background and its result is dropped.
func (o *Orchestrator) run(ctx context.Context, pipe sdruntime.Pipeline, call sdruntime.Call) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type result struct {
		img image.Image
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := pipe.Generate(ctx, call)
		done <- result{img, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", sdruntime.ErrGenerationTimeout, o.timeout)
		}
		return r.img, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", sdruntime.ErrGenerationTimeout, o.timeout)
		}
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) record(ctx context.Context, out Outcome) {
	for _, r := range o.recorders {
		r.RecordGeneration(ctx, out)
	}
}
