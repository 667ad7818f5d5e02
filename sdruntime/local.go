package sdruntime

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"
)

// LocalLoader builds pipelines on top of the stable-diffusion.cpp binding.
type LocalLoader struct {
	// ModelPath is the base checkpoint. Ignored when Provision is set.
	ModelPath string
	// Provision makes the base checkpoint available on disk and returns its
	// path. It is called on every base load and must be idempotent.
	Provision func(ctx context.Context) (string, error)
}

// NewLocalLoader creates a loader for the checkpoint at modelPath.
func NewLocalLoader(modelPath string) *LocalLoader {
	return &LocalLoader{ModelPath: modelPath}
}

func (l *LocalLoader) basePath(ctx context.Context) (string, error) {
	if l.Provision != nil {
		return l.Provision(ctx)
	}
	if l.ModelPath == "" {
		return "", fmt.Errorf("%w: no base model path configured", ErrModelNotFound)
	}
	return l.ModelPath, nil
}

// LoadBase loads the base checkpoint.
func (l *LocalLoader) LoadBase(ctx context.Context, opts LoadOptions) (Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.basePath(ctx)
	if err != nil {
		return nil, err
	}
	sd, err := LoadModel(path, opts)
	if err != nil {
		return nil, err
	}
	return newLocalPipeline(sd, opts.Device), nil
}

// ApplyAdapter fuses dir/weightName into a pipeline returned by this loader.
func (l *LocalLoader) ApplyAdapter(ctx context.Context, p Pipeline, dir, weightName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lp, ok := p.(*localPipeline)
	if !ok {
		return fmt.Errorf("%w: pipeline %T is not local", ErrAdapterUnsupported, p)
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()
	return ApplyLora(lp.sd, filepath.Join(dir, weightName))
}

// LoadSingleFile loads a standalone checkpoint. The tokenizer is built into
// the runtime, so only the text encoder source is forwarded.
func (l *LocalLoader) LoadSingleFile(ctx context.Context, path string, comps Components, opts LoadOptions) (Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clip := ""
	if comps.TextEncoder != nil {
		clip = comps.TextEncoder.Source
	}
	sd, err := LoadModelWithTextEncoder(path, clip, opts)
	if err != nil {
		return nil, err
	}
	return newLocalPipeline(sd, opts.Device), nil
}

// LoadTextEncoder resolves the text encoder of the base checkpoint.
func (l *LocalLoader) LoadTextEncoder(ctx context.Context) (*Component, error) {
	return l.loadComponent(ctx, ComponentTextEncoder)
}

// LoadTokenizer resolves the tokenizer of the base checkpoint.
func (l *LocalLoader) LoadTokenizer(ctx context.Context) (*Component, error) {
	return l.loadComponent(ctx, ComponentTokenizer)
}

func (l *LocalLoader) loadComponent(ctx context.Context, kind ComponentKind) (*Component, error) {
	path, err := l.basePath(ctx)
	if err != nil {
		return nil, err
	}
	if err := statModelFile(path); err != nil {
		return nil, err
	}
	return &Component{Kind: kind, Source: path}, nil
}

// localPipeline serializes calls into a single SDContext; the C runtime is
// not reentrant.
type localPipeline struct {
	mu     sync.Mutex
	sd     *SDContext
	device Device
}

func newLocalPipeline(sd *SDContext, device Device) *localPipeline {
	if device == "" {
		device = DeviceCPU
	}
	return &localPipeline{sd: sd, device: device}
}

func (p *localPipeline) Device() Device { return p.device }

// Generate runs txt2img. A nil Generator draws a fresh random seed.
func (p *localPipeline) Generate(ctx context.Context, call Call) (image.Image, error) {
	if err := ValidateCall(call); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := RandomSeed()
	if call.Generator != nil {
		seed = call.Generator.Seed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sd.IsValid() {
		return nil, ErrPipelineClosed
	}
	raw, err := generateImpl(p.sd, call, seed)
	if err != nil {
		return nil, err
	}
	img, err := RGBAImage(raw.Pix, raw.Width, raw.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return img, nil
}

func (p *localPipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	FreeContext(p.sd)
	return nil
}
