// Package sdtest provides in-memory Loader and Pipeline implementations for
// tests that need a compute resource without a model on disk.
package sdtest

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"diffusion_backend/sdruntime"
)

// Pipeline records every call and returns a solid image sized to the call.
type Pipeline struct {
	Dev sdruntime.Device
	// Err, when set, is returned by every Generate call.
	Err error
	// Delay simulates inference time. Generate still honours ctx.
	Delay time.Duration
	// Adapter is the weight file fused by ApplyAdapter, if any.
	Adapter string

	mu     sync.Mutex
	calls  []sdruntime.Call
	closed atomic.Bool
}

func (p *Pipeline) Generate(ctx context.Context, call sdruntime.Call) (image.Image, error) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.closed.Load() {
		return nil, sdruntime.ErrPipelineClosed
	}

	w, h := call.ResolvedSize()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shade := uint8(len(call.Prompt))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = shade
		img.Pix[i+1] = 128
		img.Pix[i+2] = 255 - shade
		img.Pix[i+3] = 255
	}
	img.Set(0, 0, color.RGBA{A: 255})
	return img, nil
}

func (p *Pipeline) Device() sdruntime.Device { return p.Dev }

func (p *Pipeline) Close() error {
	p.closed.Store(true)
	return nil
}

// Calls returns a copy of every Call received so far.
func (p *Pipeline) Calls() []sdruntime.Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sdruntime.Call(nil), p.calls...)
}

// Closed reports whether Close has been called.
func (p *Pipeline) Closed() bool { return p.closed.Load() }

// Loader builds Pipelines and counts every method call.
type Loader struct {
	// BaseErr, AdapterErr, SingleFileErr, TextEncoderErr and TokenizerErr
	// force the matching method to fail.
	BaseErr        error
	AdapterErr     error
	SingleFileErr  error
	TextEncoderErr error
	TokenizerErr   error
	// BuildDelay is slept inside LoadBase to widen race windows.
	BuildDelay time.Duration
	// PipelineErr is copied into every pipeline built.
	PipelineErr error

	BaseLoads        atomic.Int32
	AdapterLoads     atomic.Int32
	SingleFileLoads  atomic.Int32
	TextEncoderLoads atomic.Int32
	TokenizerLoads   atomic.Int32

	mu         sync.Mutex
	lastComps  sdruntime.Components
	lastDevice sdruntime.Device
}

func (l *Loader) LoadBase(ctx context.Context, opts sdruntime.LoadOptions) (sdruntime.Pipeline, error) {
	l.BaseLoads.Add(1)
	if l.BuildDelay > 0 {
		time.Sleep(l.BuildDelay)
	}
	if l.BaseErr != nil {
		return nil, l.BaseErr
	}
	l.mu.Lock()
	l.lastDevice = opts.Device
	l.mu.Unlock()
	return &Pipeline{Dev: opts.Device, Err: l.PipelineErr}, nil
}

func (l *Loader) ApplyAdapter(ctx context.Context, p sdruntime.Pipeline, dir, weightName string) error {
	l.AdapterLoads.Add(1)
	if l.AdapterErr != nil {
		return l.AdapterErr
	}
	if fp, ok := p.(*Pipeline); ok {
		fp.Adapter = weightName
	}
	return nil
}

func (l *Loader) LoadSingleFile(ctx context.Context, path string, comps sdruntime.Components, opts sdruntime.LoadOptions) (sdruntime.Pipeline, error) {
	l.SingleFileLoads.Add(1)
	l.mu.Lock()
	l.lastComps = comps
	l.mu.Unlock()
	if l.SingleFileErr != nil {
		return nil, l.SingleFileErr
	}
	return &Pipeline{Dev: opts.Device, Err: l.PipelineErr, Adapter: path}, nil
}

func (l *Loader) LoadTextEncoder(ctx context.Context) (*sdruntime.Component, error) {
	l.TextEncoderLoads.Add(1)
	if l.TextEncoderErr != nil {
		return nil, l.TextEncoderErr
	}
	return &sdruntime.Component{Kind: sdruntime.ComponentTextEncoder, Source: "base"}, nil
}

func (l *Loader) LoadTokenizer(ctx context.Context) (*sdruntime.Component, error) {
	l.TokenizerLoads.Add(1)
	if l.TokenizerErr != nil {
		return nil, l.TokenizerErr
	}
	return &sdruntime.Component{Kind: sdruntime.ComponentTokenizer, Source: "base"}, nil
}

// LastComponents returns the components handed to the latest single-file load.
func (l *Loader) LastComponents() sdruntime.Components {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastComps
}

// LastDevice returns the device of the latest base load.
func (l *Loader) LastDevice() sdruntime.Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastDevice
}

// Total returns the number of load calls of any kind.
func (l *Loader) Total() int32 {
	return l.BaseLoads.Load() + l.AdapterLoads.Load() + l.SingleFileLoads.Load() +
		l.TextEncoderLoads.Load() + l.TokenizerLoads.Load()
}
