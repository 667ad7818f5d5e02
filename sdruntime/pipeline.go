package sdruntime

import (
	"context"
	"image"
)

// Pipeline is a loaded, ready-to-call text-to-image model.
//
// Generate blocks until the image is produced. Implementations serialize
// calls internally when the underlying runtime is not reentrant.
type Pipeline interface {
	Generate(ctx context.Context, call Call) (image.Image, error)
	Device() Device
	Close() error
}

// ComponentKind names a sub-model that can be loaded on its own.
type ComponentKind string

const (
	ComponentTextEncoder ComponentKind = "text_encoder"
	ComponentTokenizer   ComponentKind = "tokenizer"
)

// Component is a sub-model pulled out of the base checkpoint, used when a
// single-file checkpoint does not carry its own.
type Component struct {
	Kind   ComponentKind
	Source string
}

// Components bundles the sub-models handed to a single-file load.
type Components struct {
	TextEncoder *Component
	Tokenizer   *Component
}

// LoadOptions control how a pipeline is constructed.
type LoadOptions struct {
	Device Device
	// Threads is the CPU thread count; 0 lets the runtime decide.
	Threads int
}

// Loader constructs pipelines. The Resource Cache is its only caller.
type Loader interface {
	// LoadBase loads the pretrained base model.
	LoadBase(ctx context.Context, opts LoadOptions) (Pipeline, error)
	// ApplyAdapter loads adapter weights from dir/weightName into p and
	// fuses them so later calls need no extra work.
	ApplyAdapter(ctx context.Context, p Pipeline, dir, weightName string) error
	// LoadSingleFile loads a standalone checkpoint, borrowing the given
	// components from the base model.
	LoadSingleFile(ctx context.Context, path string, comps Components, opts LoadOptions) (Pipeline, error)
	LoadTextEncoder(ctx context.Context) (*Component, error)
	LoadTokenizer(ctx context.Context) (*Component, error)
}

// DetectDevice reports the preferred device for local pipelines.
func DetectDevice() Device {
	if cudaAvailableImpl() {
		return DeviceCUDA
	}
	return DeviceCPU
}
