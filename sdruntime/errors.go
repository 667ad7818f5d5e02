// Package sdruntime provides Stable Diffusion image generation capabilities.
package sdruntime

import "errors"

// Loading a pipeline.
var (
	ErrModelNotFound      = errors.New("sdruntime: model file not found")
	ErrModelLoadFailed    = errors.New("sdruntime: failed to load model")
	ErrModelCorrupted     = errors.New("sdruntime: model file is corrupted or invalid")
	ErrAdapterLoadFailed  = errors.New("sdruntime: failed to load adapter weights")
	ErrAdapterUnsupported = errors.New("sdruntime: backend does not support adapter weights")
	ErrCUDANotAvailable   = errors.New("sdruntime: CUDA not available")
)

// Running a pipeline. ErrInvalidPrompt and ErrInvalidParams come from
// ValidateCall before any work starts.
var (
	ErrInvalidPrompt     = errors.New("sdruntime: invalid prompt")
	ErrInvalidParams     = errors.New("sdruntime: invalid generation parameters")
	ErrGenerationFailed  = errors.New("sdruntime: image generation failed")
	ErrGenerationTimeout = errors.New("sdruntime: image generation timed out")
	ErrOutOfVRAM         = errors.New("sdruntime: out of VRAM")
	ErrPipelineClosed    = errors.New("sdruntime: pipeline is closed")
)
