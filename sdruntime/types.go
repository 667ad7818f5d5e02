package sdruntime

import (
	"fmt"
	"strings"
)

// Device identifies where a pipeline executes.
type Device string

const (
	DeviceCUDA   Device = "cuda"
	DeviceCPU    Device = "cpu"
	DeviceRemote Device = "remote"
)

func (d Device) String() string { return string(d) }

// Generator is a seeded random source bound to a device.
// A nil *Generator on a Call means non-deterministic output.
type Generator struct {
	Seed   int64
	Device Device
}

// Call holds the arguments of a single pipeline invocation.
// Optional arguments are pointers; nil means "not supplied" and the
// pipeline falls back to its own default instead of receiving a zero value.
type Call struct {
	Prompt         string
	NegativePrompt *string
	Steps          int
	GuidanceScale  float64
	Width          *int
	Height         *int
	Generator      *Generator
	// AdapterScale is the cross-attention scale of a fused adapter.
	AdapterScale *float64
}

// Parameter validation constants
const (
	DefaultImageSize  = 512
	MinImageSize      = 128
	MaxImageSize      = 2048
	ImageSizeMultiple = 8 // Image dimensions must be divisible by this

	MinSteps = 1
	MaxSteps = 150

	MinGuidanceScale = 0.0
	MaxGuidanceScale = 30.0

	MaxPromptLength = 1000
)

// Args returns the supplied arguments keyed by name. Absent optional
// arguments are left out entirely.
func (c Call) Args() map[string]any {
	args := map[string]any{
		"prompt":              c.Prompt,
		"num_inference_steps": c.Steps,
		"guidance_scale":      c.GuidanceScale,
	}
	if c.NegativePrompt != nil {
		args["negative_prompt"] = *c.NegativePrompt
	}
	if c.Width != nil {
		args["width"] = *c.Width
	}
	if c.Height != nil {
		args["height"] = *c.Height
	}
	if c.Generator != nil {
		args["generator"] = *c.Generator
	}
	if c.AdapterScale != nil {
		args["cross_attention_kwargs"] = map[string]float64{"scale": *c.AdapterScale}
	}
	return args
}

// ResolvedSize returns the output dimensions, defaulting absent values.
func (c Call) ResolvedSize() (width, height int) {
	width, height = DefaultImageSize, DefaultImageSize
	if c.Width != nil {
		width = *c.Width
	}
	if c.Height != nil {
		height = *c.Height
	}
	return width, height
}

// ValidateCall validates pipeline arguments and returns an error if invalid.
// This is a pure function with no side effects.
func ValidateCall(c Call) error {
	if strings.TrimSpace(c.Prompt) == "" {
		return fmt.Errorf("%w: prompt cannot be empty", ErrInvalidPrompt)
	}
	if err := checkPromptText("prompt", c.Prompt); err != nil {
		return err
	}
	if c.NegativePrompt != nil {
		if err := checkPromptText("negative prompt", *c.NegativePrompt); err != nil {
			return err
		}
	}

	if c.Width != nil {
		if err := validateDimension("width", *c.Width); err != nil {
			return err
		}
	}
	if c.Height != nil {
		if err := validateDimension("height", *c.Height); err != nil {
			return err
		}
	}

	if c.Steps < MinSteps || c.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d",
			ErrInvalidParams, c.Steps, MinSteps, MaxSteps)
	}

	if c.GuidanceScale < MinGuidanceScale || c.GuidanceScale > MaxGuidanceScale {
		return fmt.Errorf("%w: guidance scale %.2f must be between %.1f and %.1f",
			ErrInvalidParams, c.GuidanceScale, MinGuidanceScale, MaxGuidanceScale)
	}

	return nil
}

// checkPromptText rejects text the native library cannot take: NUL bytes
// end a C string early.
func checkPromptText(name, s string) error {
	if strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: %s contains null bytes", ErrInvalidPrompt, name)
	}
	if len(s) > MaxPromptLength {
		return fmt.Errorf("%w: %s length %d exceeds maximum %d", ErrInvalidPrompt, name, len(s), MaxPromptLength)
	}
	return nil
}

func validateDimension(name string, v int) error {
	if v < MinImageSize || v > MaxImageSize {
		return fmt.Errorf("%w: %s %d must be between %d and %d",
			ErrInvalidParams, name, v, MinImageSize, MaxImageSize)
	}
	if v%ImageSizeMultiple != 0 {
		return fmt.Errorf("%w: %s %d must be divisible by %d",
			ErrInvalidParams, name, v, ImageSizeMultiple)
	}
	return nil
}
