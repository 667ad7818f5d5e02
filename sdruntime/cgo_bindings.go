// Package sdruntime provides CGo bindings for stable-diffusion.cpp.
//
// This file contains wrapper functions for the stable-diffusion.cpp C library.
// When the library is not available, build without the "sd" tag (or with
// "stub") to use implementations that only check files on disk.
//
// Example build with real library:
//
//	CGO_CFLAGS="-I/path/to/stable-diffusion.cpp" \
//	CGO_LDFLAGS="-L/path/to/stable-diffusion.cpp/build -lstable-diffusion" \
//	go build -tags sd
package sdruntime

// SDContext represents an opaque handle to a stable-diffusion context.
// In the real implementation, this wraps a C pointer to sd_ctx_t.
// The stub implementation uses an internal ID for tracking.
type SDContext struct {
	// id is used for implementation tracking
	id uint64
	// modelPath stores the path used to load this context
	modelPath string
	// clipPath is the text encoder borrowed from another checkpoint, if any
	clipPath string
	// loraName is the fused adapter, applied with loraScale on every call
	loraName string
	loraDir  string
	threads  int
	valid    bool
}

// IsValid returns whether this context is valid and usable.
func (c *SDContext) IsValid() bool {
	if c == nil {
		return false
	}
	return c.valid
}

// ModelPath returns the model path used to create this context.
func (c *SDContext) ModelPath() string {
	if c == nil {
		return ""
	}
	return c.modelPath
}

// AdapterName returns the name of the fused adapter, or "" when none.
func (c *SDContext) AdapterName() string {
	if c == nil {
		return ""
	}
	return c.loraName
}

// rawImage is an RGBA buffer returned by the runtime.
type rawImage struct {
	Pix    []byte
	Width  int
	Height int
}

// LoadModel loads a Stable Diffusion checkpoint and returns a context for generation.
//
// This function composes:
//   - ErrModelNotFound: when modelPath does not exist
//   - ErrModelLoadFailed: when the C library fails to load the model
//
// The returned SDContext must be freed with FreeContext when no longer needed.
func LoadModel(modelPath string, opts LoadOptions) (*SDContext, error) {
	return loadModelImpl(modelPath, "", opts)
}

// LoadModelWithTextEncoder loads a standalone checkpoint that relies on an
// external text encoder.
func LoadModelWithTextEncoder(modelPath, textEncoderPath string, opts LoadOptions) (*SDContext, error) {
	return loadModelImpl(modelPath, textEncoderPath, opts)
}

// ApplyLora fuses the LoRA weights at loraPath into ctx.
//
// This function composes:
//   - ErrModelNotFound: when loraPath does not exist
//   - ErrAdapterLoadFailed: when the weights cannot be applied
func ApplyLora(ctx *SDContext, loraPath string) error {
	return applyLoraImpl(ctx, loraPath)
}

// FreeContext releases resources associated with an SDContext.
// Calling FreeContext on a nil or already-freed context is safe (no-op).
func FreeContext(ctx *SDContext) {
	freeContextImpl(ctx)
}

// GetBackendInfo returns information about the available compute backend.
func GetBackendInfo() string {
	return getBackendInfoImpl()
}
