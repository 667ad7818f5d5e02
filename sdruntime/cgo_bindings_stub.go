//go:build !sd || stub

// Stub implementation of CGo bindings for when stable-diffusion.cpp is not available.
// Build with: go build -tags stub
// Or simply build without the "sd" tag: go build

package sdruntime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// stubBackendInfo is reported by GetBackendInfo in stub builds.
const stubBackendInfo = "stub (no stable-diffusion.cpp library linked)"

// stubContextCounter generates unique IDs for stub contexts
var stubContextCounter uint64

func statModelFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, path)
	} else if err != nil {
		return fmt.Errorf("%w: unable to access %s: %v", ErrModelLoadFailed, path, err)
	}
	return nil
}

// loadModelImpl validates the model path exists but does not actually load a model.
func loadModelImpl(modelPath, clipPath string, opts LoadOptions) (*SDContext, error) {
	if err := statModelFile(modelPath); err != nil {
		return nil, err
	}
	if clipPath != "" {
		if err := statModelFile(clipPath); err != nil {
			return nil, err
		}
	}

	return &SDContext{
		id:        atomic.AddUint64(&stubContextCounter, 1),
		modelPath: modelPath,
		clipPath:  clipPath,
		threads:   opts.Threads,
		valid:     true,
	}, nil
}

func applyLoraImpl(ctx *SDContext, loraPath string) error {
	if !ctx.IsValid() {
		return fmt.Errorf("%w: context is nil or invalid", ErrAdapterLoadFailed)
	}
	if err := statModelFile(loraPath); err != nil {
		return err
	}
	ctx.loraDir = filepath.Dir(loraPath)
	ctx.loraName = strings.TrimSuffix(filepath.Base(loraPath), filepath.Ext(loraPath))
	return nil
}

// generateImpl returns an error indicating the real library is not available.
func generateImpl(ctx *SDContext, call Call, seed int64) (*rawImage, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}

	return nil, fmt.Errorf("%w: stable-diffusion.cpp library not available (stub mode). "+
		"Build with CGO and the 'sd' tag to enable image generation", ErrGenerationFailed)
}

func freeContextImpl(ctx *SDContext) {
	if ctx == nil {
		return
	}
	ctx.valid = false
}

func cudaAvailableImpl() bool {
	return false
}

func getBackendInfoImpl() string {
	return stubBackendInfo
}
