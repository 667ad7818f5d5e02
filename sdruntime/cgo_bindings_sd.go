//go:build sd && cgo && !stub

// Real CGo implementation of stable-diffusion.cpp bindings.
// Build with: CGO_ENABLED=1 go build -tags sd
//
// Prerequisites:
//   1. stable-diffusion.cpp must be compiled as a shared library
//   2. Set CGO_CFLAGS to include header path: -I/path/to/stable-diffusion.cpp
//   3. Set CGO_LDFLAGS to link library: -L/path/to/build -lstable-diffusion
//   4. Add -DSD_USE_CUDA to CGO_CFLAGS when the library was built with CUDA
//
// Adapters are applied through the prompt syntax <lora:name:scale>, which
// requires the context to be created with the adapter directory.

package sdruntime

/*
#cgo CFLAGS: -I${SRCDIR}/../deps/stable-diffusion.cpp
#cgo LDFLAGS: -L${SRCDIR}/../lib -lstable-diffusion -lm -lstdc++
#cgo linux LDFLAGS: -Wl,-rpath,${SRCDIR}/../lib

#include <stdlib.h>
#include <stdint.h>
#include <stdbool.h>
#include <stable-diffusion.h>

static int sd_has_cuda(void) {
#ifdef SD_USE_CUDA
	return 1;
#else
	return 0;
#endif
}

static sd_ctx_t* sd_open(const char* model, const char* clip_l, const char* lora_dir, int threads) {
	return new_sd_ctx(model, clip_l, "", "", "", "", "", "", lora_dir, "", "",
		true, false, false, threads, SD_TYPE_COUNT, STD_DEFAULT_RNG, DEFAULT,
		false, false, false, false);
}

static sd_image_t* sd_txt2img(sd_ctx_t* ctx, const char* prompt, const char* negative,
	float cfg, int width, int height, int steps, int64_t seed) {
	return txt2img(ctx, prompt, negative, -1, cfg, 3.5f, 0.0f, width, height,
		EULER_A, steps, seed, 1, NULL, 0.9f, 20.0f, false, "", NULL, 0, 0.0f, 0.01f, 0.2f);
}

static void sd_release_image(sd_image_t* img) {
	if (img == NULL) return;
	free(img->data);
	free(img);
}
*/
import "C"

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"
)

var sdContextCounter uint64

// contextMap stores the mapping from SDContext.id to the C context
var (
	contextMu  sync.Mutex
	contextMap = make(map[uint64]*C.sd_ctx_t)
)

func statModelFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, path)
	} else if err != nil {
		return fmt.Errorf("%w: unable to access %s: %v", ErrModelLoadFailed, path, err)
	}
	return nil
}

func openContext(modelPath, clipPath, loraDir string, threads int) (*C.sd_ctx_t, error) {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	cModel := C.CString(modelPath)
	defer C.free(unsafe.Pointer(cModel))
	cClip := C.CString(clipPath)
	defer C.free(unsafe.Pointer(cClip))
	cLora := C.CString(loraDir)
	defer C.free(unsafe.Pointer(cLora))

	cCtx := C.sd_open(cModel, cClip, cLora, C.int(threads))
	if cCtx == nil {
		return nil, fmt.Errorf("%w: C library returned null context for %s", ErrModelLoadFailed, modelPath)
	}
	return cCtx, nil
}

func loadModelImpl(modelPath, clipPath string, opts LoadOptions) (*SDContext, error) {
	if err := statModelFile(modelPath); err != nil {
		return nil, err
	}
	if clipPath != "" {
		if err := statModelFile(clipPath); err != nil {
			return nil, err
		}
	}

	cCtx, err := openContext(modelPath, clipPath, "", opts.Threads)
	if err != nil {
		return nil, err
	}

	id := atomic.AddUint64(&sdContextCounter, 1)
	contextMu.Lock()
	contextMap[id] = cCtx
	contextMu.Unlock()

	return &SDContext{
		id:        id,
		modelPath: modelPath,
		clipPath:  clipPath,
		threads:   opts.Threads,
		valid:     true,
	}, nil
}

// applyLoraImpl reopens the context with the adapter directory so the
// adapter can be referenced from prompts.
func applyLoraImpl(ctx *SDContext, loraPath string) error {
	if !ctx.IsValid() {
		return fmt.Errorf("%w: context is nil or invalid", ErrAdapterLoadFailed)
	}
	if err := statModelFile(loraPath); err != nil {
		return err
	}

	loraDir := filepath.Dir(loraPath)
	cCtx, err := openContext(ctx.modelPath, ctx.clipPath, loraDir, ctx.threads)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterLoadFailed, err)
	}

	contextMu.Lock()
	if old, ok := contextMap[ctx.id]; ok && old != nil {
		C.free_sd_ctx(old)
	}
	contextMap[ctx.id] = cCtx
	contextMu.Unlock()

	ctx.loraDir = loraDir
	ctx.loraName = strings.TrimSuffix(filepath.Base(loraPath), filepath.Ext(loraPath))
	return nil
}

func generateImpl(ctx *SDContext, call Call, seed int64) (*rawImage, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}

	contextMu.Lock()
	cCtx, ok := contextMap[ctx.id]
	contextMu.Unlock()
	if !ok || cCtx == nil {
		return nil, fmt.Errorf("%w: no valid C context found", ErrGenerationFailed)
	}

	prompt := call.Prompt
	if ctx.loraName != "" {
		scale := 1.0
		if call.AdapterScale != nil {
			scale = *call.AdapterScale
		}
		prompt = fmt.Sprintf("%s<lora:%s:%g>", prompt, ctx.loraName, scale)
	}
	negative := ""
	if call.NegativePrompt != nil {
		negative = *call.NegativePrompt
	}
	width, height := call.ResolvedSize()

	cPrompt := C.CString(prompt)
	defer C.free(unsafe.Pointer(cPrompt))
	cNegative := C.CString(negative)
	defer C.free(unsafe.Pointer(cNegative))

	img := C.sd_txt2img(cCtx, cPrompt, cNegative,
		C.float(call.GuidanceScale), C.int(width), C.int(height),
		C.int(call.Steps), C.int64_t(seed))
	if img == nil {
		return nil, fmt.Errorf("%w: txt2img returned null", ErrGenerationFailed)
	}
	defer C.sd_release_image(img)

	w, h, channels := int(img.width), int(img.height), int(img.channel)
	src := C.GoBytes(unsafe.Pointer(img.data), C.int(w*h*channels))

	switch channels {
	case 4:
		return &rawImage{Pix: src, Width: w, Height: h}, nil
	case 3:
		pix := make([]byte, ImageDataSize(w, h))
		for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
			pix[j], pix[j+1], pix[j+2], pix[j+3] = src[i], src[i+1], src[i+2], 0xFF
		}
		return &rawImage{Pix: pix, Width: w, Height: h}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected channel count %d", ErrGenerationFailed, channels)
	}
}

func freeContextImpl(ctx *SDContext) {
	if ctx == nil {
		return
	}

	contextMu.Lock()
	if cCtx, ok := contextMap[ctx.id]; ok && cCtx != nil {
		C.free_sd_ctx(cCtx)
		delete(contextMap, ctx.id)
	}
	contextMu.Unlock()

	ctx.valid = false
}

func cudaAvailableImpl() bool {
	return C.sd_has_cuda() != 0
}

func getBackendInfoImpl() string {
	if info := C.sd_get_system_info(); info != nil {
		return "sd " + C.GoString(info)
	}
	return "sd"
}
