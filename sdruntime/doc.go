// Package sdruntime defines the text-to-image pipeline contract and a local
// implementation backed by stable-diffusion.cpp.
//
// # Contract
//
// A Pipeline turns a Call into one image.Image. Optional arguments of a
// Call are pointers so that absent values are never passed as zeros:
//
//	neg := "blurry"
//	img, err := p.Generate(ctx, sdruntime.Call{
//	    Prompt:         "a sunset over mountains",
//	    NegativePrompt: &neg,
//	    Steps:          30,
//	    GuidanceScale:  7.5,
//	    Generator:      &sdruntime.Generator{Seed: 42, Device: p.Device()},
//	})
//
// Pipelines are built by a Loader: LoadBase for the pretrained checkpoint,
// ApplyAdapter to fuse LoRA weights, and LoadSingleFile for standalone
// checkpoints that borrow the base text encoder and tokenizer.
//
// # Build Tags
//
//   - Stub mode (default): go build
//     Files are checked on disk but generation returns ErrGenerationFailed.
//
//   - Real mode: CGO_ENABLED=1 go build -tags sd
//     Requires stable-diffusion.cpp to be built and available.
//
// # Error Handling
//
// Use errors.Is() with the sentinel errors in errors.go:
//
//	if errors.Is(err, sdruntime.ErrModelNotFound) {
//	    // weights missing on disk
//	}
package sdruntime
