package generation

import (
	"strings"

	"diffusion_backend/artifacts"
	"diffusion_backend/payload"
	"diffusion_backend/pipelines"
	"diffusion_backend/sdruntime"
)

// Defaults applied when a request leaves a parameter out.
const (
	DefaultSteps         = 30
	DefaultGuidanceScale = 7.5
	// NoSeed marks a non-deterministic request in cache keys.
	NoSeed int64 = -1
)

var (
	requiredFields = payload.Schema{
		payload.F("prompt", payload.String),
	}
	optionalFields = payload.Schema{
		payload.F("negative_prompt", payload.String),
		payload.F("trained", payload.Boolean),
		payload.F("seed", payload.Integer),
		payload.F("num_inference_steps", payload.Integer),
		payload.F("guidance_scale", payload.Number),
		payload.F("width", payload.Integer),
		payload.F("height", payload.Integer),
	}
)

const invalidAdapterScale = "invalid lora_scale; expected a number"

// Request is a validated generation request with optional values left nil.
type Request struct {
	Prompt         string
	NegativePrompt *string
	Steps          int
	GuidanceScale  float64
	// Seed is NoSeed unless the caller asked for a reproducible image.
	Seed         int64
	Width        *int
	Height       *int
	AdapterScale *float64
	Trained      bool
}

// ParseRequest validates body and applies defaults. Any failure is a
// *payload.Error.
func ParseRequest(body map[string]any) (Request, error) {
	msgs := payload.Validate(body, requiredFields)
	msgs = append(msgs, payload.CheckTypes(body, optionalFields)...)
	if v, ok := body["lora_scale"]; ok && v != nil && !payload.Number.Matches(v) {
		msgs = append(msgs, invalidAdapterScale)
	}
	if err := payload.NewError(msgs); err != nil {
		return Request{}, err
	}

	req := Request{
		Steps:         DefaultSteps,
		GuidanceScale: DefaultGuidanceScale,
		Seed:          NoSeed,
	}
	req.Prompt, _ = payload.Str(body, "prompt")
	if s, ok := payload.Str(body, "negative_prompt"); ok {
		req.NegativePrompt = &s
	}
	req.Trained, _ = payload.Bool(body, "trained")

	var nonPositive []string
	if n, ok := payload.Int(body, "num_inference_steps"); ok {
		if n <= 0 {
			nonPositive = append(nonPositive, "num_inference_steps")
		}
		req.Steps = int(n)
	}
	if f, ok := payload.Float(body, "guidance_scale"); ok {
		req.GuidanceScale = f
	}
	if n, ok := payload.Int(body, "seed"); ok && n >= 0 {
		req.Seed = n
	}
	for _, dim := range []struct {
		name string
		dst  **int
	}{{"width", &req.Width}, {"height", &req.Height}} {
		if n, ok := payload.Int(body, dim.name); ok {
			if n <= 0 {
				nonPositive = append(nonPositive, dim.name)
			}
			v := int(n)
			*dim.dst = &v
		}
	}
	if len(nonPositive) > 0 {
		return Request{}, payload.NewError([]string{"invalid values: " + strings.Join(nonPositive, ", ") + " must be positive"})
	}

	// The scale only means something once an adapter is fused.
	if f, ok := payload.Float(body, "lora_scale"); ok && req.Trained {
		req.AdapterScale = &f
	}
	return req, nil
}

// Variant selects the pipeline the request runs on.
func (r Request) Variant() pipelines.Variant {
	return pipelines.VariantFor(r.Trained)
}

// Deterministic reports whether the request carries a seed.
func (r Request) Deterministic() bool { return r.Seed >= 0 }

// Key derives the artifact cache key from the effective parameters.
func (r Request) Key() artifacts.Key {
	w, h := r.Call(nil).ResolvedSize()
	k := artifacts.Key{
		Variant:       string(r.Variant()),
		Prompt:        r.Prompt,
		Steps:         r.Steps,
		GuidanceScale: r.GuidanceScale,
		Seed:          r.Seed,
		Width:         w,
		Height:        h,
	}
	if r.NegativePrompt != nil {
		k.NegativePrompt = *r.NegativePrompt
	}
	if r.AdapterScale != nil {
		k.AdapterScale = *r.AdapterScale
		k.HasAdapterScale = true
	}
	return k
}

// Call builds the pipeline invocation. gen is nil for non-deterministic
// requests.
func (r Request) Call(gen *sdruntime.Generator) sdruntime.Call {
	return sdruntime.Call{
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		Steps:          r.Steps,
		GuidanceScale:  r.GuidanceScale,
		Width:          r.Width,
		Height:         r.Height,
		Generator:      gen,
		AdapterScale:   r.AdapterScale,
	}
}

// Params returns the effective parameters for history rows.
func (r Request) Params() map[string]any {
	args := r.Call(nil).Args()
	args["seed"] = r.Seed
	return args
}
