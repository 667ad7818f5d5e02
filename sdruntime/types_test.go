package sdruntime

import (
	"errors"
	"strings"
	"testing"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func TestValidateCall_ValidInput(t *testing.T) {
	call := Call{
		Prompt:         "a beautiful sunset over the ocean",
		NegativePrompt: strPtr("blurry, low quality"),
		Width:          intPtr(512),
		Height:         intPtr(512),
		Steps:          30,
		GuidanceScale:  7.5,
		Generator:      &Generator{Seed: 12345, Device: DeviceCPU},
	}

	if err := ValidateCall(call); err != nil {
		t.Errorf("expected no error for valid call, got: %v", err)
	}
}

func TestValidateCall_OptionalDimensionsAbsent(t *testing.T) {
	call := Call{Prompt: "test prompt", Steps: 20, GuidanceScale: 7.5}
	if err := ValidateCall(call); err != nil {
		t.Errorf("absent width/height should be valid, got: %v", err)
	}
}

func TestValidateCall_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		call Call
	}{
		{"width too small", Call{Prompt: "p", Steps: 20, GuidanceScale: 7.5, Width: intPtr(64)}},
		{"width too large", Call{Prompt: "p", Steps: 20, GuidanceScale: 7.5, Width: intPtr(4096)}},
		{"width not divisible by 8", Call{Prompt: "p", Steps: 20, GuidanceScale: 7.5, Width: intPtr(513)}},
		{"height too small", Call{Prompt: "p", Steps: 20, GuidanceScale: 7.5, Height: intPtr(100)}},
		{"zero steps", Call{Prompt: "p", Steps: 0, GuidanceScale: 7.5}},
		{"too many steps", Call{Prompt: "p", Steps: 151, GuidanceScale: 7.5}},
		{"negative guidance", Call{Prompt: "p", Steps: 20, GuidanceScale: -1}},
		{"guidance too large", Call{Prompt: "p", Steps: 20, GuidanceScale: 31}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCall(tt.call)
			if !errors.Is(err, ErrInvalidParams) {
				t.Errorf("expected ErrInvalidParams, got: %v", err)
			}
		})
	}
}

func TestValidateCall_PromptText(t *testing.T) {
	long := strings.Repeat("a", MaxPromptLength+1)
	tests := []struct {
		name     string
		prompt   string
		negative *string
		valid    bool
	}{
		{"at max length", strings.Repeat("a", MaxPromptLength), nil, true},
		{"unicode", "日本の風景", strPtr(""), true},
		{"empty", "", nil, false},
		{"whitespace only", " \t\n", nil, false},
		{"null byte", "a cat\x00with a hat", nil, false},
		{"too long", long, nil, false},
		{"negative null byte", "p", strPtr("blurry\x00"), false},
		{"negative too long", "p", &long, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCall(Call{Prompt: tt.prompt, NegativePrompt: tt.negative, Steps: 20, GuidanceScale: 7.5})
			if tt.valid && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidPrompt) {
				t.Errorf("expected ErrInvalidPrompt, got: %v", err)
			}
		})
	}
}

func TestCallArgs_OmitsAbsentOptionals(t *testing.T) {
	args := Call{Prompt: "p", Steps: 30, GuidanceScale: 7.5}.Args()

	for _, key := range []string{"negative_prompt", "width", "height", "generator", "cross_attention_kwargs"} {
		if _, ok := args[key]; ok {
			t.Errorf("expected %q to be omitted, got %v", key, args[key])
		}
	}
	if args["num_inference_steps"] != 30 {
		t.Errorf("expected steps 30, got %v", args["num_inference_steps"])
	}
}

func TestCallArgs_IncludesSuppliedOptionals(t *testing.T) {
	call := Call{
		Prompt:         "p",
		NegativePrompt: strPtr(""),
		Steps:          10,
		GuidanceScale:  5,
		Width:          intPtr(256),
		Generator:      &Generator{Seed: 0, Device: DeviceCUDA},
		AdapterScale:   floatPtr(0.5),
	}
	args := call.Args()

	if args["negative_prompt"] != "" {
		t.Errorf("empty negative prompt should still be supplied, got %v", args["negative_prompt"])
	}
	if args["width"] != 256 {
		t.Errorf("expected width 256, got %v", args["width"])
	}
	if g, ok := args["generator"].(Generator); !ok || g.Seed != 0 || g.Device != DeviceCUDA {
		t.Errorf("unexpected generator %v", args["generator"])
	}
	kw, ok := args["cross_attention_kwargs"].(map[string]float64)
	if !ok || kw["scale"] != 0.5 {
		t.Errorf("unexpected cross_attention_kwargs %v", args["cross_attention_kwargs"])
	}
}

func TestCallResolvedSize(t *testing.T) {
	w, h := Call{}.ResolvedSize()
	if w != DefaultImageSize || h != DefaultImageSize {
		t.Errorf("expected defaults, got %dx%d", w, h)
	}
	w, h = Call{Width: intPtr(768)}.ResolvedSize()
	if w != 768 || h != DefaultImageSize {
		t.Errorf("expected 768x%d, got %dx%d", DefaultImageSize, w, h)
	}
}
