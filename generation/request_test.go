package generation

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"diffusion_backend/payload"
	"diffusion_backend/pipelines"
	"diffusion_backend/sdruntime"
)

func parse(t *testing.T, s string) (Request, error) {
	t.Helper()
	body, _ := payload.Decode(strings.NewReader(s))
	return ParseRequest(body)
}

func TestParseRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", `{}`, "missing fields: prompt"},
		{"prompt wrong type", `{"prompt": 1}`, "invalid types: prompt"},
		{"boolean seed", `{"prompt": "x", "seed": true}`, "invalid types: seed"},
		{"real steps", `{"prompt": "x", "num_inference_steps": 2.5}`, "invalid types: num_inference_steps"},
		{"trained string", `{"prompt": "x", "trained": "yes"}`, "invalid types: trained"},
		{"zero width", `{"prompt": "x", "width": 0}`, "invalid values: width must be positive"},
		{"negative steps and height", `{"prompt": "x", "num_inference_steps": -1, "height": -8}`, "invalid values: num_inference_steps, height must be positive"},
		{"scale string", `{"prompt": "x", "lora_scale": "1"}`, "invalid lora_scale; expected a number"},
		{"null prompt", `{"prompt": null, "seed": null}`, "invalid types: prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.body)
			var verr *payload.Error
			if !errors.As(err, &verr) {
				t.Fatalf("expected *payload.Error, got %v", err)
			}
			if got := strings.Join(verr.Messages, "|"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRequest_Defaults(t *testing.T) {
	req, err := parse(t, `{"prompt": "x"}`)
	if err != nil {
		t.Fatal(err)
	}
	if req.Steps != DefaultSteps || req.GuidanceScale != DefaultGuidanceScale || req.Seed != NoSeed {
		t.Errorf("unexpected defaults %+v", req)
	}
	if req.Variant() != pipelines.Base || req.Deterministic() {
		t.Error("expected non-deterministic base request")
	}

	k := req.Key()
	if k.Width != 512 || k.Height != 512 || k.Seed != -1 || k.HasAdapterScale {
		t.Errorf("unexpected key %+v", k)
	}
}

func TestParseRequest_NullOptionalsAreAbsent(t *testing.T) {
	req, err := parse(t, `{"prompt": "x", "negative_prompt": null, "seed": null, "width": null, "trained": null, "lora_scale": null}`)
	if err != nil {
		t.Fatal(err)
	}
	plain, _ := parse(t, `{"prompt": "x"}`)
	if req.Key() != plain.Key() {
		t.Errorf("null fields changed the key:\n%+v\n%+v", req.Key(), plain.Key())
	}
	if req.NegativePrompt != nil || req.Width != nil || req.AdapterScale != nil || req.Deterministic() {
		t.Errorf("null fields should be left unset: %+v", req)
	}

	req, err = parse(t, `{"prompt": "x", "trained": true, "lora_scale": null}`)
	if err != nil {
		t.Fatal(err)
	}
	if req.AdapterScale != nil {
		t.Errorf("null lora_scale applied as %v", *req.AdapterScale)
	}
}

func TestParseRequest_NegativeSeedIsNonDeterministic(t *testing.T) {
	req, err := parse(t, `{"prompt": "x", "seed": -5}`)
	if err != nil {
		t.Fatal(err)
	}
	if req.Deterministic() || req.Key().Seed != NoSeed {
		t.Errorf("negative seed must behave like no seed, got %d", req.Seed)
	}
}

func TestRequest_KeyIgnoresExplicitDefaults(t *testing.T) {
	a, _ := parse(t, `{"prompt": "x"}`)
	b, _ := parse(t, `{"height": 512, "num_inference_steps": 30, "prompt": "x", "guidance_scale": 7.5, "width": 512}`)
	if a.Key() != b.Key() {
		t.Errorf("effective parameters match, keys differ:\n%+v\n%+v", a.Key(), b.Key())
	}
}

func TestRequest_Params(t *testing.T) {
	req, _ := parse(t, `{"prompt": "x", "seed": 3, "width": 256}`)
	p := req.Params()
	if p["seed"] != int64(3) || p["width"] != 256 {
		t.Errorf("unexpected params %v", p)
	}
	if _, ok := p["height"]; ok {
		t.Error("absent height must be omitted")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{payload.NewError([]string{"missing prompt"}), KindValidation},
		{&pipelines.NotFoundError{Path: "/x"}, KindNotFound},
		{&pipelines.ConstructionError{Variant: pipelines.Base}, KindConstruction},
		{fmt.Errorf("wrapped: %w", &Error{Err: sdruntime.ErrGenerationTimeout}), KindGeneration},
		{errors.New("other"), KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
