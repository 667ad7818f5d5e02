package payload

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

var trainSchema = Schema{
	F("prompt", String),
	F("negative_prompt", String),
	F("num_inference_steps", Integer),
	F("guidance_scale", Integer, Number),
	F("seed", Integer),
	F("width", Integer),
	F("height", Integer),
	F("lora_scale", Integer, Number),
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	body, err := Decode(strings.NewReader(s))
	if err != nil {
		t.Fatalf("Decode(%q): %v", s, err)
	}
	return body
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "valid",
			body: `{"prompt":"a","negative_prompt":"b","num_inference_steps":30,"guidance_scale":7.5,"seed":1,"width":512,"height":512,"lora_scale":1}`,
			want: nil,
		},
		{
			name: "empty body lists every field in schema order",
			body: `{}`,
			want: []string{"missing fields: prompt, negative_prompt, num_inference_steps, guidance_scale, seed, width, height, lora_scale"},
		},
		{
			name: "wrong type",
			body: `{"prompt":"a","negative_prompt":"b","num_inference_steps":"30","guidance_scale":7.5,"seed":1,"width":512,"height":512,"lora_scale":1}`,
			want: []string{"invalid types: num_inference_steps"},
		},
		{
			name: "missing and invalid together",
			body: `{"prompt":5,"negative_prompt":"b","num_inference_steps":30,"guidance_scale":7.5,"seed":1.5,"width":512,"lora_scale":1}`,
			want: []string{"missing fields: height", "invalid types: prompt, seed"},
		},
		{
			name: "boolean is not an integer",
			body: `{"prompt":"a","negative_prompt":"b","num_inference_steps":true,"guidance_scale":false,"seed":1,"width":512,"height":512,"lora_scale":1}`,
			want: []string{"invalid types: num_inference_steps, guidance_scale"},
		},
		{
			name: "exponent is a real, not an integer",
			body: `{"prompt":"a","negative_prompt":"b","num_inference_steps":3e1,"guidance_scale":7,"seed":1,"width":512,"height":512,"lora_scale":1}`,
			want: []string{"invalid types: num_inference_steps"},
		},
		{
			name: "null is never a match",
			body: `{"prompt":null,"negative_prompt":"b","num_inference_steps":30,"guidance_scale":7.5,"seed":1,"width":512,"height":512,"lora_scale":1}`,
			want: []string{"invalid types: prompt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(decode(t, tt.body), trainSchema)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Validate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckTypes_IgnoresAbsentFields(t *testing.T) {
	schema := Schema{F("seed", Integer), F("trained", Boolean)}

	if got := CheckTypes(map[string]any{}, schema); got != nil {
		t.Errorf("expected no messages, got %q", got)
	}
	got := CheckTypes(map[string]any{"trained": "yes"}, schema)
	if len(got) != 1 || got[0] != "invalid types: trained" {
		t.Errorf("unexpected messages %q", got)
	}
}

func TestCheckTypes_NullIsAbsent(t *testing.T) {
	schema := Schema{F("seed", Integer), F("negative_prompt", String)}
	body := decode(t, `{"seed":null,"negative_prompt":null}`)
	if got := CheckTypes(body, schema); got != nil {
		t.Errorf("expected no messages, got %q", got)
	}
	// Required fields stay strict.
	if got := Validate(body, schema); len(got) != 1 || got[0] != "invalid types: seed, negative_prompt" {
		t.Errorf("Validate() = %q", got)
	}
}

func TestKindMatches_NativeValues(t *testing.T) {
	tests := []struct {
		kind Kind
		v    any
		want bool
	}{
		{Integer, 3, true},
		{Integer, int64(3), true},
		{Integer, 3.0, false},
		{Number, 3, true},
		{Number, 3.5, true},
		{Number, true, false},
		{Boolean, false, true},
		{String, "", true},
		{Object, map[string]any{}, true},
		{Array, []any{}, true},
		{Array, "x", false},
	}
	for _, tt := range tests {
		if got := tt.kind.Matches(tt.v); got != tt.want {
			t.Errorf("%s.Matches(%#v) = %v, want %v", tt.kind, tt.v, got, tt.want)
		}
	}
}

func TestDecode_NonObjectBodies(t *testing.T) {
	for _, in := range []string{"", "not json", "[1,2]", `"text"`, "null"} {
		body, _ := Decode(strings.NewReader(in))
		if body == nil || len(body) != 0 {
			t.Errorf("Decode(%q) = %v, want empty map", in, body)
		}
	}
}

func TestDecode_PreservesNumbers(t *testing.T) {
	body := decode(t, `{"seed": 12345678901, "scale": 0.5}`)

	if _, ok := body["seed"].(json.Number); !ok {
		t.Fatalf("expected json.Number, got %T", body["seed"])
	}
	if seed, ok := Int(body, "seed"); !ok || seed != 12345678901 {
		t.Errorf("Int(seed) = %d, %v", seed, ok)
	}
	if scale, ok := Float(body, "scale"); !ok || scale != 0.5 {
		t.Errorf("Float(scale) = %v, %v", scale, ok)
	}
	if _, ok := Int(body, "scale"); ok {
		t.Error("a real must not read as an integer")
	}
	if f, ok := Float(body, "seed"); !ok || f != 12345678901 {
		t.Errorf("Float(seed) = %v, %v", f, ok)
	}
}

func TestAccessors(t *testing.T) {
	body := map[string]any{"s": "x", "b": true, "i": 7}
	if s, ok := Str(body, "s"); !ok || s != "x" {
		t.Errorf("Str = %q, %v", s, ok)
	}
	if b, ok := Bool(body, "b"); !ok || !b {
		t.Errorf("Bool = %v, %v", b, ok)
	}
	if i, ok := Int(body, "i"); !ok || i != 7 {
		t.Errorf("Int = %d, %v", i, ok)
	}
	if _, ok := Str(body, "missing"); ok {
		t.Error("expected missing string to report !ok")
	}
}

func TestPlain(t *testing.T) {
	body := decode(t, `{"a": 1, "b": 1.5, "c": [2], "d": {"e": 3}}`)
	plain := Plain(body).(map[string]any)

	if plain["a"] != int64(1) {
		t.Errorf("a = %#v", plain["a"])
	}
	if plain["b"] != 1.5 {
		t.Errorf("b = %#v", plain["b"])
	}
	if plain["c"].([]any)[0] != int64(2) {
		t.Errorf("c = %#v", plain["c"])
	}
	if plain["d"].(map[string]any)["e"] != int64(3) {
		t.Errorf("d = %#v", plain["d"])
	}
}

func TestNewError(t *testing.T) {
	if NewError(nil) != nil {
		t.Error("expected nil for no messages")
	}
	err := NewError([]string{"missing fields: prompt"})
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(err.Error(), "prompt") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
