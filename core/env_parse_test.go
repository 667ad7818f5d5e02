package core

import (
	"testing"
	"time"
)

func TestOverlay(t *testing.T) {
	first := MapLookup(map[string]string{"A": "1"})
	second := MapLookup(map[string]string{"A": "2", "B": "3"})
	l := Overlay(first, nil, second)

	for key, want := range map[string]string{"A": "1", "B": "3", "C": ""} {
		if got := l(key); got != want {
			t.Errorf("lookup %s = %q, want %q", key, got, want)
		}
	}
}

func TestLookupInt(t *testing.T) {
	l := MapLookup(map[string]string{"N": "42", "NEG": "-3", "BAD": "4x"})

	tests := []struct {
		key     string
		want    int
		wantErr bool
	}{
		{"N", 42, false},
		{"NEG", -3, false},
		{"UNSET", 7, false},
		{"BAD", 7, true},
	}
	for _, tt := range tests {
		got, err := l.Int(tt.key, 7)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("Int(%s) = %d, %v", tt.key, got, err)
		}
	}
}

func TestLookupBool(t *testing.T) {
	values := map[string]bool{"true": true, "1": true, "YES": true, "on": true, "false": false, "0": false, "No": false, "off": false}
	for in, want := range values {
		got, err := MapLookup(map[string]string{"B": in}).Bool("B", !want)
		if err != nil || got != want {
			t.Errorf("Bool(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := MapLookup(map[string]string{"B": "maybe"}).Bool("B", false); GetErrorCode(err) != ErrCodeInvalidValue {
		t.Errorf("expected invalid value, got %v", err)
	}
	if got, _ := MapLookup(nil).Bool("B", true); !got {
		t.Error("unset should return default")
	}
}

func TestLookupSeconds(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30", 30 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"", time.Minute, false},
		{"soon", time.Minute, true},
	}
	for _, tt := range tests {
		got, err := MapLookup(map[string]string{"D": tt.in}).Seconds("D", time.Minute)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("Seconds(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	const key = "DIFFUSION_TEST_ENV"
	t.Setenv(key, "  value ")
	if got := GetEnvOrDefault(key, "def"); got != "value" {
		t.Errorf("got %q", got)
	}
	t.Setenv(key, "")
	if got := GetEnvOrDefault(key, "def"); got != "def" {
		t.Errorf("got %q", got)
	}
}
