package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup resolves a setting by key. An empty result means unset.
type Lookup func(key string) string

// EnvLookup reads the process environment.
func EnvLookup(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// MapLookup serves settings from a fixed map, as read from a config file.
func MapLookup(values map[string]string) Lookup {
	return func(key string) string {
		return values[key]
	}
}

// Overlay returns a Lookup that asks each source in order and returns the
// first non-empty value.
func Overlay(sources ...Lookup) Lookup {
	return func(key string) string {
		for _, src := range sources {
			if src == nil {
				continue
			}
			if v := src(key); v != "" {
				return v
			}
		}
		return ""
	}
}

// String returns the value for key, or def when unset.
func (l Lookup) String(key, def string) string {
	if v := l(key); v != "" {
		return v
	}
	return def
}

// Int parses key as an integer. Unset returns def; a malformed value is a
// *ConfigError.
func (l Lookup) Int(key string, def int) (int, error) {
	v := l(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, ErrInvalidValue(key, v, "an integer")
	}
	return n, nil
}

// Bool accepts the forms strconv.ParseBool knows plus yes/no and on/off.
func (l Lookup) Bool(key string, def bool) (bool, error) {
	v := strings.ToLower(l(key))
	switch v {
	case "":
		return def, nil
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, ErrInvalidValue(key, v, "true or false")
	}
	return b, nil
}

// Seconds parses key as a whole number of seconds. Values ending in a Go
// duration unit ("90s", "2m") are accepted too.
func (l Lookup) Seconds(key string, def time.Duration) (time.Duration, error) {
	v := l(key)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, ErrInvalidValue(key, v, "a number of seconds")
	}
	return d, nil
}

// GetEnvOrDefault returns the environment value for key, or def when unset.
func GetEnvOrDefault(key, def string) string {
	return Lookup(EnvLookup).String(key, def)
}
