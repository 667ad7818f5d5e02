package core

import (
	"errors"
	"fmt"
)

// ConfigError is a configuration problem the operator can fix. It carries a
// machine-readable code and a suggested action.
type ConfigError struct {
	Code    string
	Message string
	Action  string
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

const (
	ErrCodeInvalidValue    = "INVALID_VALUE"
	ErrCodeMissingConfig   = "MISSING_CONFIG"
	ErrCodeConfigFile      = "CONFIG_FILE"
	ErrCodeInvalidBackend  = "INVALID_BACKEND"
	ErrCodeModelMissing    = "MODEL_MISSING"
	ErrCodeMissingAPIKey   = "MISSING_API_KEY"
	ErrCodeInvalidPort     = "INVALID_PORT"
	ErrCodeInvalidTokenSet = "INVALID_TOKEN_HASH"
	ErrCodePreflight       = "PREFLIGHT_FAILED"
)

// ErrInvalidValue reports a setting that could not be parsed.
func ErrInvalidValue(key, value, want string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("%s has invalid value %q", key, value),
		Action:  fmt.Sprintf("Set %s to %s", key, want),
	}
}

// ErrMissingConfig reports a required setting that is unset.
func ErrMissingConfig(key, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("%s is not set", key),
		Action:  reason,
	}
}

// ErrConfigFile reports an unreadable or malformed CONFIG_FILE.
func ErrConfigFile(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFile,
		Message: fmt.Sprintf("cannot read config file %s: %v", path, err),
		Action:  "Fix the file or unset CONFIG_FILE",
	}
}

// ErrInvalidBackend reports an unknown PIPELINE_BACKEND.
func ErrInvalidBackend(value string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidBackend,
		Message: fmt.Sprintf("unknown pipeline backend %q", value),
		Action:  fmt.Sprintf("Set PIPELINE_BACKEND to %q or %q", BackendLocal, BackendOpenAI),
	}
}

// ErrModelMissing reports a base model that is neither on disk nor
// downloadable.
func ErrModelMissing(path string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeModelMissing,
		Message: fmt.Sprintf("base model not found at %s", path),
		Action:  "Place the checkpoint there or set SD_MODEL_URL to download it",
	}
}

// ErrInvalidPort reports a port outside 1..65535.
func ErrInvalidPort(port int) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidPort,
		Message: fmt.Sprintf("port %d is out of range", port),
		Action:  "Set PORT between 1 and 65535",
	}
}

// ErrInvalidTokenHash reports an API_TOKEN_HASH that is not a bcrypt hash.
func ErrInvalidTokenHash() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidTokenSet,
		Message: "API_TOKEN_HASH is not a bcrypt hash",
		Action:  "Generate one with `diffusion_backend hash-token`",
	}
}

// ErrPreflightFailed reports that startup checks failed.
func ErrPreflightFailed(failed int) *ConfigError {
	return &ConfigError{
		Code:    ErrCodePreflight,
		Message: fmt.Sprintf("%d preflight check(s) failed", failed),
		Action:  "Run `diffusion_backend verify` for details",
	}
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// GetErrorCode returns the code of a wrapped *ConfigError, or "".
func GetErrorCode(err error) string {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
