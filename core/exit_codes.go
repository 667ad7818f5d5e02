package core

import (
	"context"
	"errors"
)

// Exit codes. Signal exits follow the 128 + signal number convention.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeConfig means the service never started because its
	// configuration or preflight checks failed.
	ExitCodeConfig = 2

	ExitCodeSIGINT  = 130
	ExitCodeSIGTERM = 143
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeConfig:
		return "configuration error"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}

// IsSignalExit reports whether code means termination by signal.
func IsSignalExit(code int) bool {
	return code == ExitCodeSIGINT || code == ExitCodeSIGTERM
}

// ExitCodeFor maps an error returned from a command to a process exit code.
func ExitCodeFor(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitCodeSuccess
	case IsConfigError(err):
		return ExitCodeConfig
	default:
		return ExitCodeError
	}
}
