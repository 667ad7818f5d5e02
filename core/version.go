package core

import (
	"runtime"
	"strings"
)

// Build metadata, injected with ldflags:
//
//	go build -ldflags "-X diffusion_backend/core.Version=$(git describe --tags --always)" .
//
// Unset values stay "dev" and "unknown".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const ldflagsPackage = "diffusion_backend/core"

// GetVersionInfo returns e.g. "v1.0.0 (built 2024-01-15T10:30:00Z, commit abc1234, go1.24.0)".
func GetVersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ", " + runtime.Version() + ")"
}

// BuildLdflags returns the -X flags injecting the given metadata. Empty
// arguments are skipped.
func BuildLdflags(version, buildTime, gitCommit string) string {
	var flags []string
	for _, kv := range [][2]string{
		{"Version", version},
		{"BuildTime", buildTime},
		{"GitCommit", gitCommit},
	} {
		if kv[1] != "" {
			flags = append(flags, "-X "+ldflagsPackage+"."+kv[0]+"="+kv[1])
		}
	}
	return strings.Join(flags, " ")
}
