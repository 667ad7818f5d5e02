package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces every secret found in log output.
const RedactedPlaceholder = "[REDACTED]"

// Cache keys and checksums are long hex strings and must stay readable, so
// no bare-hex pattern is listed here.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{20,})`),           // OpenAI keys, legacy and project
	regexp.MustCompile(`(hf_[a-zA-Z0-9]{30,})`),                 // Hugging Face access tokens
	regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36})`),             // GitHub tokens
	regexp.MustCompile(`(?i)(github_pat_[a-zA-Z0-9_]{22,})`),    // GitHub fine-grained tokens
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),    // Authorization headers
	regexp.MustCompile(`(\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53})`),  // bcrypt hashes
	regexp.MustCompile(`(?i)(DefaultEndpointsProtocol=[^;]+;[^"'\s]+)`),
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(secret\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),
	regexp.MustCompile(`(?i)(api_?key\s*[:=]\s*[^\s,;]{8,})`),
}

// Field names containing any of these are masked whatever their value.
var sensitiveFieldNames = []string{
	"OPENAI_API_KEY",
	"AZURE_OPENAI_KEY",
	"HF_TOKEN",
	"API_TOKEN",
	"AUTHORIZATION",
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
}

// RedactSensitiveData replaces every recognised secret in value.
//
//	RedactSensitiveData("using key sk-abc123def456ghi789jkl0")
//	// "using key [REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, p := range sensitivePatterns {
		value = p.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// RedactField masks the value when the name is sensitive and otherwise
// scans the value.
func RedactField(fieldName, fieldValue string) string {
	if IsSensitiveField(fieldName) {
		return RedactedPlaceholder
	}
	return RedactSensitiveData(fieldValue)
}

// IsSensitiveField reports whether a field or env var name denotes a secret.
func IsSensitiveField(fieldName string) bool {
	upper := strings.ToUpper(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}

// ContainsSensitiveData reports whether any secret pattern matches value.
func ContainsSensitiveData(value string) bool {
	for _, p := range sensitivePatterns {
		if value != "" && p.MatchString(value) {
			return true
		}
	}
	return false
}
