package modelstore

import (
	"errors"
	"fmt"
)

// ErrChecksumMismatch is returned when a file does not match its expected SHA256.
var ErrChecksumMismatch = errors.New("modelstore: checksum mismatch")

// StatusError reports an unexpected HTTP status from the download source.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("modelstore: download from %s failed with status %d", e.URL, e.StatusCode)
}

// DownloadError provides detailed information about a download failure,
// including manual download instructions.
type DownloadError struct {
	// ModelName is the name of the model that failed to download
	ModelName string
	// Cause is the underlying error
	Cause error
	// Message is a human-readable description
	Message string
	// URL is the download URL (for manual download instructions)
	URL string
	// DestPath is where the model should be saved
	DestPath string
	// Checksum is the expected checksum (for verification)
	Checksum string
}

func (e *DownloadError) Error() string {
	if e.URL != "" && e.DestPath != "" {
		checksum := e.Checksum
		if checksum == "" {
			checksum = "(none configured)"
		}
		return fmt.Sprintf(`model download failed: %s: %s: %v

Manual download instructions:
  1. Visit: %s
  2. Save to: %s
  3. Verify SHA256: %s
  4. Restart the service`,
			e.ModelName, e.Message, e.Cause, e.URL, e.DestPath, checksum)
	}
	return fmt.Sprintf("model download failed: %s: %s: %v", e.ModelName, e.Message, e.Cause)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}
