// Package modelstore makes model weight files available on disk.
//
// A Store downloads a file once, guarded by a lock file so concurrent
// processes never fetch the same weights twice, and verifies its SHA256
// checksum before moving it into place.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"diffusion_backend/sdruntime"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Spec describes one weight file.
type Spec struct {
	// Name is the friendly name used in logs and errors
	Name string
	// URL is the download source. Empty means the file must already exist.
	URL string
	// Path is the local destination
	Path string
	// SHA256 is the optional expected checksum (hex)
	SHA256 string
}

// Store downloads and verifies weight files.
type Store struct {
	client      *http.Client
	logger      *zap.Logger
	progress    io.Writer
	maxAttempts int
	retryDelay  time.Duration
	lockPoll    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProgressOutput sets where the progress bar renders. nil disables it.
func WithProgressOutput(w io.Writer) Option {
	return func(s *Store) { s.progress = w }
}

// WithMaxAttempts sets the number of download attempts.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the delay before the first retry. It doubles on every
// following attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// New creates a Store.
//
// Default behavior:
//   - 3 attempts with exponential backoff (2s, 4s)
//   - progress rendered to stderr
func New(opts ...Option) *Store {
	s := &Store{
		client:      &http.Client{Timeout: 0}, // context handles cancellation
		logger:      zap.NewNop(),
		progress:    os.Stderr,
		maxAttempts: 3,
		retryDelay:  2 * time.Second,
		lockPoll:    250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ensure returns spec.Path once the file exists and matches its checksum,
// downloading it first when needed.
func (s *Store) Ensure(ctx context.Context, spec Spec) (string, error) {
	if spec.Path == "" {
		return "", fmt.Errorf("modelstore: %s: path is required", spec.Name)
	}

	exists, err := checkExisting(spec)
	if err != nil {
		return "", err
	}
	if exists {
		return spec.Path, nil
	}
	if spec.URL == "" {
		return "", fmt.Errorf("%w: %s (no download URL configured)", sdruntime.ErrModelNotFound, spec.Path)
	}

	if err := os.MkdirAll(filepath.Dir(spec.Path), 0755); err != nil {
		return "", fmt.Errorf("modelstore: create model directory: %w", err)
	}

	lock := flock.New(spec.Path + ".lock")
	locked, err := lock.TryLockContext(ctx, s.lockPoll)
	if err != nil {
		return "", fmt.Errorf("modelstore: acquire lock for %s: %w", spec.Name, err)
	}
	if !locked {
		return "", fmt.Errorf("modelstore: failed to acquire lock for %s", spec.Name)
	}
	defer lock.Unlock()

	// Another process may have finished the download while we waited.
	if exists, err := checkExisting(spec); err != nil {
		return "", err
	} else if exists {
		return spec.Path, nil
	}

	s.logger.Info("downloading model",
		zap.String("name", spec.Name),
		zap.String("url", spec.URL),
		zap.String("path", spec.Path))

	start := time.Now()
	if err := s.download(ctx, spec); err != nil {
		return "", err
	}

	s.logger.Info("model ready",
		zap.String("name", spec.Name),
		zap.Duration("elapsed", time.Since(start)))
	return spec.Path, nil
}

// Verify checks that spec.Path exists and matches its checksum without
// downloading anything.
func (s *Store) Verify(spec Spec) error {
	exists, err := checkExisting(spec)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", sdruntime.ErrModelNotFound, spec.Path)
	}
	return nil
}

func (s *Store) download(ctx context.Context, spec Spec) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.attemptDownload(ctx, spec)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("model download attempt failed",
			zap.String("name", spec.Name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, policy)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = ctxErr
	}
	return &DownloadError{
		ModelName: spec.Name,
		Cause:     err,
		Message:   fmt.Sprintf("download failed after %d attempts", attempt),
		URL:       spec.URL,
		DestPath:  spec.Path,
		Checksum:  spec.SHA256,
	}
}

// attemptDownload fetches into a .incomplete file, verifies it, and renames
// it into place.
func (s *Store) attemptDownload(ctx context.Context, spec Spec) error {
	tmpPath := spec.Path + ".incomplete"
	if err := fetch(ctx, s.client, spec.URL, tmpPath, filepath.Base(spec.Path), s.progress); err != nil {
		return err
	}

	if spec.SHA256 != "" {
		valid, err := VerifyChecksum(tmpPath, spec.SHA256)
		if err != nil {
			return fmt.Errorf("modelstore: verify checksum: %w", err)
		}
		if !valid {
			os.Remove(tmpPath)
			return fmt.Errorf("%w: checksum mismatch for %s", ErrChecksumMismatch, spec.Name)
		}
	}

	if err := os.Rename(tmpPath, spec.Path); err != nil {
		return fmt.Errorf("modelstore: move download into place: %w", err)
	}
	return nil
}

// checkExisting reports whether the file is present and, when a checksum is
// configured, matches it. An existing file with the wrong checksum is an
// error rather than a reason to download again.
func checkExisting(spec Spec) (bool, error) {
	info, err := os.Stat(spec.Path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("modelstore: stat model file: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("modelstore: model path is a directory: %s", spec.Path)
	}
	if info.Size() == 0 {
		return false, nil
	}

	if spec.SHA256 == "" {
		return true, nil
	}

	valid, err := VerifyChecksum(spec.Path, spec.SHA256)
	if err != nil {
		return false, fmt.Errorf("modelstore: verify checksum: %w", err)
	}
	if !valid {
		return false, fmt.Errorf("%w: %w: %s", sdruntime.ErrModelCorrupted, ErrChecksumMismatch, spec.Path)
	}
	return true, nil
}

// isRetryableError determines if an error is worth retrying.
// Network errors and server errors are retryable; checksum mismatches,
// client errors and cancellation are not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrChecksumMismatch) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
