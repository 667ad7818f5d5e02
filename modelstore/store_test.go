package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"diffusion_backend/sdruntime"

	"go.uber.org/zap/zaptest"
)

var testContent = []byte(strings.Repeat("weights-", 512))

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithProgressOutput(io.Discard),
		WithRetryDelay(time.Millisecond),
	}
	return New(append(base, opts...)...)
}

func serveContent(t *testing.T, requests *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		w.Header().Set("Content-Length", strconv.Itoa(len(testContent)))
		w.Write(testContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsure_Downloads(t *testing.T) {
	var requests int32
	srv := serveContent(t, &requests)
	dest := filepath.Join(t.TempDir(), "models", "base.safetensors")

	store := newTestStore(t)
	path, err := store.Ensure(context.Background(), Spec{
		Name:   "base",
		URL:    srv.URL,
		Path:   dest,
		SHA256: sha256Hex(testContent),
	})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if path != dest {
		t.Errorf("expected path %s, got %s", dest, path)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(testContent) {
		t.Error("downloaded content does not match")
	}
	if _, err := os.Stat(dest + ".incomplete"); !os.IsNotExist(err) {
		t.Error("expected .incomplete file to be gone")
	}

	// Second call must not hit the network.
	if _, err := store.Ensure(context.Background(), Spec{Name: "base", URL: srv.URL, Path: dest}); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestEnsure_ExistingFileNoURL(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "base.safetensors")
	if err := os.WriteFile(dest, testContent, 0644); err != nil {
		t.Fatal(err)
	}

	path, err := newTestStore(t).Ensure(context.Background(), Spec{Name: "base", Path: dest})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if path != dest {
		t.Errorf("expected %s, got %s", dest, path)
	}
}

func TestEnsure_MissingFileNoURL(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "base.safetensors")

	_, err := newTestStore(t).Ensure(context.Background(), Spec{Name: "base", Path: dest})
	if !errors.Is(err, sdruntime.ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got: %v", err)
	}
}

func TestEnsure_ExistingFileChecksumMismatch(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "base.safetensors")
	if err := os.WriteFile(dest, []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := newTestStore(t).Ensure(context.Background(), Spec{
		Name:   "base",
		Path:   dest,
		SHA256: sha256Hex(testContent),
	})
	if !errors.Is(err, sdruntime.ErrModelCorrupted) {
		t.Errorf("expected ErrModelCorrupted, got: %v", err)
	}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got: %v", err)
	}
}

func TestEnsure_DownloadChecksumMismatchNotRetried(t *testing.T) {
	var requests int32
	srv := serveContent(t, &requests)
	dest := filepath.Join(t.TempDir(), "base.safetensors")

	_, err := newTestStore(t).Ensure(context.Background(), Spec{
		Name:   "base",
		URL:    srv.URL,
		Path:   dest,
		SHA256: strings.Repeat("0", 64),
	})

	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected *DownloadError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("checksum mismatch should not be retried, got %d requests", n)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("corrupt download must not be moved into place")
	}
}

func TestEnsure_RetriesServerErrors(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(testContent)
	}))
	defer srv.Close()
	dest := filepath.Join(t.TempDir(), "base.safetensors")

	_, err := newTestStore(t, WithMaxAttempts(3)).Ensure(context.Background(), Spec{Name: "base", URL: srv.URL, Path: dest})
	if err != nil {
		t.Fatalf("expected success on third attempt, got: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 3 {
		t.Errorf("expected 3 requests, got %d", n)
	}
}

func TestEnsure_ClientErrorNotRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestStore(t).Ensure(context.Background(), Spec{
		Name: "base",
		URL:  srv.URL,
		Path: filepath.Join(t.TempDir(), "base.safetensors"),
	})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func TestEnsure_Resume(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		var from int
		fmt.Sscanf(gotRange, "bytes=%d-", &from)
		rest := testContent[from:]
		w.Header().Set("Content-Length", strconv.Itoa(len(rest)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(rest)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "base.safetensors")
	if err := os.WriteFile(dest+".incomplete", testContent[:100], 0644); err != nil {
		t.Fatal(err)
	}

	_, err := newTestStore(t).Ensure(context.Background(), Spec{
		Name:   "base",
		URL:    srv.URL,
		Path:   dest,
		SHA256: sha256Hex(testContent),
	})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if gotRange != "bytes=100-" {
		t.Errorf("expected Range bytes=100-, got %q", gotRange)
	}
}

func TestEnsure_ConcurrentCallersDownloadOnce(t *testing.T) {
	var requests int32
	srv := serveContent(t, &requests)
	dest := filepath.Join(t.TempDir(), "base.safetensors")
	store := newTestStore(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Ensure(context.Background(), Spec{Name: "base", URL: srv.URL, Path: dest})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("expected a single download, got %d", n)
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "base.safetensors")
	store := newTestStore(t)

	if err := store.Verify(Spec{Name: "base", Path: dest}); !errors.Is(err, sdruntime.ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}

	os.WriteFile(dest, testContent, 0644)
	if err := store.Verify(Spec{Name: "base", Path: dest, SHA256: sha256Hex(testContent)}); err != nil {
		t.Errorf("expected valid file, got %v", err)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"checksum", fmt.Errorf("x: %w", ErrChecksumMismatch), false},
		{"404", &StatusError{StatusCode: 404}, false},
		{"429", &StatusError{StatusCode: 429}, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDownloadError_Message(t *testing.T) {
	err := &DownloadError{
		ModelName: "base",
		Cause:     errors.New("boom"),
		Message:   "download failed after 3 attempts",
		URL:       "https://example.com/model.safetensors",
		DestPath:  "/models/base.safetensors",
	}
	msg := err.Error()
	for _, want := range []string{"base", "boom", "Manual download instructions", "/models/base.safetensors", "(none configured)"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q, got:\n%s", want, msg)
		}
	}
}

func TestBuildRangeHeader(t *testing.T) {
	if got := BuildRangeHeader(1024); got != "bytes=1024-" {
		t.Errorf("got %q", got)
	}
	if got := BuildRangeHeader(-5); got != "bytes=0-" {
		t.Errorf("got %q", got)
	}
}

func TestVerifyChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	os.WriteFile(path, testContent, 0644)

	ok, err := VerifyChecksum(path, strings.ToUpper(sha256Hex(testContent)))
	if err != nil || !ok {
		t.Errorf("expected match, got %v, %v", ok, err)
	}
	if _, err := VerifyChecksum(path, "abc"); err == nil {
		t.Error("expected error for short hash")
	}
	if _, err := VerifyChecksum(path, ""); err == nil {
		t.Error("expected error for empty hash")
	}
}
