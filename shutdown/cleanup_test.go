package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRemoveIncompleteDownloads(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"sd-v1-5.safetensors", "sd-v1-5.safetensors" + IncompleteSuffix, "vae.bin" + IncompleteSuffix} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "cache"+IncompleteSuffix), 0o755); err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	if err := RemoveIncompleteDownloads(zap.New(core), dir)(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "sd-v1-5.safetensors")); err != nil {
		t.Error("completed model must be kept")
	}
	if _, err := os.Stat(filepath.Join(dir, "cache"+IncompleteSuffix)); err != nil {
		t.Error("directories must be left alone")
	}
	left, _ := filepath.Glob(filepath.Join(dir, "*.bin"+IncompleteSuffix))
	if len(left) != 0 {
		t.Errorf("partial downloads left: %v", left)
	}
	entries := logs.FilterMessage("removed partial downloads").All()
	if len(entries) != 1 || entries[0].ContextMap()["removed"] != int64(2) {
		t.Errorf("unexpected log entries %v", entries)
	}
}

func TestRemoveIncompleteDownloads_MissingDir(t *testing.T) {
	fn := RemoveIncompleteDownloads(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "absent"))
	if err := fn(context.Background()); err != nil {
		t.Errorf("missing directory should be a no-op, got %v", err)
	}
}

func TestRemoveIncompleteDownloads_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model"+IncompleteSuffix)
	os.WriteFile(path, []byte("x"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	RemoveIncompleteDownloads(zaptest.NewLogger(t), dir)(ctx)

	if _, err := os.Stat(path); err != nil {
		t.Error("cancelled cleanup should stop before removing files")
	}
}
