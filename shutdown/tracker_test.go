package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOperationTracker_StartDone(t *testing.T) {
	tracker := NewOperationTracker()

	if !tracker.Start() || !tracker.Start() {
		t.Fatal("Start should succeed on an open tracker")
	}
	if tracker.ActiveCount() != 2 {
		t.Errorf("expected 2 active, got %d", tracker.ActiveCount())
	}
	tracker.Done()
	tracker.Done()
	if tracker.ActiveCount() != 0 {
		t.Errorf("expected 0 active, got %d", tracker.ActiveCount())
	}
}

func TestOperationTracker_CloseRejectsNewOps(t *testing.T) {
	tracker := NewOperationTracker()
	if !tracker.Start() {
		t.Fatal("Start failed")
	}
	tracker.Close()

	if tracker.Start() {
		t.Error("Start should fail after Close")
	}
	if !tracker.IsClosed() {
		t.Error("IsClosed should be true")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		tracker.Done()
	}()
	if err := tracker.Wait(context.Background()); err != nil {
		t.Errorf("in-flight operation should complete, got %v", err)
	}
}

func TestOperationTracker_WaitHonorsContext(t *testing.T) {
	tracker := NewOperationTracker()
	tracker.Start()
	defer tracker.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tracker.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestOperationTracker_ConcurrentStartWithClose(t *testing.T) {
	tracker := NewOperationTracker()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Start() {
				time.Sleep(time.Millisecond)
				tracker.Done()
			}
		}()
	}
	tracker.Close()
	wg.Wait()

	if err := tracker.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tracker.ActiveCount() != 0 {
		t.Errorf("expected 0 active, got %d", tracker.ActiveCount())
	}
}
