package db

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCleanup_DeletesOldRows(t *testing.T) {
	d := openTestDB(t)
	repo := NewRepository(d)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	for _, rec := range []GenerationRecord{
		{RequestID: "old", Status: StatusOK, CreatedAt: old},
		{RequestID: "new", Status: StatusOK},
	} {
		if _, err := repo.InsertGeneration(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	res, err := d.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if res.GenerationsDeleted != 1 || res.JobsDeleted != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	recs, _ := repo.RecentGenerations(ctx, 10)
	if len(recs) != 1 || recs[0].RequestID != "new" {
		t.Errorf("remaining %+v", recs)
	}
}

func TestCleanup_RejectsNonPositiveRetention(t *testing.T) {
	if _, err := openTestDB(t).Cleanup(context.Background(), 0); err == nil {
		t.Error("expected error")
	}
}

func TestStartCleanupScheduler_RunsImmediately(t *testing.T) {
	d := openTestDB(t)
	core, logs := observer.New(zapcore.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.StartCleanupScheduler(ctx, time.Hour, time.Hour, zap.New(core))

	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("history cleanup complete").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first cleanup pass did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
