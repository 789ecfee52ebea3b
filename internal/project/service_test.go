package project

import (
	"context"
	"errors"
	"testing"
)

func TestService_JobLifecycle(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	svc := NewService(repo, nil)
	svc.JobStarted(ctx, "p1", "job-1", JobKindVideo, 4)

	if n := svc.ActiveJobCount(ctx); n != 1 {
		t.Errorf("ActiveJobCount = %d, want 1", n)
	}

	svc.JobProgress(ctx, "job-1", 3, 4)
	svc.JobFinished(ctx, "job-1", JobStatusCompleted, "")

	j, err := repo.GetJob(ctx, "job-1")
	if err != nil || j == nil {
		t.Fatalf("GetJob() = %v, %v", j, err)
	}
	if j.Status != JobStatusCompleted || j.Completed != 3 {
		t.Errorf("job = %+v, want completed 3/4", j)
	}
	if n := svc.ActiveJobCount(ctx); n != 0 {
		t.Errorf("ActiveJobCount = %d, want 0", n)
	}
}

func TestService_Charge(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	svc := NewService(repo, nil)
	if err := svc.Charge(ctx, "p1", "j1", 15, "3 clips"); err != nil {
		t.Fatalf("Charge() error = %v", err)
	}
	if err := svc.Charge(ctx, "p1", "j2", 0, "nothing"); err != nil {
		t.Fatalf("Charge(0) error = %v", err)
	}
	if err := svc.Charge(ctx, "p1", "j3", -1, ""); err == nil {
		t.Error("Charge(-1) should fail")
	}

	total, _ := svc.TotalCharged(ctx, "p1")
	if total != 15 {
		t.Errorf("TotalCharged = %d, want 15", total)
	}
	charges, _ := repo.ListCharges(ctx, "p1")
	if len(charges) != 1 {
		t.Errorf("len(charges) = %d, want 1 (zero charge not recorded)", len(charges))
	}
}

type failingRepo struct {
	Repository
	saves int
}

func (f *failingRepo) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	f.saves++
	return errors.New("disk full")
}

func TestWriter_FlushWritesLatest(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	w := NewWriter(repo, nil)
	w.WriteSnapshot(Snapshot{ProjectID: "p1", CombinedURL: "first.mp4"})
	w.WriteSnapshot(Snapshot{ProjectID: "p1", CombinedURL: "second.mp4"})
	w.WriteSnapshot(Snapshot{})
	w.Flush(ctx)

	got, err := repo.GetSnapshot(ctx, "p1")
	if err != nil || got == nil {
		t.Fatalf("GetSnapshot() = %v, %v", got, err)
	}
	if got.CombinedURL != "second.mp4" {
		t.Errorf("CombinedURL = %s, want second.mp4", got.CombinedURL)
	}
	written, failed := w.Stats()
	if written != 1 || failed != 0 {
		t.Errorf("Stats = %d/%d, want 1/0", written, failed)
	}
}

func TestWriter_FailureIsSwallowed(t *testing.T) {
	repo := &failingRepo{}
	w := NewWriter(repo, nil)

	w.WriteSnapshot(Snapshot{ProjectID: "p1"})
	w.Flush(context.Background())
	w.Flush(context.Background())

	if repo.saves != 1 {
		t.Errorf("saves = %d, want 1 (failed snapshot is dropped)", repo.saves)
	}
	_, failed := w.Stats()
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestWriter_StartFlushesOnStop(t *testing.T) {
	database, repo := setupTestDB(t)
	defer database.Close()

	w := NewWriter(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	w.WriteSnapshot(Snapshot{ProjectID: "p9", MusicURL: "m.mp3"})
	cancel()
	<-done

	got, _ := repo.GetSnapshot(context.Background(), "p9")
	if got == nil || got.MusicURL != "m.mp3" {
		t.Errorf("snapshot after stop = %+v, want music m.mp3", got)
	}
	if w.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
}
