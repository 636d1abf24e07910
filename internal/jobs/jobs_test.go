package jobs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/report"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

func newManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	return NewManager(context.Background(), storage.New(), nil, dir), dir
}

func TestRun_RecordsResults(t *testing.T) {
	m, dir := newManager(t)
	spec := Spec{SessionID: "s1", Kind: models.JobCaption, Provider: "openai", Total: 2}

	job, err := m.Run(context.Background(), spec, func(ctx context.Context, record func(models.FileResult)) error {
		record(models.FileResult{File: "a.jpg", Success: true, Caption: "cat"})
		record(models.FileResult{File: "b.jpg", Error: "boom"})
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != models.JobCompleted || job.Succeeded != 1 || job.Failed != 1 {
		t.Errorf("job = %+v", job)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Error("timestamps not set")
	}

	stored, err := m.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != models.JobCompleted || len(stored.Results) != 2 {
		t.Errorf("stored = %+v", stored)
	}
	if _, err := os.Stat(report.Path(dir, "s1", job.ID)); err != nil {
		t.Errorf("report not written: %v", err)
	}
}

func TestRun_Failure(t *testing.T) {
	m, _ := newManager(t)
	job, err := m.Run(context.Background(), Spec{SessionID: "s1", Kind: models.JobTags}, func(context.Context, func(models.FileResult)) error {
		return errors.New("disk full")
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != models.JobFailed || job.Error != "disk full" {
		t.Errorf("job = %+v", job)
	}
}

func TestStart_CancelStopsWork(t *testing.T) {
	m, _ := newManager(t)
	started := make(chan struct{})

	job, err := m.Start(Spec{SessionID: "s1", Kind: models.JobCaption, Total: 10}, func(ctx context.Context, record func(models.FileResult)) error {
		record(models.FileResult{File: "1.jpg", Success: true})
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Status.Terminal() {
		t.Fatalf("background job already terminal: %s", job.Status)
	}

	<-started
	live, err := m.Get(context.Background(), job.ID)
	if err != nil || live.Status != models.JobRunning {
		t.Fatalf("live = %+v, %v", live, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cancelled, err := m.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != models.JobCancelled || cancelled.Succeeded != 1 {
		t.Errorf("cancelled = %+v", cancelled)
	}

	m.Wait()
	if _, err := m.Cancel(context.Background(), job.ID); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second cancel err = %v, want ErrNotRunning", err)
	}
	if _, err := m.Cancel(context.Background(), "unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown cancel err = %v, want ErrNotFound", err)
	}
}

func TestRun_CallerContextCancels(t *testing.T) {
	m, _ := newManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := m.Run(ctx, Spec{SessionID: "s1", Kind: models.JobCaption}, func(ctx context.Context, _ func(models.FileResult)) error {
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != models.JobCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
}

func TestLatest(t *testing.T) {
	m, _ := newManager(t)
	noop := func(context.Context, func(models.FileResult)) error { return nil }

	first, _ := m.Run(context.Background(), Spec{SessionID: "s1", Kind: models.JobCaption}, noop)
	time.Sleep(time.Millisecond)
	second, _ := m.Run(context.Background(), Spec{SessionID: "s1", Kind: models.JobTags}, noop)

	latest, err := m.Latest(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != second.ID || latest.ID == first.ID {
		t.Errorf("latest = %s, want %s", latest.ID, second.ID)
	}
	if _, err := m.Latest(context.Background(), "s2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
