package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/models"
)

func newFS(t *testing.T) *Filesystem {
	t.Helper()
	root := t.TempDir()
	fs, err := NewFilesystem(filepath.Join(root, "uploads"), filepath.Join(root, "results"))
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return fs
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"session-1", true},
		{"photo.jpg", true},
		{"holiday..beach.jpg", true},
		{".", false},
		{"", false},
		{"..", false},
		{"../etc", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.valid && err != nil {
			t.Errorf("ValidateName(%q) unexpected error: %v", tt.name, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", tt.name, err)
		}
	}
}

func TestFilesystem_ListImagesFiltersAndSorts(t *testing.T) {
	fs := newFS(t)
	for _, name := range []string{"b.PNG", "a.jpg", "notes.md", "c.webp", "d.bmp"} {
		if _, err := fs.SaveUpload("s1", name, []byte("x")); err != nil {
			t.Fatalf("SaveUpload(%s): %v", name, err)
		}
	}

	images, err := fs.ListImages("s1")
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	want := []string{"a.jpg", "b.PNG", "c.webp", "d.bmp"}
	if len(images) != len(want) {
		t.Fatalf("got %v, want %v", images, want)
	}
	for i := range want {
		if images[i] != want[i] {
			t.Errorf("images[%d] = %s, want %s", i, images[i], want[i])
		}
	}
}

func TestFilesystem_MissingSession(t *testing.T) {
	fs := newFS(t)
	if fs.SessionExists("nope") {
		t.Error("expected session to be absent")
	}
	if _, err := fs.ListImages("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ListImages error = %v, want ErrNotFound", err)
	}
	images, captions, err := fs.Counts("nope")
	if err != nil || images != 0 || captions != 0 {
		t.Errorf("Counts = %d, %d, %v", images, captions, err)
	}
}

func TestFilesystem_CaptionRoundTripAndDelete(t *testing.T) {
	fs := newFS(t)
	if _, err := fs.SaveUpload("s1", "cat.jpg", []byte("img")); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteCaption("s1", CaptionName("cat.jpg"), "cat, fluffy"); err != nil {
		t.Fatalf("WriteCaption: %v", err)
	}
	got, err := fs.ReadCaption("s1", "cat.txt")
	if err != nil || got != "cat, fluffy" {
		t.Fatalf("ReadCaption = %q, %v", got, err)
	}
	if _, err := fs.CaptionPath("s1", "../s1/cat.txt"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected traversal to be rejected, got %v", err)
	}

	if err := fs.DeleteSession("s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := os.Stat(fs.ResultDir("s1")); !os.IsNotExist(err) {
		t.Errorf("result dir still present: %v", err)
	}
	if err := fs.DeleteSession("s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "captioner.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Repository{
		"memory": New(),
		"sqlite": sqlite,
	}
}

func TestRepository_Sessions(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			session := &models.Session{ID: "s1", Status: models.SessionUploaded, CreatedAt: now, UpdatedAt: now}
			session.AddFile(models.FileEntry{Filename: "a.jpg", Size: 10, ContentType: "image/jpeg"})
			session.AddFile(models.FileEntry{Filename: "a.jpg", Size: 20, ContentType: "image/jpeg"})
			if err := repo.SaveSession(ctx, session); err != nil {
				t.Fatalf("SaveSession: %v", err)
			}

			got, err := repo.GetSession(ctx, "s1")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if len(got.Files) != 1 || got.Files[0].Size != 20 {
				t.Errorf("manifest = %+v", got.Files)
			}
			if !got.CreatedAt.Equal(now) {
				t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
			}

			list, err := repo.ListSessions(ctx)
			if err != nil || len(list) != 1 {
				t.Fatalf("ListSessions = %v, %v", list, err)
			}

			if err := repo.DeleteSession(ctx, "s1"); err != nil {
				t.Fatalf("DeleteSession: %v", err)
			}
			if _, err := repo.GetSession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetSession after delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRepository_Jobs(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now()
			older := &models.Job{ID: "j1", SessionID: "s1", Kind: models.JobCaption, Status: models.JobCompleted, CreatedAt: base}
			newer := &models.Job{ID: "j2", SessionID: "s1", Kind: models.JobCaption, Status: models.JobPending, CreatedAt: base.Add(time.Second)}
			for _, j := range []*models.Job{older, newer} {
				if err := repo.SaveJob(ctx, j); err != nil {
					t.Fatalf("SaveJob: %v", err)
				}
			}

			started := base.Add(2 * time.Second)
			newer.Status = models.JobRunning
			newer.StartedAt = &started
			newer.Record(models.FileResult{File: "a.jpg", Success: true, Caption: "cat"})
			newer.Record(models.FileResult{File: "b.jpg", Error: "boom"})
			if err := repo.SaveJob(ctx, newer); err != nil {
				t.Fatalf("SaveJob update: %v", err)
			}

			latest, err := repo.LatestJob(ctx, "s1")
			if err != nil {
				t.Fatalf("LatestJob: %v", err)
			}
			if latest.ID != "j2" || latest.Status != models.JobRunning {
				t.Errorf("latest = %+v", latest)
			}
			if latest.Succeeded != 1 || latest.Failed != 1 || len(latest.Results) != 2 {
				t.Errorf("counters = %d/%d results=%d", latest.Succeeded, latest.Failed, len(latest.Results))
			}
			if latest.StartedAt == nil || !latest.StartedAt.Equal(started) {
				t.Errorf("StartedAt = %v", latest.StartedAt)
			}
			if _, err := repo.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetJob missing = %v", err)
			}
			if _, err := repo.LatestJob(ctx, "other"); !errors.Is(err, ErrNotFound) {
				t.Errorf("LatestJob other = %v", err)
			}
		})
	}
}
