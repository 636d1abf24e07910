package report

import (
	"testing"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/models"
)

func TestSaveAndLoad(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	job := &models.Job{
		ID:         "job-1",
		SessionID:  "s1",
		Kind:       models.JobCaption,
		Status:     models.JobCompleted,
		Provider:   "openai",
		Model:      "gpt-4-turbo",
		Total:      2,
		CreatedAt:  started,
		StartedAt:  &started,
		FinishedAt: &finished,
	}
	job.Record(models.FileResult{File: "a.jpg", Success: true, Caption: "cat, sofa"})
	job.Record(models.FileResult{File: "b.jpg", Error: "rate limited"})

	dir := t.TempDir()
	path, err := Save(dir, job, "masterpiece")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != Path(dir, "s1", "job-1") {
		t.Errorf("path = %q", path)
	}

	rep, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rep.Config.GlobalTags != "masterpiece" || rep.Config.Timestamp != "2024-05-01_10-00-00" {
		t.Errorf("config = %+v", rep.Config)
	}
	if rep.Summary.Succeeded != 1 || rep.Summary.Failed != 1 || rep.Summary.Duration != 1.5 {
		t.Errorf("summary = %+v", rep.Summary)
	}
	if len(rep.Results) != 2 || rep.Results[1].Error != "rate limited" {
		t.Errorf("results = %+v", rep.Results)
	}
}
