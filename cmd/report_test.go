package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/captioner/internal/report"
)

func sampleReport() *report.Report {
	return &report.Report{
		Config: report.RunConfig{Job: "job-1", Session: "sess", Kind: "caption", Provider: "openai", Model: "gpt-4-turbo"},
		Summary: report.Summary{
			Status:    "completed",
			Total:     2,
			Succeeded: 1,
			Failed:    1,
		},
		Results: []report.Result{
			{File: "a.jpg", Caption: "a cat, on a mat"},
			{File: "b.jpg", Error: "rate limited"},
		},
	}
}

func TestPrintReportFormats(t *testing.T) {
	rep := sampleReport()

	var text bytes.Buffer
	if err := printReport(&text, rep, "text"); err != nil {
		t.Fatalf("text: %v", err)
	}
	for _, want := range []string{"Succeeded: 1/2", "a cat, on a mat", "Error: rate limited"} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("text report missing %q:\n%s", want, text.String())
		}
	}

	var csv bytes.Buffer
	if err := printReport(&csv, rep, "csv"); err != nil {
		t.Fatalf("csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(csv.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d: %q", len(lines), lines)
	}
	if lines[1] != `a.jpg,true,"a cat, on a mat",` {
		t.Errorf("unexpected csv row: %q", lines[1])
	}

	var js bytes.Buffer
	if err := printReport(&js, rep, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(js.String(), `"Job": "job-1"`) {
		t.Errorf("json report missing job id:\n%s", js.String())
	}

	if err := printReport(&bytes.Buffer{}, rep, "xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("truncate long = %q", got)
	}
}
