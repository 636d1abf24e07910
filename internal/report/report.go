package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/captioner/internal/models"
)

// RunConfig represents the configuration section of a job report
type RunConfig struct {
	Job        string `yaml:"job"`
	Session    string `yaml:"session"`
	Kind       string `yaml:"kind"`
	Provider   string `yaml:"provider,omitempty"`
	Model      string `yaml:"model,omitempty"`
	GlobalTags string `yaml:"globaltags,omitempty"`
	Timestamp  string `yaml:"timestamp"`
}

// Summary holds the job totals
type Summary struct {
	Status    string  `yaml:"status"`
	Total     int     `yaml:"total"`
	Succeeded int     `yaml:"succeeded"`
	Failed    int     `yaml:"failed"`
	Duration  float64 `yaml:"durationseconds"`
	Error     string  `yaml:"error,omitempty"`
}

// Result represents a single file outcome
type Result struct {
	File    string `yaml:"file"`
	Caption string `yaml:"caption,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

// Report represents the complete job report
type Report struct {
	Config  RunConfig `yaml:"config"`
	Summary Summary   `yaml:"summary"`
	Results []Result  `yaml:"results"`
}

// Build converts a finished job into its report form
func Build(job *models.Job, globalTags string) Report {
	rep := Report{
		Config: RunConfig{
			Job:        job.ID,
			Session:    job.SessionID,
			Kind:       string(job.Kind),
			Provider:   job.Provider,
			Model:      job.Model,
			GlobalTags: globalTags,
			Timestamp:  job.CreatedAt.Format("2006-01-02_15-04-05"),
		},
		Summary: Summary{
			Status:    string(job.Status),
			Total:     job.Total,
			Succeeded: job.Succeeded,
			Failed:    job.Failed,
			Error:     job.Error,
		},
		Results: make([]Result, 0, len(job.Results)),
	}
	if job.StartedAt != nil && job.FinishedAt != nil {
		rep.Summary.Duration = job.FinishedAt.Sub(*job.StartedAt).Round(time.Millisecond).Seconds()
	}
	for _, r := range job.Results {
		rep.Results = append(rep.Results, Result{File: r.File, Caption: r.Caption, Error: r.Error})
	}
	return rep
}

// Path returns where the report of a job is stored
func Path(dir, sessionID, jobID string) string {
	return filepath.Join(dir, sessionID, jobID+".yaml")
}

// Save writes the job report to <dir>/<session>/<job>.yaml
func Save(dir string, job *models.Job, globalTags string) (string, error) {
	filename := Path(dir, job.SessionID, job.ID)
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	rep := Build(job, globalTags)
	data, err := yaml.Marshal(&rep)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write YAML file: %w", err)
	}
	return filename, nil
}

// Load reads a report written by Save
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var rep Report
	if err := yaml.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &rep, nil
}
