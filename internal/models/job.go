package models

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change state
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

type JobKind string

const (
	JobCaption JobKind = "caption"
	JobTags    JobKind = "global_tags"
)

// Job is the record of one captioning or tagging run against a session
type Job struct {
	ID         string       `json:"id" yaml:"id"`
	SessionID  string       `json:"session_id" yaml:"session_id"`
	Kind       JobKind      `json:"kind" yaml:"kind"`
	Status     JobStatus    `json:"status" yaml:"status"`
	Provider   string       `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model      string       `json:"model,omitempty" yaml:"model,omitempty"`
	Total      int          `json:"total" yaml:"total"`
	Succeeded  int          `json:"succeeded" yaml:"succeeded"`
	Failed     int          `json:"failed" yaml:"failed"`
	Error      string       `json:"error,omitempty" yaml:"error,omitempty"`
	Results    []FileResult `json:"results,omitempty" yaml:"results,omitempty"`
	CreatedAt  time.Time    `json:"created_at" yaml:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Record appends a per-file result and updates the counters
func (j *Job) Record(r FileResult) {
	j.Results = append(j.Results, r)
	if r.Success {
		j.Succeeded++
	} else {
		j.Failed++
	}
}
