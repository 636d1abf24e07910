// Package jobs tracks captioning and tagging runs against a session.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/captioner/internal/metrics"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/report"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

var ErrNotRunning = errors.New("job is not running")

// Work performs a job. It must stop when ctx is done and report each
// per-file outcome through record; record is safe for concurrent use.
type Work func(ctx context.Context, record func(models.FileResult)) error

// Spec describes a job to create
type Spec struct {
	SessionID  string
	Kind       models.JobKind
	Provider   string
	Model      string
	Total      int
	GlobalTags string
}

type running struct {
	job    *models.Job
	tags   string
	cancel context.CancelFunc
	done   chan struct{}
}

type Manager struct {
	base       context.Context
	repo       storage.Repository
	metrics    *metrics.Metrics
	reportsDir string

	mu      sync.Mutex
	running map[string]*running
	wg      sync.WaitGroup
}

// NewManager creates a manager whose background jobs live as long as base
func NewManager(base context.Context, repo storage.Repository, m *metrics.Metrics, reportsDir string) *Manager {
	return &Manager{
		base:       base,
		repo:       repo,
		metrics:    m,
		reportsDir: reportsDir,
		running:    make(map[string]*running),
	}
}

func (m *Manager) create(ctx context.Context, spec Spec) (*models.Job, error) {
	job := &models.Job{
		ID:        uuid.NewString(),
		SessionID: spec.SessionID,
		Kind:      spec.Kind,
		Status:    models.JobPending,
		Provider:  spec.Provider,
		Model:     spec.Model,
		Total:     spec.Total,
		CreatedAt: time.Now(),
	}
	if err := m.repo.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	return job, nil
}

// Run executes the job on the caller's goroutine. Cancelling ctx, or calling
// Cancel with the job id, cancels the work.
func (m *Manager) Run(ctx context.Context, spec Spec, work Work) (*models.Job, error) {
	job, err := m.create(ctx, spec)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := m.register(job, spec.GlobalTags, cancel)
	m.execute(ctx, r, work)
	return m.snapshot(r), nil
}

// Start executes the job in the background and returns the pending record
func (m *Manager) Start(spec Spec, work Work) (*models.Job, error) {
	job, err := m.create(m.base, spec)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(m.base)
	r := m.register(job, spec.GlobalTags, cancel)
	pending := m.snapshot(r)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.execute(ctx, r, work)
	}()
	return pending, nil
}

func (m *Manager) register(job *models.Job, tags string, cancel context.CancelFunc) *running {
	r := &running{job: job, tags: tags, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.running[job.ID] = r
	m.mu.Unlock()
	return r
}

func (m *Manager) execute(ctx context.Context, r *running, work Work) {
	m.mu.Lock()
	now := time.Now()
	r.job.Status = models.JobRunning
	r.job.StartedAt = &now
	m.mu.Unlock()
	m.persist(r)

	if m.metrics != nil {
		m.metrics.ActiveJobs.Inc()
		defer m.metrics.ActiveJobs.Dec()
	}
	slog.Info("Job started", "job_id", r.job.ID, "session_id", r.job.SessionID, "kind", r.job.Kind)

	err := work(ctx, func(res models.FileResult) {
		m.mu.Lock()
		r.job.Record(res)
		m.mu.Unlock()
	})

	m.mu.Lock()
	finished := time.Now()
	r.job.FinishedAt = &finished
	switch {
	case err == nil:
		r.job.Status = models.JobCompleted
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		r.job.Status = models.JobCancelled
		r.job.Error = "cancelled"
	default:
		r.job.Status = models.JobFailed
		r.job.Error = err.Error()
	}
	m.mu.Unlock()
	m.persist(r)

	m.mu.Lock()
	delete(m.running, r.job.ID)
	m.mu.Unlock()
	close(r.done)

	if m.reportsDir != "" {
		if _, err := report.Save(m.reportsDir, r.job, r.tags); err != nil {
			slog.Warn("Unable to write job report", "job_id", r.job.ID, "err", err)
		}
	}
	slog.Info("Job finished", "job_id", r.job.ID, "status", r.job.Status, "succeeded", r.job.Succeeded, "failed", r.job.Failed)
}

func (m *Manager) persist(r *running) {
	job := m.snapshot(r)
	// the request context may already be cancelled
	if err := m.repo.SaveJob(context.WithoutCancel(m.base), job); err != nil {
		slog.Error("Unable to persist job", "job_id", job.ID, "err", err)
	}
}

func (m *Manager) snapshot(r *running) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r.job
	cp.Results = append([]models.FileResult(nil), r.job.Results...)
	return &cp
}

// Cancel stops a pending or running job and waits for it to settle
func (m *Manager) Cancel(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	r, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		if _, err := m.repo.GetJob(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.snapshot(r), nil
}

// Get returns the live state of a running job or the stored record
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	r, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		return m.snapshot(r), nil
	}
	return m.repo.GetJob(ctx, id)
}

// Latest returns the most recent job of a session
func (m *Manager) Latest(ctx context.Context, sessionID string) (*models.Job, error) {
	m.mu.Lock()
	var live *running
	for _, r := range m.running {
		if r.job.SessionID == sessionID && (live == nil || r.job.CreatedAt.After(live.job.CreatedAt)) {
			live = r
		}
	}
	m.mu.Unlock()
	if live != nil {
		return m.snapshot(live), nil
	}
	return m.repo.LatestJob(ctx, sessionID)
}

// Wait blocks until every background job has finished
func (m *Manager) Wait() {
	m.wg.Wait()
}
