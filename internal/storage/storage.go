package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lehigh-university-libraries/captioner/internal/models"
)

// Repository persists session records and job records
type Repository interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error

	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	LatestJob(ctx context.Context, sessionID string) (*models.Job, error)

	Close() error
}

var (
	_ Repository = (*SessionStore)(nil)
	_ Repository = (*SQLiteStore)(nil)
)

// SessionStore is the in-memory Repository
type SessionStore struct {
	sessions map[string]*models.Session
	jobs     map[string]*models.Job
	mu       sync.RWMutex
}

func New() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.Session),
		jobs:     make(map[string]*models.Job),
	}
}

func (s *SessionStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	cp := *session
	cp.Files = append([]models.FileEntry(nil), session.Files...)
	return &cp, nil
}

func (s *SessionStore) SaveSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	cp.Files = append([]models.FileEntry(nil), session.Files...)
	s.sessions[session.ID] = &cp
	return nil
}

func (s *SessionStore) ListSessions(_ context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Session, 0, len(s.sessions))
	for _, v := range s.sessions {
		cp := *v
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for jobID, job := range s.jobs {
		if job.SessionID == id {
			delete(s.jobs, jobID)
		}
	}
	return nil
}

func (s *SessionStore) SaveJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	cp.Results = append([]models.FileResult(nil), job.Results...)
	s.jobs[job.ID] = &cp
	return nil
}

func (s *SessionStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	cp := *job
	cp.Results = append([]models.FileResult(nil), job.Results...)
	return &cp, nil
}

func (s *SessionStore) LatestJob(_ context.Context, sessionID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Job
	for _, job := range s.jobs {
		if job.SessionID != sessionID {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no jobs for session %s", ErrNotFound, sessionID)
	}
	cp := *latest
	cp.Results = append([]models.FileResult(nil), latest.Results...)
	return &cp, nil
}

func (s *SessionStore) Close() error {
	return nil
}
