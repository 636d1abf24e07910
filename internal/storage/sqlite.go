package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/lehigh-university-libraries/captioner/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	files TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	total INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	results TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS jobs_session_idx ON jobs(session_id, created_at);
`

// SQLiteStore is the Repository backed by an embedded SQLite database
type SQLiteStore struct {
	db *sqlx.DB
}

type sessionRow struct {
	ID        string `db:"id"`
	Status    string `db:"status"`
	Files     string `db:"files"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

type jobRow struct {
	ID         string        `db:"id"`
	SessionID  string        `db:"session_id"`
	Kind       string        `db:"kind"`
	Status     string        `db:"status"`
	Provider   string        `db:"provider"`
	Model      string        `db:"model"`
	Total      int           `db:"total"`
	Succeeded  int           `db:"succeeded"`
	Failed     int           `db:"failed"`
	Error      string        `db:"error"`
	Results    string        `db:"results"`
	CreatedAt  int64         `db:"created_at"`
	StartedAt  sql.NullInt64 `db:"started_at"`
	FinishedAt sql.NullInt64 `db:"finished_at"`
}

// OpenSQLite opens (creating if needed) the database file and applies the schema
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql open failed for %s: %w", path, err)
	}
	// a single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout failed for %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session *models.Session) error {
	files, err := json.Marshal(session.Files)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, files, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			files = excluded.files,
			updated_at = excluded.updated_at`,
		session.ID, string(session.Status), string(files),
		session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return row.toModel()
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sessions ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]*models.Session, 0, len(rows))
	for _, row := range rows {
		session, err := row.toModel()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete jobs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job *models.Job) error {
	results, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, session_id, kind, status, provider, model, total, succeeded, failed, error, results, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total = excluded.total,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			error = excluded.error,
			results = excluded.results,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		job.ID, job.SessionID, string(job.Kind), string(job.Status), job.Provider, job.Model,
		job.Total, job.Succeeded, job.Failed, job.Error, string(results),
		job.CreatedAt.UnixNano(), nullTime(job.StartedAt), nullTime(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return row.toModel()
}

func (s *SQLiteStore) LatestJob(ctx context.Context, sessionID string) (*models.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM jobs WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no jobs for session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return row.toModel()
}

func (r sessionRow) toModel() (*models.Session, error) {
	session := &models.Session{
		ID:        r.ID,
		Status:    models.SessionStatus(r.Status),
		CreatedAt: time.Unix(0, r.CreatedAt),
		UpdatedAt: time.Unix(0, r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Files), &session.Files); err != nil {
		return nil, fmt.Errorf("failed to decode manifest for %s: %w", r.ID, err)
	}
	return session, nil
}

func (r jobRow) toModel() (*models.Job, error) {
	job := &models.Job{
		ID:         r.ID,
		SessionID:  r.SessionID,
		Kind:       models.JobKind(r.Kind),
		Status:     models.JobStatus(r.Status),
		Provider:   r.Provider,
		Model:      r.Model,
		Total:      r.Total,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Error:      r.Error,
		CreatedAt:  time.Unix(0, r.CreatedAt),
		StartedAt:  fromNull(r.StartedAt),
		FinishedAt: fromNull(r.FinishedAt),
	}
	if err := json.Unmarshal([]byte(r.Results), &job.Results); err != nil {
		return nil, fmt.Errorf("failed to decode results for job %s: %w", r.ID, err)
	}
	return job, nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}
