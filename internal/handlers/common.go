package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/archive"
	"github.com/lehigh-university-libraries/captioner/internal/captioning"
	"github.com/lehigh-university-libraries/captioner/internal/jobs"
	"github.com/lehigh-university-libraries/captioner/internal/metrics"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"github.com/lehigh-university-libraries/captioner/internal/publish"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

// Options carries the request limits and defaults the handlers enforce
type Options struct {
	MaxFileSize      int64
	MaxFilesMultiple int
	MaxFilesFolder   int
	ChunkSize        int
	BatchChunkSize   int
	MaxTokens        int
	DefaultProvider  string
	// APIKeys holds server-side keys per provider, used when a request carries none
	APIKeys     map[string]string
	Development bool
}

// Deps are the services the handlers are built on. Publisher may be nil.
type Deps struct {
	Files     *storage.Filesystem
	Repo      storage.Repository
	Registry  *providers.Registry
	Processor *captioning.Processor
	Jobs      *jobs.Manager
	Metrics   *metrics.Metrics
	Publisher *publish.Publisher
}

type Handler struct {
	files     *storage.Filesystem
	repo      storage.Repository
	registry  *providers.Registry
	processor *captioning.Processor
	jobs      *jobs.Manager
	metrics   *metrics.Metrics
	publisher *publish.Publisher
	opts      Options
}

func New(deps Deps, opts Options) *Handler {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 << 20
	}
	if opts.MaxFilesMultiple <= 0 {
		opts.MaxFilesMultiple = 100
	}
	if opts.MaxFilesFolder <= 0 {
		opts.MaxFilesFolder = 500
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = captioning.DefaultChunkSize
	}
	if opts.BatchChunkSize <= 0 {
		opts.BatchChunkSize = captioning.BatchChunkSize
	}
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = "openai"
	}
	return &Handler{
		files:     deps.Files,
		repo:      deps.Repo,
		registry:  deps.Registry,
		processor: deps.Processor,
		jobs:      deps.Jobs,
		metrics:   deps.Metrics,
		publisher: deps.Publisher,
		opts:      opts,
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// writeError sends {success:false, message}. The raw error is only
// exposed in development mode.
func (h *Handler) writeError(w http.ResponseWriter, code int, message string, err error) {
	if code >= http.StatusInternalServerError {
		slog.Error(message, "status", code, "err", err)
	} else {
		slog.Warn(message, "status", code, "err", err)
	}
	resp := errorResponse{Message: message}
	if h.opts.Development && err != nil {
		resp.Error = err.Error()
	}
	h.writeJSON(w, code, resp)
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrInvalidName),
		errors.Is(err, captioning.ErrNoImages),
		errors.Is(err, archive.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, captioning.ErrSessionNotFound),
		errors.Is(err, captioning.ErrNoCaptions):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	h.writeError(w, statusFor(err), message, err)
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return false
	}
	return true
}

// sessionID reads and validates a path value
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if err := storage.ValidateName(id); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid session ID", err)
		return "", false
	}
	return id, true
}

// Session record helpers

func (h *Handler) loadSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := h.repo.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		now := time.Now()
		return &models.Session{ID: id, Status: models.SessionUploaded, CreatedAt: now, UpdatedAt: now}, nil
	}
	return session, err
}

func (h *Handler) setSessionStatus(ctx context.Context, id string, status models.SessionStatus) {
	session, err := h.loadSession(ctx, id)
	if err != nil {
		slog.Error("Unable to load session record", "session_id", id, "err", err)
		return
	}
	session.Status = status
	session.UpdatedAt = time.Now()
	if err := h.repo.SaveSession(ctx, session); err != nil {
		slog.Error("Unable to save session record", "session_id", id, "err", err)
	}
}

// refreshSessionStatus derives the record status from the files on disk
func (h *Handler) refreshSessionStatus(ctx context.Context, id string) {
	images, captions, err := h.files.Counts(id)
	if err != nil {
		slog.Error("Unable to count session files", "session_id", id, "err", err)
		return
	}
	status := models.SessionUploaded
	if models.NewProgress(images, captions).IsComplete {
		status = models.SessionCaptioned
	}
	h.setSessionStatus(ctx, id, status)
}
