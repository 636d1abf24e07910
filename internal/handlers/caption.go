package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/lehigh-university-libraries/captioner/internal/captioning"
	"github.com/lehigh-university-libraries/captioner/internal/jobs"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

type captionRequest struct {
	SessionID  string `json:"sessionId"`
	APIKey     string `json:"apiKey"`
	GlobalTags string `json:"globalTags"`
	MaxTokens  int    `json:"maxTokens"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Async      bool   `json:"async"`
}

type captionResponse struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message"`
	SessionID string              `json:"sessionId"`
	JobID     string              `json:"jobId"`
	Status    models.JobStatus    `json:"status"`
	Total     int                 `json:"total"`
	Processed int                 `json:"processed"`
	Failed    int                 `json:"failed"`
	Results   []models.FileResult `json:"results"`
}

// HandleGenerate captions a session in chunks of the primary size
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	h.handleCaption(w, r, h.opts.ChunkSize)
}

// HandleBatch captions a session in chunks of the smaller batch size
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	h.handleCaption(w, r, h.opts.BatchChunkSize)
}

func (h *Handler) handleCaption(w http.ResponseWriter, r *http.Request, chunkSize int) {
	var req captionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		h.writeError(w, http.StatusBadRequest, "Session ID is required", nil)
		return
	}
	if err := storage.ValidateName(req.SessionID); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid session ID", err)
		return
	}

	provider := req.Provider
	if provider == "" {
		provider = h.opts.DefaultProvider
	}
	if !slices.Contains(h.registry.Names(), provider) {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported provider: %s", provider), nil)
		return
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = h.opts.APIKeys[provider]
	}
	if apiKey == "" && h.registry.RequiresKey(provider) {
		h.writeError(w, http.StatusBadRequest, "API key is required", nil)
		return
	}

	images, err := h.processor.Images(req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, captioning.ErrSessionNotFound):
			h.writeError(w, http.StatusNotFound, "Session not found", err)
		case errors.Is(err, captioning.ErrNoImages):
			h.writeError(w, http.StatusBadRequest, "No image files found in session", err)
		default:
			h.fail(w, "Failed to list session images", err)
		}
		return
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = h.opts.MaxTokens
	}
	opts := h.processor.Normalize(captioning.Options{
		Provider:   provider,
		Model:      req.Model,
		APIKey:     apiKey,
		GlobalTags: req.GlobalTags,
		MaxTokens:  maxTokens,
		ChunkSize:  chunkSize,
	})
	spec := jobs.Spec{
		SessionID:  req.SessionID,
		Kind:       models.JobCaption,
		Provider:   opts.Provider,
		Model:      opts.Model,
		Total:      len(images),
		GlobalTags: req.GlobalTags,
	}
	sessionID := req.SessionID
	work := func(ctx context.Context, record func(models.FileResult)) error {
		h.setSessionStatus(context.WithoutCancel(ctx), sessionID, models.SessionCaptioning)
		defer h.refreshSessionStatus(context.WithoutCancel(ctx), sessionID)

		o := opts
		o.OnResult = record
		_, err := h.processor.Generate(ctx, sessionID, o)
		return err
	}

	if req.Async {
		job, err := h.jobs.Start(spec, work)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "Failed to start caption job", err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]any{
			"success":   true,
			"message":   fmt.Sprintf("Captioning %d images in the background", len(images)),
			"sessionId": sessionID,
			"jobId":     job.ID,
			"job":       job,
		})
		return
	}

	// the batch outlives the request; only the cancel endpoint stops it
	job, err := h.jobs.Run(context.WithoutCancel(r.Context()), spec, work)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to run caption job", err)
		return
	}
	if job.Status == models.JobFailed {
		h.writeError(w, http.StatusInternalServerError, "Caption generation failed", errors.New(job.Error))
		return
	}

	h.writeJSON(w, http.StatusOK, captionResponse{
		Success:   true,
		Message:   fmt.Sprintf("Processed %d of %d images", job.Succeeded, job.Total),
		SessionID: sessionID,
		JobID:     job.ID,
		Status:    job.Status,
		Total:     job.Total,
		Processed: job.Succeeded,
		Failed:    job.Failed,
		Results:   sortedResults(job.Results),
	})
}

func sortedResults(results []models.FileResult) []models.FileResult {
	out := slices.Clone(results)
	slices.SortStableFunc(out, func(a, b models.FileResult) int { return strings.Compare(a.File, b.File) })
	if out == nil {
		out = []models.FileResult{}
	}
	return out
}

type globalTagsRequest struct {
	SessionID  string `json:"sessionId"`
	GlobalTags string `json:"globalTags"`
}

// HandleAddGlobalTags merges tags into every existing caption of a session
func (h *Handler) HandleAddGlobalTags(w http.ResponseWriter, r *http.Request) {
	var req globalTagsRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		h.writeError(w, http.StatusBadRequest, "Session ID is required", nil)
		return
	}
	if err := storage.ValidateName(req.SessionID); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid session ID", err)
		return
	}
	if strings.TrimSpace(strings.ReplaceAll(req.GlobalTags, ",", "")) == "" {
		h.writeError(w, http.StatusBadRequest, "Global tags are required", nil)
		return
	}

	captions, err := h.files.ListCaptions(req.SessionID)
	if err != nil || len(captions) == 0 {
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "No captions found for this session", err)
			return
		}
		h.fail(w, "Failed to list captions", err)
		return
	}

	sessionID := req.SessionID
	spec := jobs.Spec{
		SessionID:  sessionID,
		Kind:       models.JobTags,
		Total:      len(captions),
		GlobalTags: req.GlobalTags,
	}
	job, err := h.jobs.Run(r.Context(), spec, func(ctx context.Context, record func(models.FileResult)) error {
		res, err := h.processor.AddGlobalTags(ctx, sessionID, req.GlobalTags)
		if res != nil {
			for _, fr := range res.Results {
				record(fr)
			}
		}
		return err
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to update captions", err)
		return
	}
	if job.Status == models.JobFailed {
		h.writeError(w, http.StatusInternalServerError, "Failed to update captions", errors.New(job.Error))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("Updated %d caption files", job.Succeeded),
		"sessionId": sessionID,
		"jobId":     job.ID,
		"updated":   job.Succeeded,
		"failed":    job.Failed,
		"results":   job.Results,
	})
}

type statusResponse struct {
	Success   bool                 `json:"success"`
	SessionID string               `json:"sessionId"`
	Status    models.SessionStatus `json:"status,omitempty"`
	models.Progress
	Job *models.Job `json:"job,omitempty"`
}

// HandleCaptionStatus recomputes progress from the files on disk
func (h *Handler) HandleCaptionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r, "id")
	if !ok {
		return
	}
	if !h.files.SessionExists(id) {
		h.writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	images, captions, err := h.files.Counts(id)
	if err != nil {
		h.fail(w, "Failed to read session status", err)
		return
	}

	resp := statusResponse{Success: true, SessionID: id, Progress: models.NewProgress(images, captions)}
	if session, err := h.repo.GetSession(r.Context(), id); err == nil {
		resp.Status = session.Status
	}
	if job, err := h.jobs.Latest(r.Context(), id); err == nil {
		job.Results = nil
		resp.Job = job
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), r.PathValue("jobId"))
	if err != nil {
		h.fail(w, "Job not found", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

// HandleCancelJob cancels a running caption job; files already written remain
func (h *Handler) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.Context(), r.PathValue("jobId"))
	if err != nil {
		switch statusFor(err) {
		case http.StatusNotFound:
			h.writeError(w, http.StatusNotFound, "Job not found", err)
		case http.StatusConflict:
			h.writeError(w, http.StatusConflict, "Job is not running", err)
		default:
			h.writeError(w, http.StatusInternalServerError, "Failed to cancel job", err)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Job cancelled",
		"job":     job,
	})
}
