package handlers

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

type sessionSummary struct {
	ID        string               `json:"id"`
	Status    models.SessionStatus `json:"status,omitempty"`
	CreatedAt *time.Time           `json:"createdAt,omitempty"`
	UpdatedAt *time.Time           `json:"updatedAt,omitempty"`
	Images    int                  `json:"imageCount"`
	Captions  int                  `json:"captionCount"`
	models.Progress
}

// HandleListSessions merges session records with the directories on disk
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ListSessions(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}
	ids, err := h.files.ListSessions()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	byID := make(map[string]*models.Session, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	sessions := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		images, captions, err := h.files.Counts(id)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "Failed to read session", err)
			return
		}
		s := sessionSummary{ID: id, Images: images, Captions: captions, Progress: models.NewProgress(images, captions)}
		if rec, ok := byID[id]; ok {
			s.Status = rec.Status
			s.CreatedAt = &rec.CreatedAt
			s.UpdatedAt = &rec.UpdatedAt
		}
		sessions = append(sessions, s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i].CreatedAt, sessions[j].CreatedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": sessions,
	})
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r, "id")
	if !ok {
		return
	}
	if !h.files.SessionExists(id) {
		h.writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}

	images, err := h.files.ListImages(id)
	if err != nil {
		h.fail(w, "Failed to list session files", err)
		return
	}
	captions, err := h.files.ListCaptions(id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.fail(w, "Failed to list session captions", err)
		return
	}

	session, err := h.loadSession(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load session", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": id,
		"session":   session,
		"images":    images,
		"captions":  captions,
		"progress":  models.NewProgress(len(images), len(captions)),
	})
}

func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r, "id")
	if !ok {
		return
	}
	if err := h.files.DeleteSession(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Session not found", err)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to delete session", err)
		return
	}
	if err := h.repo.DeleteSession(r.Context(), id); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to delete session record", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Session deleted successfully",
	})
}
