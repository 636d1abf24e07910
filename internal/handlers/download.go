package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/archive"
	"github.com/lehigh-university-libraries/captioner/internal/dataset"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/publish"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

func (h *Handler) HandleDownloadCaption(w http.ResponseWriter, r *http.Request) {
	h.serveSessionFile(w, r, h.files.CaptionPath, "Caption file not found")
}

func (h *Handler) HandleDownloadImage(w http.ResponseWriter, r *http.Request) {
	h.serveSessionFile(w, r, h.files.ImagePath, "Image file not found")
}

func (h *Handler) serveSessionFile(w http.ResponseWriter, r *http.Request, resolve func(string, string) (string, error), notFound string) {
	id, ok := h.sessionID(w, r, "sessionId")
	if !ok {
		return
	}
	filename := r.PathValue("filename")
	p, err := resolve(id, filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, notFound, err)
			return
		}
		h.fail(w, "Invalid file name", err)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to open file", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to stat file", err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// sessionSource lists a session's images and captions; a missing result
// directory counts as no captions
func (h *Handler) sessionSource(id string) (archive.Source, error) {
	images, err := h.files.ListImages(id)
	if err != nil {
		return archive.Source{}, err
	}
	captions, err := h.files.ListCaptions(id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return archive.Source{}, err
	}
	return archive.Source{
		ImageDir:   h.files.UploadDir(id),
		CaptionDir: h.files.ResultDir(id),
		Images:     images,
		Captions:   captions,
	}, nil
}

func (h *Handler) streamZip(w http.ResponseWriter, name, label string, entries []archive.Entry) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if err := archive.Write(w, entries); err != nil {
		// headers are already sent
		slog.Error("Failed to stream archive", "archive", name, "err", err)
		return
	}
	if h.metrics != nil {
		h.metrics.Archives.WithLabelValues(label).Inc()
	}
}

func (h *Handler) HandleDownloadAllCaptions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r, "id")
	if !ok {
		return
	}
	captions, err := h.files.ListCaptions(id)
	if err != nil || len(captions) == 0 {
		if err == nil || errors.Is(err, storage.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "No captions found for this session", err)
			return
		}
		h.fail(w, "Failed to list captions", err)
		return
	}
	h.streamZip(w, id+"_captions.zip", "captions", archive.CaptionsOnly(h.files.ResultDir(id), captions))
}

func (h *Handler) HandleDownloadAll(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r, "id")
	if !ok {
		return
	}
	format, err := archive.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid format. Use separate, paired or flat", err)
		return
	}
	if !h.files.SessionExists(id) {
		h.writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	src, err := h.sessionSource(id)
	if err != nil {
		h.fail(w, "Failed to read session files", err)
		return
	}
	h.streamZip(w, fmt.Sprintf("%s_%s.zip", id, format), string(format), archive.Plan(format, src))
}

type customDownloadRequest struct {
	SessionID       string   `json:"sessionId"`
	Files           []string `json:"files"`
	Format          string   `json:"format"`
	IncludeCaptions *bool    `json:"includeCaptions"`
}

// HandleDownloadCustom zips a selection of images, with their captions by default
func (h *Handler) HandleDownloadCustom(w http.ResponseWriter, r *http.Request) {
	var req customDownloadRequest
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
	format, err := archive.ParseFormat(req.Format)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid format. Use separate, paired or flat", err)
		return
	}
	if !h.files.SessionExists(req.SessionID) {
		h.writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}

	src, err := h.sessionSource(req.SessionID)
	if err != nil {
		h.fail(w, "Failed to read session files", err)
		return
	}
	if len(req.Files) > 0 {
		src.Images = slices.DeleteFunc(src.Images, func(img string) bool { return !slices.Contains(req.Files, img) })
		if len(src.Images) == 0 {
			h.writeError(w, http.StatusNotFound, "None of the requested files exist", nil)
			return
		}
	}
	if req.IncludeCaptions != nil && !*req.IncludeCaptions {
		src.Captions = nil
	} else {
		wanted := make(map[string]bool, len(src.Images))
		for _, img := range src.Images {
			wanted[storage.CaptionName(img)] = true
		}
		src.Captions = slices.DeleteFunc(src.Captions, func(c string) bool { return !wanted[c] })
	}

	h.streamZip(w, fmt.Sprintf("%s_custom_%s.zip", req.SessionID, format), string(format), archive.Plan(format, src))
}

type downloadURLs struct {
	All      string `json:"all"`
	Separate string `json:"separate"`
	Paired   string `json:"paired"`
	Flat     string `json:"flat"`
	Captions string `json:"captions"`
	Dataset  string `json:"dataset"`
}

// HandleDownloadStatus reports counts and convenience download links
func (h *Handler) HandleDownloadStatus(w http.ResponseWriter, r *http.Request) {
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

	base := "/api/download"
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"sessionId":     id,
		"totalImages":   images,
		"totalCaptions": captions,
		"status":        models.NewProgress(images, captions),
		"hasCaptions":   captions > 0,
		"downloadUrls": downloadURLs{
			All:      fmt.Sprintf("%s/all/%s", base, id),
			Separate: fmt.Sprintf("%s/all/%s?format=separate", base, id),
			Paired:   fmt.Sprintf("%s/all/%s?format=paired", base, id),
			Flat:     fmt.Sprintf("%s/all/%s?format=flat", base, id),
			Captions: fmt.Sprintf("%s/all-captions/%s", base, id),
			Dataset:  fmt.Sprintf("%s/dataset/%s", base, id),
		},
	})
}

// HandleDownloadDataset exports captions as Parquet (default) or metadata.jsonl
func (h *Handler) HandleDownloadDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r, "id")
	if !ok {
		return
	}
	kind := strings.ToLower(r.URL.Query().Get("format"))
	if kind == "" {
		kind = "parquet"
	}
	if kind != "parquet" && kind != "jsonl" {
		h.writeError(w, http.StatusBadRequest, "Invalid dataset format. Use parquet or jsonl", nil)
		return
	}
	if !h.files.SessionExists(id) {
		h.writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}

	rows, err := dataset.Collect(h.files, id)
	if err != nil {
		h.fail(w, "Failed to build dataset", err)
		return
	}
	if len(rows) == 0 {
		h.writeError(w, http.StatusNotFound, "No captions found for this session", nil)
		return
	}

	if kind == "jsonl" {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", `attachment; filename="metadata.jsonl"`)
		err = dataset.WriteJSONL(w, rows)
	} else {
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".parquet"))
		err = dataset.WriteParquet(w, rows)
	}
	if err != nil {
		slog.Error("Failed to stream dataset", "session_id", id, "err", err)
	}
}

// HandlePublish builds the session archive and uploads it to object storage
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Object storage is not configured", publish.ErrNotConfigured)
		return
	}
	id, ok := h.sessionID(w, r, "id")
	if !ok {
		return
	}
	format, err := archive.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid format. Use separate, paired or flat", err)
		return
	}
	if !h.files.SessionExists(id) {
		h.writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	src, err := h.sessionSource(id)
	if err != nil {
		h.fail(w, "Failed to read session files", err)
		return
	}

	tmp, err := os.CreateTemp("", "captioner-*.zip")
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to create archive", err)
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := archive.Write(tmp, archive.Plan(format, src)); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to create archive", err)
		return
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to create archive", err)
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to create archive", err)
		return
	}

	obj, err := h.publisher.Publish(r.Context(), publish.ArchiveKey(id, string(format), time.Now()), tmp, size, "application/zip")
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "Failed to publish archive", err)
		return
	}
	if h.metrics != nil {
		h.metrics.Archives.WithLabelValues("published").Inc()
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"sessionId": id,
		"format":    format,
		"object":    obj,
	})
}
