package handlers

import (
	"log/slog"
	"net/http"
)

// Routes registers every endpoint on a new mux wrapped in the logging middleware
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/upload/single", h.HandleUploadSingle)
	mux.HandleFunc("POST /api/upload/multiple", h.HandleUploadMultiple)
	mux.HandleFunc("POST /api/upload/folder", h.HandleUploadFolder)
	mux.HandleFunc("GET /api/upload/sessions", h.HandleListSessions)
	mux.HandleFunc("GET /api/upload/sessions/{id}", h.HandleGetSession)
	mux.HandleFunc("DELETE /api/upload/sessions/{id}", h.HandleDeleteSession)

	mux.HandleFunc("POST /api/caption/generate", h.HandleGenerate)
	mux.HandleFunc("POST /api/caption/batch", h.HandleBatch)
	mux.HandleFunc("POST /api/caption/add-global-tags", h.HandleAddGlobalTags)
	mux.HandleFunc("GET /api/caption/status/{id}", h.HandleCaptionStatus)
	mux.HandleFunc("GET /api/caption/jobs/{jobId}", h.HandleGetJob)
	mux.HandleFunc("POST /api/caption/jobs/{jobId}/cancel", h.HandleCancelJob)

	mux.HandleFunc("GET /api/download/caption/{sessionId}/{filename}", h.HandleDownloadCaption)
	mux.HandleFunc("GET /api/download/image/{sessionId}/{filename}", h.HandleDownloadImage)
	mux.HandleFunc("GET /api/download/all-captions/{id}", h.HandleDownloadAllCaptions)
	mux.HandleFunc("GET /api/download/all/{id}", h.HandleDownloadAll)
	mux.HandleFunc("GET /api/download/status/{id}", h.HandleDownloadStatus)
	mux.HandleFunc("POST /api/download/custom", h.HandleDownloadCustom)
	mux.HandleFunc("GET /api/download/dataset/{id}", h.HandleDownloadDataset)
	mux.HandleFunc("POST /api/download/publish/{id}", h.HandlePublish)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})

	return Logging(mux)
}
