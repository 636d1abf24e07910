package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/captioner/internal/captioning"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

type uploadMode string

const (
	uploadSingle   uploadMode = "single"
	uploadMultiple uploadMode = "multiple"
	uploadFolder   uploadMode = "folder"
)

var allowedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

type uploadedFile struct {
	OriginalName string `json:"originalName"`
	Filename     string `json:"filename"`
	RelativePath string `json:"relativePath,omitempty"`
	Size         int64  `json:"size"`
	SizeHuman    string `json:"sizeHuman"`
	MimeType     string `json:"mimetype"`
	Path         string `json:"path"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

type uploadResponse struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	SessionID   string              `json:"sessionId"`
	Files       []uploadedFile      `json:"files"`
	Directories map[string][]string `json:"directories,omitempty"`
}

func (h *Handler) HandleUploadSingle(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, uploadSingle)
}

func (h *Handler) HandleUploadMultiple(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, uploadMultiple)
}

func (h *Handler) HandleUploadFolder(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r, uploadFolder)
}

func (h *Handler) maxFiles(mode uploadMode) int {
	switch mode {
	case uploadSingle:
		return 1
	case uploadFolder:
		return h.opts.MaxFilesFolder
	default:
		return h.opts.MaxFilesMultiple
	}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request, mode uploadMode) {
	sessionID := strings.TrimSpace(r.Header.Get("X-Session-ID"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := storage.ValidateName(sessionID); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid session ID", err)
		return
	}

	limit := int64(h.maxFiles(mode))*h.opts.MaxFileSize + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to parse upload", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if mode == uploadSingle {
		headers = r.MultipartForm.File["file"]
		if len(headers) == 0 {
			headers = r.MultipartForm.File["image"]
		}
	}
	if len(headers) == 0 {
		h.writeError(w, http.StatusBadRequest, "No files uploaded", nil)
		return
	}
	if n := h.maxFiles(mode); len(headers) > n {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Too many files (max %d)", n), nil)
		return
	}
	relPaths := r.MultipartForm.Value["paths"]

	// every file is checked before anything is written
	names := make([]string, len(headers))
	mimeTypes := make([]string, len(headers))
	for i, fh := range headers {
		names[i] = filepath.Base(fh.Filename)
		if err := storage.ValidateName(names[i]); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid file name", err)
			return
		}
		if fh.Size > h.opts.MaxFileSize {
			h.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("File %s too large (max %s)", fh.Filename, humanize.IBytes(uint64(h.opts.MaxFileSize))), nil)
			return
		}
		mt, err := detectMimeType(fh)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "Failed to read uploaded file", err)
			return
		}
		if !allowedMimeTypes[mt] {
			h.writeError(w, http.StatusBadRequest, "Only image files are allowed", fmt.Errorf("%s has type %s", fh.Filename, mt))
			return
		}
		mimeTypes[i] = mt
	}

	session, err := h.loadSession(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load session", err)
		return
	}

	resp := uploadResponse{Success: true, SessionID: sessionID}
	if mode == uploadFolder {
		resp.Directories = make(map[string][]string)
	}

	for i, fh := range headers {
		name := names[i]
		data, err := readPart(fh)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "Failed to read uploaded file", err)
			return
		}
		savedPath, err := h.files.SaveUpload(sessionID, name, data)
		if err != nil {
			h.writeError(w, statusFor(err), "Failed to save uploaded file", err)
			return
		}

		file := uploadedFile{
			OriginalName: fh.Filename,
			Filename:     name,
			Size:         int64(len(data)),
			SizeHuman:    humanize.Bytes(uint64(len(data))),
			MimeType:     mimeTypes[i],
			Path:         savedPath,
		}
		if info, err := captioning.Inspect(data); err == nil {
			file.Width, file.Height = info.Width, info.Height
		}
		if mode == uploadFolder {
			rel := name
			if i < len(relPaths) && strings.TrimSpace(relPaths[i]) != "" {
				rel = path.Clean(filepath.ToSlash(relPaths[i]))
			}
			file.RelativePath = rel
			dir := path.Dir(rel)
			resp.Directories[dir] = append(resp.Directories[dir], name)
		}
		resp.Files = append(resp.Files, file)

		session.AddFile(models.FileEntry{
			Filename:     name,
			RelativePath: file.RelativePath,
			Size:         file.Size,
			ContentType:  file.MimeType,
			Width:        file.Width,
			Height:       file.Height,
		})
	}

	session.Status = models.SessionUploaded
	session.UpdatedAt = time.Now()
	if err := h.repo.SaveSession(r.Context(), session); err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to save session", err)
		return
	}
	if h.metrics != nil {
		h.metrics.Uploads.WithLabelValues(string(mode)).Add(float64(len(resp.Files)))
	}

	resp.Message = fmt.Sprintf("Successfully uploaded %d files", len(resp.Files))
	if len(resp.Files) == 1 {
		resp.Message = "Successfully uploaded 1 file"
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// detectMimeType trusts the part header unless it is missing or generic
func detectMimeType(fh *multipart.FileHeader) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(fh.Header.Get("Content-Type"), ";")[0]))
	if ct != "" && ct != "application/octet-stream" {
		return ct, nil
	}
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
