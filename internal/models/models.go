package models

import "time"

// SessionStatus tracks where a session is in the upload/caption lifecycle
type SessionStatus string

const (
	SessionUploaded   SessionStatus = "uploaded"
	SessionCaptioning SessionStatus = "captioning"
	SessionCaptioned  SessionStatus = "captioned"
)

// Session represents one upload batch and its manifest
type Session struct {
	ID        string        `json:"id" db:"id"`
	Status    SessionStatus `json:"status" db:"status"`
	Files     []FileEntry   `json:"files"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// FileEntry represents an uploaded image in a session manifest
type FileEntry struct {
	Filename     string `json:"filename"`
	RelativePath string `json:"relative_path,omitempty"` // client-side path in folder uploads
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// AddFile inserts or replaces a manifest entry by filename
func (s *Session) AddFile(entry FileEntry) {
	for i := range s.Files {
		if s.Files[i].Filename == entry.Filename {
			s.Files[i] = entry
			return
		}
	}
	s.Files = append(s.Files, entry)
}

// FileResult is the outcome of one per-file operation inside a batch.
// Exactly one of Caption/Content or Error is meaningful, depending on Success.
type FileResult struct {
	File    string `json:"file" yaml:"file"`
	Success bool   `json:"success" yaml:"success"`
	Caption string `json:"caption,omitempty" yaml:"caption,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Progress is derived from the files present on disk
type Progress struct {
	TotalImages     int  `json:"totalImages"`
	ProcessedImages int  `json:"processedImages"`
	Progress        int  `json:"progress"`
	IsComplete      bool `json:"isComplete"`
}

// NewProgress computes the percentage of images that have a caption file
func NewProgress(images, captions int) Progress {
	p := Progress{
		TotalImages:     images,
		ProcessedImages: captions,
	}
	if images > 0 {
		p.Progress = captions * 100 / images
	}
	p.IsComplete = images > 0 && captions >= images
	return p
}
