package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidName = errors.New("invalid name")
)

// ImageExtensions is the allow-list of image file extensions a session may hold
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// IsImageFile reports whether the filename carries an allowed image extension
func IsImageFile(name string) bool {
	return ImageExtensions[strings.ToLower(filepath.Ext(name))]
}

// BaseName returns the filename without its extension
func BaseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// CaptionName returns the caption filename paired with an image filename
func CaptionName(imageName string) string {
	return BaseName(imageName) + ".txt"
}

// Filesystem owns the uploads/<session> and results/<session> directory layout
type Filesystem struct {
	uploadsDir string
	resultsDir string
}

// NewFilesystem creates both root directories if needed
func NewFilesystem(uploadsDir, resultsDir string) (*Filesystem, error) {
	for _, dir := range []string{uploadsDir, resultsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Filesystem{
		uploadsDir: uploadsDir,
		resultsDir: resultsDir,
	}, nil
}

// ValidateName rejects ids and filenames that could escape their directory
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (fs *Filesystem) UploadDir(sessionID string) string {
	return filepath.Join(fs.uploadsDir, sessionID)
}

func (fs *Filesystem) ResultDir(sessionID string) string {
	return filepath.Join(fs.resultsDir, sessionID)
}

// SessionExists reports whether the session's upload directory exists
func (fs *Filesystem) SessionExists(sessionID string) bool {
	if ValidateName(sessionID) != nil {
		return false
	}
	info, err := os.Stat(fs.UploadDir(sessionID))
	return err == nil && info.IsDir()
}

// ResultsExist reports whether the session's result directory exists
func (fs *Filesystem) ResultsExist(sessionID string) bool {
	if ValidateName(sessionID) != nil {
		return false
	}
	info, err := os.Stat(fs.ResultDir(sessionID))
	return err == nil && info.IsDir()
}

// SaveUpload writes an uploaded file verbatim into the session directory
func (fs *Filesystem) SaveUpload(sessionID, filename string, data []byte) (string, error) {
	if err := ValidateName(sessionID); err != nil {
		return "", err
	}
	if err := ValidateName(filename); err != nil {
		return "", err
	}
	dir := fs.UploadDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return path, nil
}

// ListImages returns the sorted names of qualifying images in a session
func (fs *Filesystem) ListImages(sessionID string) ([]string, error) {
	if err := ValidateName(sessionID); err != nil {
		return nil, err
	}
	return listDir(fs.UploadDir(sessionID), IsImageFile)
}

// ListCaptions returns the sorted names of caption files in a session
func (fs *Filesystem) ListCaptions(sessionID string) ([]string, error) {
	if err := ValidateName(sessionID); err != nil {
		return nil, err
	}
	return listDir(fs.ResultDir(sessionID), func(name string) bool {
		return strings.EqualFold(filepath.Ext(name), ".txt")
	})
}

// ListSessions returns every session id that has an upload directory
func (fs *Filesystem) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(fs.uploadsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploads directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func listDir(dir string, keep func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && keep(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ImagePath resolves an image inside a session, refusing traversal
func (fs *Filesystem) ImagePath(sessionID, filename string) (string, error) {
	return fs.resolve(fs.UploadDir, sessionID, filename)
}

// CaptionPath resolves a caption file inside a session, refusing traversal
func (fs *Filesystem) CaptionPath(sessionID, filename string) (string, error) {
	return fs.resolve(fs.ResultDir, sessionID, filename)
}

func (fs *Filesystem) resolve(dirFn func(string) string, sessionID, filename string) (string, error) {
	if err := ValidateName(sessionID); err != nil {
		return "", err
	}
	if err := ValidateName(filename); err != nil {
		return "", err
	}
	path := filepath.Join(dirFn(sessionID), filename)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	return path, nil
}

// ReadImage returns the raw bytes of an uploaded image
func (fs *Filesystem) ReadImage(sessionID, filename string) ([]byte, error) {
	path, err := fs.ImagePath(sessionID, filename)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// ReadCaption returns the content of a caption file
func (fs *Filesystem) ReadCaption(sessionID, filename string) (string, error) {
	path, err := fs.CaptionPath(sessionID, filename)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read caption: %w", err)
	}
	return string(data), nil
}

// WriteCaption writes the full caption file, creating the result directory on demand
func (fs *Filesystem) WriteCaption(sessionID, filename, content string) error {
	if err := ValidateName(sessionID); err != nil {
		return err
	}
	if err := ValidateName(filename); err != nil {
		return err
	}
	dir := fs.ResultDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create result directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write caption: %w", err)
	}
	return nil
}

// DeleteSession removes both the upload and result directories
func (fs *Filesystem) DeleteSession(sessionID string) error {
	if err := ValidateName(sessionID); err != nil {
		return err
	}
	if !fs.SessionExists(sessionID) && !fs.ResultsExist(sessionID) {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if err := os.RemoveAll(fs.UploadDir(sessionID)); err != nil {
		return fmt.Errorf("failed to remove uploads: %w", err)
	}
	if err := os.RemoveAll(fs.ResultDir(sessionID)); err != nil {
		return fmt.Errorf("failed to remove results: %w", err)
	}
	return nil
}

// Counts returns the number of qualifying images and caption files, treating
// missing directories as empty
func (fs *Filesystem) Counts(sessionID string) (images, captions int, err error) {
	imgs, err := fs.ListImages(sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, 0, err
	}
	caps, err := fs.ListCaptions(sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, 0, err
	}
	return len(imgs), len(caps), nil
}
