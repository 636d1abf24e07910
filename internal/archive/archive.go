// Package archive packages session images and captions into zip files.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

type Format string

const (
	FormatSeparate Format = "separate"
	FormatPaired   Format = "paired"
	FormatFlat     Format = "flat"
)

var ErrUnknownFormat = errors.New("unknown archive format")

// ParseFormat maps a query value onto a Format; empty selects separate
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatSeparate:
		return FormatSeparate, nil
	case FormatPaired:
		return FormatPaired, nil
	case FormatFlat:
		return FormatFlat, nil
	default:
		return "", fmt.Errorf("%w: %q (expected separate, paired or flat)", ErrUnknownFormat, s)
	}
}

// Entry is one file in the archive: Name inside the zip, Path on disk
type Entry struct {
	Name string
	Path string
}

// Source locates a session's files on disk
type Source struct {
	ImageDir   string
	CaptionDir string
	Images     []string
	Captions   []string
}

// Plan lays out the archive entries for the given format.
// Images are matched to captions by basename.
func Plan(format Format, src Source) []Entry {
	captionByBase := make(map[string]string, len(src.Captions))
	for _, c := range src.Captions {
		captionByBase[storage.BaseName(c)] = c
	}

	var entries []Entry
	switch format {
	case FormatPaired:
		for _, img := range src.Images {
			base := storage.BaseName(img)
			entries = append(entries, Entry{Name: path.Join(base, img), Path: filepath.Join(src.ImageDir, img)})
			if c, ok := captionByBase[base]; ok {
				entries = append(entries, Entry{Name: path.Join(base, c), Path: filepath.Join(src.CaptionDir, c)})
			}
		}
	case FormatFlat:
		for _, img := range src.Images {
			entries = append(entries, Entry{Name: img, Path: filepath.Join(src.ImageDir, img)})
		}
		for _, c := range src.Captions {
			entries = append(entries, Entry{Name: c, Path: filepath.Join(src.CaptionDir, c)})
		}
	default:
		for _, img := range src.Images {
			entries = append(entries, Entry{Name: path.Join("images", img), Path: filepath.Join(src.ImageDir, img)})
		}
		for _, c := range src.Captions {
			entries = append(entries, Entry{Name: path.Join("captions", c), Path: filepath.Join(src.CaptionDir, c)})
		}
	}
	return entries
}

// CaptionsOnly lays out every caption file at the archive root
func CaptionsOnly(captionDir string, captions []string) []Entry {
	entries := make([]Entry, 0, len(captions))
	for _, c := range captions {
		entries = append(entries, Entry{Name: c, Path: filepath.Join(captionDir, c)})
	}
	return entries
}

// Write streams the entries into a zip archive on w
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := addFile(zw, e); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, e Entry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", e.Name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", e.Name, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", e.Name, err)
	}
	header.Name = e.Name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", e.Name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", e.Name, err)
	}
	return nil
}
