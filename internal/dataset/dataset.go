// Package dataset exports a session's captions as an image-caption training set.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/lehigh-university-libraries/captioner/internal/captioning"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
	"github.com/lehigh-university-libraries/captioner/internal/tags"
)

// Row is one image and its caption, laid out the way image-caption
// datasets on the Hugging Face hub name their columns
type Row struct {
	FileName string   `json:"file_name" parquet:"file_name"`
	Caption  string   `json:"text" parquet:"caption"`
	Tags     []string `json:"tags" parquet:"tags,list"`
	Width    int32    `json:"width" parquet:"width"`
	Height   int32    `json:"height" parquet:"height"`
	Format   string   `json:"format" parquet:"format"`
}

// Collect builds one row per captioned image of a session. Images without a
// caption file are skipped.
func Collect(files *storage.Filesystem, sessionID string) ([]Row, error) {
	images, err := files.ListImages(sessionID)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, img := range images {
		caption, err := files.ReadCaption(sessionID, storage.CaptionName(img))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		row := Row{
			FileName: img,
			Caption:  strings.TrimSpace(caption),
			Tags:     tags.Parse(caption),
		}
		data, err := files.ReadImage(sessionID, img)
		if err != nil {
			return nil, err
		}
		if info, err := captioning.Inspect(data); err == nil {
			row.Width = int32(info.Width)
			row.Height = int32(info.Height)
			row.Format = info.Format
		} else {
			slog.Debug("Unable to read image header", "session_id", sessionID, "file", img, "err", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteParquet encodes rows as a Parquet file on w
func WriteParquet(w io.Writer, rows []Row) error {
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet: %w", err)
	}
	return nil
}

// WriteJSONL encodes rows as metadata.jsonl lines
func WriteJSONL(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to encode %s: %w", row.FileName, err)
		}
	}
	return bw.Flush()
}

// Export writes rows to path, picking the encoding from the extension
func Export(path string, rows []Row) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".parquet" && ext != ".jsonl" {
		return fmt.Errorf("unsupported file format: %s (supported: .parquet, .jsonl)", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if ext == ".parquet" {
		err = WriteParquet(f, rows)
	} else {
		err = WriteJSONL(f, rows)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadParquet loads every row of a Parquet dataset
func ReadParquet(r io.ReaderAt, size int64) ([]Row, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	var rows []Row
	for {
		// fresh buffer per batch, the reader may reuse slice storage
		batch := make([]Row, 128)
		n, err := reader.Read(batch)
		rows = append(rows, batch[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return rows, nil
}
