package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

func session(t *testing.T) *storage.Filesystem {
	t.Helper()
	root := t.TempDir()
	fs, err := storage.NewFilesystem(filepath.Join(root, "uploads"), filepath.Join(root, "results"))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 6))); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.png", "b.png"} {
		if _, err := fs.SaveUpload("s1", name, buf.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
	if err := fs.WriteCaption("s1", "a.txt", "cat, sofa, masterpiece\n"); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestCollectSkipsUncaptioned(t *testing.T) {
	rows, err := Collect(session(t), "s1")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	want := Row{
		FileName: "a.png",
		Caption:  "cat, sofa, masterpiece",
		Tags:     []string{"cat", "sofa", "masterpiece"},
		Width:    8,
		Height:   6,
		Format:   "png",
	}
	if !reflect.DeepEqual(rows[0], want) {
		t.Errorf("row = %+v, want %+v", rows[0], want)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	rows := []Row{
		{FileName: "a.png", Caption: "cat, sofa", Tags: []string{"cat", "sofa"}, Width: 8, Height: 6, Format: "png"},
		{FileName: "b.jpg", Caption: "dog", Tags: []string{"dog"}, Width: 640, Height: 480, Format: "jpeg"},
	}
	var buf bytes.Buffer
	if err := WriteParquet(&buf, rows); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}

	got, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, rows)
	}
}

func TestExportJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.jsonl")
	rows := []Row{{FileName: "a.png", Caption: "cat", Tags: []string{"cat"}}}
	if err := Export(path, rows); err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("empty jsonl")
	}
	var line map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
		t.Fatal(err)
	}
	if line["file_name"] != "a.png" || line["text"] != "cat" {
		t.Errorf("line = %v", line)
	}

	if err := Export(filepath.Join(t.TempDir(), "out.csv"), rows); err == nil {
		t.Error("expected unsupported format error")
	}
}
