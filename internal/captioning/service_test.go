package captioning

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

type stubProvider struct {
	mu       sync.Mutex
	calls    []providers.Config
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	reply    func(cfg providers.Config) (string, error)
}

func (s *stubProvider) Caption(ctx context.Context, cfg providers.Config) (string, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, cfg)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.reply != nil {
		return s.reply(cfg)
	}
	return "a cat, sitting on a sofa", nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func setup(t *testing.T, stub *stubProvider, images ...string) (*Processor, *storage.Filesystem) {
	t.Helper()
	root := t.TempDir()
	fs, err := storage.NewFilesystem(filepath.Join(root, "uploads"), filepath.Join(root, "results"))
	if err != nil {
		t.Fatal(err)
	}
	data := pngBytes(t, 4, 3)
	for _, name := range images {
		if _, err := fs.SaveUpload("s1", name, data); err != nil {
			t.Fatal(err)
		}
	}

	reg := providers.NewRegistry()
	reg.Register("stub", "stub-model", true, func(string) providers.Provider { return stub })
	return NewProcessor(fs, reg, nil, Settings{DefaultProvider: "stub", MaxImageEdge: DefaultMaxImageEdge}), fs
}

func TestGenerate_WritesOneCaptionPerImage(t *testing.T) {
	stub := &stubProvider{}
	p, fs := setup(t, stub, "a.png", "b.png", "c.png")

	res, err := p.Generate(context.Background(), "s1", Options{GlobalTags: "masterpiece"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Total != 3 || res.Succeeded() != 3 || res.Failed() != 0 {
		t.Fatalf("unexpected result: total=%d ok=%d failed=%d", res.Total, res.Succeeded(), res.Failed())
	}
	for i, name := range []string{"a.png", "b.png", "c.png"} {
		if res.Results[i].File != name {
			t.Errorf("result %d file = %q, want %q", i, res.Results[i].File, name)
		}
	}

	caption, err := fs.ReadCaption("s1", "b.txt")
	if err != nil {
		t.Fatalf("ReadCaption: %v", err)
	}
	if caption != "a cat, sitting on a sofa, masterpiece" {
		t.Errorf("caption = %q", caption)
	}

	cfg := stub.calls[0]
	if cfg.Model != "stub-model" || cfg.MaxTokens != DefaultMaxTokens {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.MimeType != "image/png" || !strings.Contains(cfg.Prompt, "4x3 pixels") {
		t.Errorf("prompt/mime not built from image: %q %q", cfg.MimeType, cfg.Prompt)
	}
}

func TestGenerate_ChunkBoundsConcurrency(t *testing.T) {
	stub := &stubProvider{delay: 20 * time.Millisecond}
	p, _ := setup(t, stub, "1.png", "2.png", "3.png", "4.png", "5.png", "6.png", "7.png")

	res, err := p.Generate(context.Background(), "s1", Options{ChunkSize: BatchChunkSize})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Succeeded() != 7 {
		t.Errorf("succeeded = %d, want 7", res.Succeeded())
	}
	if peak := stub.peak.Load(); peak > BatchChunkSize {
		t.Errorf("peak concurrency %d exceeds chunk size %d", peak, BatchChunkSize)
	}
}

func TestGenerate_FailureDoesNotAbortBatch(t *testing.T) {
	stub := &stubProvider{
		reply: func(cfg providers.Config) (string, error) {
			if cfg.Image == nil {
				return "", errors.New("no image")
			}
			return "tag", nil
		},
	}
	p, fs := setup(t, stub, "good.png")
	// not decodable, fails before the provider is called
	if _, err := fs.SaveUpload("s1", "broken.jpg", []byte("not an image")); err != nil {
		t.Fatal(err)
	}

	var seen atomic.Int32
	res, err := p.Generate(context.Background(), "s1", Options{OnResult: func(_ models.FileResult) { seen.Add(1) }})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Succeeded() != 1 || res.Failed() != 1 {
		t.Fatalf("ok=%d failed=%d", res.Succeeded(), res.Failed())
	}
	if res.Results[0].File != "broken.jpg" || res.Results[0].Error == "" {
		t.Errorf("expected broken.jpg failure first, got %+v", res.Results[0])
	}
	if seen.Load() != 2 {
		t.Errorf("OnResult called %d times, want 2", seen.Load())
	}
	if _, err := fs.ReadCaption("s1", "broken.txt"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("failed image must not get a caption file, err = %v", err)
	}
}

func TestGenerate_EmptyReplyIsFailure(t *testing.T) {
	stub := &stubProvider{reply: func(providers.Config) (string, error) { return "```\n  \n```", nil }}
	p, _ := setup(t, stub, "a.png")

	res, err := p.Generate(context.Background(), "s1", Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Failed() != 1 || !strings.Contains(res.Results[0].Error, "empty caption") {
		t.Errorf("expected empty caption failure, got %+v", res.Results)
	}
}

func TestGenerate_CancelStopsRemainingChunks(t *testing.T) {
	stub := &stubProvider{delay: 50 * time.Millisecond}
	p, fs := setup(t, stub, "1.png", "2.png", "3.png", "4.png", "5.png", "6.png")

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	called := false
	res, err := p.Generate(ctx, "s1", Options{
		ChunkSize: 2,
		OnResult: func(models.FileResult) {
			once.Do(func() {
				called = true
				cancel()
			})
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !called {
		t.Fatal("OnResult never called")
	}
	if len(res.Results) != 2 {
		t.Errorf("expected only the first chunk in results, got %d", len(res.Results))
	}
	if _, captions, _ := fs.Counts("s1"); captions > 2 {
		t.Errorf("later chunks ran after cancel: %d captions", captions)
	}
}

func TestGenerate_SessionErrors(t *testing.T) {
	p, fs := setup(t, &stubProvider{})
	if _, err := p.Generate(context.Background(), "missing", Options{}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	if _, err := fs.SaveUpload("s2", "readme.md", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Generate(context.Background(), "s2", Options{}); !errors.Is(err, ErrNoImages) {
		t.Errorf("err = %v, want ErrNoImages", err)
	}
	if _, err := p.Generate(context.Background(), "s1", Options{Provider: "nope"}); err == nil {
		t.Error("expected error for session with no images or unknown provider")
	}
}

func TestAddGlobalTags(t *testing.T) {
	p, fs := setup(t, &stubProvider{}, "a.png")
	if _, err := p.AddGlobalTags(context.Background(), "s1", "x"); !errors.Is(err, ErrNoCaptions) {
		t.Fatalf("err = %v, want ErrNoCaptions", err)
	}

	if err := fs.WriteCaption("s1", "a.txt", "a"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteCaption("s1", "b.txt", "a, b"); err != nil {
		t.Fatal(err)
	}

	res, err := p.AddGlobalTags(context.Background(), "s1", "a, b")
	if err != nil {
		t.Fatalf("AddGlobalTags: %v", err)
	}
	if res.Total != 2 || res.Succeeded() != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		got, _ := fs.ReadCaption("s1", name)
		if got != "a, b" {
			t.Errorf("%s = %q, want %q", name, got, "a, b")
		}
	}

	// second application changes nothing
	if _, err := p.AddGlobalTags(context.Background(), "s1", "a, b"); err != nil {
		t.Fatal(err)
	}
	if got, _ := fs.ReadCaption("s1", "a.txt"); got != "a, b" {
		t.Errorf("not idempotent: %q", got)
	}
}

func TestCleanCaption(t *testing.T) {
	tests := map[string]string{
		"  cat, dog \n":          "cat, dog",
		"```text\ncat, dog\n```": "cat, dog",
		"```cat```":              "cat",
	}
	for in, want := range tests {
		if got := cleanCaption(in); got != want {
			t.Errorf("cleanCaption(%q) = %q, want %q", in, got, want)
		}
	}
}
