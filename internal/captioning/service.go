package captioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/captioner/internal/metrics"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
	"github.com/lehigh-university-libraries/captioner/internal/tags"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoImages        = errors.New("no image files found in session")
	ErrNoCaptions      = errors.New("no caption files found for session")
)

const (
	DefaultMaxTokens    = 300
	DefaultChunkSize    = 5
	BatchChunkSize      = 3
	DefaultMaxImageEdge = 2048
)

// Settings holds server-wide captioning defaults
type Settings struct {
	DefaultProvider string
	MaxImageEdge    int
	Temperature     float64
}

// Options controls a single batch run
type Options struct {
	Provider   string
	Model      string
	APIKey     string
	GlobalTags string
	MaxTokens  int
	ChunkSize  int

	// OnResult is called once per file as soon as it finishes. It may be
	// called from several goroutines at once.
	OnResult func(models.FileResult)
}

// BatchResult is the typed per-file outcome of a batch
type BatchResult struct {
	SessionID string              `json:"sessionId"`
	Total     int                 `json:"total"`
	Results   []models.FileResult `json:"results"`
}

func (b *BatchResult) Succeeded() int {
	n := 0
	for _, r := range b.Results {
		if r.Success {
			n++
		}
	}
	return n
}

func (b *BatchResult) Failed() int {
	return len(b.Results) - b.Succeeded()
}

type Processor struct {
	files    *storage.Filesystem
	registry *providers.Registry
	metrics  *metrics.Metrics
	settings Settings
}

func NewProcessor(files *storage.Filesystem, registry *providers.Registry, m *metrics.Metrics, settings Settings) *Processor {
	if settings.DefaultProvider == "" {
		settings.DefaultProvider = "openai"
	}
	return &Processor{
		files:    files,
		registry: registry,
		metrics:  m,
		settings: settings,
	}
}

// Images lists the qualifying images of a session, failing with
// ErrSessionNotFound or ErrNoImages
func (p *Processor) Images(sessionID string) ([]string, error) {
	if !p.files.SessionExists(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	images, err := p.files.ListImages(sessionID)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoImages, sessionID)
	}
	return images, nil
}

// Normalize fills provider, model, token and chunk defaults
func (p *Processor) Normalize(opts Options) Options {
	if opts.Provider == "" {
		opts.Provider = p.settings.DefaultProvider
	}
	if opts.Model == "" {
		opts.Model = p.registry.DefaultModel(opts.Provider)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return opts
}

// Generate captions every image in the session. Images are split into
// fixed-size chunks run one after another; calls within a chunk run
// concurrently. A failed file is recorded and never aborts the batch.
// When ctx is cancelled no further chunk starts, in-flight calls are
// aborted, and the partial result is returned along with ctx.Err().
func (p *Processor) Generate(ctx context.Context, sessionID string, opts Options) (*BatchResult, error) {
	opts = p.Normalize(opts)

	images, err := p.Images(sessionID)
	if err != nil {
		return nil, err
	}

	provider, err := p.registry.Build(opts.Provider, opts.APIKey)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		SessionID: sessionID,
		Total:     len(images),
		Results:   make([]models.FileResult, len(images)),
	}

	slog.Info("Starting caption batch", "session_id", sessionID, "images", len(images), "chunk_size", opts.ChunkSize, "provider", opts.Provider, "model", opts.Model)

	for start := 0; start < len(images); start += opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			result.Results = result.Results[:start]
			slog.Info("Caption batch cancelled", "session_id", sessionID, "completed", start)
			return result, err
		}

		end := min(start+opts.ChunkSize, len(images))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				r := p.captionOne(ctx, provider, sessionID, images[i], opts)
				result.Results[i] = r
				if opts.OnResult != nil {
					opts.OnResult(r)
				}
				return nil
			})
		}
		_ = g.Wait()

		slog.Debug("Caption chunk finished", "session_id", sessionID, "progress", fmt.Sprintf("%d/%d", end, len(images)))

		if err := ctx.Err(); err != nil {
			result.Results = result.Results[:end]
			slog.Info("Caption batch cancelled", "session_id", sessionID, "completed", end)
			return result, err
		}
	}

	slog.Info("Caption batch finished", "session_id", sessionID, "succeeded", result.Succeeded(), "failed", result.Failed())
	return result, nil
}

func (p *Processor) captionOne(ctx context.Context, provider providers.Provider, sessionID, filename string, opts Options) models.FileResult {
	res := models.FileResult{File: filename}

	started := time.Now()
	caption, err := p.describe(ctx, provider, sessionID, filename, opts)
	p.metrics.ObserveCaption(opts.Provider, started, err)
	if err != nil {
		slog.Warn("Failed to caption image", "session_id", sessionID, "file", filename, "error", err)
		res.Error = err.Error()
		return res
	}

	caption = tags.Append(caption, opts.GlobalTags)
	if err := p.files.WriteCaption(sessionID, storage.CaptionName(filename), caption); err != nil {
		slog.Error("Failed to save caption", "session_id", sessionID, "file", filename, "error", err)
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Caption = caption
	return res
}

func (p *Processor) describe(ctx context.Context, provider providers.Provider, sessionID, filename string, opts Options) (string, error) {
	data, err := p.files.ReadImage(sessionID, filename)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	payload, mimeType, info, err := Prepare(data, p.settings.MaxImageEdge)
	if err != nil {
		return "", err
	}

	raw, err := provider.Caption(ctx, providers.Config{
		Model:        opts.Model,
		Temperature:  p.settings.Temperature,
		SystemPrompt: systemPrompt,
		Prompt:       BuildPrompt(info),
		Image:        payload,
		MimeType:     mimeType,
		MaxTokens:    opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	caption := cleanCaption(raw)
	if caption == "" {
		return "", fmt.Errorf("empty caption returned by %s", opts.Provider)
	}
	return caption, nil
}

// cleanCaption trims whitespace and any markdown code fence around the reply
func cleanCaption(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```text")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// AddGlobalTags merges the tags into every caption file of the session,
// writing back only files that change. Per-file I/O errors are recorded.
func (p *Processor) AddGlobalTags(ctx context.Context, sessionID, globalTags string) (*BatchResult, error) {
	if !p.files.ResultsExist(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrNoCaptions, sessionID)
	}
	captions, err := p.files.ListCaptions(sessionID)
	if err != nil {
		return nil, err
	}
	if len(captions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCaptions, sessionID)
	}

	add := tags.Parse(globalTags)
	result := &BatchResult{SessionID: sessionID, Total: len(captions)}

	for _, name := range captions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r := models.FileResult{File: name}

		content, err := p.files.ReadCaption(sessionID, name)
		if err != nil {
			r.Error = err.Error()
			result.Results = append(result.Results, r)
			p.countTagUpdate("failed")
			continue
		}

		merged, changed := tags.Merge(content, add)
		if changed {
			if err := p.files.WriteCaption(sessionID, name, merged); err != nil {
				r.Error = err.Error()
				result.Results = append(result.Results, r)
				p.countTagUpdate("failed")
				continue
			}
			p.countTagUpdate("updated")
		} else {
			p.countTagUpdate("unchanged")
		}

		r.Success = true
		r.Caption = merged
		result.Results = append(result.Results, r)
	}

	slog.Info("Global tags applied", "session_id", sessionID, "files", len(captions), "tags", len(add))
	return result, nil
}

func (p *Processor) countTagUpdate(outcome string) {
	if p.metrics != nil {
		p.metrics.TagUpdates.WithLabelValues(outcome).Inc()
	}
}
