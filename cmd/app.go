package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lehigh-university-libraries/captioner/internal/captioning"
	"github.com/lehigh-university-libraries/captioner/internal/config"
	"github.com/lehigh-university-libraries/captioner/internal/gemini"
	"github.com/lehigh-university-libraries/captioner/internal/jobs"
	"github.com/lehigh-university-libraries/captioner/internal/metrics"
	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/ollama"
	"github.com/lehigh-university-libraries/captioner/internal/openai"
	"github.com/lehigh-university-libraries/captioner/internal/providers"
	"github.com/lehigh-university-libraries/captioner/internal/publish"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

// app holds the services shared by every subcommand
type app struct {
	cfg       *config.Config
	files     *storage.Filesystem
	repo      storage.Repository
	registry  *providers.Registry
	metrics   *metrics.Metrics
	processor *captioning.Processor
	jobs      *jobs.Manager
	publisher *publish.Publisher
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	files, err := storage.NewFilesystem(cfg.Storage.UploadsDir, cfg.Storage.ResultsDir)
	if err != nil {
		return nil, err
	}

	var repo storage.Repository
	if cfg.Storage.DBPath == "" {
		repo = storage.New()
	} else {
		repo, err = storage.OpenSQLite(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
	}

	registry := newRegistry(cfg)
	m := metrics.New()

	publisher, err := publish.New(publish.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Bucket:    cfg.Minio.Bucket,
		Secure:    cfg.Minio.Secure,
		Expiry:    cfg.Minio.Expiry,
	})
	switch {
	case errors.Is(err, publish.ErrNotConfigured):
		publisher = nil
	case err != nil:
		repo.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		files:    files,
		repo:     repo,
		registry: registry,
		metrics:  m,
		processor: captioning.NewProcessor(files, registry, m, captioning.Settings{
			DefaultProvider: cfg.Caption.Provider,
			MaxImageEdge:    cfg.Caption.MaxImageEdge,
			Temperature:     cfg.Caption.Temperature,
		}),
		jobs:      jobs.NewManager(ctx, repo, m, cfg.Storage.ReportsDir),
		publisher: publisher,
	}, nil
}

// newRegistry registers every provider; caption.model overrides the default
// model of the configured provider
func newRegistry(cfg *config.Config) *providers.Registry {
	model := func(name, fallback string) string {
		if cfg.Caption.Provider == name && cfg.Caption.Model != "" {
			return cfg.Caption.Model
		}
		return fallback
	}

	r := providers.NewRegistry()
	r.Register("openai", model("openai", openai.DefaultModel), false, func(apiKey string) providers.Provider {
		return openai.New(apiKey, cfg.OpenAI.BaseURL)
	})
	geminiModel := cfg.Gemini.Model
	if geminiModel == "" {
		geminiModel = gemini.DefaultModel
	}
	r.Register("gemini", model("gemini", geminiModel), false, func(apiKey string) providers.Provider {
		return gemini.New(apiKey)
	})
	ollamaModel := cfg.Ollama.Model
	if ollamaModel == "" {
		ollamaModel = ollama.DefaultModel
	}
	r.Register("ollama", model("ollama", ollamaModel), true, func(string) providers.Provider {
		return ollama.New(cfg.Ollama.URL)
	})
	return r
}

// apiKeys returns the server-side keys configured per provider
func (a *app) apiKeys() map[string]string {
	return map[string]string{
		"openai": a.cfg.OpenAI.APIKey,
		"gemini": a.cfg.Gemini.APIKey,
	}
}

// resolveKey picks the flag value, then the configured key, and fails when
// the provider needs one and none is set
func (a *app) resolveKey(provider, flagKey string) (string, error) {
	key := flagKey
	if key == "" {
		key = a.apiKeys()[provider]
	}
	if key == "" && a.registry.RequiresKey(provider) {
		return "", fmt.Errorf("an API key is required for provider %s (set --api-key or %s_API_KEY)", provider, envPrefix(provider))
	}
	return key, nil
}

func envPrefix(provider string) string {
	switch provider {
	case "gemini":
		return "GEMINI"
	default:
		return "OPENAI"
	}
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		slog.Error("Unable to close repository", "err", err)
	}
}

// markSession updates the session record, creating it for sessions that
// only exist on disk
func (a *app) markSession(ctx context.Context, id string, status models.SessionStatus) {
	session, err := a.repo.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		session = &models.Session{ID: id, CreatedAt: time.Now()}
	} else if err != nil {
		slog.Error("Unable to load session record", "session_id", id, "err", err)
		return
	}
	session.Status = status
	session.UpdatedAt = time.Now()
	if err := a.repo.SaveSession(ctx, session); err != nil {
		slog.Error("Unable to save session record", "session_id", id, "err", err)
	}
}

func (a *app) refreshSession(ctx context.Context, id string) {
	images, captions, err := a.files.Counts(id)
	if err != nil {
		slog.Error("Unable to count session files", "session_id", id, "err", err)
		return
	}
	status := models.SessionUploaded
	if models.NewProgress(images, captions).IsComplete {
		status = models.SessionCaptioned
	}
	a.markSession(ctx, id, status)
}
