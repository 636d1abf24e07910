package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/captioner/internal/handlers"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the captioning API server",
		Long: `Starts the Captioner HTTP API on the specified port.

The API accepts image uploads into sessions, captions them with a vision-capable
LLM, applies global tags and streams images and captions back as zip archives.`,
		Example: `  # Start server on default port 8888
  captioner serve

  # Start server on custom port with JSON logs
  captioner serve --port 3000 --log-format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.publisher != nil {
				if err := a.publisher.EnsureBucket(cmd.Context()); err != nil {
					slog.Warn("Object storage unavailable, publishing will fail", "err", err)
				}
			}

			handler := handlers.New(handlers.Deps{
				Files:     a.files,
				Repo:      a.repo,
				Registry:  a.registry,
				Processor: a.processor,
				Jobs:      a.jobs,
				Metrics:   a.metrics,
				Publisher: a.publisher,
			}, handlers.Options{
				MaxFileSize:      cfg.Upload.MaxFileSize,
				MaxFilesMultiple: cfg.Upload.MaxFilesMultiple,
				MaxFilesFolder:   cfg.Upload.MaxFilesFolder,
				ChunkSize:        cfg.Caption.ChunkSize,
				BatchChunkSize:   cfg.Caption.BatchChunkSize,
				MaxTokens:        cfg.Caption.MaxTokens,
				DefaultProvider:  cfg.Caption.Provider,
				APIKeys:          a.apiKeys(),
				Development:      cfg.Development,
			})

			addr := ":" + cfg.Server.Port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Captioner API available", "addr", addr, "url", "http://localhost"+addr, "provider", cfg.Caption.Provider)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				// background jobs share the cancelled context; let them record their final state
				a.jobs.Wait()
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringP("port", "p", "8888", "Port to listen on")
	cmd.Flags().String("reports-dir", "reports", "Directory for YAML job reports")
	cmd.Flags().String("provider", "openai", "Default caption provider (openai, gemini, ollama)")
	cmd.Flags().String("model", "", "Model for the default provider (defaults to the provider's default)")
	cmd.Flags().Bool("development", false, "Include raw error details in API error responses")

	return cmd
}
