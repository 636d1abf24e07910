package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/captioner/internal/captioning"
	"github.com/lehigh-university-libraries/captioner/internal/jobs"
	"github.com/lehigh-university-libraries/captioner/internal/models"
)

func newCaptionCmd(root *rootOptions) *cobra.Command {
	var (
		sessionID string
		apiKey    string
		globalTag string
		batch     bool
		maxTokens int
	)

	cmd := &cobra.Command{
		Use:   "caption",
		Short: "Caption every image in an uploaded session",
		Long: `Captions every image of a session directory with the configured provider and
writes one .txt caption per image to the results directory.

Images are processed in fixed-size chunks; a failed image is reported and never
stops the rest of the batch. Ctrl+C stops after the in-flight requests are aborted.`,
		Example: `  # Caption a session with OpenAI and append tags
  captioner caption --session 3f1c... --tags "portrait, studio"

  # Use a local Ollama model
  captioner caption --session 3f1c... --provider ollama --model llava`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := a.processor.Normalize(captioning.Options{
				Provider:   cfg.Caption.Provider,
				Model:      cfg.Caption.Model,
				GlobalTags: globalTag,
				MaxTokens:  maxTokens,
				ChunkSize:  cfg.Caption.ChunkSize,
			})
			if batch {
				opts.ChunkSize = cfg.Caption.BatchChunkSize
			}
			if !slices.Contains(a.registry.Names(), opts.Provider) {
				return fmt.Errorf("unknown provider %q (available: %s)", opts.Provider, strings.Join(a.registry.Names(), ", "))
			}
			if opts.APIKey, err = a.resolveKey(opts.Provider, apiKey); err != nil {
				return err
			}

			images, err := a.processor.Images(sessionID)
			if err != nil {
				return err
			}

			slog.Info("Starting caption run", "session_id", sessionID, "images", len(images), "provider", opts.Provider, "model", opts.Model, "chunk_size", opts.ChunkSize)
			job, err := a.jobs.Run(ctx, jobs.Spec{
				SessionID:  sessionID,
				Kind:       models.JobCaption,
				Provider:   opts.Provider,
				Model:      opts.Model,
				Total:      len(images),
				GlobalTags: opts.GlobalTags,
			}, func(ctx context.Context, record func(models.FileResult)) error {
				a.markSession(ctx, sessionID, models.SessionCaptioning)
				defer a.refreshSession(context.WithoutCancel(ctx), sessionID)

				opts.OnResult = func(r models.FileResult) {
					if r.Success {
						slog.Info("Captioned image", "file", r.File)
					} else {
						slog.Warn("Caption failed", "file", r.File, "err", r.Error)
					}
					record(r)
				}
				_, err := a.processor.Generate(ctx, sessionID, opts)
				return err
			})
			if err != nil {
				return err
			}

			printJob(job)
			if job.Status == models.JobFailed {
				return fmt.Errorf("caption run failed: %s", job.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to caption (required)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Provider API key (defaults to OPENAI_API_KEY / GEMINI_API_KEY)")
	cmd.Flags().StringVarP(&globalTag, "tags", "t", "", "Comma-separated tags appended to every caption")
	cmd.Flags().BoolVar(&batch, "batch", false, "Use the smaller batch chunk size")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", captioning.DefaultMaxTokens, "Maximum tokens per caption")
	cmd.Flags().String("provider", "openai", "Caption provider (openai, gemini, ollama)")
	cmd.Flags().String("model", "", "Model name (defaults to the provider's default)")
	cmd.Flags().String("reports-dir", "reports", "Directory for YAML job reports")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func newTagsCmd(root *rootOptions) *cobra.Command {
	var sessionID, globalTags string

	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Append global tags to every caption of a session",
		Long: `Adds each comma-separated tag to every existing caption of a session unless the
caption already contains it. Running the command twice changes nothing the second time.`,
		Example: `  captioner tags --session 3f1c... --tags "photo, archive"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(globalTags) == "" {
				return fmt.Errorf("--tags must not be empty")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			captions, err := a.files.ListCaptions(sessionID)
			if err != nil {
				return fmt.Errorf("failed to list captions for %s: %w", sessionID, err)
			}
			if len(captions) == 0 {
				return captioning.ErrNoCaptions
			}

			job, err := a.jobs.Run(ctx, jobs.Spec{
				SessionID:  sessionID,
				Kind:       models.JobTags,
				Total:      len(captions),
				GlobalTags: globalTags,
			}, func(ctx context.Context, record func(models.FileResult)) error {
				res, err := a.processor.AddGlobalTags(ctx, sessionID, globalTags)
				if res != nil {
					for _, r := range res.Results {
						record(r)
					}
				}
				return err
			})
			if err != nil {
				return err
			}
			printJob(job)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID (required)")
	cmd.Flags().StringVarP(&globalTags, "tags", "t", "", "Comma-separated tags to add (required)")
	cmd.Flags().String("reports-dir", "reports", "Directory for YAML job reports")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("tags")

	return cmd
}

func printJob(job *models.Job) {
	results := slices.Clone(job.Results)
	slices.SortFunc(results, func(a, b models.FileResult) int { return strings.Compare(a.File, b.File) })

	fmt.Printf("\nJob %s (%s) %s\n", job.ID, job.Kind, job.Status)
	fmt.Printf("Session:   %s\n", job.SessionID)
	if job.Provider != "" {
		fmt.Printf("Provider:  %s (%s)\n", job.Provider, job.Model)
	}
	fmt.Printf("Succeeded: %d/%d\n", job.Succeeded, job.Total)
	if job.Failed > 0 {
		fmt.Printf("Failed:    %d\n", job.Failed)
		for _, r := range results {
			if !r.Success {
				fmt.Printf("  %s: %s\n", r.File, r.Error)
			}
		}
	}
	if job.Error != "" {
		fmt.Printf("Error:     %s\n", job.Error)
	}
}
