package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/captioner/internal/config"
)

type rootOptions struct {
	configFile string
	cfg        *config.Config
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "captioner",
		Short: "Batch image captioning for training datasets",
		Long: `Captioner uploads batches of images into sessions, captions every image with a
vision-capable LLM (OpenAI by default, Gemini or Ollama optionally), applies global tags and
packages images and captions for download.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			cfg, err := config.Load(opts.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			opts.cfg = cfg
			setupLogger(cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML config file")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "Log format (text or json)")
	cmd.PersistentFlags().String("uploads-dir", "uploads", "Directory holding uploaded session images")
	cmd.PersistentFlags().String("results-dir", "results", "Directory holding generated captions")
	cmd.PersistentFlags().String("db", "data/captioner.db", "SQLite database for session and job records (empty for in-memory)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCaptionCmd(opts))
	cmd.AddCommand(newTagsCmd(opts))
	cmd.AddCommand(newExportCmd(opts))
	cmd.AddCommand(newSessionsCmd(opts))
	cmd.AddCommand(newReportCmd(opts))

	return cmd
}
