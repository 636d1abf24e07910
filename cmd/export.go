package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/captioner/internal/dataset"
)

func newExportCmd(root *rootOptions) *cobra.Command {
	var sessionID, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session's captions as a training dataset",
		Long: `Writes one row per captioned image (file name, caption, tags and image
dimensions) to a Parquet file or a metadata.jsonl file, chosen by the output extension.`,
		Example: `  captioner export --session 3f1c... --output dataset.parquet
  captioner export --session 3f1c... --output uploads/3f1c.../metadata.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if output == "" {
				output = sessionID + ".parquet"
			}
			rows, err := dataset.Collect(a.files, sessionID)
			if err != nil {
				return fmt.Errorf("failed to collect captions: %w", err)
			}
			if len(rows) == 0 {
				return fmt.Errorf("no captions found for session %s", sessionID)
			}
			if err := dataset.Export(output, rows); err != nil {
				return err
			}

			info, err := os.Stat(output)
			if err != nil {
				return err
			}
			slog.Info("Dataset exported", "session_id", sessionID, "rows", len(rows), "output", output)
			fmt.Printf("Exported %d rows to %s (%s)\n", len(rows), output, humanize.Bytes(uint64(info.Size())))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to export (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, .parquet or .jsonl (default <session>.parquet)")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}
