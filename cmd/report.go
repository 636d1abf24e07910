package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/captioner/internal/report"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var sessionID, jobID, file, format string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the report of a finished caption or tagging job",
		Example: `  captioner report --session 3f1c... --job 9a2b...
  captioner report --file reports/3f1c.../9a2b....yaml --format csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				if sessionID == "" || jobID == "" {
					return fmt.Errorf("either --file or both --session and --job are required")
				}
				path = report.Path(root.cfg.Storage.ReportsDir, sessionID, jobID)
			}
			rep, err := report.Load(path)
			if err != nil {
				return err
			}
			return printReport(os.Stdout, rep, format)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Report file to print")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID of the job")
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "Job ID")
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json, csv)")
	cmd.Flags().String("reports-dir", "reports", "Directory holding YAML job reports")

	return cmd
}

func printReport(w io.Writer, rep *report.Report, format string) error {
	switch format {
	case "text":
		return printTextReport(w, rep)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "csv":
		return printCSVReport(w, rep)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printTextReport(w io.Writer, rep *report.Report) error {
	fmt.Fprintln(w, "========================================")
	fmt.Fprintf(w, "Caption Job Report\n")
	fmt.Fprintln(w, "========================================")
	fmt.Fprintf(w, "Job:      %s (%s)\n", rep.Config.Job, rep.Config.Kind)
	fmt.Fprintf(w, "Session:  %s\n", rep.Config.Session)
	if rep.Config.Provider != "" {
		fmt.Fprintf(w, "Provider: %s\n", rep.Config.Provider)
		fmt.Fprintf(w, "Model:    %s\n", rep.Config.Model)
	}
	if rep.Config.GlobalTags != "" {
		fmt.Fprintf(w, "Tags:     %s\n", rep.Config.GlobalTags)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Status:    %s\n", rep.Summary.Status)
	fmt.Fprintf(w, "Succeeded: %d/%d\n", rep.Summary.Succeeded, rep.Summary.Total)
	fmt.Fprintf(w, "Failed:    %d\n", rep.Summary.Failed)
	fmt.Fprintf(w, "Duration:  %.1fs\n", rep.Summary.Duration)
	if rep.Summary.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", rep.Summary.Error)
	}

	fmt.Fprintln(w, "\nResults:")
	fmt.Fprintln(w, "========================================")
	for i, r := range rep.Results {
		if r.Error != "" {
			fmt.Fprintf(w, "[%d] %s\n  Error: %s\n", i+1, r.File, r.Error)
			continue
		}
		fmt.Fprintf(w, "[%d] %s\n  %s\n", i+1, r.File, truncate(r.Caption, 120))
	}
	return nil
}

func printCSVReport(w io.Writer, rep *report.Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"File", "Success", "Caption", "Error"}); err != nil {
		return err
	}
	for _, r := range rep.Results {
		if err := writer.Write([]string{r.File, strconv.FormatBool(r.Error == ""), r.Caption, r.Error}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
