package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/captioner/internal/models"
	"github.com/lehigh-university-libraries/captioner/internal/storage"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List upload sessions and their caption progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, err := a.files.ListSessions()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No sessions found")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSTATUS\tIMAGES\tCAPTIONS\tPROGRESS\tUPDATED")
			for _, id := range ids {
				images, captions, err := a.files.Counts(id)
				if err != nil {
					return err
				}
				p := models.NewProgress(images, captions)

				status, updated := models.SessionUploaded, "-"
				session, err := a.repo.GetSession(ctx, id)
				switch {
				case err == nil:
					status = session.Status
					updated = humanize.Time(session.UpdatedAt)
				case !errors.Is(err, storage.ErrNotFound):
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d%%\t%s\n", id, status, images, captions, p.Progress, updated)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(newSessionsDeleteCmd(root))
	return cmd
}

func newSessionsDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session's uploads, captions and record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			if !a.files.SessionExists(id) {
				return fmt.Errorf("session %s not found", id)
			}
			if err := a.files.DeleteSession(id); err != nil {
				return err
			}
			if err := a.repo.DeleteSession(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			fmt.Printf("Deleted session %s\n", id)
			return nil
		},
	}
}
