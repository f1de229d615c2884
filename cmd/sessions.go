package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/proctor/internal/score"
	"github.com/andresmejia3/proctor/internal/store"
	"github.com/andresmejia3/proctor/internal/utils"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded proctoring sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runSessions(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(ctx context.Context) error {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.ShowError("Failed to list sessions", err, nil)
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tCANDIDATE\tSTARTED\tDURATION\tEVENTS\tSCORE")
	fmt.Fprintln(w, "--\t---------\t-------\t--------\t------\t-----")

	for _, s := range sessions {
		duration, scoreCol := "running", "-"
		if s.EndedAt != nil {
			duration = fmtTime(s.EndedAt.Sub(s.StartedAt))
		}
		if s.FinalScore != nil {
			scoreCol = fmt.Sprintf("%d (%s)", *s.FinalScore, score.Band(*s.FinalScore))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(s.ID), s.Candidate, s.StartedAt.Local().Format("2006-01-02 15:04"), duration, s.EventCount, scoreCol)
	}
	w.Flush()
	return nil
}

// resolveSessionID accepts a full id or a unique prefix of one, as printed by `sessions`.
func resolveSessionID(ctx context.Context, ref string) (string, error) {
	if _, err := DB.GetSession(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	return matchPrefix(sessions, ref)
}

func matchPrefix(sessions []store.Session, ref string) (string, error) {
	var match string
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("%w: %q", errAmbiguous, ref)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %q", store.ErrNotFound, ref)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fmtTime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
