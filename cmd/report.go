package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/proctor/internal/events"
	"github.com/andresmejia3/proctor/internal/report"
	"github.com/andresmejia3/proctor/internal/store"
	"github.com/andresmejia3/proctor/internal/utils"
	"github.com/spf13/cobra"
)

var (
	reportFormat string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report <session_id>",
	Short: "Export the events of a recorded session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		id, err := resolveSessionID(ctx, args[0])
		if err != nil {
			utils.ShowError("Unknown session", err, nil)
			return err
		}
		sess, err := DB.GetSession(ctx, id)
		if err != nil {
			utils.ShowError("Failed to load session", err, nil)
			return err
		}
		evs, err := DB.SessionEvents(ctx, id)
		if err != nil {
			utils.ShowError("Failed to load events", err, nil)
			return err
		}

		meta := sessionMeta(sess)
		sum := report.Summarize(meta, evs, time.Now())

		var w io.Writer = os.Stdout
		if reportOutput != "" {
			f, err := os.Create(reportOutput)
			if err != nil {
				utils.ShowError("Failed to create output file", err, nil)
				return err
			}
			defer f.Close()
			w = f
		}
		if err := export(w, reportFormat, meta, sum, evs); err != nil {
			utils.ShowError("Failed to write report", err, nil)
			return err
		}
		if reportOutput != "" {
			fmt.Fprintf(os.Stderr, "💾 Wrote %s (%d events, score %d/100)\n", reportOutput, sum.TotalEvents, sum.IntegrityScore)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "report", "Output format: csv, report or json")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write to this file instead of stdout")
	rootCmd.AddCommand(reportCmd)
}

// export renders one of the supported formats.
func export(w io.Writer, format string, meta report.Session, sum report.Summary, evs []events.Event) error {
	switch format {
	case "csv":
		return report.WriteCSV(w, evs)
	case "report":
		return report.WriteReport(w, sum, evs)
	case "json":
		return report.WriteJSON(w, meta, sum, evs)
	}
	return fmt.Errorf("unknown report format %q (want csv, report or json)", format)
}

func sessionMeta(s store.Session) report.Session {
	meta := report.Session{ID: s.ID, Candidate: s.Candidate, StartedAt: s.StartedAt}
	if s.EndedAt != nil {
		meta.EndedAt = *s.EndedAt
	}
	return meta
}

// errAmbiguous is returned when a short id prefix matches more than one session.
var errAmbiguous = errors.New("session id prefix is ambiguous")
