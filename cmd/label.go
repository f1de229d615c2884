package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresmejia3/proctor/internal/session"
	"github.com/andresmejia3/proctor/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <session_id> <candidate_name>",
	Short: "Correct the candidate name of a recorded session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLabel(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, ref, name string) error {
	if err := session.ValidateCandidate(name); err != nil {
		utils.ShowError("Invalid candidate name", err, nil)
		return err
	}
	name = strings.TrimSpace(name)

	id, err := resolveSessionID(ctx, ref)
	if err != nil {
		utils.ShowError("Unknown session", err, nil)
		return err
	}
	if err := DB.RenameCandidate(ctx, id, name); err != nil {
		utils.ShowError("Failed to label session", err, nil)
		return err
	}

	fmt.Printf("✅ Session %s labeled as '%s'\n", shortID(id), name)
	return nil
}
