package main

import (
	"context"
	"fmt"

	"github.com/aretw0/sasya/internal/validator"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/workflow"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the workflow table for consistency",
	Long: `Crawls the transition table from the initial state and reports broken links or
unreachable states. With --session, also checks that the session only took legal moves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		edges := workflow.Edges()
		if err := validator.ValidateGraph(edges, domain.StateInitial); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		if sessionID, _ := cmd.Flags().GetString("session"); sessionID != "" {
			engine, err := openEngine(nil)
			if err != nil {
				return err
			}
			defer engine.Close(context.Background())

			s, err := engine.Session(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("error loading session '%s': %w", sessionID, err)
			}
			if err := validator.ValidatePath(edges, s.ActivityLog); err != nil {
				return fmt.Errorf("session '%s': %w", sessionID, err)
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Workflow is valid!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringP("session", "s", "", "Also check the path of this session")
}
