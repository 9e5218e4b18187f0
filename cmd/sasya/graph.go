package main

import (
	"context"
	"fmt"

	"github.com/aretw0/sasya/internal/presentation/graph"
	"github.com/aretw0/sasya/pkg/workflow"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the workflow graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of the workflow transitions. With --session,
the states that session went through are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		var overlay *graph.GraphOverlay
		if sessionID != "" {
			engine, err := openEngine(nil)
			if err != nil {
				return err
			}
			defer engine.Close(context.Background())

			s, err := engine.Session(cmd.Context(), sessionID)
			if err != nil {
				return fmt.Errorf("error loading session '%s': %w", sessionID, err)
			}
			overlay = graph.OverlayFor(s)
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(workflow.Edges(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Highlight the path of this session")
}
