package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/sasya"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of sasya",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sasya version %s\n", strings.TrimSpace(sasya.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
