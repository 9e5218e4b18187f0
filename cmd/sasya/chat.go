package main

import (
	"context"
	"os"

	"github.com/aretw0/sasya/internal/cli"
	"github.com/aretw0/sasya/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from the terminal",
	Long: `Reads one message per line and prints the assistant's answers. Use
"/image <path>" to attach a photo to the next message, "/reset" to start over and
"/quit" to leave.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts cli.RunOptions
		opts.SessionID, _ = cmd.Flags().GetString("session")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Verbose, _ = cmd.Flags().GetBool("verbose")
		opts.Context, _ = cmd.Flags().GetString("context")
		opts.Fresh, _ = cmd.Flags().GetBool("fresh")
		plain, _ := cmd.Flags().GetBool("plain")
		opts.Rich = !plain && !opts.JSON && tui.IsTerminal(os.Stdout)

		engine, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		err = cli.Chat(sigCtx, engine, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		if sig := sigCtx.Signal(); sig != nil {
			logger.Debug("Chat interrupted", "signal", sig.String())
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("session", "s", "", "Session ID to resume or create")
	chatCmd.Flags().Bool("json", false, "Write events as JSON lines")
	chatCmd.Flags().BoolP("verbose", "v", false, "Show state changes and progress")
	chatCmd.Flags().String("context", "", "Initial facts as JSON, e.g. '{\"crop\":\"tomato\"}'")
	chatCmd.Flags().Bool("fresh", false, "Reset the session before starting")
	chatCmd.Flags().Bool("plain", false, "Disable markdown rendering and colors")
}
