package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/sasya"
	"github.com/aretw0/sasya/internal/cli"
	"github.com/aretw0/sasya/internal/config"
	"github.com/aretw0/sasya/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sasya",
	Short: "Sasya is a plant disease diagnosis assistant",
	Long: `Sasya guides a farmer from a photo of a sick plant to a diagnosis, a treatment
plan and nearby vendors, one conversational turn at a time.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		if cmd.Flags().Changed("log-format") {
			loaded.Log.Format, _ = cmd.Flags().GetString("log-format")
		}
		level, err := logging.ParseLevel(loaded.Log.Level)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logging.New(level, loaded.Log.Format)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file (default sasya.yaml if present)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", logging.FormatText, "Log format: text or json")
}

// openEngine builds the engine from the loaded configuration.
func openEngine(reg prometheus.Registerer) (*sasya.Engine, error) {
	return cli.NewEngine(cfg, logger, reg)
}
