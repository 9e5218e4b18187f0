package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored sessions",
	Long:  `List, inspect, remove and sweep sessions in the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		ids, err := engine.Sessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("error listing sessions: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		for _, id := range ids {
			s, err := engine.Session(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(out, "- %s (unreadable: %v)\n", id, err)
				continue
			}
			fmt.Fprintf(out, "- %s\t%s\tupdated %s\n", id, s.State, s.LastActiveAt.Format(time.RFC3339))
		}
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		s, err := engine.Session(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", args[0], err)
		}
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling session: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		var errs []error
		for _, id := range args {
			if err := engine.Delete(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("error removing '%s': %w", id, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

var sessionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove sessions idle for longer than --max-inactive",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxIdle, _ := cmd.Flags().GetDuration("max-inactive")

		engine, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer engine.Close(context.Background())

		n, err := engine.Sweep(cmd.Context(), maxIdle)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d session(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd, sessionInspectCmd, sessionRmCmd, sessionSweepCmd)
	sessionSweepCmd.Flags().Duration("max-inactive", 24*time.Hour, "Idle time after which a session is removed")
}
