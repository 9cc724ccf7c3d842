package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/aretw0/stepwise/internal/cli"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/ports"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored conversations",
	Long:  `List, inspect, abandon and remove conversations in the configured progress store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.ProgressStore) error {
			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "No conversations found.")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(out, "- "+string(id))
			}
			return nil
		})
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <identity>",
	Short: "Print the stored progress of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.ProgressStore) error {
			rec, err := store.ReadProgress(cmd.Context(), domain.Normalize(args[0]))
			if err != nil {
				return fmt.Errorf("inspect %q: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

var sessionAbandonCmd = &cobra.Command{
	Use:   "abandon <identity>...",
	Short: "Mark conversations as abandoned",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.ProgressStore) error {
			return eachIdentity(cmd, args, "Abandoned", func(id domain.Identity) error {
				return store.SetStatus(cmd.Context(), id, domain.StatusAbandoned)
			})
		})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <identity>...",
	Short: "Remove one or more conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store ports.ProgressStore) error {
			return eachIdentity(cmd, args, "Removed", func(id domain.Identity) error {
				return store.Delete(cmd.Context(), id)
			})
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionAbandonCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}

// withStore opens the configured store without the rest of the engine.
// Running conversations keep a cached view for up to the cache TTL.
func withStore(cmd *cobra.Command, fn func(ports.ProgressStore) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, _, closer, err := cli.OpenStore(cmd.Context(), cfg, cli.AWSConfig(cmd.Context(), cfg))
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	return fn(store)
}

func eachIdentity(cmd *cobra.Command, args []string, verb string, fn func(domain.Identity) error) error {
	failed := 0
	out := cmd.OutOrStdout()
	for _, arg := range args {
		id := domain.Normalize(arg)
		if err := fn(id); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error on '%s': %v\n", id, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "%s '%s'\n", verb, id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversations failed", failed, len(args))
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
