package main

import (
	"github.com/aretw0/stepwise/internal/cli"
	"github.com/aretw0/stepwise/pkg/session"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <identity> <type>",
	Short: "Start a conversation and send its first prompt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		app, err := cli.Build(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		defer app.Close()

		silent, _ := cmd.Flags().GetBool("silent")
		rec, err := app.Engine.Start(cmd.Context(), session.StartRequest{
			Identity: args[0],
			Type:     args[1],
			Silent:   silent,
		})
		if rec != nil {
			if perr := printJSON(cmd.OutOrStdout(), rec); perr != nil {
				return perr
			}
		}
		if err != nil {
			return err
		}
		return app.Engine.Close(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().Bool("silent", false, "Create the conversation without sending the first prompt")
}
