package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/stepwise/internal/config"
	"github.com/aretw0/stepwise/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stepwise",
	Short: "Stepwise runs multi-step conversations over a messaging channel",
	Long: `Stepwise drives surveys, intake forms and ticket lookups over a chat channel.
Configuration comes from STEPWISE_* environment variables; flags override them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("store", "", "Progress store driver: memory, redis, sqlite or dynamodb")
	flags.String("catalog", "", "Catalog YAML file with conversation steps and documents")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Bool("log-json", false, "Write logs as JSON")
}

// loadConfig reads the environment and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.StoreDriver, _ = flags.GetString("store")
	}
	if flags.Changed("catalog") {
		cfg.CatalogPath, _ = flags.GetString("catalog")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.LogJSON, _ = flags.GetBool("log-json")
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) *slog.Logger {
	var opts []logging.Option
	if cfg.LogJSON {
		opts = append(opts, logging.WithJSON())
	}
	return logging.New(logging.ParseLevel(cfg.LogLevel), opts...)
}
