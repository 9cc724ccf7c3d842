package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aretw0/stepwise/internal/cli"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and admin HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		app, err := cli.Build(sigCtx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		sweepDone := make(chan struct{})
		go func() {
			app.Engine.Run(sigCtx)
			close(sweepDone)
		}()

		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           app.Server.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("stepwise server listening", "addr", srv.Addr, "store", cfg.StoreDriver)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			sigCtx.Cancel()
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-sigCtx.Done():
			logger.Info("shutting down", "signal", sigCtx.Signal())
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
			_ = srv.Close()
		}
		<-sweepDone
		if err := app.Engine.Close(ctx); err != nil {
			logger.Warn("background work not drained", "error", err)
		}
		logger.Info("stepwise server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default from STEPWISE_ADDR)")
}
