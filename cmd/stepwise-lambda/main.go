// Command stepwise-lambda serves the channel webhook from AWS Lambda behind
// API Gateway. Configuration is the same STEPWISE_* environment as the server.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aretw0/stepwise/internal/cli"
	"github.com/aretw0/stepwise/internal/config"
	"github.com/aretw0/stepwise/internal/logging"
	"github.com/aws/aws-lambda-go/lambda"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.New(logging.ParseLevel(cfg.LogLevel), logging.WithJSON())

	app, err := cli.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to wire stepwise", "error", err)
		os.Exit(1)
	}

	h, err := newHandler(app.Server, app.Engine, logger)
	if err != nil {
		logger.Error("failed to create handler", "error", err)
		os.Exit(1)
	}
	lambda.Start(h.Handle)
}
