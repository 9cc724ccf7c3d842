// Package cli assembles a running stepwise process from its configuration.
// Both the long-running server and the Lambda handler build on it.
package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aretw0/stepwise"
	"github.com/aretw0/stepwise/internal/config"
	"github.com/aretw0/stepwise/pkg/adapters/catalog"
	"github.com/aretw0/stepwise/pkg/adapters/channel"
	"github.com/aretw0/stepwise/pkg/adapters/dynamodb"
	stephttp "github.com/aretw0/stepwise/pkg/adapters/http"
	"github.com/aretw0/stepwise/pkg/adapters/memory"
	"github.com/aretw0/stepwise/pkg/adapters/paramstore"
	"github.com/aretw0/stepwise/pkg/adapters/redis"
	"github.com/aretw0/stepwise/pkg/adapters/sqlite"
	"github.com/aretw0/stepwise/pkg/observability"
	"github.com/aretw0/stepwise/pkg/persistence/middleware"
	"github.com/aretw0/stepwise/pkg/ports"
	"github.com/aretw0/stepwise/pkg/registry"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
)

// App is a fully wired process.
type App struct {
	Engine  *stepwise.Engine
	Server  *stephttp.Server
	Store   ports.ProgressStore
	Catalog *catalog.Catalog
	Metrics *observability.Metrics

	closers []io.Closer
}

// Close releases the store connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// BuildOption tweaks Build, mostly for tests.
type BuildOption func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
	channel    ports.Channel
	awsConfig  *aws.Config
}

// WithRegisterer registers the metrics on r instead of the default registry.
func WithRegisterer(r prometheus.Registerer) BuildOption {
	return func(o *buildOptions) {
		o.registerer = r
	}
}

// WithChannel bypasses the configured channel client.
func WithChannel(ch ports.Channel) BuildOption {
	return func(o *buildOptions) {
		o.channel = ch
	}
}

// WithAWSConfig skips loading the default AWS configuration.
func WithAWSConfig(cfg aws.Config) BuildOption {
	return func(o *buildOptions) {
		o.awsConfig = &cfg
	}
}

// Build wires the store, catalog, channel, engine and HTTP server described by cfg.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...BuildOption) (*App, error) {
	o := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	app := &App{}
	awsCfg := lazyAWS(ctx, cfg, o.awsConfig)

	reg := registry.Builtin()
	var engineOpts []stepwise.Option
	if cfg.CatalogPath == "" {
		return nil, errors.New("a catalog file is required (STEPWISE_CATALOG or --catalog)")
	}
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if err := cat.Register(reg); err != nil {
		return nil, err
	}
	app.Catalog = cat
	metadataTTL := cfg.MetadataTTL
	if ttl := cat.MetadataTTL(); ttl > 0 {
		metadataTTL = ttl
	}

	store, recorder, closer, err := OpenStore(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	if store, err = protect(ctx, cfg, store, awsCfg); err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Store = store
	if recorder != nil {
		engineOpts = append(engineOpts, stepwise.WithTurnRecorder(recorder))
	}

	ch := o.channel
	if ch == nil {
		ch, err = openChannel(ctx, cfg, awsCfg, logger)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	app.Metrics = observability.NewMetrics(o.registerer)
	engineOpts = append(engineOpts,
		stepwise.WithStore(store),
		stepwise.WithChannel(ch),
		stepwise.WithSteps(cat),
		stepwise.WithDirectory(cat),
		stepwise.WithRegistry(reg),
		stepwise.WithLogger(logger),
		stepwise.WithHooks(app.Metrics.Hooks()),
		stepwise.WithCacheTTL(cfg.CacheTTL),
		stepwise.WithMetadataTTL(metadataTTL),
		stepwise.WithSweepInterval(cfg.SweepInterval),
		stepwise.WithTimeouts(cfg.TurnTimeout, cfg.CallTimeout),
	)
	app.Engine, err = stepwise.New(engineOpts...)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Server = stephttp.NewServer(app.Engine, app.Engine.Sessions(),
		stephttp.WithLogger(logger),
		stephttp.WithSecret(cfg.WebhookSecret),
		stephttp.WithVerifyToken(cfg.VerifyToken),
		stephttp.WithAdminToken(cfg.AdminToken),
		stephttp.WithMaxInputSize(cfg.MaxInputSize),
		stephttp.WithVersion(stepwise.Version),
		stephttp.WithMetrics(app.Metrics.Handler()),
	)
	logger.Info("stepwise wired",
		"store", cfg.StoreDriver,
		"catalog", cfg.CatalogPath,
		"types", cat.Types(),
		"cache_ttl", cfg.CacheTTL,
		"metadata_ttl", metadataTTL,
	)
	return app, nil
}

// OpenStore opens the progress store selected by cfg.StoreDriver. The
// recorder and closer are nil for drivers that do not provide them.
func OpenStore(ctx context.Context, cfg config.Config, awsCfg func() (aws.Config, error)) (ports.ProgressStore, ports.TurnRecorder, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memory.NewStore(), nil, nil, nil
	case config.DriverRedis:
		s, err := redis.NewFromURL(cfg.RedisURL, redis.WithPrefix(cfg.RedisPrefix))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil, s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s, s, nil
	case config.DriverDynamoDB:
		c, err := awsCfg()
		if err != nil {
			return nil, nil, nil, err
		}
		s, err := dynamodb.New(awsdynamodb.NewFromConfig(c), cfg.DynamoTable)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// protect wraps store with answer redaction and encryption when configured.
func protect(ctx context.Context, cfg config.Config, store ports.ProgressStore, awsCfg func() (aws.Config, error)) (ports.ProgressStore, error) {
	var mws []middleware.Middleware
	if len(cfg.RedactPatterns) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.RedactPatterns)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	if cfg.EncryptionKey != "" {
		keys := append([]string{cfg.EncryptionKey}, cfg.EncryptionFallbackKeys...)
		decoded := make([][]byte, 0, len(keys))
		for i, k := range keys {
			raw, err := secret(ctx, k, awsCfg)
			if err != nil {
				return nil, err
			}
			key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
			if err != nil {
				return nil, fmt.Errorf("encryption key %d: %w", i, err)
			}
			decoded = append(decoded, key)
		}
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: decoded[0], FallbackKeys: decoded[1:]})
		if err != nil {
			return nil, err
		}
		mws = append(mws, enc)
	}
	return middleware.Chain(store, mws...), nil
}

// secret resolves an ssm: reference, or returns value as is.
func secret(ctx context.Context, value string, awsCfg func() (aws.Config, error)) (string, error) {
	if !paramstore.IsRef(value) {
		return value, nil
	}
	c, err := awsCfg()
	if err != nil {
		return "", err
	}
	params, err := paramstore.New(ssm.NewFromConfig(c))
	if err != nil {
		return "", err
	}
	return params.Resolve(ctx, value)
}

func openChannel(ctx context.Context, cfg config.Config, awsCfg func() (aws.Config, error), logger *slog.Logger) (ports.Channel, error) {
	if cfg.ChannelURL == "" {
		logger.Warn("no channel url configured; outbound messages are only kept in memory")
		return memory.NewChannel(), nil
	}

	token := cfg.ChannelToken
	if token == "" && cfg.ChannelTokenParam != "" {
		token = paramstore.RefPrefix + cfg.ChannelTokenParam
	}
	token, err := secret(ctx, token, awsCfg)
	if err != nil {
		return nil, fmt.Errorf("resolve channel token: %w", err)
	}
	return channel.New(cfg.ChannelURL, token, channel.WithTimeout(cfg.CallTimeout))
}

// AWSConfig returns a loader for the shared AWS configuration.
func AWSConfig(ctx context.Context, cfg config.Config) func() (aws.Config, error) {
	return lazyAWS(ctx, cfg, nil)
}

// lazyAWS loads the shared AWS configuration on first use only.
func lazyAWS(ctx context.Context, cfg config.Config, preset *aws.Config) func() (aws.Config, error) {
	var (
		loaded aws.Config
		err    error
		done   bool
	)
	return func() (aws.Config, error) {
		if preset != nil {
			return *preset, nil
		}
		if done {
			return loaded, err
		}
		done = true
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		loaded, err = awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			err = fmt.Errorf("load aws config: %w", err)
		}
		return loaded, err
	}
}
