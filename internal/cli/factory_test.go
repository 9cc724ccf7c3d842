package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/stepwise/internal/config"
	"github.com/aretw0/stepwise/internal/logging"
	"github.com/aretw0/stepwise/pkg/adapters/memory"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aretw0/stepwise/pkg/session"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
metadata_ttl: 2h
conversations:
  survey:
    steps:
      - prompt: "How was it?"
  lookup:
    steps:
      - prompt: "Ticket code?"
documents:
  - code: TCK-100
    title: Broken router
`

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))
	return config.Config{
		StoreDriver:   config.DriverMemory,
		CatalogPath:   path,
		CacheTTL:      time.Minute,
		MetadataTTL:   time.Hour,
		SweepInterval: time.Minute,
		TurnTimeout:   time.Second,
		CallTimeout:   time.Second,
		MaxInputSize:  1024,
	}
}

func noAWS() (aws.Config, error) {
	return aws.Config{Region: "us-east-1"}, nil
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, rec, closer, err := OpenStore(ctx, baseConfig(t), noAWS)
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, store)
		assert.Nil(t, rec)
		assert.Nil(t, closer)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := baseConfig(t)
		cfg.StoreDriver = config.DriverRedis
		cfg.RedisURL = "redis://" + mr.Addr() + "/0"

		store, _, closer, err := OpenStore(ctx, cfg, noAWS)
		require.NoError(t, err)
		require.NotNil(t, closer)
		defer closer.Close()

		rec := domain.NewRecord("5511900001111", "i-1", "survey", domain.StateInvite, 1, true)
		require.NoError(t, store.Create(ctx, rec))
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []domain.Identity{"5511900001111"}, ids)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.StoreDriver = config.DriverRedis
		cfg.RedisURL = "redis://127.0.0.1:1/0"
		_, _, _, err := OpenStore(ctx, cfg, noAWS)
		assert.ErrorContains(t, err, "open redis store")
	})

	t.Run("sqlite records turns", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.StoreDriver = config.DriverSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "stepwise.db")

		store, rec, closer, err := OpenStore(ctx, cfg, noAWS)
		require.NoError(t, err)
		defer closer.Close()
		assert.NotNil(t, store)
		assert.NotNil(t, rec)
	})

	t.Run("dynamodb", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.StoreDriver = config.DriverDynamoDB
		cfg.DynamoTable = "progress"

		store, _, _, err := OpenStore(ctx, cfg, noAWS)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.StoreDriver = "postgres"
		_, _, _, err := OpenStore(ctx, cfg, noAWS)
		assert.ErrorContains(t, err, "unknown store driver")
	})
}

func TestBuild_RequiresCatalog(t *testing.T) {
	cfg := baseConfig(t)
	cfg.CatalogPath = ""
	_, err := Build(context.Background(), cfg, logging.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	assert.ErrorContains(t, err, "catalog")
}

func TestBuild_ServesWebhook(t *testing.T) {
	ctx := context.Background()
	ch := memory.NewChannel()
	app, err := Build(ctx, baseConfig(t), logging.NewNop(),
		WithRegisterer(prometheus.NewRegistry()),
		WithChannel(ch),
	)
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Engine.Start(ctx, session.StartRequest{Identity: "5511900002222", Type: "lookup"})
	require.NoError(t, err)

	srv := httptest.NewServer(app.Server.Handler())
	defer srv.Close()

	body := `{"entry":[{"changes":[{"value":{"messages":[{"id":"wamid.1","from":"5511900002222","type":"text","text":{"body":"TCK-100"}}]}}]}]}`
	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	last, ok := ch.Last("5511900002222")
	require.True(t, ok)
	assert.Contains(t, last.Text, "Broken router")

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuild_ChannelClient(t *testing.T) {
	var auth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	cfg := baseConfig(t)
	cfg.ChannelURL = api.URL
	cfg.ChannelToken = "secret-token"

	app, err := Build(context.Background(), cfg, logging.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Engine.Start(context.Background(), session.StartRequest{Identity: "5511900003333", Type: "lookup"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", auth)
}

func TestBuild_ProtectsAnswers(t *testing.T) {
	cfg := baseConfig(t)
	cfg.EncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	cfg.RedactPatterns = []string{`\d{4}-\d{4}`}

	ch := memory.NewChannel()
	app, err := Build(context.Background(), cfg, logging.NewNop(), WithRegisterer(prometheus.NewRegistry()), WithChannel(ch))
	require.NoError(t, err)
	defer app.Close()

	ctx := context.Background()
	_, err = app.Engine.Start(ctx, session.StartRequest{Identity: "5511900004444", Type: "lookup", Silent: true})
	require.NoError(t, err)
	_, err = app.Engine.Dispatch(ctx, domain.Event{ID: "e1", Identity: "5511900004444", Text: "TCK-100"})
	require.NoError(t, err)

	rec, err := app.Store.ReadProgress(ctx, "5511900004444")
	require.NoError(t, err)
	assert.Equal(t, "TCK-100", rec.Answers[1])
}

func TestBuild_RejectsBadKey(t *testing.T) {
	cfg := baseConfig(t)
	cfg.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err := Build(context.Background(), cfg, logging.NewNop(), WithRegisterer(prometheus.NewRegistry()), WithChannel(memory.NewChannel()))
	assert.ErrorContains(t, err, "active key")
}
