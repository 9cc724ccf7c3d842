package logging_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/aretw0/stepwise/internal/logging"
	"github.com/stretchr/testify/assert"
)

func TestNew_RewritesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(slog.LevelInfo, logging.WithWriter(&buf))

	log.Info("commit failed", "error", errors.New("boom"))

	assert.Contains(t, buf.String(), "err=boom")
	assert.NotContains(t, buf.String(), "error=boom")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(slog.LevelDebug, logging.WithWriter(&buf), logging.WithJSON())

	log.Debug("turn", "identity", "5511999990000")

	assert.Contains(t, buf.String(), `"identity":"5511999990000"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("verbose"))
}
