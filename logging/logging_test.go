package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureGlobal(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })
	return &buf
}

func TestComponent(t *testing.T) {
	buf := captureGlobal(t)

	logger := Component("pipeline")
	logger.Info().Msg("test message")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pipeline", entry["cmp"])
	assert.Equal(t, "test message", entry["message"])
}

func TestCtxAddsJobAndLanguage(t *testing.T) {
	buf := captureGlobal(t)

	ctx := WithLanguage(WithJobID(context.Background(), "job_fix_de_1"), "de")
	assert.Equal(t, "job_fix_de_1", GetJobID(ctx))
	assert.Equal(t, "de", GetLanguage(ctx))

	l := Ctx(ctx, "translate")
	l.Info().Msg("hi")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job_fix_de_1", entry["job"])
	assert.Equal(t, "de", entry["lang"])
	assert.Equal(t, "translate", entry["cmp"])
}

func TestGettersOnEmptyContext(t *testing.T) {
	assert.Empty(t, GetJobID(context.Background()))
	assert.Empty(t, GetLanguage(context.Background()))
}

func TestNew(t *testing.T) {
	_, _, err := New("loud", "")
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "logs", "run.log")
	l, closer, err := New("warn", file)
	require.NoError(t, err)
	l.Info().Msg("dropped")
	l.Warn().Msg("kept")
	closer()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}
