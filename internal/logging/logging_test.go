package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestForContextAddsRunID(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithRunID(context.Background(), "run-42")
	assert.Equal(t, "run-42", RunIDFromContext(ctx))
	assert.Empty(t, RunIDFromContext(context.Background()))

	LogScan(ForContext(ctx, base), "run-42", 3, 2, 10, 1, 1500*time.Millisecond)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scan", line["event"])
	assert.Equal(t, "run-42", line["run_id"])
	assert.EqualValues(t, 2, line["selected"])
	assert.Equal(t, "scan completed", line["message"])
}

func TestForContextWithoutRunID(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	LogAPICall(ForContext(context.Background(), zerolog.New(&buf)), "GET", "/quotes", time.Millisecond, nil)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, line, "run_id")
	assert.Equal(t, "/quotes", line["endpoint"])
}
