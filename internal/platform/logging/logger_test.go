package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/pscheid92/autoapply/internal/platform/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLogger_JSONCarriesCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")

	ctx := correlation.WithRunID(context.Background(), "run-1")
	ctx = correlation.WithTaskID(ctx, "task-1")
	logger.DebugContext(ctx, "Hidden")
	logger.InfoContext(ctx, "Application transitioned", "to", "matched")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Application transitioned", entry["msg"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "task-1", entry["task_id"])
	assert.Equal(t, "matched", entry["to"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "text")

	logger.Debug("Lane started", "lane", "seek/sam")

	assert.Contains(t, buf.String(), "msg=\"Lane started\"")
	assert.Contains(t, buf.String(), "lane=seek/sam")
}
