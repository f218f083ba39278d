package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(buf *bytes.Buffer, level slog.Level) (*CapturingHandler, *LogCollector) {
	collector := NewLogCollector()
	underlying := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return NewCapturingHandler(underlying, collector), collector
}

func TestCapturingHandler_Enabled(t *testing.T) {
	handler, _ := newTestHandler(&bytes.Buffer{}, slog.LevelError)
	ctx := context.Background()

	assert.True(t, handler.Enabled(ctx, slog.LevelDebug))
	assert.True(t, handler.Enabled(ctx, slog.LevelError))
}

func TestCapturingHandler_CapturesInlineKey(t *testing.T) {
	var buf bytes.Buffer
	handler, collector := newTestHandler(&buf, slog.LevelInfo)
	logger := slog.New(handler)

	logger.Info("activity started", KeyAttr, "bg.silent.push", "lease", true, "max_duration", 27*time.Second)

	logs := collector.Get("bg.silent.push")
	require.Len(t, logs, 1)
	entry := logs[0]
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "activity started", entry.Message)
	assert.Equal(t, true, entry.Attributes["lease"])
	assert.Equal(t, "27s", entry.Attributes["max_duration"])
	assert.NotContains(t, entry.Attributes, KeyAttr)
	assert.Contains(t, buf.String(), "activity started")
}

func TestCapturingHandler_CapturesBoundKey(t *testing.T) {
	handler, collector := newTestHandler(&bytes.Buffer{}, slog.LevelInfo)
	logger := slog.New(handler).With("component", "activity_registry").With(KeyAttr, "k")

	logger.Warn("lease denied", "error", errors.New("no capacity"))

	logs := collector.Get("k")
	require.Len(t, logs, 1)
	assert.Equal(t, "activity_registry", logs[0].Attributes["component"])
	assert.Equal(t, "no capacity", logs[0].Attributes["error"])
}

func TestCapturingHandler_IgnoresUntagged(t *testing.T) {
	handler, collector := newTestHandler(&bytes.Buffer{}, slog.LevelInfo)
	slog.New(handler).Info("server started", "addr", ":8080")

	assert.Equal(t, 0, collector.Keys())
}

func TestCapturingHandler_RespectsUnderlyingLevel(t *testing.T) {
	var buf bytes.Buffer
	handler, collector := newTestHandler(&buf, slog.LevelInfo)
	logger := slog.New(handler)

	logger.Debug("joined activity", KeyAttr, "k")

	assert.Len(t, collector.Get("k"), 1)
	assert.Empty(t, buf.String())
}

func TestCapturingHandler_GroupedKeyIsNotBound(t *testing.T) {
	handler, collector := newTestHandler(&bytes.Buffer{}, slog.LevelInfo)
	logger := slog.New(handler).WithGroup("request").With(KeyAttr, "k")

	logger.Info("grouped")
	assert.Equal(t, 0, collector.Keys())
}

func TestResolveValue(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "s", resolveValue(slog.StringValue("s")))
	assert.Equal(t, int64(3), resolveValue(slog.IntValue(3)))
	assert.Equal(t, uint64(4), resolveValue(slog.Uint64Value(4)))
	assert.Equal(t, 1.5, resolveValue(slog.Float64Value(1.5)))
	assert.Equal(t, true, resolveValue(slog.BoolValue(true)))
	assert.Equal(t, "2s", resolveValue(slog.DurationValue(2*time.Second)))
	resolved, ok := resolveValue(slog.TimeValue(ts)).(time.Time)
	require.True(t, ok)
	assert.True(t, ts.Equal(resolved))
	assert.Equal(t, "boom", resolveValue(slog.AnyValue(errors.New("boom"))))
	assert.Equal(t, map[string]any{"a": int64(1)}, resolveValue(slog.GroupValue(slog.Int("a", 1))))
}
