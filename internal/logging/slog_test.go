package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/helix/types"
)

func TestSlogLogger_ImplementsInterface(t *testing.T) {
	t.Helper()
	var _ types.Logger = (*SlogLogger)(nil)
}

func TestNewSlogDefault(t *testing.T) {
	logger := NewSlogDefault()

	require.NotNil(t, logger)
	require.NotNil(t, logger.logger)
}

func TestNewNop(t *testing.T) {
	logger := NewNop()

	require.NotPanics(t, func() {
		logger.Debug("discarded", "k", "v")
		logger.Info("discarded")
		logger.Warn("discarded")
		logger.Error("discarded")
	})
}

func TestSlogLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlog(slog.New(handler))

	logger.Debug("debug message", "partition", "db_0")
	logger.Info("info message", "session", "abc")
	logger.Warn("warn message", "step", "subscribe-messages")
	logger.Error("error message", "error", "timeout")

	output := buf.String()
	assert.Contains(t, output, "level=DEBUG")
	assert.Contains(t, output, "partition=db_0")
	assert.Contains(t, output, "level=INFO")
	assert.Contains(t, output, "session=abc")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "step=subscribe-messages")
	assert.Contains(t, output, "level=ERROR")
	assert.Contains(t, output, "error=timeout")
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := NewSlog(slog.New(handler))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "warn message")
}

func TestSlogLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewSlog(slog.New(slog.NewTextHandler(buf, nil))).With("instance", "i-1")

	logger.Info("connected")

	assert.Contains(t, buf.String(), "instance=i-1")
}

func TestNew(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(buf, "debug", "json")
		require.NoError(t, err)

		logger.Debug("hello", "k", "v")
		assert.Contains(t, buf.String(), `"msg":"hello"`)
		assert.Contains(t, buf.String(), `"k":"v"`)
	})

	t.Run("text format default", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(buf, "", "")
		require.NoError(t, err)

		logger.Debug("hidden")
		logger.Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "msg=shown")
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := New(nil, "loud", "text")
		require.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := New(nil, "info", "xml")
		require.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}
}

func TestFormatKeyValues(t *testing.T) {
	require.Empty(t, formatKeyValues(nil))
	require.Equal(t, " a=1 b=two", formatKeyValues([]any{"a", 1, "b", "two"}))
	require.Equal(t, " a=1 dangling=<missing>", formatKeyValues([]any{"a", 1, "dangling"}))
}

func TestTestLogger(t *testing.T) {
	logger := NewTest(t)

	require.NotPanics(t, func() {
		logger.Debug("debug", "k", "v")
		logger.Info("info")
		logger.Warn("warn", "odd")
		logger.Error("error", "err", "boom")
	})
}
