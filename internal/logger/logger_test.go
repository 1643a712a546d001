package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(level)

	return ToContext(context.Background(), zap.New(core).Sugar()), logs
}

// TestParseLogLevel maps configured names and rejects unknown ones.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" Info ":  zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	for _, s := range []string{"", "verbose", "fatal"} {
		_, ok := ParseLogLevel(s)
		require.False(t, ok, s)
	}
}

// TestFromContext_FallsBackToGlobal returns the shared logger for a bare context.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, global, FromContext(context.Background()))
	require.Same(t, global, FromContext(nil)) //nolint:staticcheck // A nil context is accepted.
}

// TestWithName_StoresScopedLogger carries the name and fields on every entry.
func TestWithName_StoresScopedLogger(t *testing.T) {
	t.Parallel()

	ctx, logs := observed(zapcore.InfoLevel)

	ctx = WithName(ctx, "resolver")
	ctx = WithKV(ctx, "version", "37.0")

	InfoKV(ctx, "Resolved artifact", "filename", "firefox-37.0.tar.bz2")
	DebugKV(ctx, "Below the level")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "resolver", entries[0].LoggerName)
	require.Equal(t, "37.0", entries[0].ContextMap()["version"])
	require.Equal(t, "firefox-37.0.tar.bz2", entries[0].ContextMap()["filename"])
}

// TestWithLevelOverride_ChangesVerbosity lowers and raises the level of one context only.
func TestWithLevelOverride_ChangesVerbosity(t *testing.T) {
	t.Parallel()

	ctx, logs := observed(zapcore.InfoLevel)

	DebugKV(ctx, "dropped")
	require.Empty(t, logs.All())

	verbose := WithKV(WithLevelOverride(ctx, zapcore.DebugLevel), "language", "de")

	DebugKV(verbose, "kept")
	require.Len(t, logs.All(), 1)
	require.Equal(t, "kept", logs.All()[0].Message)
	require.Equal(t, "de", logs.All()[0].ContextMap()["language"])

	quiet := WithLevelOverride(ctx, zapcore.ErrorLevel)

	WarnKV(quiet, "dropped")
	ErrorKV(quiet, "kept")
	require.Len(t, logs.All(), 2)
	require.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)

	// The parent context keeps its level.
	DebugKV(ctx, "dropped")
	require.Len(t, logs.All(), 2)
}
