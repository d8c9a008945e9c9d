package module

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToTraceSink(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, nil)
	log.Info("mergeSections starting", "sections", 12)
	require.Contains(t, buf.String(), "mergeSections starting")
}

func TestNewLoggerCountsOnlyWarnAndAbove(t *testing.T) {
	var levels []slog.Level
	log := NewLogger(nil, func(l slog.Level) { levels = append(levels, l) })

	log.Info("ingest file", "path", "a.o")
	log.Warn("orphan section placed", "name", ".rare")
	log.Error("relocation overflow", "symbol", "foo")

	require.Equal(t, []slog.Level{slog.LevelWarn, slog.LevelError}, levels)
}

func TestNewLoggerWithNoSinksDiscardsSafely(t *testing.T) {
	log := NewLogger(nil, nil)
	require.NotPanics(t, func() { log.Info("noop") })
}
