package module

import (
	"context"
	"io"
	"log/slog"

	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the engine's ambient structured logger (SPEC_FULL.md
// section A.1): a trace sink at full verbosity and a metrics-counting
// sink that only sees warning-and-above records, fanned out with
// slog-multi so neither has to filter the other's output itself.
//
// trace may be nil to discard trace-level output (e.g. in tests); counter,
// if non-nil, is notified of every record at or above slog.LevelWarn so a
// caller can tally diagnostics-adjacent ambient log volume without parsing
// log text.
func NewLogger(trace io.Writer, counter func(slog.Level)) *slog.Logger {
	handlers := []slog.Handler{}
	if trace != nil {
		handlers = append(handlers, slog.NewTextHandler(trace, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	if counter != nil {
		handlers = append(handlers, &countingHandler{min: slog.LevelWarn, fn: counter})
	}
	if len(handlers) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// countingHandler is a minimal slog.Handler that only calls fn once per
// record at or above min; it never formats or stores anything, since its
// only job is the counting-sink role named in SPEC_FULL.md section A.1.
type countingHandler struct {
	min   slog.Level
	fn    func(slog.Level)
	attrs []slog.Attr
	group string
}

func (h *countingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

func (h *countingHandler) Handle(_ context.Context, r slog.Record) error {
	h.fn(r.Level)
	return nil
}

func (h *countingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *countingHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.group = name
	return &cp
}
