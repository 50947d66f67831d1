package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// LogFormat selects the handler built by NewLogger.
type LogFormat string

const (
	LogFormatText     LogFormat = "text"
	LogFormatJSON     LogFormat = "json"
	LogFormatTerminal LogFormat = "terminal"
)

// NewLogger builds a logger writing to w. An empty format means text.
func NewLogger(w io.Writer, format LogFormat, level slog.Level) (*slog.Logger, error) {
	h, err := newHandler(w, format, level)
	if err != nil {
		return nil, err
	}
	return slog.New(h).With("component", "telemetry"), nil
}

func newHandler(w io.Writer, format LogFormat, level slog.Level) (slog.Handler, error) {
	switch LogFormat(strings.ToLower(string(format))) {
	case "", LogFormatText:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil
	case LogFormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case LogFormatTerminal:
		return tint.NewHandler(w, &tint.Options{
			NoColor: !isTerminal(w),
			Level:   level,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			},
		}), nil
	}
	return nil, fmt.Errorf("telemetry: unknown log format %q", format)
}

// isTerminal reports whether w is a terminal; colors are used only there.
func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && isatty.IsTerminal(f.Fd())
}
