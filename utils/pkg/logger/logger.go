package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options controls the handler built by NewWithOptions.
type Options struct {
	Verbose bool
	// JSON switches to a structured JSON handler for log shipping. Colored tint output otherwise.
	JSON   bool
	Writer io.Writer
}

func New(verbose bool) *slog.Logger {
	return NewWithOptions(Options{Verbose: verbose})
}

func NewWithOptions(opts Options) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       logLevel,
			ReplaceAttr: replaceAttr,
		}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:       logLevel,
		ReplaceAttr: replaceAttr,
	}))
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		t := a.Value.Time().UTC()
		a.Value = slog.StringValue(formatRFC3339Millis(t))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
