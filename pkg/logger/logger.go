// Package logger builds the service's *slog.Logger and carries it through
// context.Context. Production runs emit JSON for log aggregators; everything
// else emits the human-readable text format.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is json or text. Empty picks json in production and text elsewhere.
	Format Format

	// Env is the application environment, e.g. "production".
	Env string

	// Output defaults to os.Stdout.
	Output io.Writer

	// Service is attached to every record when set.
	Service string
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from opts.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	format := opts.Format
	if format == "" {
		if opts.Env == "production" {
			format = FormatJSON
		} else {
			format = FormatText
		}
	}

	var handler slog.Handler
	if format == FormatJSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	return log
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ─────────────────────────────────────────────────────────────────────────────
// Context propagation
// ─────────────────────────────────────────────────────────────────────────────

type ctxKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ─────────────────────────────────────────────────────────────────────────────
// Domain attributes
// ─────────────────────────────────────────────────────────────────────────────

func StudentID(id string) slog.Attr     { return slog.String("student_id", id) }
func TeacherID(id string) slog.Attr     { return slog.String("teacher_id", id) }
func HouseID(id string) slog.Attr       { return slog.String("house_id", id) }
func ItemID(id string) slog.Attr        { return slog.String("item_id", id) }
func RequestID(id string) slog.Attr     { return slog.String("request_id", id) }
func PurchaseID(id string) slog.Attr    { return slog.String("purchase_id", id) }
func CallerID(id string) slog.Attr      { return slog.String("caller_id", id) }
func Points(n int64) slog.Attr          { return slog.Int64("points", n) }
func Attempt(n int) slog.Attr           { return slog.Int("attempt", n) }
func Component(name string) slog.Attr   { return slog.String("component", name) }
func Operation(name string) slog.Attr   { return slog.String("operation", name) }
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }

// Err returns an "error" attribute; nil errors produce an empty attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
