// Package logger configures log/slog for the enrollment flow and carries
// per-session log values through context.Context.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/attendify/faceenroll/envutil"
	"go.uber.org/atomic"
)

// Default subsystem name, used when a context doesn't override it.
var subsystem = atomic.NewString("") //nolint:gochecknoglobals

// configMutex serializes ConfigureLoggingWithOptions, which replaces the
// process-wide default logger.
var configMutex sync.Mutex //nolint:gochecknoglobals

type contextKey string

// ErrInvalidLogOutput is returned when an invalid log output destination is specified.
var ErrInvalidLogOutput = errors.New("invalid log output")

// Options is used to configure logging.
type Options struct {
	Subsystem string
	JSON      bool
	MinLevel  slog.Level
	Output    io.Writer

	// Extra receives every record as well, for example an OpenTelemetry
	// log bridge. It is optional.
	Extra slog.Handler
}

// Option is a functional option for ConfigureLogging.
type Option func(*Options)

// WithExtraHandler sends every record to h as well as to the console handler.
func WithExtraHandler(h slog.Handler) Option {
	return func(o *Options) {
		o.Extra = h
	}
}

// WithOutput overrides the LOG_OUTPUT destination.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// ConfigureLoggingWithOptions installs a new default slog logger and
// returns it. The legacy log package is redirected into it as well.
func ConfigureLoggingWithOptions(opts Options) *slog.Logger {
	configMutex.Lock()
	defer configMutex.Unlock()

	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	var handler slog.Handler

	handlerOpts := &slog.HandlerOptions{Level: opts.MinLevel}

	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}

	if opts.Extra != nil {
		handler = &fanout{handlers: []slog.Handler{handler, opts.Extra}}
	}

	logger := slog.New(handler)

	slog.SetDefault(logger)

	subsystem.Store(opts.Subsystem)

	return logger
}

// ConfigureLogging reads LOG_JSON, LOG_LEVEL and LOG_OUTPUT and configures
// logging for app.
func ConfigureLogging(ctx context.Context, app string, opts ...Option) (*slog.Logger, error) {
	logJSON, err := envutil.Bool(ctx, "LOG_JSON", envutil.Default(false)).Value()
	if err != nil {
		return nil, err
	}

	minLevel, err := envutil.SlogLevel(ctx, "LOG_LEVEL", envutil.Default(slog.LevelInfo)).Value()
	if err != nil {
		return nil, err
	}

	output, err := envutil.Map(envutil.String(ctx, "LOG_OUTPUT", envutil.Default("stdout")),
		func(outName string) (io.Writer, error) {
			switch outName {
			case "stdout":
				return os.Stdout, nil
			case "stderr":
				return os.Stderr, nil
			default:
				return nil, fmt.Errorf("%w: %q", ErrInvalidLogOutput, outName)
			}
		}).Value()
	if err != nil {
		return nil, err
	}

	options := Options{
		Subsystem: app,
		JSON:      logJSON,
		MinLevel:  minLevel,
		Output:    output,
	}

	for _, o := range opts {
		o(&options)
	}

	return ConfigureLoggingWithOptions(options), nil
}

// WithMuted suppresses all logging done through Get for this context.
// Per-frame paths use it so a noisy detector can't flood the log.
func WithMuted(ctx context.Context, muted bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("mute"), muted)
}

func isMuted(ctx context.Context) bool {
	if ctx == nil {
		return false
	}

	muted, ok := ctx.Value(contextKey("mute")).(bool)

	return ok && muted
}

// WithSubsystem overrides the subsystem name for this context.
func WithSubsystem(ctx context.Context, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("subsystem"), name)
}

// GetSubsystem returns the subsystem from the context, or the default one
// set by ConfigureLogging.
func GetSubsystem(ctx context.Context) string {
	if ctx != nil {
		if val, ok := ctx.Value(contextKey("subsystem")).(string); ok {
			return val
		}
	}

	return subsystem.Load()
}

// WithSessionID attaches an enrollment session id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, contextKey("session_id"), sessionID)
}

// GetSessionID returns the enrollment session id from the context.
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	val, ok := ctx.Value(contextKey("session_id")).(string)

	return val, ok
}

// With returns a new context with the given key-value pairs added. They
// appear on every record logged through Get(ctx).
func With(ctx context.Context, values ...any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(values) == 0 {
		return ctx
	}

	existing := getValues(ctx)
	vals := make([]any, 0, len(existing)+len(values))
	vals = append(vals, existing...)
	vals = append(vals, values...)

	return context.WithValue(ctx, contextKey("loggerValues"), vals)
}

func getValues(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	vals, _ := ctx.Value(contextKey("loggerValues")).([]any)

	return vals
}

var nullLogger = slog.New(&nullHandler{}) //nolint:gochecknoglobals

// Get returns the default logger decorated with whatever the context
// carries: subsystem, session id and values added through With. A muted
// context gets a logger that discards everything.
func Get(ctx ...context.Context) *slog.Logger {
	return From(slog.Default(), ctx...)
}

// From is Get with an explicit base logger, for components that were handed
// a logger instead of using the default one.
func From(base *slog.Logger, ctx ...context.Context) *slog.Logger {
	realCtx := firstContext(ctx...)

	if isMuted(realCtx) {
		return nullLogger
	}

	if base == nil {
		base = slog.Default()
	}

	logger := base

	if sub := GetSubsystem(realCtx); sub != "" {
		logger = logger.With("subsystem", sub)
	}

	if sessionID, ok := GetSessionID(realCtx); ok {
		logger = logger.With("session_id", sessionID)
	}

	if vals := getValues(realCtx); vals != nil {
		logger = logger.With(vals...)
	}

	return logger
}

func firstContext(ctx ...context.Context) context.Context {
	for _, c := range ctx {
		if c != nil {
			return c
		}
	}

	return context.Background()
}
