package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ScopeName identifies log records emitted through the OpenTelemetry bridge.
const ScopeName = "github.com/transmental/xterm"

// Format selects the log output.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	// FormatOTel sends records through the OpenTelemetry log SDK.
	FormatOTel Format = "otel"
)

// Options configures Instrument.
type Options struct {
	Level  slog.Level
	Format Format
	// File, when set, receives the logs instead of Output. It is rotated
	// by size.
	File string
	// Output defaults to os.Stderr.
	Output io.Writer
	// Environ is consulted for OTEL_EXPORTER_OTLP_* settings. Defaults to os.Environ.
	Environ func() []string
}

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(ctx context.Context) error

// Instrument installs the default slog logger. The returned ShutdownFunc must
// be called before the process exits so buffered records are flushed.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}

	var closers []func(context.Context) error

	out := opts.Output
	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = rotating
		closers = append(closers, func(context.Context) error { return rotating.Close() })
	}

	var handler slog.Handler
	switch opts.Format {
	case FormatText, "":
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: opts.Level})
	case FormatJSON:
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})
	case FormatOTel:
		provider, err := newLoggerProvider(ctx, opts, out)
		if err != nil {
			return nil, errors.Join(err, shutdownAll(ctx, closers))
		}
		global.SetLoggerProvider(provider)
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			// The default logger is the bridge itself; avoid feedback loops.
			fmt.Fprintf(os.Stderr, "otel: %v\n", err)
		}))
		// Provider shutdown flushes into out, so it runs before out is closed.
		closers = append([]func(context.Context) error{provider.Shutdown}, closers...)
		handler = otelslog.NewHandler(ScopeName, otelslog.WithLoggerProvider(provider))
	default:
		return nil, errors.Join(fmt.Errorf("unsupported log format %q", opts.Format), shutdownAll(ctx, closers))
	}

	slog.SetDefault(slog.New(handler))

	return func(ctx context.Context) error {
		return shutdownAll(ctx, closers)
	}, nil
}

// ParseLevel accepts the slog level names (debug, info, warn, error) in any
// case, with optional offsets such as "info+2".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func newLoggerProvider(ctx context.Context, opts Options, out io.Writer) (*sdklog.LoggerProvider, error) {
	exporter, err := newExporter(ctx, lookupEnv(opts.Environ), out)
	if err != nil {
		return nil, err
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(opts.Level))
	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor)), nil
}

// newExporter picks an OTLP exporter when an endpoint is configured and
// falls back to writing records to out.
func newExporter(ctx context.Context, env func(string) string, out io.Writer) (sdklog.Exporter, error) {
	endpoint := firstNonEmpty(env("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT"), env("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		exporter, err := stdoutlog.New(stdoutlog.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		return exporter, nil
	}

	protocol := firstNonEmpty(env("OTEL_EXPORTER_OTLP_LOGS_PROTOCOL"), env("OTEL_EXPORTER_OTLP_PROTOCOL"), "http/protobuf")
	switch strings.ToLower(protocol) {
	case "grpc":
		exporter, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP gRPC log exporter: %w", err)
		}
		return exporter, nil
	case "http/protobuf":
		exporter, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP HTTP log exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// severity maps a slog level onto the OpenTelemetry severity scale.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

func shutdownAll(ctx context.Context, closers []func(context.Context) error) error {
	var errs []error
	for _, c := range closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func lookupEnv(environ func() []string) func(string) string {
	vars := make(map[string]string)
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return func(key string) string { return vars[key] }
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
