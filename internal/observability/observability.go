// Package observability sets up the process-wide slog default handler and,
// for the otel format, an OpenTelemetry log pipeline behind it.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ScopeName identifies log records emitted through the OpenTelemetry bridge.
const ScopeName = "github.com/solorunner/nlm-auth-broker"

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatOTel = "otel"
)

const (
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Config selects the log pipeline.
type Config struct {
	Level    slog.Level
	Format   string
	Exporter string
	// MinSeverity filters records before export. Empty means Level.
	MinSeverity string
	// Writer receives text, json and stdout-exported records. Defaults to os.Stderr.
	Writer io.Writer
}

// ShutdownFunc flushes and stops whatever Instrument started.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger described by cfg.
func Instrument(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	noop := func(context.Context) error { return nil }

	switch cfg.Format {
	case FormatText, "":
		slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.Level})))
		return noop, nil
	case FormatJSON:
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.Level})))
		return noop, nil
	case FormatOTel:
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}

	exporter, err := newExporter(ctx, cfg.Exporter, w)
	if err != nil {
		return nil, err
	}

	severity, err := minSeverity(cfg.MinSeverity, cfg.Level)
	if err != nil {
		return nil, err
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity)
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
	global.SetLoggerProvider(provider)

	// Errors from the pipeline itself cannot go through the pipeline.
	fallback := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		fallback.Error("opentelemetry error", "error", err)
	}))

	slog.SetDefault(slog.New(otelslog.NewHandler(ScopeName, otelslog.WithLoggerProvider(provider))))

	return func(ctx context.Context) error {
		return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	}, nil
}

func newExporter(ctx context.Context, name string, w io.Writer) (sdklog.Exporter, error) {
	switch name {
	case ExporterStdout, "":
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case ExporterOTLPHTTP:
		// Endpoint and headers come from the standard OTEL_EXPORTER_OTLP_* variables.
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported telemetry exporter: %s", name)
	}
}

func minSeverity(name string, level slog.Level) (minsev.Severity, error) {
	if name == "" {
		name = level.String()
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid telemetry min severity %q: %w", name, err)
	}

	switch {
	case l < slog.LevelInfo:
		return minsev.SeverityDebug, nil
	case l < slog.LevelWarn:
		return minsev.SeverityInfo, nil
	case l < slog.LevelError:
		return minsev.SeverityWarn, nil
	default:
		return minsev.SeverityError, nil
	}
}
