// Package logger is the process-wide slog setup: JSON to stdout by default,
// OpenTelemetry log export when enabled, sampled warnings and errors, and
// counters that are incremented whether or not a line is written.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

var (
	Logger          *slog.Logger
	errorSampleRate atomic.Int32
	programLevel    = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error
)

// Counters, incremented regardless of sampling.
var (
	TotalErrors     atomic.Int64
	TotalWarnings   atomic.Int64
	Total5xxErrors  atomic.Int64
	Total4xxErrors  atomic.Int64
	FormulaFailures atomic.Int64
	PushesSucceeded atomic.Int64
	PushesFailed    atomic.Int64
	CacheFailures   atomic.Int64
)

// Options configures Setup.
type Options struct {
	// Level is a name accepted by ParseLevel. Empty means INFO.
	Level string
	// SampleRate logs 1 of every N warnings and errors. Values below 1 log all.
	SampleRate int
	// OTEL exports through OTLP/gRPC instead of writing JSON.
	OTEL        bool
	ServiceName string
	// Output receives JSON lines; nil means stdout.
	Output io.Writer
}

func init() {
	programLevel.Set(LevelInfo)
	errorSampleRate.Store(1)
	setupJSONLogging(os.Stdout)
}

// Setup replaces the default logger. Call it once from main after the
// configuration has been loaded.
func Setup(ctx context.Context, opts Options) error {
	level := LevelInfo
	if opts.Level != "" {
		l, err := ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		level = l
	}
	programLevel.Set(level)

	rate := opts.SampleRate
	if rate < 1 {
		rate = 1
	}
	errorSampleRate.Store(int32(rate))

	if !opts.OTEL {
		out := opts.Output
		if out == nil {
			out = os.Stdout
		}
		setupJSONLogging(out)
		return nil
	}

	service := opts.ServiceName
	if service == "" {
		service = "tripflow"
	}
	shutdown, err := setupOTELLogging(ctx, service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up OTEL logging, falling back to JSON: %v\n", err)
		setupJSONLogging(os.Stdout)
		return nil
	}
	shutdownFunc = shutdown
	return nil
}

func setupJSONLogging(w io.Writer) {
	Logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel}))
	slog.SetDefault(Logger)
}

func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	})
	slog.SetDefault(Logger)

	return provider.Shutdown, nil
}

// levelHandler applies programLevel to handlers that have no level option.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter, if any.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

func SetLevel(level slog.Level) { programLevel.Set(level) }

func GetLevel() slog.Level { return programLevel.Level() }

// ParseLevel converts a level name (TRACE, DEBUG, INFO, WARN, ERROR, FATAL).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %s", s)
}

func shouldSample() bool {
	rate := errorSampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }

func Info(msg string, args ...any) { Logger.Info(msg, args...) }

// Warn counts every call but only writes a sample of them.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error counts every call but only writes a sample of them.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs, flushes the exporter and exits.
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

// ErrorHTTP5xx counts a server error response.
func ErrorHTTP5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHTTP4xx counts a client error response.
func WarnHTTP4xx() {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)
}

// WarnFormula logs a formula that failed to evaluate.
func WarnFormula(msg string, args ...any) {
	FormulaFailures.Add(1)
	Warn(msg, args...)
}

// WarnCache logs a cache backend failure; callers fall back to the store.
func WarnCache(msg string, args ...any) {
	CacheFailures.Add(1)
	Warn(msg, args...)
}

// Counters is a point-in-time copy of the counters.
type Counters struct {
	Errors          int64 `json:"errors"`
	Warnings        int64 `json:"warnings"`
	HTTP5xx         int64 `json:"http_5xx"`
	HTTP4xx         int64 `json:"http_4xx"`
	FormulaFailures int64 `json:"formula_failures"`
	PushesSucceeded int64 `json:"pushes_succeeded"`
	PushesFailed    int64 `json:"pushes_failed"`
	CacheFailures   int64 `json:"cache_failures"`
}

// Snapshot reads all counters.
func Snapshot() Counters {
	return Counters{
		Errors:          TotalErrors.Load(),
		Warnings:        TotalWarnings.Load(),
		HTTP5xx:         Total5xxErrors.Load(),
		HTTP4xx:         Total4xxErrors.Load(),
		FormulaFailures: FormulaFailures.Load(),
		PushesSucceeded: PushesSucceeded.Load(),
		PushesFailed:    PushesFailed.Load(),
		CacheFailures:   CacheFailures.Load(),
	}
}
