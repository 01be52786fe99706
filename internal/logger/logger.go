package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelFatal = slog.Level(12)
)

const defaultServiceName = "formrules"

var (
	Logger       *slog.Logger
	sampleRate   atomic.Int32 // log 1 of every N warnings and errors
	programLevel = new(slog.LevelVar)
	shutdownFunc func(context.Context) error
)

// Counters are incremented on every call, whether or not the line is sampled
var (
	TotalErrors     atomic.Int64
	TotalWarnings   atomic.Int64
	Total5xxErrors  atomic.Int64
	Total4xxErrors  atomic.Int64
	Total400Errors  atomic.Int64
	Total404Errors  atomic.Int64
	Total409Errors  atomic.Int64
	SlowRequests    atomic.Int64
	Submissions     atomic.Int64
	DerivedFailures atomic.Int64
)

// Options configures the process logger
type Options struct {
	Level       string
	SampleRate  int    // 1 logs every warning and error
	OTEL        bool   // export through the OTLP gRPC log exporter
	ServiceName string // OTEL service name, defaults to formrules
}

// OptionsFromEnv reads LOG_LEVEL, ERROR_SAMPLE_RATE, OTEL_ENABLED and
// OTEL_SERVICE_NAME.
func OptionsFromEnv() Options {
	opts := Options{
		Level:       os.Getenv("LOG_LEVEL"),
		SampleRate:  1,
		OTEL:        strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true"),
		ServiceName: os.Getenv("OTEL_SERVICE_NAME"),
	}
	if rate, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && rate > 0 {
		opts.SampleRate = rate
	}
	return opts
}

func init() {
	programLevel.Set(LevelInfo)
	sampleRate.Store(1)
	useJSON(os.Stdout)
}

// Configure replaces the process logger. When OTEL setup fails the JSON
// handler stays in place and the error is returned.
func Configure(opts Options) error {
	if opts.Level != "" {
		level, err := ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		programLevel.Set(level)
	}
	if opts.SampleRate > 0 {
		sampleRate.Store(int32(opts.SampleRate))
	}

	if !opts.OTEL {
		useJSON(os.Stdout)
		return nil
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	shutdown, err := setupOTELLogging(context.Background(), serviceName)
	if err != nil {
		useJSON(os.Stdout)
		return fmt.Errorf("otel logging disabled: %w", err)
	}
	shutdownFunc = shutdown
	return nil
}

// SetOutput sends JSON logs to w; tests use it to capture output
func SetOutput(w io.Writer) {
	useJSON(w)
}

func useJSON(w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	otelHandler := otelslog.NewHandler(
		serviceName,
		otelslog.WithLoggerProvider(loggerProvider),
	)

	Logger = slog.New(&levelHandler{level: programLevel, handler: otelHandler})
	slog.SetDefault(Logger)

	return loggerProvider.Shutdown, nil
}

// levelHandler applies the program level to a handler that has none
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
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

// Shutdown flushes the OTEL exporter, if any
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a level name to slog.Level
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

func shouldSample() bool {
	rate := sampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn counts every call but only logs a sample
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error counts every call but only logs a sample
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs, flushes OTEL and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

// ErrorHttp5xx counts a server-side failure
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx counts a rejected request
func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)

	switch status {
	case 400:
		Total400Errors.Add(1)
	case 404:
		Total404Errors.Add(1)
	case 409:
		Total409Errors.Add(1)
	}
}

func WarnSlowRequest() {
	SlowRequests.Add(1)
	TotalWarnings.Add(1)
}

// CountSubmission records one form submission and how many of its derived
// fields failed.
func CountSubmission(derivedFailures int) {
	Submissions.Add(1)
	DerivedFailures.Add(int64(derivedFailures))
}

// Stats is a point-in-time copy of the counters
type Stats struct {
	Errors          int64 `json:"errors"`
	Warnings        int64 `json:"warnings"`
	HTTP5xx         int64 `json:"http5xx"`
	HTTP4xx         int64 `json:"http4xx"`
	HTTP400         int64 `json:"http400"`
	HTTP404         int64 `json:"http404"`
	HTTP409         int64 `json:"http409"`
	SlowRequests    int64 `json:"slowRequests"`
	Submissions     int64 `json:"submissions"`
	DerivedFailures int64 `json:"derivedFailures"`
}

func Snapshot() Stats {
	return Stats{
		Errors:          TotalErrors.Load(),
		Warnings:        TotalWarnings.Load(),
		HTTP5xx:         Total5xxErrors.Load(),
		HTTP4xx:         Total4xxErrors.Load(),
		HTTP400:         Total400Errors.Load(),
		HTTP404:         Total404Errors.Load(),
		HTTP409:         Total409Errors.Load(),
		SlowRequests:    SlowRequests.Load(),
		Submissions:     Submissions.Load(),
		DerivedFailures: DerivedFailures.Load(),
	}
}
