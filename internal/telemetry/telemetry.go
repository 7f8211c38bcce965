package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "voidchat"

func rotatingFile(logDir, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(logDir, name),
		MaxSize:    10, // 10 MB
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger initializes structured logging with rotation. The returned
// closer flushes and closes the log file.
func InitLogger(logDir string, debug bool) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	logFile := rotatingFile(logDir, serviceName+".log")

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	// Log only to file; stdout belongs to the chat
	handler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, logFile, nil
}

const (
	serviceVersion = "1.0.0"
	exportInterval = 10 * time.Second
	flushTimeout   = 5 * time.Second
)

// stopper releases one piece of the telemetry pipeline.
type stopper struct {
	what string
	stop func(context.Context) error
}

func fileStopper(what string, f io.Closer) stopper {
	return stopper{what: what, stop: func(context.Context) error { return f.Close() }}
}

// stopAll runs stops in order, logging failures.
func stopAll(stops []stopper) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for _, s := range stops {
		if err := s.stop(ctx); err != nil {
			slog.Error("failed to stop telemetry", "what", s.what, "error", err)
		}
	}
}

// traceProvider batches spans into <logDir>/voidchat_traces.log.
func traceProvider(logDir string, res *resource.Resource) (*sdktrace.TracerProvider, []stopper, error) {
	out := rotatingFile(logDir, serviceName+"_traces.log")
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	return tp, []stopper{{"tracer provider", tp.Shutdown}, fileStopper("trace file", out)}, nil
}

// meterProvider exports metrics to <logDir>/voidchat_metrics.log every
// exportInterval, and once more on shutdown.
func meterProvider(logDir string, res *resource.Resource) (*sdkmetric.MeterProvider, []stopper, error) {
	out := rotatingFile(logDir, serviceName+"_metrics.log")
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(out), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	return mp, []stopper{{"meter provider", mp.Shutdown}, fileStopper("metrics file", out)}, nil
}

// InitTelemetry installs the global tracer and meter providers for the
// chat pipeline. When enabled is false no-op providers are returned and
// nothing is written. The returned func flushes and closes both files.
func InitTelemetry(ctx context.Context, logDir string, enabled bool) (trace.Tracer, metric.Meter, func(), error) {
	if !enabled {
		return tracenoop.NewTracerProvider().Tracer(serviceName),
			metricnoop.NewMeterProvider().Meter(serviceName),
			func() {}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	tp, stops, err := traceProvider(logDir, res)
	if err != nil {
		return nil, nil, nil, err
	}
	mp, more, err := meterProvider(logDir, res)
	if err != nil {
		stopAll(stops)
		return nil, nil, nil, err
	}
	stops = append(stops, more...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	return tp.Tracer(serviceName), mp.Meter(serviceName), func() { stopAll(stops) }, nil
}
