package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Options carries the shared dependencies of every client.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		// streams are bounded by the request context instead of a client timeout
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = tracenoop.NewTracerProvider().Tracer("backend")
	}
	if o.Meter == nil {
		o.Meter = metricnoop.NewMeterProvider().Meter("backend")
	}
	return o
}

// recordDuration records the request duration histogram for one call.
func (o Options) recordDuration(ctx context.Context, backend, op string, start time.Time) {
	histogram, err := o.Meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return
	}
	histogram.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("operation", op),
		),
	)
}

// recordUsage records OpenTelemetry counters from usage data
func (o Options) recordUsage(ctx context.Context, usage map[string]interface{}) {
	for key, value := range usage {
		intVal, ok := value.(float64)
		if !ok {
			continue
		}
		counter, err := o.Meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			o.Logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, int64(intVal))
	}
}
