package core

import (
    "context"
    "time"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/metric"
)

// Instruments are resolved through the global providers, so the services work
// unchanged whether or not telemetry.Init ran.
var (
    tracer = otel.Tracer("emergency-call-backend/core")
    meter  = otel.Meter("emergency-call-backend/core")
)

func count(ctx context.Context, name, desc string, attrs ...attribute.KeyValue) {
    counter, err := meter.Int64Counter(name, metric.WithDescription(desc))
    if err == nil {
        counter.Add(ctx, 1, metric.WithAttributes(attrs...))
    }
}

func observe(ctx context.Context, name string, start time.Time, attrs ...attribute.KeyValue) {
    histogram, err := meter.Float64Histogram(
        name,
        metric.WithDescription("Stage duration in milliseconds"),
        metric.WithUnit("ms"),
    )
    if err == nil {
        histogram.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
    }
}
