package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are created against the global meter, which forwards to the SDK
// provider once Init installs it.
var (
	ticks             metric.Int64Counter
	tickDuration      metric.Float64Histogram
	studentsEvaluated metric.Int64Counter
	studentsSkipped   metric.Int64Counter
	notifications     metric.Int64Counter
	oracleFailures    metric.Int64Counter
)

func init() {
	meter := otel.Meter(instrumentationName)
	var err error
	if ticks, err = meter.Int64Counter("tracking.ticks",
		metric.WithDescription("Monitor ticks evaluated")); err != nil {
		otel.Handle(err)
	}
	if tickDuration, err = meter.Float64Histogram("tracking.tick.duration",
		metric.WithDescription("Wall time of one monitor tick"),
		metric.WithUnit("s")); err != nil {
		otel.Handle(err)
	}
	if studentsEvaluated, err = meter.Int64Counter("tracking.students.evaluated"); err != nil {
		otel.Handle(err)
	}
	if studentsSkipped, err = meter.Int64Counter("tracking.students.skipped",
		metric.WithDescription("Students skipped for missing home location or failed evaluation")); err != nil {
		otel.Handle(err)
	}
	if notifications, err = meter.Int64Counter("notifications.emitted"); err != nil {
		otel.Handle(err)
	}
	if oracleFailures, err = meter.Int64Counter("oracle.failures"); err != nil {
		otel.Handle(err)
	}
}

// RecordTick records one finished monitor tick.
func RecordTick(ctx context.Context, busID int64, mode string, took time.Duration, evaluated, skipped int) {
	attrs := metric.WithAttributes(
		attribute.Int64("bus.id", busID),
		attribute.String("route.mode", mode),
	)
	ticks.Add(ctx, 1, attrs)
	tickDuration.Record(ctx, took.Seconds(), attrs)
	studentsEvaluated.Add(ctx, int64(evaluated), attrs)
	studentsSkipped.Add(ctx, int64(skipped), attrs)
}

func RecordNotification(ctx context.Context, kind string) {
	notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func RecordOracleFailure(ctx context.Context, op string) {
	oracleFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
