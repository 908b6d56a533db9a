package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/attendify/faceenroll"

type contextKey string

const tracerKey contextKey = "tracer"

// WithTracer stores a tracer in the context. Traced uses it in preference
// to the global provider.
func WithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

func tracerFromContext(ctx context.Context) trace.Tracer {
	if tracer, ok := ctx.Value(tracerKey).(trace.Tracer); ok && tracer != nil {
		return tracer
	}

	return otel.Tracer(instrumentationName)
}

// Traced runs operation inside a span named name. A returned error is
// recorded on the span and sets its status.
func Traced(
	ctx context.Context, name string,
	operation func(ctx context.Context) error,
	attrs ...attribute.KeyValue,
) error {
	ctx, span := tracerFromContext(ctx).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
	defer span.End()

	err := operation(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "ok")
	}

	return err
}
