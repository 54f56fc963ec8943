// Package telemetry wires the reactive cache's lifecycle events (internal/events)
// into OpenTelemetry spans via an eventbus subscriber, turning query
// fetch/refetch/stream lifecycle events into spans without coupling the
// query and entity packages to tracing concerns.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/hanpama/reactivecache/internal/eventbus"
	"github.com/hanpama/reactivecache/internal/events"
	"github.com/hanpama/reactivecache/internal/reqid"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers that turn
// query lifecycle events into spans. If endpoint is empty, no telemetry is
// configured and the returned shutdown func is a no-op.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("reactivecache")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer     trace.Tracer
	fetchSpans sync.Map // request id -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.QueryFetchStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "query."+e.Kind)
		span.SetAttributes(
			attribute.String("cache.query_def_id", e.QueryDefID),
			attribute.Int64("cache.query_key", int64(e.QueryKey)),
		)
		s.fetchSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.QueryFetchFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.fetchSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("cache.attempt", e.Attempt))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.StreamDelivery) {
		_, span := s.tracer.Start(ctx, "query.stream")
		span.SetAttributes(
			attribute.String("cache.query_def_id", e.QueryDefID),
			attribute.Int64("cache.query_key", int64(e.QueryKey)),
		)
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.QueryEvicted) {
		_, span := s.tracer.Start(ctx, "query.evict")
		span.SetAttributes(
			attribute.String("cache.query_def_id", e.QueryDefID),
			attribute.Int64("cache.query_key", int64(e.QueryKey)),
		)
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.EntityWritten) {
		span := trace.SpanFromContext(ctx)
		span.AddEvent("entity.written", trace.WithAttributes(
			attribute.Int64("cache.entity_key", int64(e.EntityKey)),
			attribute.String("cache.typename", e.Typename),
		))
	})
}
