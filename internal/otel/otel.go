// Package otel turns eventbus events into OpenTelemetry spans.
package otel

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
	"github.com/hanpama/modelgate/internal/reqid"
)

const tracerName = "modelgate"

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
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
	Subscribe(tp)
	return tp.Shutdown, nil
}

// Subscribe records spans from tp for HTTP requests, endpoints, hooks and
// hook transport calls. Spans of one request nest in that order.
func Subscribe(tp trace.TracerProvider) {
	s := &subscriber{tracer: tp.Tracer(tracerName)}
	s.register()
}

type subscriber struct {
	tracer        trace.Tracer
	httpSpans     sync.Map // rid -> trace.Span
	endpointSpans sync.Map // rid -> trace.Span
	hookSpans     sync.Map // rid -> trace.Span
	grpcSpans     sync.Map // rid -> trace.Span
}

// parent returns ctx carrying the innermost open span of the request.
func (s *subscriber) parent(ctx context.Context, rid string, levels ...*sync.Map) context.Context {
	for _, m := range levels {
		if v, ok := m.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(ctx context.Context, m *sync.Map, err error, attrs ...attribute.KeyValue) {
	rid, _ := reqid.FromContext(ctx)
	v, ok := m.LoadAndDelete(rid)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Method),
			attribute.String("http.target", e.Path),
			attribute.String("request.id", rid),
		)
		s.httpSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		end(ctx, &s.httpSpans, nil,
			semconv.HTTPStatusCodeKey.Int(e.Status),
			semconv.HTTPRouteKey.String(e.Route),
		)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.EndpointStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx, rid, &s.httpSpans), "endpoint "+e.Method+" "+e.Route)
		span.SetAttributes(
			attribute.String("endpoint.kind", e.Kind),
			semconv.HTTPRouteKey.String(e.Route),
		)
		s.endpointSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.EndpointFinish) {
		end(ctx, &s.endpointSpans, e.Err, attribute.Int("endpoint.status", e.Status))
	})

	eventbus.Subscribe(func(ctx context.Context, e events.HookStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx, rid, &s.endpointSpans, &s.httpSpans), "hook "+e.Hook)
		span.SetAttributes(
			attribute.String("hook.runtime", e.Runtime),
			attribute.String("hook.name", e.Hook),
		)
		s.hookSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.HookFinish) {
		end(ctx, &s.hookSpans, e.Err)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RPCStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx, rid, &s.hookSpans, &s.endpointSpans, &s.httpSpans), "grpc.client")
		service, method, _ := strings.Cut(strings.TrimPrefix(e.FullMethod, "/"), "/")
		span.SetAttributes(
			semconv.RPCSystemGRPC,
			semconv.RPCServiceKey.String(service),
			semconv.RPCMethodKey.String(method),
			attribute.String("net.peer.name", e.Endpoint),
			attribute.String("hook.runtime", e.Runtime),
		)
		s.grpcSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RPCFinish) {
		end(ctx, &s.grpcSpans, e.Err, attribute.String("grpc.code", e.Code.String()))
	})
}
