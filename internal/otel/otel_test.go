package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
	"github.com/hanpama/modelgate/internal/reqid"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup("", "modelgate")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSpans(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	Subscribe(tp)

	ctx, _ := reqid.NewContext(context.Background())
	eventbus.Publish(ctx, events.HTTPStart{Method: "POST", Path: "/org/acme/archive"})
	eventbus.Publish(ctx, events.EndpointStart{Kind: "custom-one", Method: "POST", Route: "/org/:org_slug/archive"})
	eventbus.Publish(ctx, events.HookStart{Runtime: "remote", Hook: "archive"})
	eventbus.Publish(ctx, events.RPCStart{Runtime: "remote", Hook: "archive", Endpoint: "hooks:9000", FullMethod: "/modelgate.hooks.v1.HookRuntime/Invoke"})
	eventbus.Publish(ctx, events.RPCFinish{Runtime: "remote", Hook: "archive", Endpoint: "hooks:9000", FullMethod: "/modelgate.hooks.v1.HookRuntime/Invoke"})
	eventbus.Publish(ctx, events.HookFinish{Runtime: "remote", Hook: "archive", Err: errors.New("denied")})
	eventbus.Publish(ctx, events.EndpointFinish{Kind: "custom-one", Method: "POST", Route: "/org/:org_slug/archive", Status: 409})
	eventbus.Publish(ctx, events.HTTPFinish{Method: "POST", Path: "/org/acme/archive", Route: "/org/:org_slug/archive", Status: 409})

	spans := rec.Ended()
	var names []string
	for _, s := range spans {
		names = append(names, s.Name())
	}
	expected := []string{"grpc.client", "hook archive", "endpoint POST /org/:org_slug/archive", "http.request"}
	if diff := cmp.Diff(expected, names); diff != "" {
		t.Errorf("Spans mismatch (-expected +got):\n%s", diff)
	}
	for i := 0; i < len(spans)-1; i++ {
		require.Equal(t, spans[i+1].SpanContext().SpanID(), spans[i].Parent().SpanID(), spans[i].Name())
	}
	require.Equal(t, spans[0].SpanContext().TraceID(), spans[3].SpanContext().TraceID())
	require.Equal(t, otelcodes.Error, spans[1].Status().Code)
	require.Equal(t, otelcodes.Unset, spans[2].Status().Code)
	require.Contains(t, spans[0].Attributes(), attribute.String("rpc.service", "modelgate.hooks.v1.HookRuntime"))
	require.Contains(t, spans[3].Attributes(), attribute.String("http.route", "/org/:org_slug/archive"))
}

func TestUnmatchedFinish(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	rec := tracetest.NewSpanRecorder()
	Subscribe(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	ctx, _ := reqid.NewContext(context.Background())
	eventbus.Publish(ctx, events.HookFinish{Runtime: "default", Hook: "x"})
	require.Empty(t, rec.Ended())
}
