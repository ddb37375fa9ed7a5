package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
)

func TestSubscribe(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	m := New()
	off := m.Subscribe()

	ctx := context.Background()
	finish := events.HTTPFinish{Method: "GET", Path: "/org", Route: "/org", Status: 200, Duration: time.Millisecond}
	eventbus.Publish(ctx, finish)
	eventbus.Publish(ctx, finish)
	eventbus.Publish(ctx, events.EndpointFinish{Kind: "list", Method: "GET", Route: "/org", Status: 200})
	eventbus.Publish(ctx, events.EndpointFinish{Kind: "get", Method: "GET", Route: "/org/:org_slug", Status: 500, Err: errors.New("boom")})
	eventbus.Publish(ctx, events.HookFinish{Runtime: "default", Hook: "archive"})
	eventbus.Publish(ctx, events.HookFinish{Runtime: "default", Hook: "archive", Err: errors.New("no")})

	require.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.endpointRequests.WithLabelValues("list", "GET", "/org", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.endpointFailures.WithLabelValues("GET", "/org/:org_slug")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.hookCalls.WithLabelValues("default", "archive", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.hookCalls.WithLabelValues("default", "archive", "error")))
	require.Equal(t, 1, testutil.CollectAndCount(m.hookDuration))

	off()
	eventbus.Publish(ctx, finish)
	require.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "200")))
}

func TestHandler(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	m := New()
	defer m.Subscribe()()
	eventbus.Publish(context.Background(), events.HookFinish{Runtime: "remote", Hook: "notify"})

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `modelgate_hook_calls_total{hook="notify",outcome="ok",runtime="remote"} 1`)
	require.Contains(t, string(body), "go_goroutines")
}
