// Package metrics exports request, endpoint and hook metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
)

const namespace = "modelgate"

const (
	MetricHTTPRequests     = "http_requests_total"
	MetricHTTPDuration     = "http_request_duration_seconds"
	MetricEndpointRequests = "endpoint_requests_total"
	MetricEndpointFailures = "endpoint_failures_total"
	MetricHookCalls        = "hook_calls_total"
	MetricHookDuration     = "hook_duration_seconds"
)

// Metrics holds the collectors fed from eventbus events.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	endpointRequests *prometheus.CounterVec
	endpointFailures *prometheus.CounterVec
	hookCalls        *prometheus.CounterVec
	hookDuration     *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricHTTPRequests,
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricHTTPDuration,
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		endpointRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricEndpointRequests,
			Help:      "Endpoint requests by kind, route and status.",
		}, []string{"kind", "method", "route", "status"}),
		endpointFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricEndpointFailures,
			Help:      "Endpoint requests that failed with an unexpected error.",
		}, []string{"method", "route"}),
		hookCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricHookCalls,
			Help:      "Hook invocations by runtime, hook and outcome.",
		}, []string{"runtime", "hook", "outcome"}),
		hookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricHookDuration,
			Help:      "Hook invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"runtime"}),
	}
	m.reg.MustRegister(
		m.httpRequests, m.httpDuration,
		m.endpointRequests, m.endpointFailures,
		m.hookCalls, m.hookDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Subscribe attaches the collectors to the global eventbus. The returned
// function detaches them.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	offs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			m.httpRequests.WithLabelValues(e.Method, strconv.Itoa(e.Status)).Inc()
			m.httpDuration.WithLabelValues(e.Method).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.EndpointFinish) {
			m.endpointRequests.WithLabelValues(e.Kind, e.Method, e.Route, strconv.Itoa(e.Status)).Inc()
			if e.Err != nil {
				m.endpointFailures.WithLabelValues(e.Method, e.Route).Inc()
			}
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.HookFinish) {
			outcome := "ok"
			if e.Err != nil {
				outcome = "error"
			}
			m.hookCalls.WithLabelValues(e.Runtime, e.Hook, outcome).Inc()
			m.hookDuration.WithLabelValues(e.Runtime).Observe(e.Duration.Seconds())
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}
