package hooks

import (
	"math/rand"
	"time"

	"google.golang.org/grpc"
)

const (
	defaultMaxConnsPerEndpoint = 2
	defaultRPCTimeout          = 3 * time.Second
)

// TransportOptions tune how a Transport reaches remote hook runtimes.
type TransportOptions struct {
	// Provider resolves runtime names to endpoints. Calls fail without one.
	Provider EndpointProvider
	// Pick chooses the endpoint of one call among the provider's answer.
	Pick func(endpoints []string) string
	// MaxConnsPerEndpoint bounds the idle connections kept per endpoint.
	MaxConnsPerEndpoint int
	// RPCTimeout applies to calls whose context carries no deadline.
	RPCTimeout time.Duration
	// DialOptions replace the default insecure credentials.
	DialOptions []grpc.DialOption
}

type TransportOption func(*TransportOptions)

func WithProvider(p EndpointProvider) TransportOption {
	return func(o *TransportOptions) { o.Provider = p }
}

func WithEndpointPicker(pick func(endpoints []string) string) TransportOption {
	return func(o *TransportOptions) { o.Pick = pick }
}

func WithMaxConnsPerEndpoint(n int) TransportOption {
	return func(o *TransportOptions) { o.MaxConnsPerEndpoint = n }
}

func WithRPCTimeout(d time.Duration) TransportOption {
	return func(o *TransportOptions) { o.RPCTimeout = d }
}

func WithDialOptions(opts ...grpc.DialOption) TransportOption {
	return func(o *TransportOptions) { o.DialOptions = opts }
}

func pickRandom(endpoints []string) string { return endpoints[rand.Intn(len(endpoints))] }
