package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
	"github.com/hanpama/modelgate/internal/reqid"
)

// Transport calls hooks hosted by remote runtimes over gRPC with connection
// pooling and deadline propagation. Endpoints come from an EndpointProvider.
type Transport struct {
	opts *TransportOptions

	mu     sync.RWMutex
	pools  map[string]*connPool // key: endpoint
	closed atomic.Bool
}

func NewTransport(opts ...TransportOption) *Transport {
	o := &TransportOptions{
		Pick:                pickRandom,
		MaxConnsPerEndpoint: defaultMaxConnsPerEndpoint,
		RPCTimeout:          defaultRPCTimeout,
	}
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Transport{
		opts:  o,
		pools: make(map[string]*connPool),
	}
}

// Runtime returns the runtime named name served by t.
func (t *Transport) Runtime(name string) Runtime {
	return remoteRuntime{t: t, name: name}
}

type remoteRuntime struct {
	t    *Transport
	name string
}

func (r remoteRuntime) Invoke(ctx context.Context, hook string, args map[string]any) (any, error) {
	return r.t.Call(ctx, r.name, hook, args)
}

// Call invokes hook on one endpoint of runtime.
func (t *Transport) Call(ctx context.Context, runtime, hook string, args map[string]any) (result any, err error) {
	if t.closed.Load() {
		return nil, errors.New("hooks: transport closed")
	}
	if t.opts.Provider == nil {
		return nil, errors.New("hooks: provider not configured")
	}
	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "x-modelgate-runtime", runtime)
	if rid, ok := reqid.FromContext(ctx); ok {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", rid)
	}

	endpoints, err := t.opts.Provider.Endpoints(ctx, runtime)
	if err != nil {
		return nil, fmt.Errorf("runtime %s: %w", runtime, err)
	}
	endpoint := t.opts.Pick(endpoints)

	cc, err := t.getConn(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer t.returnConn(endpoint, cc)

	req, err := encodeCall(hook, args)
	if err != nil {
		return nil, fmt.Errorf("hook %s: %w", hook, err)
	}
	start := time.Now()
	eventbus.Publish(ctx, events.RPCStart{Runtime: runtime, Hook: hook, Endpoint: endpoint, FullMethod: fullMethod})
	resp := &structpb.Struct{}
	err = cc.Invoke(ctx, fullMethod, req, resp)
	eventbus.Publish(ctx, events.RPCFinish{
		Runtime:    runtime,
		Hook:       hook,
		Endpoint:   endpoint,
		FullMethod: fullMethod,
		Code:       status.Code(err),
		Err:        err,
		Duration:   time.Since(start),
	})
	if err != nil {
		return nil, fmt.Errorf("hook %s on %s: %w", hook, endpoint, err)
	}
	return decodeReply(resp)
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.close()
	}
	t.pools = map[string]*connPool{}
	return nil
}

type connPool struct {
	endpoint string
	opts     *TransportOptions
	conns    chan *grpc.ClientConn
	closed   atomic.Bool
}

func newConnPool(endpoint string, opts *TransportOptions) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = defaultMaxConnsPerEndpoint
	}
	return &connPool{
		endpoint: endpoint,
		opts:     opts,
		conns:    make(chan *grpc.ClientConn, n),
	}
}

func (p *connPool) get(ctx context.Context) (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, errors.New("hooks: pool closed")
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.NewClient(p.endpoint, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if p.closed.Load() {
		_ = cc.Close()
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}

func (t *Transport) getConn(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		pool = t.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, t.opts)
			t.pools[endpoint] = pool
		}
		t.mu.Unlock()
	}
	return pool.get(ctx)
}

func (t *Transport) returnConn(endpoint string, cc *grpc.ClientConn) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
