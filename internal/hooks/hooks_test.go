package hooks

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
)

func testRegistry() *Registry {
	return NewRegistry().
		Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"greeting": "hello " + args["name"].(string), "n": args["n"]}, nil
		}).
		Register("deny", func(ctx context.Context, args map[string]any) (any, error) {
			return nil, &executor.HookError{Status: 409, Code: "DENIED", Message: "no way"}
		}).
		Register("boom", func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("boom")
		})
}

func TestInvoker(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	var mu sync.Mutex
	var finished []string
	eventbus.Subscribe(func(ctx context.Context, e events.HookFinish) {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, e.Runtime+":"+e.Hook)
	})

	inv := NewInvoker()
	inv.Register("app", testRegistry())
	ctx := context.Background()

	got, err := inv.Invoke(ctx, ir.HookCode{Runtime: "app", Name: "greet"}, map[string]any{"name": "ann", "n": int64(1)})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"greeting": "hello ann", "n": int64(1)}, got)

	_, err = inv.Invoke(ctx, ir.HookCode{Runtime: "app", Name: "missing"}, nil)
	require.EqualError(t, err, "hook missing is not registered")

	_, err = inv.Invoke(ctx, ir.HookCode{Runtime: "other", Name: "greet"}, nil)
	require.EqualError(t, err, `hook other:greet: runtime "other" is not registered`)

	if diff := cmp.Diff([]string{"app:greet", "app:missing"}, finished); diff != "" {
		t.Errorf("Events mismatch (-expected +got):\n%s", diff)
	}
}

func TestSetup(t *testing.T) {
	def := &ir.Definition{Runtimes: []*ir.RuntimeDef{{Name: "default", Kind: "inline"}, {Name: "remote", Kind: "grpc"}}}

	_, err := Setup(def, NewRegistry(), nil)
	require.EqualError(t, err, "runtime remote: no grpc transport")

	inv, err := Setup(def, NewRegistry(), NewTransport())
	require.NoError(t, err)
	require.NoError(t, inv.Check(def))

	require.EqualError(t, NewInvoker().Check(def), "runtimes not registered: [default remote]")
}

func startServer(t *testing.T, reg *Registry) *Transport {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	NewServer(reg).Register(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	tr := NewTransport(
		WithProvider(NewStaticEndpoints(map[string][]string{"remote": {"passthrough:///bufnet"}})),
		WithRPCTimeout(5*time.Second),
		WithDialOptions(
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		),
	)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestTransport(t *testing.T) {
	tr := startServer(t, testRegistry())
	rt := tr.Runtime("remote")
	ctx := context.Background()

	t.Run("result", func(t *testing.T) {
		got, err := rt.Invoke(ctx, "greet", map[string]any{"name": "bob", "n": int64(3)})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"greeting": "hello bob", "n": float64(3)}, got)
	})

	t.Run("hook error", func(t *testing.T) {
		_, err := rt.Invoke(ctx, "deny", nil)
		var herr *executor.HookError
		require.ErrorAs(t, err, &herr)
		require.Equal(t, &executor.HookError{Status: 409, Code: "DENIED", Message: "no way"}, herr)
	})

	t.Run("failure", func(t *testing.T) {
		_, err := rt.Invoke(ctx, "boom", nil)
		require.ErrorContains(t, err, "boom")
		var herr *executor.HookError
		require.False(t, errors.As(err, &herr))
	})

	t.Run("unknown runtime", func(t *testing.T) {
		_, err := tr.Runtime("elsewhere").Invoke(ctx, "greet", nil)
		require.ErrorIs(t, err, ErrNoEndpoints)
	})

	t.Run("pooled connections", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := rt.Invoke(ctx, "greet", map[string]any{"name": "x"})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})

	t.Run("closed", func(t *testing.T) {
		tr := NewTransport()
		require.NoError(t, tr.Close())
		_, err := tr.Call(ctx, "remote", "greet", nil)
		require.EqualError(t, err, "hooks: transport closed")
	})
}

func TestEndpointPicker(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	NewServer(testRegistry()).Register(s)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	var offered [][]string
	tr := NewTransport(
		WithProvider(NewStaticEndpoints(map[string][]string{"remote": {"passthrough:///down", "passthrough:///bufnet"}})),
		WithEndpointPicker(func(endpoints []string) string {
			offered = append(offered, endpoints)
			return endpoints[len(endpoints)-1]
		}),
		WithMaxConnsPerEndpoint(1),
		WithDialOptions(
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		),
	)
	defer tr.Close()

	got, err := tr.Call(context.Background(), "remote", "greet", map[string]any{"name": "ann"})
	require.NoError(t, err)
	require.Equal(t, "hello ann", got.(map[string]any)["greeting"])
	require.Equal(t, [][]string{{"passthrough:///down", "passthrough:///bufnet"}}, offered)
}

func TestCodec(t *testing.T) {
	call, err := encodeCall("h", map[string]any{"a": []any{int64(1), "x"}, "b": nil})
	require.NoError(t, err)
	hook, args, err := decodeCall(call)
	require.NoError(t, err)
	require.Equal(t, "h", hook)
	require.Equal(t, map[string]any{"a": []any{float64(1), "x"}, "b": nil}, args)

	_, _, err = decodeCall(call.GetFields()["args"].GetStructValue())
	require.EqualError(t, err, "missing hook name")

	_, err = encodeReply(make(chan int), nil)
	require.Error(t, err)
}
