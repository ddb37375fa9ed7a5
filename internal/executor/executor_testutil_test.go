package executor_test

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/spec"
)

// hookStub answers hook calls from a map of functions and records each call.
type hookStub struct {
	mu    sync.Mutex
	fns   map[string]func(args map[string]any) (any, error)
	calls []hookCall
}

type hookCall struct {
	Hook string
	Args map[string]any
}

func (h *hookStub) Invoke(ctx context.Context, hook ir.HookCode, args map[string]any) (any, error) {
	h.mu.Lock()
	h.calls = append(h.calls, hookCall{Hook: hook.Name, Args: args})
	fn := h.fns[hook.Name]
	h.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(args)
}

type fixture struct {
	t     *testing.T
	def   *ir.Definition
	store *executor.MemStore
	hooks *hookStub
	exec  *executor.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	data, err := os.ReadFile("testdata/app.yaml")
	require.NoError(t, err)
	s, err := spec.Parse("app.yaml", data)
	require.NoError(t, err)
	def, err := ir.Compose(s)
	require.NoError(t, err)

	f := &fixture{t: t, def: def, store: executor.NewMemStore(def), hooks: &hookStub{fns: map[string]func(map[string]any) (any, error){}}}
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.exec = executor.New(def, f.store, f.hooks, executor.WithClock(func() time.Time { return clock }))
	return f
}

type call struct {
	method string
	route  string
	params map[string]string
	query  url.Values
	body   string
	user   *int64
}

// do runs one request and returns the response with its body round-tripped
// through JSON, the way a client sees it.
func (f *fixture) do(c call) (int, any) {
	f.t.Helper()
	h := f.exec.Handler(c.method, c.route)
	require.NotNil(f.t, h, "no handler for %s %s", c.method, c.route)
	req := &executor.Request{Params: c.params, Query: c.query, AuthUserID: c.user}
	if c.body != "" {
		require.NoError(f.t, json.Unmarshal([]byte(c.body), &req.Body))
	}
	resp := h.Handle(context.Background(), req)
	if resp.Body == nil {
		return resp.Status, nil
	}
	data, err := json.Marshal(resp.Body)
	require.NoError(f.t, err)
	var out any
	require.NoError(f.t, json.Unmarshal(data, &out))
	return resp.Status, out
}

// insert commits one row directly through the store.
func (f *fixture) insert(model string, row executor.Row) int64 {
	f.t.Helper()
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	require.NoError(f.t, err)
	out, err := tx.Insert(ctx, f.def.Model(model), row)
	require.NoError(f.t, err)
	require.NoError(f.t, tx.Commit(ctx))
	return out["id"].(int64)
}

func (f *fixture) user(username string) *int64 {
	id := f.insert("AuthUser", executor.Row{"name": username, "username": username, "passwordHash": "x"})
	return &id
}

func (f *fixture) createOrg(slug, name string) map[string]any {
	f.t.Helper()
	status, body := f.do(call{method: "POST", route: "/org", body: `{"slug":"` + slug + `","name":"` + name + `"}`})
	require.Equal(f.t, 200, status, "create org: %v", body)
	return body.(map[string]any)
}
