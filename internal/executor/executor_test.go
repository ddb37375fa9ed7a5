package executor_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
)

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	var got []string
	for _, h := range f.exec.Handlers() {
		got = append(got, h.Method+" "+h.Route)
	}
	expected := []string{
		"GET /star",
		"POST /star",
		"GET /org/:org_slug",
		"GET /org",
		"POST /org",
		"PATCH /org/:org_slug",
		"DELETE /org/:org_slug",
		"POST /org/:org_slug/archive",
		"GET /org/:org_slug/repos/:repo_id",
		"GET /org/:org_slug/repos",
		"POST /org/:org_slug/repos",
		"PATCH /org/:org_slug/repos/:repo_id",
		"POST /org/:org_slug/repos/:repo_id/issues",
		"POST /org/:org_slug/repos/:repo_id/issues/:issue_id/close",
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("Routes mismatch (-expected +got):\n%s", diff)
	}
}

func TestCreateThenGet(t *testing.T) {
	f := newFixture(t)
	status, created := f.do(call{method: "POST", route: "/org", body: `{"name":"Org NEW","slug":"orgNEW","description":"A new org"}`})
	require.Equal(t, 200, status)
	expected := map[string]any{"id": float64(1), "slug": "orgNEW", "name": "Org NEW", "description": "A new org"}
	if diff := cmp.Diff(expected, created); diff != "" {
		t.Errorf("Created mismatch (-expected +got):\n%s", diff)
	}

	status, got := f.do(call{method: "GET", route: "/org/:org_slug", params: map[string]string{"org_slug": "orgNEW"}})
	require.Equal(t, 200, status)
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("Get mismatch (-expected +got):\n%s", diff)
	}
}

func TestGetMissing(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(call{method: "GET", route: "/org/:org_slug", params: map[string]string{"org_slug": "nope"}})
	require.Equal(t, 404, status)
	require.Equal(t, "ERROR_CODE_RESOURCE_NOT_FOUND", body.(map[string]any)["code"])
}

func TestValidation(t *testing.T) {
	type testCase struct {
		name     string
		body     string
		expected map[string]any
	}
	for _, tc := range []testCase{
		{
			name:     "missing required field",
			body:     `{"slug":"a"}`,
			expected: map[string]any{"name": []any{"required"}},
		},
		{
			name:     "validators",
			body:     `{"slug":"not a slug","name":"x"}`,
			expected: map[string]any{"slug": []any{"is-slug"}, "name": []any{"min-length"}},
		},
		{
			name:     "type",
			body:     `{"slug":"a","name":5}`,
			expected: map[string]any{"name": []any{"type"}},
		},
		{
			name:     "null for non-nullable",
			body:     `{"slug":null,"name":"Org"}`,
			expected: map[string]any{"slug": []any{"required"}},
		},
		{
			name:     "empty body",
			body:     ``,
			expected: map[string]any{"slug": []any{"required"}, "name": []any{"required"}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			status, body := f.do(call{method: "POST", route: "/org", body: tc.body})
			require.Equal(t, 400, status)
			expected := map[string]any{"code": "ERROR_CODE_VALIDATION", "message": "validation failed", "data": tc.expected}
			if diff := cmp.Diff(expected, body); diff != "" {
				t.Errorf("Response mismatch (-expected +got):\n%s", diff)
			}
			require.Empty(t, f.store.Dump("Org"))
		})
	}

	t.Run("unique value already exists", func(t *testing.T) {
		f := newFixture(t)
		f.createOrg("dup", "First")
		status, body := f.do(call{method: "POST", route: "/org", body: `{"slug":"dup","name":"Second"}`})
		require.Equal(t, 400, status)
		expected := map[string]any{"slug": []any{"already-exists"}}
		if diff := cmp.Diff(expected, body.(map[string]any)["data"]); diff != "" {
			t.Errorf("Data mismatch (-expected +got):\n%s", diff)
		}
	})

	t.Run("update keeps its own unique value", func(t *testing.T) {
		f := newFixture(t)
		f.createOrg("same", "Same")
		status, body := f.do(call{method: "PATCH", route: "/org/:org_slug", params: map[string]string{"org_slug": "same"}, body: `{"slug":"same"}`, user: f.user("alice")})
		require.Equal(t, 200, status, "%v", body)
	})
}

func TestPaging(t *testing.T) {
	f := newFixture(t)
	for _, s := range []string{"e", "c", "a", "d", "b"} {
		f.createOrg(s, "Org "+s)
	}
	names := func(body any) []string {
		var out []string
		for _, row := range body.(map[string]any)["data"].([]any) {
			out = append(out, row.(map[string]any)["name"].(string))
		}
		return out
	}

	type testCase struct {
		page, pageSize string
		expectedNames  []string
		expectedPages  float64
	}
	for _, tc := range []testCase{
		{"1", "2", []string{"Org a", "Org b"}, 3},
		{"3", "2", []string{"Org e"}, 3},
		{"4", "2", nil, 3},
		{"1", "5", []string{"Org a", "Org b", "Org c", "Org d", "Org e"}, 1},
		{"", "", []string{"Org a", "Org b", "Org c", "Org d", "Org e"}, 1},
		{"2305843009213693953", "4", nil, 2},
		{"9223372036854775807", "9223372036854775807", nil, 1},
	} {
		t.Run("page "+tc.page+" size "+tc.pageSize, func(t *testing.T) {
			q := url.Values{}
			if tc.page != "" {
				q.Set("page", tc.page)
				q.Set("pageSize", tc.pageSize)
			}
			status, body := f.do(call{method: "GET", route: "/org", query: q})
			require.Equal(t, 200, status)
			if diff := cmp.Diff(tc.expectedNames, names(body)); diff != "" {
				t.Errorf("Names mismatch (-expected +got):\n%s", diff)
			}
			m := body.(map[string]any)
			require.Equal(t, float64(5), m["totalCount"])
			require.Equal(t, tc.expectedPages, m["totalPages"])
		})
	}

	t.Run("page size is capped", func(t *testing.T) {
		status, body := f.do(call{method: "GET", route: "/org", query: url.Values{"pageSize": {"9223372036854775807"}}})
		require.Equal(t, 200, status)
		require.Equal(t, float64(executor.MaxPageSize), body.(map[string]any)["pageSize"])
		require.Len(t, names(body), 5)
	})

	t.Run("invalid page", func(t *testing.T) {
		status, body := f.do(call{method: "GET", route: "/org", query: url.Values{"page": {"0"}}})
		require.Equal(t, 400, status)
		require.Equal(t, "ERROR_CODE_VALIDATION", body.(map[string]any)["code"])
	})
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	f.createOrg("acme", "Acme")
	params := map[string]string{"org_slug": "acme"}

	status, body := f.do(call{method: "PATCH", route: "/org/:org_slug", params: params, body: `{"name":"Renamed"}`})
	require.Equal(t, 401, status)
	require.Equal(t, "ERROR_CODE_UNAUTHENTICATED", body.(map[string]any)["code"])

	status, body = f.do(call{method: "PATCH", route: "/org/:org_slug", params: params, body: `{"name":"Renamed"}`, user: f.user("alice")})
	require.Equal(t, 200, status)
	require.Equal(t, "Renamed", body.(map[string]any)["name"])
	require.Equal(t, "acme", body.(map[string]any)["slug"])

	missing := int64(99)
	status, _ = f.do(call{method: "PATCH", route: "/org/:org_slug", params: params, body: `{"name":"Again"}`, user: &missing})
	require.Equal(t, 401, status)
}

func TestNestedEntrypoints(t *testing.T) {
	f := newFixture(t)
	f.createOrg("a", "Org a")
	f.createOrg("b", "Org b")
	inA := map[string]string{"org_slug": "a"}

	status, r1 := f.do(call{method: "POST", route: "/org/:org_slug/repos", params: inA, body: `{"name":"r1","isPublic":true}`})
	require.Equal(t, 200, status, "%v", r1)
	expected := map[string]any{"id": float64(1), "name": "r1", "org": map[string]any{"slug": "a"}, "issueCount": float64(0)}
	if diff := cmp.Diff(expected, r1); diff != "" {
		t.Errorf("Created repo mismatch (-expected +got):\n%s", diff)
	}
	status, _ = f.do(call{method: "POST", route: "/org/:org_slug/repos", params: inA, body: `{"name":"r2","isPublic":false}`})
	require.Equal(t, 200, status)
	require.Equal(t, int64(0), f.store.Dump("Repo")[1]["stars"])

	t.Run("list applies the endpoint filter", func(t *testing.T) {
		status, body := f.do(call{method: "GET", route: "/org/:org_slug/repos", params: inA})
		require.Equal(t, 200, status)
		if diff := cmp.Diff([]any{expected}, body); diff != "" {
			t.Errorf("List mismatch (-expected +got):\n%s", diff)
		}
	})

	t.Run("records are scoped to the parent", func(t *testing.T) {
		status, _ := f.do(call{method: "GET", route: "/org/:org_slug/repos/:repo_id", params: map[string]string{"org_slug": "b", "repo_id": "1"}})
		require.Equal(t, 404, status)
		status, _ = f.do(call{method: "GET", route: "/org/:org_slug/repos/:repo_id", params: map[string]string{"org_slug": "a", "repo_id": "abc"}})
		require.Equal(t, 404, status)
	})

	t.Run("denied fields are ignored", func(t *testing.T) {
		status, body := f.do(call{method: "PATCH", route: "/org/:org_slug/repos/:repo_id", params: map[string]string{"org_slug": "a", "repo_id": "1"}, body: `{"name":"r1b","org_id":2}`})
		require.Equal(t, 200, status, "%v", body)
		require.Equal(t, "r1b", body.(map[string]any)["name"])
		require.Equal(t, map[string]any{"slug": "a"}, body.(map[string]any)["org"])
	})

	t.Run("create into a relation with auth", func(t *testing.T) {
		repo := map[string]string{"org_slug": "a", "repo_id": "1"}
		status, body := f.do(call{method: "POST", route: "/org/:org_slug/repos/:repo_id/issues", params: repo, body: `{"title":"bug"}`})
		require.Equal(t, 401, status, "%v", body)

		alice := f.user("alice")
		status, body = f.do(call{method: "POST", route: "/org/:org_slug/repos/:repo_id/issues", params: repo, body: `{"title":"bug","repo_id":2}`, user: alice})
		require.Equal(t, 200, status, "%v", body)
		expected := map[string]any{"id": float64(1), "title": "bug", "points": nil, "repo_id": float64(1), "author_id": float64(*alice)}
		if diff := cmp.Diff(expected, body); diff != "" {
			t.Errorf("Issue mismatch (-expected +got):\n%s", diff)
		}

		status, body = f.do(call{method: "GET", route: "/org/:org_slug/repos/:repo_id", params: repo})
		require.Equal(t, 200, status)
		require.Equal(t, float64(1), body.(map[string]any)["issueCount"])
	})
}

// selectLog wraps a store and records the selections made through it.
type selectLog struct {
	executor.Store
	mu      sync.Mutex
	selects []string
}

func (l *selectLog) Begin(ctx context.Context) (executor.Tx, error) {
	tx, err := l.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &loggedTx{Tx: tx, log: l}, nil
}

type loggedTx struct {
	executor.Tx
	log *selectLog
}

func (tx *loggedTx) Select(ctx context.Context, model *ir.ModelDef, where *executor.Where) ([]executor.Row, error) {
	entry := model.Name + " all"
	if where != nil {
		entry = fmt.Sprintf("%s %s=%v", model.Name, where.Field, where.Values)
	}
	tx.log.mu.Lock()
	tx.log.selects = append(tx.log.selects, entry)
	tx.log.mu.Unlock()
	return tx.Tx.Select(ctx, model, where)
}

func TestListReadsWholeModel(t *testing.T) {
	f := newFixture(t)
	for _, s := range []string{"a", "b", "c"} {
		f.createOrg(s, "Org "+s)
	}
	log := &selectLog{Store: f.store}
	exec := executor.New(f.def, log, f.hooks)

	resp := exec.Handler("GET", "/org").Handle(context.Background(), &executor.Request{Query: url.Values{"page": {"2"}, "pageSize": {"1"}}})
	require.Equal(t, 200, resp.Status)
	require.Len(t, resp.Body.(map[string]any)["data"], 1)
	require.Contains(t, log.selects, "Org all")
}

func TestRollbackOnHookError(t *testing.T) {
	f := newFixture(t)
	f.createOrg("acme", "Acme")
	params := map[string]string{"org_slug": "acme"}

	f.hooks.fns["archive"] = func(args map[string]any) (any, error) {
		return nil, &executor.HookError{Status: 409, Code: "ARCHIVE_BLOCKED", Message: "acme can't be archived"}
	}
	status, body := f.do(call{method: "POST", route: "/org/:org_slug/archive", params: params})
	require.Equal(t, 409, status)
	if diff := cmp.Diff(map[string]any{"code": "ARCHIVE_BLOCKED", "message": "acme can't be archived"}, body); diff != "" {
		t.Errorf("Hook error mismatch (-expected +got):\n%s", diff)
	}
	require.Nil(t, f.store.Dump("Org")[0]["description"])
	require.Equal(t, map[string]any{"slug": "acme"}, f.hooks.calls[0].Args)

	f.hooks.fns["archive"] = func(args map[string]any) (any, error) { return nil, errors.New("runtime down") }
	status, body = f.do(call{method: "POST", route: "/org/:org_slug/archive", params: params})
	require.Equal(t, 500, status)
	if diff := cmp.Diff(map[string]any{"code": "ERROR_CODE_SERVER_ERROR", "message": "internal server error"}, body); diff != "" {
		t.Errorf("Server error mismatch (-expected +got):\n%s", diff)
	}
	require.Nil(t, f.store.Dump("Org")[0]["description"])

	f.hooks.fns["archive"] = func(args map[string]any) (any, error) { return true, nil }
	status, body = f.do(call{method: "POST", route: "/org/:org_slug/archive", params: params})
	require.Equal(t, 204, status)
	require.Nil(t, body)
	require.Equal(t, "archived", f.store.Dump("Org")[0]["description"])
}

func TestRollbackOnPanic(t *testing.T) {
	f := newFixture(t)
	f.createOrg("acme", "Acme")
	f.hooks.fns["archive"] = func(args map[string]any) (any, error) { panic("hook bug") }

	status, body := f.do(call{method: "POST", route: "/org/:org_slug/archive", params: map[string]string{"org_slug": "acme"}})
	require.Equal(t, 500, status)
	require.Equal(t, "ERROR_CODE_SERVER_ERROR", body.(map[string]any)["code"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tx, err := f.store.Begin(ctx)
	require.NoError(t, err, "transaction left open")
	require.NoError(t, tx.Rollback(ctx))
	f.createOrg("next", "Next")
}

func TestSetterValueTypes(t *testing.T) {
	f := newFixture(t)
	f.createOrg("a", "Org a")
	alice := f.user("alice")
	_, _ = f.do(call{method: "POST", route: "/org/:org_slug/repos", params: map[string]string{"org_slug": "a"}, body: `{"name":"r1","isPublic":true}`})
	repo := map[string]string{"org_slug": "a", "repo_id": "1"}

	f.hooks.fns["estimate"] = func(args map[string]any) (any, error) { return "not-a-number", nil }
	status, body := f.do(call{method: "POST", route: "/org/:org_slug/repos/:repo_id/issues", params: repo, body: `{"title":"bug"}`, user: alice})
	require.Equal(t, 500, status, "%v", body)
	require.Equal(t, "ERROR_CODE_SERVER_ERROR", body.(map[string]any)["code"])
	require.Empty(t, f.store.Dump("Issue"))

	f.hooks.fns["estimate"] = func(args map[string]any) (any, error) { return 2.5, nil }
	status, _ = f.do(call{method: "POST", route: "/org/:org_slug/repos/:repo_id/issues", params: repo, body: `{"title":"bug"}`, user: alice})
	require.Equal(t, 500, status)
	require.Empty(t, f.store.Dump("Issue"))

	f.hooks.fns["estimate"] = func(args map[string]any) (any, error) { return float64(3), nil }
	status, body = f.do(call{method: "POST", route: "/org/:org_slug/repos/:repo_id/issues", params: repo, body: `{"title":"bug"}`, user: alice})
	require.Equal(t, 200, status, "%v", body)
	require.Equal(t, float64(3), body.(map[string]any)["points"])
	rows := f.store.Dump("Issue")
	require.Len(t, rows, 1)
	require.Equal(t, int64(3), rows[0]["points"])
}

func TestRespondingHook(t *testing.T) {
	f := newFixture(t)
	f.createOrg("a", "Org a")
	alice := f.user("alice")
	_, _ = f.do(call{method: "POST", route: "/org/:org_slug/repos", params: map[string]string{"org_slug": "a"}, body: `{"name":"r1","isPublic":true}`})
	_, _ = f.do(call{method: "POST", route: "/org/:org_slug/repos/:repo_id/issues", params: map[string]string{"org_slug": "a", "repo_id": "1"}, body: `{"title":"bug"}`, user: alice})

	f.hooks.fns["closeIssue"] = func(args map[string]any) (any, error) {
		return map[string]any{"status": 202, "body": map[string]any{"closed": args["id"]}, "headers": map[string]any{"X-Closed": "yes"}}, nil
	}
	params := map[string]string{"org_slug": "a", "repo_id": "1", "issue_id": "1"}

	status, body := f.do(call{method: "POST", route: "/org/:org_slug/repos/:repo_id/issues/:issue_id/close", params: params, body: `{}`})
	require.Equal(t, 400, status)
	require.Equal(t, map[string]any{"reason": []any{"required"}}, body.(map[string]any)["data"])

	status, body = f.do(call{method: "POST", route: "/org/:org_slug/repos/:repo_id/issues/:issue_id/close", params: params, body: `{"reason":"fixed"}`})
	require.Equal(t, 202, status)
	require.Equal(t, map[string]any{"closed": float64(1)}, body)
	last := f.hooks.calls[len(f.hooks.calls)-1]
	if diff := cmp.Diff(map[string]any{"id": int64(1), "reason": "fixed"}, last.Args); diff != "" {
		t.Errorf("Hook args mismatch (-expected +got):\n%s", diff)
	}
}

func TestReferenceInput(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg("acme", "Acme")

	status, body := f.do(call{method: "POST", route: "/star", body: `{"org":"acme","note":"nice"}`})
	require.Equal(t, 200, status, "%v", body)
	expected := map[string]any{"id": float64(1), "note": "nice", "org_id": org["id"]}
	if diff := cmp.Diff(expected, body); diff != "" {
		t.Errorf("Star mismatch (-expected +got):\n%s", diff)
	}

	status, body = f.do(call{method: "POST", route: "/star", body: `{"org":"missing"}`})
	require.Equal(t, 400, status)
	require.Equal(t, map[string]any{"org": []any{"reference-not-found"}}, body.(map[string]any)["data"])

	status, body = f.do(call{method: "POST", route: "/star", body: `{"note":"x"}`})
	require.Equal(t, 400, status)
	require.Equal(t, map[string]any{"org": []any{"required"}}, body.(map[string]any)["data"])

	status, body = f.do(call{method: "GET", route: "/star"})
	require.Equal(t, 200, status)
	require.Len(t, body, 1)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.createOrg("busy", "Busy")
	f.createOrg("idle", "Idle")
	_, _ = f.do(call{method: "POST", route: "/star", body: `{"org":"busy"}`})

	status, body := f.do(call{method: "DELETE", route: "/org/:org_slug", params: map[string]string{"org_slug": "busy"}})
	require.Equal(t, 400, status)
	require.Equal(t, "ERROR_CODE_OTHER", body.(map[string]any)["code"])

	status, body = f.do(call{method: "DELETE", route: "/org/:org_slug", params: map[string]string{"org_slug": "idle"}})
	require.Equal(t, 204, status)
	require.Nil(t, body)

	status, _ = f.do(call{method: "GET", route: "/org/:org_slug", params: map[string]string{"org_slug": "idle"}})
	require.Equal(t, 404, status)
	require.Len(t, f.store.Dump("Org"), 1)
}
