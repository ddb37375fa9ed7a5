package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/modelgate/internal/auth"
	"github.com/hanpama/modelgate/internal/eventbus"
	"github.com/hanpama/modelgate/internal/events"
	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/reqid"
	"github.com/hanpama/modelgate/internal/spec"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	data, err := os.ReadFile("testdata/app.yaml")
	require.NoError(t, err)
	s, err := spec.Parse("app.yaml", data)
	require.NoError(t, err)
	def, err := ir.Compose(s)
	require.NoError(t, err)
	store := executor.NewMemStore(def)
	svc, err := auth.New(def, store, auth.WithBcryptCost(4))
	require.NoError(t, err)
	h, err := New(executor.New(def, store, nil), append([]Option{WithAuth(svc)}, opts...)...)
	require.NoError(t, err)
	return h
}

type result struct {
	status int
	header http.Header
	body   any
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) result {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	res := result{status: w.Code, header: w.Header()}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res.body), w.Body.String())
	}
	return res
}

func TestRoutes(t *testing.T) {
	h := newTestHandler(t)
	expected := []string{
		"POST /auth/login",
		"POST /auth/logout",
		"POST /auth/register",
		"GET /note/:note_id",
		"GET /note",
		"POST /note",
		"DELETE /note/:note_id",
	}
	if diff := cmp.Diff(expected, h.Routes(), cmpSorted); diff != "" {
		t.Errorf("Routes mismatch (-expected +got):\n%s", diff)
	}
}

var cmpSorted = cmp.Transformer("sort", func(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[s] = true
	}
	return out
})

func TestAuthScenario(t *testing.T) {
	h := newTestHandler(t)

	res := do(t, h, "POST", "/auth/register", `{"name":"Ann","username":"ann","password":"secret"}`)
	require.Equal(t, http.StatusCreated, res.status, res.body)
	require.Equal(t, map[string]any{"id": float64(1)}, res.body)

	res = do(t, h, "POST", "/auth/login", `{"username":"ann","password":"secret"}`)
	require.Equal(t, http.StatusOK, res.status, res.body)
	token := res.body.(map[string]any)["token"].(string)
	require.Len(t, token, 43)
	bearer := "Bearer " + token

	res = do(t, h, "POST", "/note", `{"title":"first"}`, "Authorization", bearer)
	require.Equal(t, http.StatusOK, res.status, res.body)
	note := res.body.(map[string]any)
	require.Equal(t, "first", note["title"])
	require.Equal(t, float64(1), note["author_id"])

	res = do(t, h, "GET", "/note/1", "")
	require.Equal(t, http.StatusUnauthorized, res.status)
	require.Equal(t, "ERROR_CODE_UNAUTHENTICATED", res.body.(map[string]any)["code"])

	res = do(t, h, "GET", "/note/1", "", "Authorization", bearer)
	require.Equal(t, http.StatusOK, res.status, res.body)

	res = do(t, h, "POST", "/auth/logout", "", "Authorization", bearer)
	require.Equal(t, http.StatusNoContent, res.status, res.body)
	require.Nil(t, res.body)

	res = do(t, h, "GET", "/note/1", "", "Authorization", bearer)
	require.Equal(t, http.StatusUnauthorized, res.status)

	res = do(t, h, "POST", "/auth/logout", `{"token":"`+token+`"}`)
	require.Equal(t, http.StatusUnauthorized, res.status)
}

func TestLoginFailures(t *testing.T) {
	h := newTestHandler(t)
	require.Equal(t, http.StatusCreated, do(t, h, "POST", "/auth/register", `{"name":"Ann","username":"ann","password":"secret"}`).status)

	type testCase struct {
		name   string
		body   string
		status int
	}
	for _, tc := range []testCase{
		{"wrong password", `{"username":"ann","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"bob","password":"secret"}`, http.StatusUnauthorized},
		{"malformed", `{"username":`, http.StatusBadRequest},
		{"wrong shape", `{"username":1}`, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res := do(t, h, "POST", "/auth/login", tc.body)
			require.Equal(t, tc.status, res.status, res.body)
		})
	}

	res := do(t, h, "POST", "/auth/register", `{"name":"Ann","username":"ann","password":"x"}`)
	require.Equal(t, http.StatusBadRequest, res.status)
	expected := map[string]any{
		"code":    "ERROR_CODE_VALIDATION",
		"message": "validation failed",
		"data":    map[string]any{"username": []any{"already-exists"}},
	}
	if diff := cmp.Diff(expected, res.body); diff != "" {
		t.Errorf("Register mismatch (-expected +got):\n%s", diff)
	}
}

func TestPagedList(t *testing.T) {
	h := newTestHandler(t)
	for _, title := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusOK, do(t, h, "POST", "/note", `{"title":"`+title+`"}`).status)
	}
	res := do(t, h, "GET", "/note?page=2&pageSize=2", "")
	require.Equal(t, http.StatusOK, res.status, res.body)
	body := res.body.(map[string]any)
	require.Equal(t, float64(2), body["page"])
	require.Equal(t, float64(2), body["totalPages"])
	require.Equal(t, float64(3), body["totalCount"])
	require.Len(t, body["data"], 1)

	require.Equal(t, http.StatusNoContent, do(t, h, "DELETE", "/note/3", "").status)
	require.Equal(t, http.StatusNotFound, do(t, h, "DELETE", "/note/3", "").status)
}

func TestBody(t *testing.T) {
	h := newTestHandler(t, WithMaxBodyBytes(32))

	type testCase struct {
		name        string
		body        string
		contentType string
		status      int
		message     string
	}
	for _, tc := range []testCase{
		{"invalid json", `{"title":`, "application/json", http.StatusBadRequest, "invalid JSON"},
		{"trailing data", `{"title":"a"} {}`, "application/json", http.StatusBadRequest, "invalid JSON"},
		{"too large", `{"title":"` + strings.Repeat("x", 40) + `"}`, "application/json", http.StatusRequestEntityTooLarge, "body too large"},
		{"content type", `title=a`, "application/x-www-form-urlencoded", http.StatusBadRequest, "unsupported Content-Type"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/note", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", tc.contentType)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, tc.message, body["message"])
		})
	}

	res := do(t, h, "POST", "/note", "")
	require.Equal(t, http.StatusBadRequest, res.status)
	require.Equal(t, "ERROR_CODE_VALIDATION", res.body.(map[string]any)["code"])
}

func TestNotFoundRoute(t *testing.T) {
	h := newTestHandler(t)
	res := do(t, h, "GET", "/nothing", "")
	require.Equal(t, http.StatusNotFound, res.status)
	require.Equal(t, "ERROR_CODE_RESOURCE_NOT_FOUND", res.body.(map[string]any)["code"])
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, WithCORS("https://app.example"))

	res := do(t, h, "OPTIONS", "/note", "", "Origin", "https://app.example", "Access-Control-Request-Headers", "Authorization")
	require.Equal(t, http.StatusNoContent, res.status)
	require.Equal(t, "https://app.example", res.header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Authorization", res.header.Get("Access-Control-Allow-Headers"))
	require.Contains(t, res.header.Get("Access-Control-Allow-Methods"), "PATCH")

	res = do(t, h, "GET", "/note", "", "Origin", "https://other.example")
	require.Equal(t, http.StatusOK, res.status)
	require.Empty(t, res.header.Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	var mu sync.Mutex
	var ids []string
	var statuses []int
	var routes []string
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		mu.Lock()
		defer mu.Unlock()
		id, _ := reqid.FromContext(ctx)
		ids = append(ids, id)
		statuses = append(statuses, e.Status)
		routes = append(routes, e.Route)
	})

	h := newTestHandler(t, WithTimeout(time.Second))
	res := do(t, h, "GET", "/note", "")
	generated := res.header.Get(reqid.Header)
	require.Len(t, generated, 26)

	res = do(t, h, "GET", "/note/9", "", reqid.Header, "abc")
	require.Equal(t, "abc", res.header.Get(reqid.Header))

	if diff := cmp.Diff([]string{generated, "abc"}, ids); diff != "" {
		t.Errorf("Request ids mismatch (-expected +got):\n%s", diff)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusNotFound}, statuses)
	require.Equal(t, []string{"/note", "/note/:note_id"}, routes)
}

func TestPretty(t *testing.T) {
	h := newTestHandler(t, WithPretty())
	req := httptest.NewRequest("GET", "/note", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Body.String(), "{\n  \"data\": [],\n  \"page\": 1,"), w.Body.String())
	require.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
}
