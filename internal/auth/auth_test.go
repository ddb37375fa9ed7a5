package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/modelgate/internal/auth"
	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/spec"
)

func newService(t *testing.T, now *time.Time) (*auth.Service, *executor.MemStore) {
	t.Helper()
	s, err := spec.Parse("app.yaml", []byte("authenticator: {}\n"))
	require.NoError(t, err)
	def, err := ir.Compose(s)
	require.NoError(t, err)
	store := executor.NewMemStore(def)
	svc, err := auth.New(def, store,
		auth.WithBcryptCost(4),
		auth.WithTokenTTL(time.Hour),
		auth.WithClock(func() time.Time { return *now }),
	)
	require.NoError(t, err)
	return svc, store
}

func codeOf(t *testing.T, err error) executor.ErrorCode {
	t.Helper()
	var e *executor.Error
	require.ErrorAs(t, err, &e)
	return e.Code
}

func TestLoginLogout(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newService(t, &now)
	ctx := context.Background()

	uid, err := svc.Register(ctx, map[string]any{"name": "Ann", "username": "ann", "password": "secret"})
	require.NoError(t, err)
	require.NotEqual(t, "secret", store.Dump("AuthUser")[0]["passwordHash"])

	token, err := svc.Login(ctx, auth.Credentials{Username: "ann", Password: "secret"})
	require.NoError(t, err)
	require.Len(t, token, 43)

	got, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, &uid, got)

	now = now.Add(2 * time.Hour)
	got, err = svc.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Nil(t, got, "expired token")
	now = now.Add(-2 * time.Hour)

	require.NoError(t, svc.Logout(ctx, token))
	got, err = svc.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, executor.CodeUnauthenticated, codeOf(t, svc.Logout(ctx, token)))
	require.Empty(t, store.Dump("AuthUserAccessToken"))
}

func TestLoginFailures(t *testing.T) {
	now := time.Now()
	svc, store := newService(t, &now)
	ctx := context.Background()
	_, err := svc.Register(ctx, map[string]any{"name": "Ann", "username": "ann", "password": "secret"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, auth.Credentials{Username: "ann", Password: "wrong"})
	require.Equal(t, executor.CodeUnauthenticated, codeOf(t, err))
	_, err = svc.Login(ctx, auth.Credentials{Username: "nobody", Password: "secret"})
	require.Equal(t, executor.CodeUnauthenticated, codeOf(t, err))
	require.Empty(t, store.Dump("AuthUserAccessToken"))
}

func TestRegisterValidation(t *testing.T) {
	now := time.Now()
	svc, store := newService(t, &now)
	ctx := context.Background()
	_, err := svc.Register(ctx, map[string]any{"name": "Ann", "username": "ann", "password": "secret"})
	require.NoError(t, err)

	type testCase struct {
		name     string
		body     any
		expected any
	}
	for _, tc := range []testCase{
		{"taken username", map[string]any{"name": "B", "username": "ann", "password": "x"}, map[string]any{"username": []string{"already-exists"}}},
		{"missing fields", map[string]any{"username": "bob"}, map[string]any{"name": []string{"required"}, "password": []string{"required"}}},
		{"not an object", "bob", []string{"type"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.body)
			var e *executor.Error
			require.ErrorAs(t, err, &e)
			require.Equal(t, executor.CodeValidation, e.Code)
			if diff := cmp.Diff(tc.expected, e.Data); diff != "" {
				t.Errorf("Validation mismatch (-expected +got):\n%s", diff)
			}
		})
	}
	require.Len(t, store.Dump("AuthUser"), 1)
}

func TestNoAuthenticator(t *testing.T) {
	_, err := auth.New(&ir.Definition{}, nil)
	require.ErrorIs(t, err, auth.ErrNoAuthenticator)
}
