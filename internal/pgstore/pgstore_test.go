package pgstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/logger"
	"github.com/hanpama/modelgate/internal/pgstore"
	"github.com/hanpama/modelgate/internal/spec"
)

const appSpec = `
models:
  - name: Org
    fields:
      - {name: slug, type: string, unique: true}
      - {name: displayName, type: string, nullable: true}
    relations:
      - {name: repos, from: Repo, through: org}
  - name: Repo
    fields:
      - {name: name, type: string}
      - {name: stars, type: integer}
    references:
      - {name: org, to: Org}
entrypoints:
  - target: Org
    identify: slug
    endpoints:
      - kind: get
      - kind: create
      - kind: delete
    entrypoints:
      - target: repos
        as: repo
        endpoints:
          - kind: list
          - kind: create
`

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container in short mode")
	}
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("modelgate"),
		postgres.WithUsername("modelgate"),
		postgres.WithPassword("modelgate"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)
	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

func TestStore(t *testing.T) {
	url := startPostgres(t)
	s, err := spec.Parse("app.yaml", []byte(appSpec))
	require.NoError(t, err)
	def, err := ir.Compose(s)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	store, err := pgstore.Open(ctx, url, def, logger.NewLogfLogger(t))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrate twice")

	org, repo := def.Model("Org"), def.Model("Repo")

	t.Run("insert select update", func(t *testing.T) {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		row, err := tx.Insert(ctx, org, executor.Row{"slug": "acme", "displayName": nil})
		require.NoError(t, err)
		id := row["id"].(int64)
		require.Equal(t, executor.Row{"id": id, "slug": "acme", "displayName": nil}, row)

		row, err = tx.Update(ctx, org, id, executor.Row{"displayName": "Acme"})
		require.NoError(t, err)
		require.Equal(t, "Acme", row["displayName"])

		rows, err := tx.Select(ctx, org, &executor.Where{Field: "slug", Values: []any{"acme", "other"}})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		_, err = tx.Update(ctx, org, id+100, executor.Row{"displayName": "x"})
		require.ErrorIs(t, err, executor.ErrNoRows)
		require.NoError(t, tx.Commit(ctx))
		require.NoError(t, tx.Rollback(ctx), "rollback after commit")
	})

	t.Run("constraint violations", func(t *testing.T) {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Insert(ctx, org, executor.Row{"slug": "acme"})
		require.ErrorIs(t, err, executor.ErrUniqueViolation)
		require.NoError(t, tx.Rollback(ctx))

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Insert(ctx, repo, executor.Row{"name": "r", "stars": int64(0), "org_id": int64(999)})
		require.ErrorIs(t, err, executor.ErrForeignKeyViolation)
		require.NoError(t, tx.Rollback(ctx))

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.Insert(ctx, repo, executor.Row{"name": nil, "stars": int64(0)})
		require.ErrorIs(t, err, executor.ErrNotNullViolation)
		require.NoError(t, tx.Rollback(ctx))
	})

	t.Run("endpoints", func(t *testing.T) {
		exec := executor.New(def, store, nil)
		h := exec.Handler("POST", "/org")
		resp := h.Handle(ctx, &executor.Request{Body: map[string]any{"slug": "beta"}})
		require.Equal(t, 200, resp.Status, "%v", resp.Body)

		h = exec.Handler("POST", "/org/:org_slug/repos")
		resp = h.Handle(ctx, &executor.Request{
			Params: map[string]string{"org_slug": "beta"},
			Body:   map[string]any{"name": "r1", "stars": float64(3)},
		})
		require.Equal(t, 200, resp.Status, "%v", resp.Body)

		h = exec.Handler("DELETE", "/org/:org_slug")
		resp = h.Handle(ctx, &executor.Request{Params: map[string]string{"org_slug": "beta"}})
		require.Equal(t, 400, resp.Status)
		require.Equal(t, executor.CodeOther, resp.Body.(*executor.Error).Code)

		resp = h.Handle(ctx, &executor.Request{Params: map[string]string{"org_slug": "acme"}})
		require.Equal(t, 204, resp.Status, "%v", resp.Body)
	})
}
