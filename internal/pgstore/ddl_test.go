package pgstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/spec"
)

const testSpec = `
models:
  - name: Org
    fields:
      - {name: slug, type: string, unique: true}
      - {name: displayName, type: string, nullable: true}
  - name: Repo
    fields:
      - {name: stars, type: integer}
      - {name: score, type: float}
      - {name: isPublic, type: boolean}
    references:
      - {name: org, to: Org}
`

func compose(t *testing.T, src string) *ir.Definition {
	t.Helper()
	s, err := spec.Parse("test.yaml", []byte(src))
	require.NoError(t, err)
	def, err := ir.Compose(s)
	require.NoError(t, err)
	return def
}

func TestGenerateDDL(t *testing.T) {
	def := compose(t, testSpec)
	expected := []string{
		`create table if not exists "org" (
  "id" bigint generated by default as identity primary key,
  "slug" text not null unique,
  "display_name" text
)`,
		`create table if not exists "repo" (
  "id" bigint generated by default as identity primary key,
  "stars" bigint not null,
  "score" double precision not null,
  "is_public" boolean not null,
  "org_id" bigint not null
)`,
		`alter table "repo" add constraint "repo_org_id_fkey" foreign key ("org_id") references "org" ("id") on delete restrict`,
	}
	if diff := cmp.Diff(expected, GenerateDDL(def)); diff != "" {
		t.Errorf("DDL mismatch (-expected +got):\n%s", diff)
	}
}

func TestTypedArray(t *testing.T) {
	def := compose(t, testSpec)
	repo := def.Model("Repo")

	got, err := typedArray(def.Field("Repo.stars"), []any{int64(1), float64(2), nil})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, got)

	_, err = typedArray(def.Field("Repo.stars"), []any{"x"})
	require.Error(t, err)

	got, err = typedArray(fieldByName(repo, "isPublic"), []any{true})
	require.NoError(t, err)
	require.Equal(t, []bool{true}, got)

	got, err = typedArray(def.Field("Org.slug"), []any{"a", nil})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got)
}
