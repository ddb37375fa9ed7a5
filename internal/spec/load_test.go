package spec_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/modelgate/internal/spec"
)

func TestParseExpressions(t *testing.T) {
	type testCase struct {
		name  string
		input string
		want  *spec.Expr
	}
	for _, tc := range []testCase{
		{"integer scalar", `42`, spec.Lit(int64(42))},
		{"string scalar", `"text"`, spec.Lit("text")},
		{"explicit literal", `{lit: "a.b"}`, spec.Lit("a.b")},
		{"explicit null literal", `{lit: null}`, spec.Lit(nil)},
		{"identifier", `{ident: org.name}`, spec.Ident("org.name")},
		{"not", `{not: {ident: done}}`, spec.Unary("not", spec.Ident("done"))},
		{"binary", `{op: is not, lhs: {ident: "@auth.id"}, rhs: null}`, spec.Binary("is not", spec.Ident("@auth.id"), spec.Lit(nil))},
		{"null lhs", `{op: is, lhs: null, rhs: {ident: deletedAt}}`, spec.Binary("is", spec.Lit(nil), spec.Ident("deletedAt"))},
		{"tilde rhs", `{op: is, lhs: {ident: x}, rhs: ~}`, spec.Binary("is", spec.Ident("x"), spec.Lit(nil))},
		{"null negated", `{not: null}`, spec.Unary("not", spec.Lit(nil))},
		{"function", `{fn: concat, args: [{ident: name}, "!"]}`, spec.Fn("concat", spec.Ident("name"), spec.Lit("!"))},
		{"function null arg", `{fn: stringify, args: [null]}`, spec.Fn("stringify", spec.Lit(nil))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, err := spec.Parse(tc.name, []byte("models:\n  - name: M\n    computeds:\n      - name: c\n        expr: "+tc.input+"\n"))
			require.NoError(t, err)
			got := s.Models[0].Computeds[0].Expr
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Expr mismatch (-expected +got):\n%s", diff)
			}
		})
	}
}

func TestParsePaths(t *testing.T) {
	s, err := spec.Parse("paths", []byte(`
models:
  - name: Org
    queries:
      - {name: a, from: repos.issues}
      - {name: b, from: [repos, issues]}
`))
	require.NoError(t, err)
	require.Equal(t, spec.Path{"repos", "issues"}, s.Models[0].Queries[0].From)
	require.Equal(t, spec.Path{"repos", "issues"}, s.Models[0].Queries[1].From)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := spec.Parse("typo", []byte("models:\n  - name: Org\n    feilds: []\n"))
	require.ErrorContains(t, err, "feilds")
}

func TestParseBadExpression(t *testing.T) {
	_, err := spec.Parse("bad", []byte("models:\n  - name: M\n    computeds:\n      - name: c\n        expr: {op: is, lhs: 1}\n"))
	require.ErrorContains(t, err, "needs lhs and rhs")
}

func TestParseMissingOperand(t *testing.T) {
	for _, input := range []string{`{op: is, rhs: null}`, `{op: is, lhs: null}`} {
		_, err := spec.Parse("missing", []byte("models:\n  - name: M\n    computeds:\n      - name: c\n        expr: "+input+"\n"))
		require.ErrorContains(t, err, "needs lhs and rhs", input)
	}
}

func TestExprString(t *testing.T) {
	e := spec.Binary("and", spec.Unary("not", spec.Ident("a.b")), spec.Fn("length", spec.Lit("x")))
	require.Equal(t, `(not a.b and length("x"))`, e.String())
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("b.yaml", "models:\n  - name: Repo\n")
	write("a.yml", "models:\n  - name: Org\nauthenticator: {}\n")
	write("nested/c.yaml", "models:\n  - name: Issue\n")
	write("notes.txt", "ignored")

	s, err := spec.Load(dir)
	require.NoError(t, err)
	var names []string
	for _, m := range s.Models {
		names = append(names, m.Name)
	}
	require.Equal(t, []string{"Org", "Repo", "Issue"}, names)
	require.NotNil(t, s.Authenticator)

	write("d.yaml", "authenticator: {userModel: Member}\n")
	_, err = spec.Load(dir)
	require.ErrorContains(t, err, "authenticator declared more than once")
}
