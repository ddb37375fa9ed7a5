package executor_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
)

func TestValidate(t *testing.T) {
	f := newFixture(t)
	create := ir.CreateFieldsetForModel(f.def.Model("Org"))
	update := ir.UpdateFieldsetForModel(f.def.Model("Org"))

	type testCase struct {
		name     string
		fs       ir.FieldsetDef
		value    any
		markers  executor.Markers
		expected any
	}
	for _, tc := range []testCase{
		{
			name:  "valid",
			fs:    create,
			value: map[string]any{"slug": "acme", "name": "Acme", "description": nil},
		},
		{
			name:     "not an object",
			fs:       create,
			value:    []any{1},
			expected: []string{"type"},
		},
		{
			name:     "validators and markers",
			fs:       create,
			value:    map[string]any{"slug": "a b", "name": "Acme"},
			markers:  executor.Markers{"slug": "already-exists"},
			expected: map[string]any{"slug": []string{"is-slug", "already-exists"}},
		},
		{
			name:     "max length",
			fs:       create,
			value:    map[string]any{"slug": "acme", "name": "0123456789012345678901234567890123456789x"},
			expected: map[string]any{"name": []string{"max-length"}},
		},
		{
			name:  "update accepts a partial body",
			fs:    update,
			value: map[string]any{"name": "Acme"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := executor.Validate(context.Background(), tc.fs, tc.value, tc.markers, nil)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.expected, got); diff != "" {
				t.Errorf("Error tree mismatch (-expected +got):\n%s", diff)
			}
		})
	}
}
