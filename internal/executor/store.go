package executor

import (
	"context"
	"errors"

	"github.com/hanpama/modelgate/internal/ir"
)

// Row is one stored record keyed by field name. Values are int64, float64,
// string, bool or nil.
type Row map[string]any

// Where restricts a selection to rows whose Field holds one of Values.
// A nil *Where selects every row of the model.
type Where struct {
	Field  string
	Values []any
}

// Store opens transactions. Implementations must be safe for concurrent use.
//
// Filtering, ordering and paging run in the executor. A list endpoint or a
// query rooted at a model selects every row of that model with a nil *Where
// and narrows the result in memory, so a Store sees full table reads for
// those requests.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a unit of work owned by a single request.
//
// Contract
//   - Select returns rows ordered by id. Rows are copies; mutating them does
//     not affect the store.
//   - Insert assigns the id and returns the stored row.
//   - Update writes only the fields present in values and returns the full row,
//     or ErrNoRows when id does not exist.
//   - Unique, reference and not null constraints are enforced by the store and
//     surface as ErrUniqueViolation, ErrForeignKeyViolation and
//     ErrNotNullViolation (possibly wrapped).
//   - Rollback after Commit is a no-op so callers can defer it.
type Tx interface {
	Select(ctx context.Context, model *ir.ModelDef, where *Where) ([]Row, error)
	Insert(ctx context.Context, model *ir.ModelDef, values Row) (Row, error)
	Update(ctx context.Context, model *ir.ModelDef, id int64, values Row) (Row, error)
	Delete(ctx context.Context, model *ir.ModelDef, id int64) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

var (
	ErrNoRows              = errors.New("no rows")
	ErrUniqueViolation     = errors.New("unique constraint violated")
	ErrForeignKeyViolation = errors.New("foreign key constraint violated")
	ErrNotNullViolation    = errors.New("not null constraint violated")
	ErrTxDone              = errors.New("transaction already finished")
)
