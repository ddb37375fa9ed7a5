package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/hanpama/modelgate/internal/ir"
)

// MemStore is an in-memory Store. Transactions are serialized: Begin blocks
// until the previous transaction finishes, works on a private copy of every
// table and publishes it on Commit.
type MemStore struct {
	def    *ir.Definition
	lock   chan struct{}
	mu     sync.Mutex
	tables map[string]*memTable
}

type memTable struct {
	rows   []Row
	nextID int64
}

func (t *memTable) clone() *memTable {
	out := &memTable{rows: make([]Row, len(t.rows)), nextID: t.nextID}
	for i, r := range t.rows {
		out.rows[i] = copyRow(r)
	}
	return out
}

func NewMemStore(def *ir.Definition) *MemStore {
	s := &MemStore{def: def, lock: make(chan struct{}, 1), tables: make(map[string]*memTable)}
	for _, m := range def.Models {
		s.tables[m.Name] = &memTable{nextID: 1}
	}
	return s
}

func (s *MemStore) Begin(ctx context.Context) (Tx, error) {
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	tables := make(map[string]*memTable, len(s.tables))
	for name, t := range s.tables {
		tables[name] = t.clone()
	}
	s.mu.Unlock()
	return &memTx{store: s, tables: tables}, nil
}

// Dump returns a copy of the committed rows of model, ordered by id.
func (s *MemStore) Dump(model string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[model]
	if t == nil {
		return nil
	}
	return t.clone().rows
}

type memTx struct {
	store  *MemStore
	tables map[string]*memTable
	done   bool
}

func (tx *memTx) table(model *ir.ModelDef) (*memTable, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	t := tx.tables[model.Name]
	if t == nil {
		return nil, fmt.Errorf("unknown model %s", model.Name)
	}
	return t, nil
}

func (tx *memTx) Select(ctx context.Context, model *ir.ModelDef, where *Where) ([]Row, error) {
	t, err := tx.table(model)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, r := range t.rows {
		if where != nil && !matchesAny(r[where.Field], where.Values) {
			continue
		}
		out = append(out, copyRow(r))
	}
	return out, nil
}

func matchesAny(v any, values []any) bool {
	for _, w := range values {
		if equalValues(v, w) {
			return true
		}
	}
	return false
}

func (tx *memTx) Insert(ctx context.Context, model *ir.ModelDef, values Row) (Row, error) {
	t, err := tx.table(model)
	if err != nil {
		return nil, err
	}
	row := Row{"id": t.nextID}
	for _, f := range model.Fields {
		if f.Primary {
			continue
		}
		row[f.Name] = normalize(values[f.Name])
	}
	if err := tx.check(model, t, row); err != nil {
		return nil, err
	}
	t.nextID++
	t.rows = append(t.rows, row)
	return copyRow(row), nil
}

func (tx *memTx) Update(ctx context.Context, model *ir.ModelDef, id int64, values Row) (Row, error) {
	t, err := tx.table(model)
	if err != nil {
		return nil, err
	}
	for i, r := range t.rows {
		if !equalValues(r["id"], id) {
			continue
		}
		row := copyRow(r)
		for _, f := range model.Fields {
			if v, ok := values[f.Name]; ok && !f.Primary {
				row[f.Name] = normalize(v)
			}
		}
		if err := tx.check(model, t, row); err != nil {
			return nil, err
		}
		t.rows[i] = row
		return copyRow(row), nil
	}
	return nil, ErrNoRows
}

func (tx *memTx) Delete(ctx context.Context, model *ir.ModelDef, id int64) error {
	t, err := tx.table(model)
	if err != nil {
		return err
	}
	for _, other := range tx.store.def.Models {
		for _, ref := range other.References {
			if ref.ToModelRefKey != model.Name {
				continue
			}
			field := tx.store.def.Field(ref.FieldRefKey)
			for _, r := range tx.tables[other.Name].rows {
				if equalValues(r[field.Name], id) {
					return fmt.Errorf("%s %d is referenced by %s: %w", model.Name, id, ref.RefKey, ErrForeignKeyViolation)
				}
			}
		}
	}
	for i, r := range t.rows {
		if equalValues(r["id"], id) {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			return nil
		}
	}
	return ErrNoRows
}

// check enforces not null, unique and reference constraints on row.
func (tx *memTx) check(model *ir.ModelDef, t *memTable, row Row) error {
	for _, f := range model.Fields {
		if f.Primary {
			continue
		}
		if row[f.Name] == nil {
			if !f.Nullable {
				return fmt.Errorf("%s: %w", f.RefKey, ErrNotNullViolation)
			}
			continue
		}
		if !f.Unique {
			continue
		}
		for _, r := range t.rows {
			if !equalValues(r["id"], row["id"]) && equalValues(r[f.Name], row[f.Name]) {
				return fmt.Errorf("%s: %w", f.RefKey, ErrUniqueViolation)
			}
		}
	}
	for _, ref := range model.References {
		field := tx.store.def.Field(ref.FieldRefKey)
		v := row[field.Name]
		if v == nil {
			continue
		}
		found := false
		for _, r := range tx.tables[ref.ToModelRefKey].rows {
			if equalValues(r["id"], v) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s references a missing %s: %w", field.RefKey, ref.ToModelRefKey, ErrForeignKeyViolation)
		}
	}
	return nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.store.mu.Lock()
	tx.store.tables = tx.tables
	tx.store.mu.Unlock()
	<-tx.store.lock
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	<-tx.store.lock
	return nil
}
