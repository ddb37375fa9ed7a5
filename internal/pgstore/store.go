// Package pgstore implements executor.Store over PostgreSQL with pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hanpama/modelgate/internal/executor"
	"github.com/hanpama/modelgate/internal/ir"
	"github.com/hanpama/modelgate/internal/logger"
)

// PostgreSQL error codes mapped to executor constraint errors.
const (
	codeNotNullViolation    = "23502"
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeDuplicateObject     = "42710"
)

type Store struct {
	pool *pgxpool.Pool
	def  *ir.Definition
	log  logger.Logger
}

// Open connects a pool to url and checks the connection.
func Open(ctx context.Context, url string, def *ir.Definition, log logger.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool, def, log), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, def *ir.Definition, log logger.Logger) *Store {
	if log == nil {
		log = logger.NopLogger
	}
	return &Store{pool: pool, def: def, log: log}
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Begin(ctx context.Context) (executor.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx runs statements inside one pgx transaction.
type Tx struct {
	tx pgx.Tx
}

var _ executor.Tx = (*Tx)(nil)

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func columns(m *ir.ModelDef) string {
	cols := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = ident(f.DBName)
	}
	return strings.Join(cols, ", ")
}

func (t *Tx) Select(ctx context.Context, model *ir.ModelDef, where *executor.Where) ([]executor.Row, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s", columns(model), ident(model.DBName))
	var args []any
	if where != nil {
		f := fieldByName(model, where.Field)
		if f == nil {
			return nil, fmt.Errorf("unknown field %s.%s", model.Name, where.Field)
		}
		arr, err := typedArray(f, where.Values)
		if err != nil {
			return nil, err
		}
		sql += fmt.Sprintf(" WHERE %s = ANY($1)", ident(f.DBName))
		args = append(args, arr)
	}
	sql += " ORDER BY " + ident("id")
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return collectRows(model, rows)
}

func (t *Tx) Insert(ctx context.Context, model *ir.ModelDef, values executor.Row) (executor.Row, error) {
	var cols, params []string
	var args []any
	for _, f := range model.Fields {
		if f.Primary {
			continue
		}
		args = append(args, values[f.Name])
		cols = append(cols, ident(f.DBName))
		params = append(params, fmt.Sprintf("$%d", len(args)))
	}
	var sql string
	if len(cols) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", ident(model.DBName))
	} else {
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident(model.DBName), strings.Join(cols, ", "), strings.Join(params, ", "))
	}
	sql += " RETURNING " + columns(model)
	return t.one(ctx, model, sql, args)
}

func (t *Tx) Update(ctx context.Context, model *ir.ModelDef, id int64, values executor.Row) (executor.Row, error) {
	var sets []string
	var args []any
	for _, f := range model.Fields {
		v, ok := values[f.Name]
		if !ok || f.Primary {
			continue
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(f.DBName), len(args)))
	}
	if len(sets) == 0 {
		rows, err := t.Select(ctx, model, &executor.Where{Field: "id", Values: []any{id}})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, executor.ErrNoRows
		}
		return rows[0], nil
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING %s",
		ident(model.DBName), strings.Join(sets, ", "), ident("id"), len(args), columns(model))
	return t.one(ctx, model, sql, args)
}

func (t *Tx) Delete(ctx context.Context, model *ir.ModelDef, id int64) error {
	tag, err := t.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = $1", ident(model.DBName), ident("id")), id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return executor.ErrNoRows
	}
	return nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return executor.ErrTxDone
		}
		return mapError(err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (t *Tx) one(ctx context.Context, model *ir.ModelDef, sql string, args []any) (executor.Row, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	out, err := collectRows(model, rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, executor.ErrNoRows
	}
	return out[0], nil
}

func collectRows(model *ir.ModelDef, rows pgx.Rows) ([]executor.Row, error) {
	defer rows.Close()
	var out []executor.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(executor.Row, len(model.Fields))
		for i, f := range model.Fields {
			row[f.Name] = scanValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// scanValue converts a decoded column to the executor representation.
func scanValue(v any) any {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}

func fieldByName(m *ir.ModelDef, name string) *ir.FieldDef {
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// typedArray converts values to a slice pgx encodes as an array of the
// column type.
func typedArray(f *ir.FieldDef, values []any) (any, error) {
	switch f.Type {
	case ir.TypeInteger:
		out := make([]int64, 0, len(values))
		for _, v := range values {
			switch n := v.(type) {
			case int64:
				out = append(out, n)
			case int:
				out = append(out, int64(n))
			case float64:
				out = append(out, int64(n))
			case nil:
			default:
				return nil, fmt.Errorf("%s: %T is not an integer", f.RefKey, v)
			}
		}
		return out, nil
	case ir.TypeFloat:
		out := make([]float64, 0, len(values))
		for _, v := range values {
			switch n := v.(type) {
			case float64:
				out = append(out, n)
			case int64:
				out = append(out, float64(n))
			case nil:
			default:
				return nil, fmt.Errorf("%s: %T is not a float", f.RefKey, v)
			}
		}
		return out, nil
	case ir.TypeBoolean:
		out := make([]bool, 0, len(values))
		for _, v := range values {
			if b, ok := v.(bool); ok {
				out = append(out, b)
			}
		}
		return out, nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// mapError translates constraint violations to executor errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, executor.ErrUniqueViolation)
	case codeForeignKeyViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, executor.ErrForeignKeyViolation)
	case codeNotNullViolation:
		return fmt.Errorf("%s.%s: %w", pgErr.TableName, pgErr.ColumnName, executor.ErrNotNullViolation)
	}
	return err
}
