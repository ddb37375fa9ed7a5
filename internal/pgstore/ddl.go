package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hanpama/modelgate/internal/ir"
)

func columnType(t ir.TypeKind) string {
	switch t {
	case ir.TypeInteger:
		return "bigint"
	case ir.TypeFloat:
		return "double precision"
	case ir.TypeBoolean:
		return "boolean"
	}
	return "text"
}

// GenerateDDL returns the statements creating the tables of def. Tables come
// first, then foreign keys, so models may reference each other in any order.
// Table statements are idempotent; foreign key statements fail with
// duplicate_object when they already exist.
func GenerateDDL(def *ir.Definition) []string {
	var tables, fks []string
	for _, m := range def.Models {
		var cols []string
		for _, f := range m.Fields {
			if f.Primary {
				cols = append(cols, fmt.Sprintf("%s bigint generated by default as identity primary key", ident(f.DBName)))
				continue
			}
			col := ident(f.DBName) + " " + columnType(f.Type)
			if !f.Nullable {
				col += " not null"
			}
			if f.Unique {
				col += " unique"
			}
			cols = append(cols, col)
		}
		tables = append(tables, fmt.Sprintf("create table if not exists %s (\n  %s\n)",
			ident(m.DBName), strings.Join(cols, ",\n  ")))

		for _, r := range m.References {
			f := def.Field(r.FieldRefKey)
			to := def.Model(r.ToModelRefKey)
			fks = append(fks, fmt.Sprintf("alter table %s add constraint %s foreign key (%s) references %s (%s) on delete restrict",
				ident(m.DBName), ident(m.DBName+"_"+f.DBName+"_fkey"), ident(f.DBName), ident(to.DBName), ident("id")))
		}
	}
	return append(tables, fks...)
}

// Migrate applies GenerateDDL for the store's definition. Constraints that
// already exist are skipped.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range GenerateDDL(s.def) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == codeDuplicateObject {
				s.log.Debugf("ddl skipped (already exists): %s", pgErr.ConstraintName)
				continue
			}
			return fmt.Errorf("apply ddl: %w", err)
		}
	}
	return nil
}
