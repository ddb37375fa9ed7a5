package executor

import (
	"fmt"
	"sort"

	"github.com/hanpama/modelgate/internal/ir"
)

// expand follows from starting at root and returns one tuple per joined path.
// tuple[i] is the record reached by from[:i+1]. A nil root starts from every
// record of the model named by from[0], read from the store in full.
func (r *run) expand(from []string, root *record) ([][]*record, error) {
	var starts []*record
	if root != nil {
		starts = []*record{root}
	} else {
		m := r.def.Model(from[0])
		if m == nil {
			return nil, fmt.Errorf("unknown model %s", from[0])
		}
		recs, err := r.records(m, nil)
		if err != nil {
			return nil, err
		}
		starts = recs
	}
	tuples := make([][]*record, len(starts))
	for i, s := range starts {
		tuples[i] = []*record{s}
	}
	for _, name := range from[1:] {
		var next [][]*record
		for _, t := range tuples {
			recs, _, leaf, err := r.step(t[len(t)-1], name)
			if err != nil {
				return nil, err
			}
			if leaf {
				return nil, fmt.Errorf("path %v does not resolve into a model", from)
			}
			for _, rec := range recs {
				joined := make([]*record, len(t)+1)
				copy(joined, t)
				joined[len(t)] = rec
				next = append(next, joined)
			}
		}
		tuples = next
	}
	return tuples, nil
}

// selection describes the records picked from a from path.
type selection struct {
	from    []string
	filter  ir.TypedExprDef
	orderBy []*ir.OrderDef
	vars    map[string]any
}

// pick expands the selection from root, filters and orders the tuples and
// returns their distinct target records.
func (r *run) pick(s selection, root *record) ([]*record, error) {
	tuples, err := r.expand(s.from, root)
	if err != nil {
		return nil, err
	}
	if s.filter != nil {
		kept := tuples[:0]
		for _, t := range tuples {
			ok, err := r.eval(s.filter, &env{from: s.from, tuple: t, vars: s.vars})
			if err != nil {
				return nil, err
			}
			if truthy(ok) {
				kept = append(kept, t)
			}
		}
		tuples = kept
	}
	if len(s.orderBy) > 0 {
		keys := make([][]any, len(tuples))
		for i, t := range tuples {
			en := &env{from: s.from, tuple: t, vars: s.vars}
			keys[i] = make([]any, len(s.orderBy))
			for j, o := range s.orderBy {
				v, err := r.eval(o.Expr, en)
				if err != nil {
					return nil, err
				}
				keys[i][j] = v
			}
		}
		idx := make([]int, len(tuples))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			for j, o := range s.orderBy {
				c := compareValues(keys[idx[a]][j], keys[idx[b]][j])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		sorted := make([][]*record, len(tuples))
		for i, k := range idx {
			sorted[i] = tuples[k]
		}
		tuples = sorted
	}

	seen := make(map[int64]bool, len(tuples))
	out := make([]*record, 0, len(tuples))
	for _, t := range tuples {
		target := t[len(t)-1]
		if seen[target.id()] {
			continue
		}
		seen[target.id()] = true
		out = append(out, target)
	}
	return out, nil
}

// window applies offset and limit. Negative values count as zero.
func window(recs []*record, offset, limit *int64) []*record {
	if offset != nil && *offset > 0 {
		if *offset >= int64(len(recs)) {
			return nil
		}
		recs = recs[*offset:]
	}
	if limit != nil && *limit < int64(len(recs)) {
		recs = recs[:max(*limit, 0)]
	}
	return recs
}

// queryRecords evaluates q. Queries rooted at a context alias start from the
// bound record; other queries start from root, or from every record of their
// first model when root is nil.
func (r *run) queryRecords(q *ir.QueryDef, root *record, vars map[string]any) ([]*record, error) {
	if q.RootAlias != "" {
		root = r.aliases[q.RootAlias]
		if root == nil {
			return nil, nil
		}
	}
	recs, err := r.pick(selection{from: q.FromPath, filter: q.Filter, orderBy: q.OrderBy, vars: vars}, root)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", queryName(q), err)
	}
	return window(recs, q.Offset, q.Limit), nil
}

func queryName(q *ir.QueryDef) string {
	if q.RefKey != "" {
		return q.RefKey
	}
	return fmt.Sprint(q.FromPath)
}

// queryValue evaluates q and projects its select. A query selecting a single
// expression yields that column. Many-queries yield a list.
func (r *run) queryValue(q *ir.QueryDef, root *record) (any, error) {
	recs, err := r.queryRecords(q, root, nil)
	if err != nil {
		return nil, err
	}
	column := ""
	if len(q.Select) == 1 {
		if es, ok := q.Select[0].(*ir.ExpressionSelect); ok {
			column = es.Alias
		}
	}
	rows := make([]any, 0, len(recs))
	for _, rec := range recs {
		obj, err := r.project(q.Select, rec)
		if err != nil {
			return nil, err
		}
		if column != "" {
			rows = append(rows, obj[column])
			continue
		}
		rows = append(rows, obj)
	}
	if q.Cardinality == ir.CardinalityMany {
		return rows, nil
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// findOne requires exactly one record.
func findOne(recs []*record, what string) (*record, error) {
	switch len(recs) {
	case 0:
		return nil, errNotFound(what)
	case 1:
		return recs[0], nil
	}
	return nil, fmt.Errorf("%s: expected one record, found %d", what, len(recs))
}

// project builds the response object of rec for a select list.
func (r *run) project(items []ir.SelectItem, rec *record) (map[string]any, error) {
	out := make(map[string]any, len(items))
	for _, item := range items {
		switch s := item.(type) {
		case *ir.ExpressionSelect:
			v, err := r.eval(s.Expr, recordEnv(rec))
			if err != nil {
				return nil, fmt.Errorf("select %s: %w", s.Alias, err)
			}
			out[s.Alias] = v
		case *ir.NestedSelect:
			recs, _, err := r.walk([]*record{rec}, s.NamePath[1:])
			if err != nil {
				return nil, fmt.Errorf("select %s: %w", s.Alias, err)
			}
			if s.Cardinality == ir.CardinalityMany {
				list := make([]any, 0, len(recs))
				for _, child := range recs {
					obj, err := r.project(s.Select, child)
					if err != nil {
						return nil, err
					}
					list = append(list, obj)
				}
				out[s.Alias] = list
				continue
			}
			if len(recs) == 0 {
				out[s.Alias] = nil
				continue
			}
			obj, err := r.project(s.Select, recs[0])
			if err != nil {
				return nil, err
			}
			out[s.Alias] = obj
		case *ir.ModelHookSelect:
			h := r.def.Hook(s.Hook)
			if h == nil {
				return nil, fmt.Errorf("select %s: unknown hook %s", s.Alias, s.Hook)
			}
			v, err := r.invokeModelHook(h, rec)
			if err != nil {
				return nil, err
			}
			out[s.Alias] = v
		default:
			panic(fmt.Sprintf("unreachable: unknown select item %T", item))
		}
	}
	return out, nil
}
