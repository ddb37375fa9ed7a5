// Package executor serves the endpoints of a composed definition. Each request
// runs in one store transaction: the target records are resolved, the body is
// validated, actions are executed and the response is projected.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/hanpama/modelgate/internal/ir"
)

// HookInvoker calls hook functions hosted by a runtime.
type HookInvoker interface {
	Invoke(ctx context.Context, hook ir.HookCode, args map[string]any) (any, error)
}

// record is a stored row together with its model.
type record struct {
	model *ir.ModelDef
	row   Row
}

func (r *record) id() int64 {
	id, _ := asInt64(r.row["id"])
	return id
}

// run is the state of one request. It is owned by a single goroutine.
type run struct {
	ctx   context.Context
	def   *ir.Definition
	tx    Tx
	hooks HookInvoker
	now   func() time.Time

	// aliases binds context names to records. A bound nil record means the
	// alias exists but holds no record (an anonymous @auth).
	aliases map[string]*record
	// body is the request body after validation, with numbers coerced.
	body map[string]any
	// throughs holds ids resolved for reference inputs, keyed by fieldset path.
	throughs map[string]any

	cache    map[string][]Row
	regexps  map[string]*regexp.Regexp
	pageSize int64
}

func newRun(ctx context.Context, def *ir.Definition, tx Tx, hooks HookInvoker, now func() time.Time) *run {
	return &run{
		ctx:      ctx,
		def:      def,
		tx:       tx,
		hooks:    hooks,
		now:      now,
		aliases:  make(map[string]*record),
		throughs: make(map[string]any),
		cache:    make(map[string][]Row),
		regexps:  make(map[string]*regexp.Regexp),
		pageSize: DefaultPageSize,
	}
}

func (r *run) bind(alias string, rec *record) { r.aliases[alias] = rec }

// selectRows reads rows through a per-request cache. Writes clear the cache.
func (r *run) selectRows(model *ir.ModelDef, where *Where) ([]Row, error) {
	key := model.Name
	if where != nil {
		key = fmt.Sprintf("%s|%s|%v", model.Name, where.Field, where.Values)
	}
	if rows, ok := r.cache[key]; ok {
		return rows, nil
	}
	rows, err := r.tx.Select(r.ctx, model, where)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", model.Name, err)
	}
	r.cache[key] = rows
	return rows, nil
}

func (r *run) invalidate() { r.cache = make(map[string][]Row) }

func (r *run) records(model *ir.ModelDef, where *Where) ([]*record, error) {
	rows, err := r.selectRows(model, where)
	if err != nil {
		return nil, err
	}
	out := make([]*record, len(rows))
	for i, row := range rows {
		out[i] = &record{model: model, row: row}
	}
	return out, nil
}

// loadByID returns the record of model with id, or nil.
func (r *run) loadByID(model *ir.ModelDef, id any) (*record, error) {
	if id == nil {
		return nil, nil
	}
	recs, err := r.records(model, &Where{Field: "id", Values: []any{id}})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (r *run) insert(model *ir.ModelDef, values Row) (*record, error) {
	r.invalidate()
	row, err := r.tx.Insert(r.ctx, model, values)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", model.Name, err)
	}
	return &record{model: model, row: row}, nil
}

func (r *run) update(model *ir.ModelDef, id int64, values Row) (*record, error) {
	r.invalidate()
	row, err := r.tx.Update(r.ctx, model, id, values)
	if err != nil {
		return nil, fmt.Errorf("update %s %d: %w", model.Name, id, err)
	}
	return &record{model: model, row: row}, nil
}

func (r *run) delete(model *ir.ModelDef, id int64) error {
	r.invalidate()
	if err := r.tx.Delete(r.ctx, model, id); err != nil {
		return fmt.Errorf("delete %s %d: %w", model.Name, id, err)
	}
	return nil
}

func (r *run) invoke(hook ir.HookCode, args map[string]any) (any, error) {
	if r.hooks == nil {
		return nil, fmt.Errorf("hook %s/%s: no hook invoker configured", hook.Runtime, hook.Name)
	}
	v, err := r.hooks.Invoke(r.ctx, hook, args)
	if err != nil {
		return nil, fmt.Errorf("hook %s/%s: %w", hook.Runtime, hook.Name, err)
	}
	return normalize(v), nil
}

// step follows the member called name from rec. Record-valued members return
// the records reached; value members return leaf set to true.
func (r *run) step(rec *record, name string) (recs []*record, val any, leaf bool, err error) {
	kind, member := rec.model.Member(name)
	switch kind {
	case ir.MemberField:
		return nil, rec.row[name], true, nil
	case ir.MemberReference:
		ref := member.(*ir.ReferenceDef)
		field := r.def.Field(ref.FieldRefKey)
		target, err := r.loadByID(r.def.Model(ref.ToModelRefKey), rec.row[field.Name])
		if err != nil || target == nil {
			return nil, nil, false, err
		}
		return []*record{target}, nil, false, nil
	case ir.MemberRelation:
		rel := member.(*ir.RelationDef)
		through := r.def.Field(r.def.Reference(rel.ThroughRefKey).FieldRefKey)
		recs, err := r.records(r.def.Model(rel.FromModelRefKey), &Where{Field: through.Name, Values: []any{rec.id()}})
		return recs, nil, false, err
	case ir.MemberQuery:
		recs, err := r.queryRecords(member.(*ir.QueryDef), rec, nil)
		return recs, nil, false, err
	case ir.MemberAggregate:
		v, err := r.aggregate(member.(*ir.AggregateDef), rec)
		return nil, v, true, err
	case ir.MemberComputed:
		v, err := r.eval(member.(*ir.ComputedDef).Expr, recordEnv(rec))
		return nil, v, true, err
	case ir.MemberHook:
		v, err := r.invokeModelHook(member.(*ir.ModelHookDef), rec)
		return nil, v, true, err
	}
	return nil, nil, false, fmt.Errorf("%s has no member %s", rec.model.Name, name)
}

// walk follows path from every record in start. It returns the records reached
// when path ends in a record and the values reached otherwise.
func (r *run) walk(start []*record, path []string) ([]*record, []any, error) {
	cur := start
	for i, name := range path {
		var next []*record
		var vals []any
		for _, rec := range cur {
			recs, v, leaf, err := r.step(rec, name)
			if err != nil {
				return nil, nil, err
			}
			if leaf {
				if i != len(path)-1 {
					return nil, nil, fmt.Errorf("path %v continues past value %s", path, name)
				}
				vals = append(vals, v)
				continue
			}
			next = append(next, recs...)
		}
		if i == len(path)-1 && vals != nil {
			return nil, vals, nil
		}
		cur = next
	}
	return cur, nil, nil
}

// walkOne follows a path that reaches at most one value or record.
func (r *run) walkOne(start *record, path []string) (*record, any, error) {
	if start == nil {
		return nil, nil, nil
	}
	if len(path) == 0 {
		return start, nil, nil
	}
	recs, vals, err := r.walk([]*record{start}, path)
	if err != nil {
		return nil, nil, err
	}
	if len(vals) > 0 {
		return nil, vals[0], nil
	}
	if len(recs) > 0 {
		return recs[0], nil, nil
	}
	return nil, nil, nil
}

// prefetch loads the records along every context path so later reads hit
// the run cache. Leaf members are not evaluated.
func (r *run) prefetch(paths map[string][][]string) error {
	for alias, ps := range paths {
		rec := r.aliases[alias]
		if rec == nil {
			continue
		}
		for _, p := range ps {
			if len(p) < 3 {
				continue
			}
			if _, _, err := r.walk([]*record{rec}, p[1:len(p)-1]); err != nil {
				return err
			}
		}
	}
	return nil
}

// contextValue reads a path starting with a context alias.
func (r *run) contextValue(path []string) (any, error) {
	_, v, err := r.walkOne(r.aliases[path[0]], path[1:])
	return v, err
}

// contextRecord reads a record path starting with a context alias.
func (r *run) contextRecord(path []string) (*record, error) {
	rec, _, err := r.walkOne(r.aliases[path[0]], path[1:])
	return rec, err
}

func (r *run) aggregate(a *ir.AggregateDef, rec *record) (any, error) {
	recs, err := r.queryRecords(a.Query, rec, nil)
	if err != nil {
		return nil, err
	}
	if a.AggrFnName == ir.AggregateCount {
		return int64(len(recs)), nil
	}
	field := a.TargetPath[len(a.TargetPath)-1]
	vals := make([]any, 0, len(recs))
	for _, t := range recs {
		vals = append(vals, t.row[field])
	}
	return sum(vals, a.Type.Kind), nil
}

func sum(vals []any, kind ir.TypeKind) any {
	if kind == ir.TypeInteger {
		var total int64
		for _, v := range vals {
			if n, ok := asInt64(v); ok {
				total += n
			}
		}
		return total
	}
	var total float64
	for _, v := range vals {
		if f, ok := toFloat(v); ok {
			total += f
		}
	}
	return total
}

func (r *run) invokeModelHook(h *ir.ModelHookDef, rec *record) (any, error) {
	args := make(map[string]any, len(h.Args))
	for _, a := range h.Args {
		if a.Query != nil {
			v, err := r.queryValue(a.Query, rec)
			if err != nil {
				return nil, err
			}
			args[a.Name] = v
			continue
		}
		v, err := r.eval(a.Expr, recordEnv(rec))
		if err != nil {
			return nil, err
		}
		args[a.Name] = v
	}
	return r.invoke(h.Hook, args)
}
