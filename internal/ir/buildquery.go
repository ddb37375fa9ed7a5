package ir

import (
	"fmt"

	"github.com/hanpama/modelgate/internal/spec"
)

func (b *builder) defineQuery(model string, qs *spec.Query) (*QueryDef, error) {
	key := refKey(model, qs.Name)
	if q, ok := b.refs[key].(*QueryDef); ok {
		return q, nil
	}
	m := b.model(model)
	if m == nil {
		return nil, errUnknownModel(model)
	}
	q, err := b.composeQuery(model, qs, nil)
	if err != nil {
		return nil, err
	}
	q.RefKey = key
	q.Name = qs.Name
	m.Queries = append(m.Queries, q)
	b.refs[key] = q
	return q, nil
}

func (b *builder) defineAggregate(model string, qs *spec.Query) (*AggregateDef, error) {
	key := refKey(model, qs.Name)
	if a, ok := b.refs[key].(*AggregateDef); ok {
		return a, nil
	}
	m := b.model(model)
	if m == nil {
		return nil, errUnknownModel(model)
	}
	a, err := b.composeAggregate(model, qs)
	if err != nil {
		return nil, err
	}
	a.RefKey = key
	a.Name = qs.Name
	m.Aggregates = append(m.Aggregates, a)
	b.refs[key] = a
	return a, nil
}

func (b *builder) composeAggregate(model string, qs *spec.Query) (*AggregateDef, error) {
	fn := qs.Aggregate.Fn
	if fn != AggregateCount && fn != AggregateSum {
		return nil, failf(fmt.Sprintf("unknown aggregate function %q", fn))
	}
	plain := *qs
	plain.Select = nil
	plain.Aggregate = nil
	q, err := b.composeQuery(model, &plain, nil)
	if err != nil {
		return nil, err
	}
	a := &AggregateDef{
		ModelRefKey: model,
		AggrFnName:  fn,
		TargetPath:  append([]string{}, q.FromPath[1:]...),
		Type:        VarType{Kind: TypeInteger},
		Query:       q,
	}
	if fn == AggregateSum {
		target := b.model(q.TargetModel)
		f := target.FieldByName(qs.Aggregate.Field)
		if f == nil {
			return nil, errUnknownMember(target.Name, qs.Aggregate.Field)
		}
		if !f.VarType().IsNumeric() {
			return nil, failf(fmt.Sprintf("sum expects a numeric field, %s is %s", f.RefKey, f.Type))
		}
		a.TargetPath = append(a.TargetPath, f.Name)
		a.Type = VarType{Kind: f.Type}
	}
	return a, nil
}

// composeQuery composes a query owned by model. When ctx is given the query
// belongs to an action: its from path may start with a context alias or name
// a model directly. Filter identifiers resolve against the from record first
// and then against the query root.
func (b *builder) composeQuery(model string, qs *spec.Query, ctx *scope) (*QueryDef, error) {
	q := &QueryDef{ModelRefKey: model, Limit: qs.Limit, Offset: qs.Offset}
	standalone := false
	switch {
	case ctx == nil:
		q.FromPath = concatPath([]string{model}, qs.From)
	case len(qs.From) == 0:
		return nil, failf("query needs a from path")
	default:
		if root, ok := ctx.aliases[qs.From[0]]; ok {
			q.RootAlias = qs.From[0]
			q.ModelRefKey = root
			q.FromPath = concatPath([]string{root}, qs.From[1:])
		} else if b.model(qs.From[0]) != nil {
			q.ModelRefKey = qs.From[0]
			q.FromPath = append([]string{}, qs.From...)
			standalone = true
		} else {
			return nil, errNotInContext(qs.From[0])
		}
	}
	if (q.Limit != nil && *q.Limit < 0) || (q.Offset != nil && *q.Offset < 0) {
		return nil, failf("limit and offset must not be negative")
	}

	fromTP, err := b.resolvePath(q.FromPath, nil)
	if err != nil {
		return nil, err
	}
	if !fromTP.IsRecord() {
		return nil, errNotAModel(q.FromPath)
	}
	q.TargetModel = fromTP.TargetModel()
	q.Cardinality = CardinalityOne
	if fromTP.firstCollection(0) >= 0 {
		q.Cardinality = CardinalityMany
	}
	if standalone && len(q.FromPath) == 1 {
		q.Cardinality = CardinalityMany
	}

	sc := &scope{from: q.FromPath}
	if len(q.FromPath) > 1 {
		sc.source = q.FromPath[:1]
	}
	if ctx != nil {
		sc.aliases = ctx.aliases
		sc.variables = ctx.variables
	}
	if len(qs.FromAlias) > 0 {
		if len(qs.FromAlias) > len(qs.From) {
			return nil, failf(fmt.Sprintf("query %s has more aliases than from segments", qs.Name))
		}
		sc.fromAliases = make(map[string][]string)
		offset := len(q.FromPath) - len(qs.From)
		for i, alias := range qs.FromAlias {
			if _, dup := sc.fromAliases[alias]; dup {
				return nil, errAliasCollision(alias)
			}
			sc.fromAliases[alias] = q.FromPath[:offset+i+1]
		}
		q.FromAlias = append([]string{}, qs.FromAlias...)
	}

	if qs.Filter != nil {
		q.Filter, err = b.composeExpression(qs.Filter, sc)
		if err != nil {
			return nil, err
		}
		if !assignable(TypeBoolean, q.Filter.Type()) {
			return nil, errTypeMismatch("query filter", "boolean", q.Filter.Type())
		}
	}

	if !standalone {
		if err := b.checkSingleTarget(qs.Name, q); err != nil {
			return nil, err
		}
	}

	for _, os := range qs.OrderBy {
		e, err := b.composeIdentifier(os.Path, sc)
		if err != nil {
			return nil, err
		}
		q.OrderBy = append(q.OrderBy, &OrderDef{Expr: e, Desc: os.Desc})
	}

	q.Select, err = b.composeSelect(qs.Select, q.TargetModel)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// checkSingleTarget requires the from path and every model path in the filter
// to leave the query root through the same first hop. Filter paths that stay
// on the root record don't count.
func (b *builder) checkSingleTarget(name string, q *QueryDef) error {
	paths := [][]string{q.FromPath}
	WalkExpr(q.Filter, func(e TypedExprDef) {
		switch e := e.(type) {
		case *AliasExpr:
			if e.Source == SourceModel {
				paths = append(paths, e.NamePath)
			}
		case *AggregateFunctionExpr:
			if e.Source == SourceModel {
				paths = append(paths, e.SourcePath)
			}
		case *InSubqueryExpr:
			if e.Source == SourceModel {
				paths = append(paths, e.SourcePath)
			}
		}
	})
	children := make(map[string]bool)
	for _, p := range paths {
		tp, err := b.resolvePath(p, nil)
		if err != nil {
			return err
		}
		if len(tp.Nodes) > 0 {
			children[tp.Nodes[0].Name] = true
		}
	}
	if len(children) != 1 {
		return errAmbiguousQueryTarget(name)
	}
	return nil
}

// composeSelect composes a select list over records of model. Without items
// every field of the model is selected.
func (b *builder) composeSelect(items []*spec.Select, model string) ([]SelectItem, error) {
	m := b.model(model)
	if m == nil {
		return nil, errUnknownModel(model)
	}
	if len(items) == 0 {
		return defaultSelect(m), nil
	}
	sc := modelScope(model)
	var out []SelectItem
	seen := make(map[string]bool)
	for _, it := range items {
		if seen[it.Name] {
			return nil, failf(fmt.Sprintf("duplicate select alias %s", it.Name))
		}
		seen[it.Name] = true

		path := []string{it.Name}
		if it.Expr != nil {
			if it.Expr.Kind != spec.ExprIdentifier {
				e, err := b.composeExpression(it.Expr, sc)
				if err != nil {
					return nil, err
				}
				out = append(out, &ExpressionSelect{Alias: it.Name, Expr: e})
				continue
			}
			path = it.Expr.Path
		}
		abs := concatPath([]string{model}, path)
		tp, err := b.resolvePath(abs, nil)
		if err != nil {
			return nil, err
		}
		switch {
		case tp.IsRecord():
			if len(tp.Nodes) == 0 {
				return nil, failf(fmt.Sprintf("select %s does not name a member of %s", it.Name, model))
			}
			nested, err := b.composeSelect(it.Select, tp.TargetModel())
			if err != nil {
				return nil, err
			}
			card := CardinalityOne
			if tp.firstCollection(0) >= 0 {
				card = CardinalityMany
			}
			out = append(out, &NestedSelect{
				Alias:       it.Name,
				NamePath:    abs,
				TargetModel: tp.TargetModel(),
				Cardinality: card,
				Nullable:    tp.Nullable(),
				Select:      nested,
			})
		case tp.Leaf.Kind == MemberHook:
			if len(tp.Nodes) > 0 {
				return nil, failf(fmt.Sprintf("hook %s must be selected on its own model", pathString(path)))
			}
			out = append(out, &ModelHookSelect{Alias: it.Name, NamePath: abs, Hook: tp.Leaf.RefKey})
		default:
			if len(it.Select) > 0 {
				return nil, errNotAModel(path)
			}
			e, err := b.composeIdentifier(path, sc)
			if err != nil {
				return nil, err
			}
			out = append(out, &ExpressionSelect{Alias: it.Name, Expr: e})
		}
	}
	return out, nil
}

func defaultSelect(m *ModelDef) []SelectItem {
	out := make([]SelectItem, 0, len(m.Fields))
	for _, f := range m.Fields {
		out = append(out, &ExpressionSelect{
			Alias: f.Name,
			Expr:  &AliasExpr{NamePath: []string{m.Name, f.Name}, Source: SourceModel, VarType: f.VarType()},
		})
	}
	return out
}
