package ir

import (
	"fmt"
	"strings"

	"github.com/hanpama/modelgate/internal/spec"
)

func (b *builder) composeApis() {
	api := &ApiDef{Name: "default"}
	base := &scope{aliases: make(map[string]string)}
	if b.def.Authenticator != nil {
		base.aliases[AuthAlias] = b.def.Authenticator.UserModel
	}
	for _, es := range b.spec.Entrypoints {
		ep, err := b.composeEntrypoint(es, nil, base, nil, "entrypoint "+es.Target)
		if err != nil {
			b.addError(err, "entrypoint "+es.Target)
			continue
		}
		api.Entrypoints = append(api.Entrypoints, ep)
	}
	b.def.Apis = []*ApiDef{api}
}

// composeEntrypoint composes an entrypoint and its nested entrypoints. Endpoint
// failures are reported individually so that one bad endpoint does not hide others.
func (b *builder) composeEntrypoint(es *spec.Entrypoint, parents []*TargetDef, sc *scope, authorize []*spec.Expr, where string) (*EntrypointDef, error) {
	target, err := b.composeTarget(es, parents)
	if err != nil {
		return nil, err
	}
	if _, taken := sc.aliases[target.Alias]; taken {
		return nil, errAliasCollision(target.Alias)
	}
	if es.Authorize != nil {
		authorize = append(append([]*spec.Expr{}, authorize...), es.Authorize)
	}
	ep := &EntrypointDef{Name: target.Name, Target: target}

	for _, ends := range es.Endpoints {
		endpointWhere := where + " > " + ends.Kind
		e, err := b.composeEndpoint(es, ends, parents, target, sc, authorize)
		if err != nil {
			b.addError(err, endpointWhere)
			continue
		}
		ep.Endpoints = append(ep.Endpoints, e)
	}

	if len(es.Entrypoints) > 0 {
		if target.Cardinality == CardinalityMany && target.Identify == nil {
			return nil, failf(fmt.Sprintf("entrypoint %s can't nest entrypoints without an identifier", target.Name))
		}
		childScope := sc.clone()
		if err := childScope.bind(target.Alias, target.RetType); err != nil {
			return nil, err
		}
		childParents := append(append([]*TargetDef{}, parents...), target)
		for _, child := range es.Entrypoints {
			childWhere := where + " > " + child.Target
			c, err := b.composeEntrypoint(child, childParents, childScope, authorize, childWhere)
			if err != nil {
				b.addError(err, childWhere)
				continue
			}
			ep.Entrypoints = append(ep.Entrypoints, c)
		}
	}
	return ep, nil
}

func (b *builder) composeTarget(es *spec.Entrypoint, parents []*TargetDef) (*TargetDef, error) {
	t := &TargetDef{Name: es.Target}
	if len(parents) == 0 {
		m := b.model(es.Target)
		if m == nil {
			return nil, failf(fmt.Sprintf("model %s is not defined", es.Target))
		}
		t.Kind = TargetModel
		t.NamePath = []string{m.Name}
		t.RefKey = m.RefKey
		t.RetType = m.Name
		t.Cardinality = CardinalityMany
	} else {
		parent := parents[len(parents)-1]
		pm := b.model(parent.RetType)
		kind, member := pm.Member(es.Target)
		t.NamePath = []string{pm.Name, es.Target}
		switch kind {
		case MemberReference:
			r := member.(*ReferenceDef)
			t.Kind, t.RefKey, t.RetType, t.Cardinality = TargetReference, r.RefKey, r.ToModelRefKey, CardinalityOne
		case MemberRelation:
			r := member.(*RelationDef)
			t.Kind, t.RefKey, t.RetType, t.Cardinality = TargetRelation, r.RefKey, r.FromModelRefKey, CardinalityMany
			if r.Unique {
				t.Cardinality = CardinalityOne
			}
		case MemberQuery:
			q := member.(*QueryDef)
			t.Kind, t.RefKey, t.RetType, t.Cardinality = TargetQuery, q.RefKey, q.TargetModel, q.Cardinality
		default:
			return nil, failf(fmt.Sprintf("%s is not a reference, relation or query of %s", es.Target, pm.Name))
		}
	}

	t.Alias = es.Alias
	if t.Alias == "" {
		t.Alias = lowerFirst(es.Target)
	}
	if t.Cardinality == CardinalityMany {
		field := es.Identify
		if field == "" {
			field = "id"
		}
		m := b.model(t.RetType)
		f := m.FieldByName(field)
		if f == nil {
			return nil, failf(fmt.Sprintf("identifier %s is not a field of %s", field, m.Name))
		}
		if !f.Unique {
			return nil, failf(fmt.Sprintf("identifier %s.%s must be unique", m.Name, field))
		}
		t.Identify = &IdentifierDef{Field: f.Name, RefKey: f.RefKey, Type: f.Type, ParamName: t.Alias + "_" + f.Name}
	} else if es.Identify != "" {
		return nil, failf(fmt.Sprintf("entrypoint %s targets a single record and can't declare an identifier", es.Target))
	}
	return t, nil
}

func (b *builder) composeEndpoint(es *spec.Entrypoint, ends *spec.Endpoint, parents []*TargetDef, target *TargetDef, parentScope *scope, authorize []*spec.Expr) (EndpointDef, error) {
	kind := EndpointKind(ends.Kind)
	bindsTarget := false
	switch kind {
	case KindGet, KindUpdate, KindDelete, KindCustomOne:
		bindsTarget = true
		if target.Cardinality == CardinalityMany && target.Identify == nil {
			return nil, failf(fmt.Sprintf("%s endpoint needs an identifier", kind))
		}
	case KindList, KindCreate, KindCustomMany:
		if target.Cardinality != CardinalityMany {
			return nil, failf(fmt.Sprintf("%s endpoint needs a collection target, %s is a single record", kind, target.Name))
		}
	default:
		return nil, failf(fmt.Sprintf("unknown endpoint kind %q", ends.Kind))
	}
	if kind != KindCustomOne && kind != KindCustomMany && (ends.Method != "" || ends.Path != "") {
		return nil, failf("only custom endpoints declare a method and a path")
	}
	if kind != KindList && (ends.Pageable || ends.Filter != nil || len(ends.OrderBy) > 0) {
		return nil, failf("only list endpoints are pageable, filtered or ordered")
	}
	if len(ends.Actions) > 0 && (kind == KindGet || kind == KindList) {
		return nil, failf(fmt.Sprintf("%s endpoints have no actions", kind))
	}

	sc := parentScope.clone()
	if bindsTarget {
		if err := sc.bind(target.Alias, target.RetType); err != nil {
			return nil, err
		}
	}

	base := EndpointBase{Parents: parents, Target: target}
	if ends.Authorize != nil {
		authorize = append(append([]*spec.Expr{}, authorize...), ends.Authorize)
	}
	var err error
	base.Authorize, err = b.composeAuthorize(authorize, sc)
	if err != nil {
		return nil, err
	}
	base.AuthorizeDependsOnAuth = dependsOnAuth(base.Authorize)

	var parent *TargetDef
	if len(parents) > 0 {
		parent = parents[len(parents)-1]
	}
	method := normalizeMethod(ends.Method, kind)
	as := &actionSet{endpoint: kind, method: method, target: target, parent: parent, sc: sc, fieldset: newFieldsetBuilder()}
	if kind != KindGet && kind != KindList {
		base.Actions, err = b.composeActions(ends.Actions, as)
		if err != nil {
			return nil, err
		}
		base.Fieldset = as.fieldset.build()
	}

	switch kind {
	case KindGet, KindList, KindCreate, KindUpdate:
		resp := ends.Response
		if resp == nil {
			resp = es.Response
		}
		base.Response, err = b.composeSelect(resp, target.RetType)
		if err != nil {
			return nil, err
		}
	}

	switch kind {
	case KindGet:
		return &GetEndpointDef{EndpointBase: base}, nil
	case KindList:
		list := &ListEndpointDef{EndpointBase: base, Pageable: ends.Pageable}
		lsc := parentScope.clone()
		lsc.from = target.NamePath
		if ends.Filter != nil {
			list.Filter, err = b.composeExpression(ends.Filter, lsc)
			if err != nil {
				return nil, err
			}
			if !assignable(TypeBoolean, list.Filter.Type()) {
				return nil, errTypeMismatch("list filter", "boolean", list.Filter.Type())
			}
		}
		for _, os := range ends.OrderBy {
			e, err := b.composeIdentifier(os.Path, lsc)
			if err != nil {
				return nil, err
			}
			list.OrderBy = append(list.OrderBy, &OrderDef{Expr: e, Desc: os.Desc})
		}
		return list, nil
	case KindCreate:
		return &CreateEndpointDef{EndpointBase: base}, nil
	case KindUpdate:
		return &UpdateEndpointDef{EndpointBase: base}, nil
	case KindDelete:
		return &DeleteEndpointDef{EndpointBase: base}, nil
	}

	path := strings.Trim(ends.Path, "/")
	if path == "" {
		return nil, failf("custom endpoint needs a path")
	}
	if kind == KindCustomOne {
		return &CustomOneEndpointDef{EndpointBase: base, Method: method, Path: path}, nil
	}
	return &CustomManyEndpointDef{EndpointBase: base, Method: method, Path: path}, nil
}

// composeAuthorize chains authorize expressions from the outermost entrypoint
// inward with "and".
func (b *builder) composeAuthorize(exprs []*spec.Expr, sc *scope) (TypedExprDef, error) {
	var out TypedExprDef
	for _, e := range exprs {
		typed, err := b.composeExpression(e, sc)
		if err != nil {
			return nil, fmt.Errorf("authorize: %w", err)
		}
		if !assignable(TypeBoolean, typed.Type()) {
			return nil, errTypeMismatch("authorize", "boolean", typed.Type())
		}
		if out == nil {
			out = typed
			continue
		}
		out = &FunctionExpr{Name: FnAnd, Args: []TypedExprDef{out, typed}, VarType: VarType{Kind: TypeBoolean}}
	}
	return out, nil
}

// dependsOnAuth reports whether e reads anything rooted at the authenticated user.
func dependsOnAuth(e TypedExprDef) bool {
	found := false
	WalkExpr(e, func(e TypedExprDef) {
		switch e := e.(type) {
		case *AliasExpr:
			found = found || (e.Source == SourceContext && e.NamePath[0] == AuthAlias)
		case *AggregateFunctionExpr:
			found = found || (e.Source == SourceContext && e.SourcePath[0] == AuthAlias)
		case *InSubqueryExpr:
			found = found || (e.Source == SourceContext && e.SourcePath[0] == AuthAlias)
		}
	})
	return found
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
