package ir

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/hanpama/modelgate/internal/spec"
)

// actionSet carries endpoint-wide state while the actions of one endpoint are
// composed in order.
type actionSet struct {
	endpoint EndpointKind
	method   string
	target   *TargetDef
	parent   *TargetDef
	sc       *scope
	fieldset *fieldsetBuilder

	hasTarget bool
	responds  bool
}

// defaultActionKind is the action implied by an endpoint when none of its
// actions operates on the endpoint target.
func defaultActionKind(kind EndpointKind, method string) string {
	switch kind {
	case KindCreate:
		return spec.ActionCreate
	case KindUpdate:
		return spec.ActionUpdate
	case KindDelete:
		return spec.ActionDelete
	case KindCustomOne:
		switch method {
		case http.MethodPatch, http.MethodPut:
			return spec.ActionUpdate
		case http.MethodDelete:
			return spec.ActionDelete
		}
	}
	return ""
}

func (as *actionSet) isTargetAction(s *spec.Action) bool {
	switch s.Kind {
	case spec.ActionCreate, spec.ActionUpdate, spec.ActionDelete:
	default:
		return false
	}
	return len(s.Target) == 0 || (len(s.Target) == 1 && s.Target[0] == as.target.Alias)
}

func (b *builder) composeActions(specs []*spec.Action, as *actionSet) ([]ActionDef, error) {
	list := specs
	if kind := defaultActionKind(as.endpoint, as.method); kind != "" {
		explicit := false
		for _, s := range specs {
			if as.isTargetAction(s) {
				explicit = true
			}
		}
		if !explicit {
			list = append([]*spec.Action{{Kind: kind}}, specs...)
		}
	}
	var out []ActionDef
	for _, s := range list {
		a, err := b.composeAction(s, as)
		if err != nil {
			return nil, fmt.Errorf("%s action: %w", s.Kind, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (b *builder) composeAction(s *spec.Action, as *actionSet) (ActionDef, error) {
	if as.isTargetAction(s) {
		return b.composeTargetAction(s, as)
	}
	switch s.Kind {
	case spec.ActionCreate:
		return b.composeCreateInContext(s, as)
	case spec.ActionUpdate:
		return b.composeUpdateInContext(s, as)
	case spec.ActionDelete:
		return b.composeDeleteInContext(s, as)
	case spec.ActionExecute:
		return b.composeExecute(s, as)
	case spec.ActionFetch:
		return b.composeFetch(s, as)
	}
	return nil, failf(fmt.Sprintf("unknown action kind %q", s.Kind))
}

// composeTargetAction composes an action on the endpoint target. Its kind must
// match the endpoint and at most one such action is allowed.
func (b *builder) composeTargetAction(s *spec.Action, as *actionSet) (ActionDef, error) {
	if as.hasTarget {
		return nil, failf("only one action may operate on the endpoint target")
	}
	as.hasTarget = true
	want := defaultActionKind(as.endpoint, as.method)
	if want == "" {
		switch {
		case as.endpoint == KindCustomOne && s.Kind != spec.ActionCreate:
			want = s.Kind
		case as.endpoint == KindCustomMany && s.Kind == spec.ActionCreate:
			want = s.Kind
		}
	}
	if s.Kind != want {
		return nil, failf(fmt.Sprintf("%s action on the endpoint target is not allowed in a %s endpoint", s.Kind, as.endpoint))
	}
	target := as.target
	m := b.model(target.RetType)
	switch s.Kind {
	case spec.ActionCreate:
		if s.Alias != "" && s.Alias != target.Alias {
			return nil, failf(fmt.Sprintf("create action on the endpoint target can't be re-aliased to %s", s.Alias))
		}
		fixed, err := b.targetParentSetter(as)
		if err != nil {
			return nil, err
		}
		cs, err := b.composeChangeset(m, s, spec.ActionCreate, nil, fixed, as)
		if err != nil {
			return nil, err
		}
		if err := as.sc.bind(target.Alias, m.Name); err != nil {
			return nil, err
		}
		return &CreateOneAction{Alias: target.Alias, Model: m.Name, Changeset: cs, IsPrimary: true}, nil
	case spec.ActionUpdate:
		if s.Alias != "" && s.Alias != target.Alias {
			return nil, failf(fmt.Sprintf("update action on the endpoint target can't be re-aliased to %s", s.Alias))
		}
		cs, err := b.composeChangeset(m, s, spec.ActionUpdate, nil, nil, as)
		if err != nil {
			return nil, err
		}
		return &UpdateOneAction{Alias: target.Alias, Model: m.Name, IDPath: []string{target.Alias, "id"}, Changeset: cs, IsPrimary: true}, nil
	default:
		return &DeleteOneAction{Model: m.Name, IDPath: []string{target.Alias, "id"}, IsPrimary: true}, nil
	}
}

// targetParentSetter links a record created on a relation target to the
// parent record of the endpoint.
func (b *builder) targetParentSetter(as *actionSet) (Changeset, error) {
	switch as.target.Kind {
	case TargetModel:
		return nil, nil
	case TargetRelation:
		rel := b.refs[as.target.RefKey].(*RelationDef)
		ref := b.refs[rel.ThroughRefKey].(*ReferenceDef)
		field := b.refs[ref.FieldRefKey].(*FieldDef)
		return Changeset{{
			Name:   field.Name,
			Setter: &SetterReferenceValue{Path: []string{as.parent.Alias, "id"}, Type: VarType{Kind: TypeInteger}},
		}}, nil
	}
	return nil, failf(fmt.Sprintf("records can't be created through %s %s", as.target.Kind, as.target.Name))
}

func (b *builder) composeCreateInContext(s *spec.Action, as *actionSet) (ActionDef, error) {
	if len(s.Target) == 0 {
		return nil, failf("create action needs a target")
	}
	if s.Alias == "" {
		return nil, failf(fmt.Sprintf("create action on %s needs an alias", pathString(s.Target)))
	}
	var m *ModelDef
	var fixed Changeset
	if _, ok := as.sc.aliases[s.Target[0]]; ok {
		tp, err := b.resolvePath(s.Target, as.sc.aliases)
		if err != nil {
			return nil, err
		}
		if !tp.IsRecord() || len(tp.Nodes) == 0 {
			return nil, failf(fmt.Sprintf("create target %s must end in a relation", pathString(s.Target)))
		}
		last := tp.Nodes[len(tp.Nodes)-1]
		if last.Kind != MemberRelation {
			return nil, failf(fmt.Sprintf("create target %s must end in a relation", pathString(s.Target)))
		}
		names := tp.Names()
		idPath, err := recordIDPath(tp, names[:len(names)-1], len(tp.Nodes)-1)
		if err != nil {
			return nil, err
		}
		rel := b.refs[last.RefKey].(*RelationDef)
		ref := b.refs[rel.ThroughRefKey].(*ReferenceDef)
		field := b.refs[ref.FieldRefKey].(*FieldDef)
		fixed = Changeset{{Name: field.Name, Setter: &SetterReferenceValue{Path: idPath, Type: VarType{Kind: TypeInteger}}}}
		m = b.model(last.Model)
	} else if len(s.Target) == 1 && b.model(s.Target[0]) != nil {
		m = b.model(s.Target[0])
	} else {
		return nil, errNotInContext(s.Target[0])
	}
	cs, err := b.composeChangeset(m, s, spec.ActionCreate, []string{s.Alias}, fixed, as)
	if err != nil {
		return nil, err
	}
	if err := as.sc.bind(s.Alias, m.Name); err != nil {
		return nil, err
	}
	return &CreateOneAction{Alias: s.Alias, Model: m.Name, Changeset: cs}, nil
}

// contextRecord resolves an action target naming a record reachable from the
// context through references only.
func (b *builder) contextRecord(target []string, as *actionSet) (*ModelDef, []string, error) {
	if len(target) == 0 {
		return nil, nil, failf("action needs a target")
	}
	if _, ok := as.sc.aliases[target[0]]; !ok {
		if b.model(target[0]) != nil {
			return nil, nil, failf(fmt.Sprintf("model %s is not a record in the context", target[0]))
		}
		return nil, nil, errNotInContext(target[0])
	}
	tp, err := b.resolvePath(target, as.sc.aliases)
	if err != nil {
		return nil, nil, err
	}
	if !tp.IsRecord() {
		return nil, nil, errNotAModel(target)
	}
	idPath, err := recordIDPath(tp, target, len(tp.Nodes))
	if err != nil {
		return nil, nil, err
	}
	return b.model(tp.TargetModel()), idPath, nil
}

// recordIDPath returns the context path holding the id of the record reached
// by the first n nodes of tp. Those nodes must be non-nullable references.
func recordIDPath(tp *TypedPath, names []string, n int) ([]string, error) {
	for _, node := range tp.Nodes[:n] {
		if node.Kind != MemberReference || node.Nullable {
			return nil, failf(fmt.Sprintf("path %s must only traverse non-nullable references", pathString(names)))
		}
	}
	if n == 0 {
		return []string{names[0], "id"}, nil
	}
	out := append([]string{}, names[:n]...)
	return append(out, names[n]+"_id"), nil
}

func (b *builder) composeUpdateInContext(s *spec.Action, as *actionSet) (ActionDef, error) {
	if s.Alias == "" {
		return nil, failf(fmt.Sprintf("update action on %s needs an alias", pathString(s.Target)))
	}
	m, idPath, err := b.contextRecord(s.Target, as)
	if err != nil {
		return nil, err
	}
	cs, err := b.composeChangeset(m, s, spec.ActionUpdate, []string{s.Alias}, nil, as)
	if err != nil {
		return nil, err
	}
	if err := as.sc.bind(s.Alias, m.Name); err != nil {
		return nil, err
	}
	return &UpdateOneAction{Alias: s.Alias, Model: m.Name, IDPath: idPath, Changeset: cs}, nil
}

func (b *builder) composeDeleteInContext(s *spec.Action, as *actionSet) (ActionDef, error) {
	m, idPath, err := b.contextRecord(s.Target, as)
	if err != nil {
		return nil, err
	}
	return &DeleteOneAction{Model: m.Name, IDPath: idPath}, nil
}

func (b *builder) composeExecute(s *spec.Action, as *actionSet) (ActionDef, error) {
	if s.Hook == nil {
		return nil, failf("execute action needs a hook")
	}
	if s.Responds {
		if as.endpoint != KindCustomOne && as.endpoint != KindCustomMany {
			return nil, failf("only custom endpoints can respond from a hook")
		}
		if as.responds {
			return nil, failf("only one action may respond")
		}
		as.responds = true
	}
	code, err := b.hookCode(s.Hook.HookRef)
	if err != nil {
		return nil, err
	}
	var prefix []string
	if s.Alias != "" {
		prefix = []string{s.Alias}
	}
	sc := as.sc.clone()
	args, err := b.composeHookArgs(s.Hook.Args, sc)
	if err != nil {
		return nil, err
	}
	for _, in := range s.Input {
		typ, err := parseFieldType(in.Type)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Field, err)
		}
		if args.Get(in.Field) != nil {
			return nil, errOverlap(in.Field, "set", "input")
		}
		setter, err := b.inputSetter(concatPath(prefix, []string{in.Field}), VarType{Kind: typ}, !in.Optional && in.Default == nil, in.Default, nil, as)
		if err != nil {
			return nil, err
		}
		args = append(args, &ChangesetOperation{Name: in.Field, Setter: setter})
	}
	return &ExecuteHookAction{Alias: s.Alias, Hook: code, Args: args, Responds: s.Responds}, nil
}

func (b *builder) composeFetch(s *spec.Action, as *actionSet) (ActionDef, error) {
	if s.Alias == "" {
		return nil, failf("fetch action needs an alias")
	}
	if s.Query == nil {
		return nil, failf("fetch action needs a query")
	}
	q, err := b.composeQuery("", s.Query, as.sc)
	if err != nil {
		return nil, err
	}
	if err := as.sc.bind(s.Alias, q.TargetModel); err != nil {
		return nil, err
	}
	return &FetchOneAction{Alias: s.Alias, Model: q.TargetModel, Query: q}, nil
}

// composeHookArgs composes hook arguments. Arguments may refer to earlier ones by name.
func (b *builder) composeHookArgs(atoms []*spec.SetAtom, sc *scope) (Changeset, error) {
	sc = sc.clone()
	sc.changeset = make(map[string]VarType)
	for _, a := range atoms {
		sc.changeset[a.Field] = VarType{Kind: TypeUnknown, Nullable: true}
	}
	var cs Changeset
	for _, a := range atoms {
		if cs.Get(a.Field) != nil {
			return nil, failf(fmt.Sprintf("hook argument %s is set more than once", a.Field))
		}
		setter, _, err := b.composeSetAtom(a, sc)
		if err != nil {
			return nil, err
		}
		cs = append(cs, &ChangesetOperation{Name: a.Field, Setter: setter})
	}
	return cs, nil
}

// composeSetAtom composes the value producer of a set atom. The second result
// is the type of the produced value.
func (b *builder) composeSetAtom(a *spec.SetAtom, sc *scope) (FieldSetter, VarType, error) {
	switch {
	case a.Hook != nil:
		code, err := b.hookCode(a.Hook.HookRef)
		if err != nil {
			return nil, VarType{}, err
		}
		args, err := b.composeHookArgs(a.Hook.Args, sc)
		if err != nil {
			return nil, VarType{}, err
		}
		return &SetterHook{Hook: code, Args: args}, VarType{Kind: TypeUnknown, Nullable: true}, nil
	case a.Query != nil:
		q, err := b.composeQuery("", a.Query, sc)
		if err != nil {
			return nil, VarType{}, err
		}
		typ := VarType{Kind: TypeUnknown, Nullable: true}
		if len(q.Select) == 1 {
			if es, ok := q.Select[0].(*ExpressionSelect); ok {
				typ = es.Expr.Type()
				typ.Nullable = true
			}
		}
		return &SetterQuery{Query: q}, typ, nil
	case a.Expr != nil:
		e, err := b.composeExpression(a.Expr, sc)
		if err != nil {
			return nil, VarType{}, err
		}
		setter, err := setterFromExpr(e, sc)
		if err != nil {
			return nil, VarType{}, err
		}
		return setter, e.Type(), nil
	}
	return nil, VarType{}, failf(fmt.Sprintf("set %s needs an expression, a hook or a query", a.Field))
}

func setterFromExpr(e TypedExprDef, sc *scope) (FieldSetter, error) {
	switch e := e.(type) {
	case *LiteralExpr:
		return &SetterLiteral{Value: e.Value}, nil
	case *AliasExpr:
		if e.Source != SourceContext {
			return nil, failf(fmt.Sprintf("%s is not in the context", pathString(e.NamePath)))
		}
		return &SetterReferenceValue{Path: e.NamePath, Type: e.VarType}, nil
	case *VariableExpr:
		if _, ok := sc.changeset[e.Name]; ok {
			return &SetterChangesetReference{Name: e.Name}, nil
		}
		return nil, errNotInContext(e.Name)
	case *FunctionExpr:
		args := make([]FieldSetter, len(e.Args))
		for i, a := range e.Args {
			s, err := setterFromExpr(a, sc)
			if err != nil {
				return nil, err
			}
			args[i] = s
		}
		return &SetterFunction{Name: e.Name, Args: args, Type: e.VarType}, nil
	case *AggregateFunctionExpr, *InSubqueryExpr:
		return nil, failf(fmt.Sprintf("%s can't be used to set a value; use a query", ExprString(e)))
	}
	panic(fmt.Sprintf("unreachable: unknown expression %T", e))
}

// inputSetter registers a fieldset input and returns its setter.
func (b *builder) inputSetter(path []string, typ VarType, required bool, def *spec.Expr, field *FieldDef, as *actionSet) (FieldSetter, error) {
	ff := &FieldsetField{Type: typ.Kind, Nullable: typ.Nullable, Required: required}
	if field != nil {
		ff.Validators = field.Validators
	}
	if err := as.fieldset.add(path, ff); err != nil {
		return nil, err
	}
	in := &SetterFieldsetInput{FieldsetPath: path, Type: typ, Required: required}
	if def != nil {
		e, err := b.composeExpression(def, as.sc)
		if err != nil {
			return nil, err
		}
		if !assignable(typ.Kind, e.Type()) {
			return nil, errTypeMismatch("default of "+pathString(path), string(typ.Kind), e.Type())
		}
		in.Default, err = setterFromExpr(e, as.sc)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

// composeChangeset merges fixed (parent) setters, set atoms, explicit inputs,
// reference inputs and implicit inputs into the changeset of a create or update.
func (b *builder) composeChangeset(m *ModelDef, s *spec.Action, kind string, prefix []string, fixed Changeset, as *actionSet) (Changeset, error) {
	if len(s.Deny) > 1 {
		return nil, failf("at most one deny is allowed per action")
	}
	denied := make(map[string]bool)
	denyAll := false
	if len(s.Deny) == 1 {
		for _, f := range s.Deny[0].Fields {
			if f == "*" {
				denyAll = true
				continue
			}
			if fd := m.FieldByName(f); fd == nil || fd.Primary {
				return nil, failf(fmt.Sprintf("denied field %s is not a field of %s", f, m.Name))
			}
			denied[f] = true
		}
	}

	sets := make(map[string]*spec.SetAtom)
	for _, a := range s.Set {
		f := m.FieldByName(a.Field)
		if f == nil || f.Primary {
			return nil, failf(fmt.Sprintf("%s is not a settable field of %s", a.Field, m.Name))
		}
		if sets[a.Field] != nil {
			return nil, failf(fmt.Sprintf("field %s is set more than once", a.Field))
		}
		sets[a.Field] = a
	}
	inputs := make(map[string]*spec.InputAtom)
	for _, in := range s.Input {
		f := m.FieldByName(in.Field)
		if f == nil || f.Primary {
			return nil, failf(fmt.Sprintf("%s is not a field of %s", in.Field, m.Name))
		}
		if inputs[in.Field] != nil {
			return nil, failf(fmt.Sprintf("field %s is input more than once", in.Field))
		}
		if sets[in.Field] != nil {
			return nil, errOverlap(in.Field, "set", "input")
		}
		if denied[in.Field] {
			return nil, errOverlap(in.Field, "denied", "input")
		}
		inputs[in.Field] = in
	}
	refs := make(map[string]*spec.ReferenceAtom)
	for _, ra := range s.Reference {
		kind, member := m.Member(ra.Name)
		if kind != MemberReference {
			return nil, failf(fmt.Sprintf("%s is not a reference of %s", ra.Name, m.Name))
		}
		ref := member.(*ReferenceDef)
		field := b.refs[ref.FieldRefKey].(*FieldDef)
		if inputs[ra.Name] != nil {
			return nil, errOverlap(ra.Name, "input", "reference")
		}
		if inputs[field.Name] != nil {
			return nil, errOverlap(field.Name, "input", "reference")
		}
		if sets[field.Name] != nil {
			return nil, errOverlap(field.Name, "set", "reference")
		}
		if refs[field.Name] != nil {
			return nil, failf(fmt.Sprintf("reference %s is declared more than once", ra.Name))
		}
		through := b.model(ref.ToModelRefKey).FieldByName(ra.Through)
		if through == nil || !through.Unique {
			return nil, failf(fmt.Sprintf("reference %s must go through a unique field of %s, got %s", ra.Name, ref.ToModelRefKey, ra.Through))
		}
		refs[field.Name] = ra
	}
	for _, op := range fixed {
		if sets[op.Name] != nil || inputs[op.Name] != nil || refs[op.Name] != nil {
			return nil, errOverlap(op.Name, "set by the parent context", "declared by the action")
		}
	}

	sc := as.sc.clone()
	sc.changeset = make(map[string]VarType)
	for _, f := range m.Fields {
		if !f.Primary {
			sc.changeset[f.Name] = f.VarType()
		}
	}

	implicit := CreateFieldsetForModel(m)
	if kind == spec.ActionUpdate {
		implicit = UpdateFieldsetForModel(m)
	}

	cs := append(Changeset{}, fixed...)
	for _, f := range m.Fields {
		if f.Primary || cs.Get(f.Name) != nil {
			continue
		}
		var setter FieldSetter
		var err error
		switch {
		case sets[f.Name] != nil:
			var typ VarType
			setter, typ, err = b.composeSetAtom(sets[f.Name], sc)
			if err == nil && !assignable(f.Type, typ) {
				err = errTypeMismatch("set "+f.Name, string(f.Type), typ)
			}
		case inputs[f.Name] != nil:
			in := inputs[f.Name]
			required := kind == spec.ActionCreate && !in.Optional && in.Default == nil
			setter, err = b.inputSetter(concatPath(prefix, []string{f.Name}), f.VarType(), required, in.Default, f, as)
		case refs[f.Name] != nil:
			setter, err = b.referenceSetter(m, refs[f.Name], kind, prefix, as)
		case denyAll || denied[f.Name]:
			continue
		default:
			ff := implicit.Property(f.Name).(*FieldsetField)
			setter, err = b.inputSetter(concatPath(prefix, []string{f.Name}), f.VarType(), ff.Required, nil, f, as)
		}
		if err != nil {
			return nil, err
		}
		cs = append(cs, &ChangesetOperation{Name: f.Name, Setter: setter})
	}
	return cs, nil
}

func (b *builder) referenceSetter(m *ModelDef, ra *spec.ReferenceAtom, kind string, prefix []string, as *actionSet) (FieldSetter, error) {
	_, member := m.Member(ra.Name)
	ref := member.(*ReferenceDef)
	through := b.model(ref.ToModelRefKey).FieldByName(ra.Through)
	required := kind == spec.ActionCreate && !ref.Nullable
	path := concatPath(prefix, []string{ra.Name})
	ff := &FieldsetField{Type: through.Type, Nullable: ref.Nullable, Required: required}
	if err := as.fieldset.add(path, ff); err != nil {
		return nil, err
	}
	return &SetterFieldsetReferenceInput{
		FieldsetPath: path,
		Model:        ref.ToModelRefKey,
		Through:      through.Name,
		Type:         VarType{Kind: through.Type, Nullable: ref.Nullable},
		Required:     required,
	}, nil
}

// normalizeMethod upper-cases an HTTP method, defaulting by endpoint kind.
func normalizeMethod(method string, kind EndpointKind) string {
	if method == "" {
		if kind == KindCustomOne || kind == KindCustomMany {
			return http.MethodPost
		}
		return ""
	}
	return strings.ToUpper(method)
}
