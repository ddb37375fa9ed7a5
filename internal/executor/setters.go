package executor

import (
	"fmt"
	"strings"

	"github.com/hanpama/modelgate/internal/ir"
)

// changesetEval evaluates the operations of one changeset. Values are
// memoized by name so operations can refer to each other.
type changesetEval struct {
	cs      ir.Changeset
	values  map[string]any
	present map[string]bool
	busy    map[string]bool
}

func newChangesetEval(cs ir.Changeset) *changesetEval {
	return &changesetEval{cs: cs, values: make(map[string]any), present: make(map[string]bool), busy: make(map[string]bool)}
}

// evalChangeset returns the values of every operation that produced one.
// Operations reading absent optional inputs are left out.
func (r *run) evalChangeset(cs ir.Changeset) (map[string]any, error) {
	ce := newChangesetEval(cs)
	out := make(map[string]any, len(cs))
	for _, op := range cs {
		v, ok, err := r.operation(ce, op.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			out[op.Name] = v
		}
	}
	return out, nil
}

func (r *run) operation(ce *changesetEval, name string) (any, bool, error) {
	if ce.present[name] {
		return ce.values[name], true, nil
	}
	op := ce.cs.Get(name)
	if op == nil {
		return nil, false, nil
	}
	if ce.busy[name] {
		return nil, false, fmt.Errorf("changeset value %s refers to itself", name)
	}
	ce.busy[name] = true
	v, ok, err := r.setter(ce, op.Setter)
	ce.busy[name] = false
	if err != nil {
		return nil, false, fmt.Errorf("set %s: %w", name, err)
	}
	if ok {
		ce.values[name] = v
		ce.present[name] = true
	}
	return v, ok, nil
}

// setter produces the value of s. ok is false when s reads an absent
// optional input and has no default.
func (r *run) setter(ce *changesetEval, s ir.FieldSetter) (any, bool, error) {
	switch s := s.(type) {
	case *ir.SetterLiteral:
		return normalize(s.Value), true, nil
	case *ir.SetterReferenceValue:
		v, err := r.contextValue(s.Path)
		return v, true, err
	case *ir.SetterFieldsetInput:
		if v, ok := bodyValue(r.body, s.FieldsetPath); ok {
			return v, true, nil
		}
		if s.Default != nil {
			return r.setter(ce, s.Default)
		}
		return nil, false, nil
	case *ir.SetterFieldsetReferenceInput:
		v, ok := r.throughs[fieldsetKey(s.FieldsetPath)]
		return v, ok, nil
	case *ir.SetterFunction:
		args := make([]any, len(s.Args))
		for i, a := range s.Args {
			v, _, err := r.setter(ce, a)
			if err != nil {
				return nil, false, err
			}
			args[i] = v
		}
		v, err := r.apply(s.Name, args, s.Type.Kind)
		return v, true, err
	case *ir.SetterHook:
		args, err := r.evalChangeset(s.Args)
		if err != nil {
			return nil, false, err
		}
		v, err := r.invoke(s.Hook, args)
		return v, true, err
	case *ir.SetterQuery:
		v, err := r.queryValue(s.Query, nil)
		return v, true, err
	case *ir.SetterChangesetReference:
		return r.operation(ce, s.Name)
	}
	panic(fmt.Sprintf("unreachable: unknown setter %T", s))
}

// bodyValue reads the validated request body at path.
func bodyValue(body map[string]any, path []string) (any, bool) {
	var cur any = body
	for _, name := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[name]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func fieldsetKey(path []string) string { return strings.Join(path, ".") }
