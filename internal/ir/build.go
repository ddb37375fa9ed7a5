package ir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hanpama/modelgate/internal/spec"
)

type builder struct {
	spec       *spec.Specification
	def        *Definition
	models     map[string]*ModelDef
	refs       map[string]any
	validators map[string]*ValidatorDecl
	runtimes   map[string]*RuntimeDef

	defaultRuntime string
	violations     []*Violation
	reported       map[string]bool
}

// resolveItem is one entry of the fixpoint worklist.
type resolveItem struct {
	key    string
	define func() error
	err    error
}

// Compose resolves a specification into a Definition. All problems found are
// returned together as a ValidationError.
func Compose(s *spec.Specification) (*Definition, error) {
	b := newBuilder(s)
	if err := b.build(); err != nil {
		return nil, err
	}
	return b.def, nil
}

func newBuilder(s *spec.Specification) *builder {
	return &builder{
		spec:       withAuthenticatorModels(s),
		def:        &Definition{},
		models:     make(map[string]*ModelDef),
		refs:       make(map[string]any),
		validators: make(map[string]*ValidatorDecl),
		runtimes:   make(map[string]*RuntimeDef),
		reported:   make(map[string]bool),
	}
}

func (b *builder) build() error {
	b.defineRuntimes()
	b.defineBuiltinValidators()
	b.resolve(b.collectItems())
	if len(b.violations) > 0 {
		return ValidationError(b.violations)
	}
	b.canonicalize()
	b.defineAuthenticator()
	b.composeApis()
	if len(b.violations) > 0 {
		return ValidationError(b.violations)
	}
	b.def.reindex()
	return nil
}

func (b *builder) addViolation(v *Violation) {
	if b.reported[v.Message+v.Where] {
		return
	}
	b.reported[v.Message+v.Where] = true
	b.violations = append(b.violations, v)
}

func (b *builder) addError(err error, where string) {
	b.addViolation(violationAt(err.Error(), where))
}

// resolve runs the worklist until every item is defined or a pass makes no
// progress. Items failing with an unresolved error are retried on the next pass.
func (b *builder) resolve(items []*resolveItem) {
	pending := items
	for len(pending) > 0 {
		if !b.checkUniqueness() {
			return
		}
		var next []*resolveItem
		progress := false
		for _, it := range pending {
			err := it.define()
			switch {
			case err == nil:
				progress = true
				b.def.ResolveOrder = append(b.def.ResolveOrder, it.key)
			case isUnresolved(err):
				it.err = err
				next = append(next, it)
			default:
				progress = true
				b.addError(err, it.key)
			}
		}
		if !progress {
			stuck := make([]string, 0, len(next))
			for _, it := range next {
				stuck = append(stuck, it.key+": "+it.err.Error())
			}
			b.addViolation(violationDeadlock(stuck))
			return
		}
		pending = next
	}
}

// collectItems lists every entity to define. Kinds are ordered so that a pass
// defines prerequisites before dependents whenever the input allows it.
func (b *builder) collectItems() []*resolveItem {
	var items []*resolveItem
	for _, vs := range b.spec.Validators {
		vs := vs
		items = append(items, &resolveItem{key: "validator " + vs.Name, define: func() error {
			_, err := b.defineValidator(vs)
			return err
		}})
	}
	for _, ms := range b.spec.Models {
		ms := ms
		items = append(items, &resolveItem{key: ms.Name, define: func() error {
			b.defineModel(ms)
			return nil
		}})
	}
	for _, ms := range b.spec.Models {
		ms := ms
		for _, fs := range ms.Fields {
			fs := fs
			items = append(items, &resolveItem{key: refKey(ms.Name, fs.Name), define: func() error {
				_, err := b.defineField(ms.Name, fs)
				return err
			}})
		}
		for _, rs := range ms.References {
			rs := rs
			items = append(items, &resolveItem{key: refKey(ms.Name, rs.Name), define: func() error {
				_, err := b.defineReference(ms.Name, rs)
				return err
			}})
		}
		for _, rs := range ms.Relations {
			rs := rs
			items = append(items, &resolveItem{key: refKey(ms.Name, rs.Name), define: func() error {
				_, err := b.defineRelation(ms.Name, rs)
				return err
			}})
		}
	}
	for _, ms := range b.spec.Models {
		ms := ms
		for _, cs := range ms.Computeds {
			cs := cs
			items = append(items, &resolveItem{key: refKey(ms.Name, cs.Name), define: func() error {
				_, err := b.defineComputed(ms.Name, cs)
				return err
			}})
		}
		for _, qs := range ms.Queries {
			qs := qs
			items = append(items, &resolveItem{key: refKey(ms.Name, qs.Name), define: func() error {
				if qs.Aggregate != nil {
					_, err := b.defineAggregate(ms.Name, qs)
					return err
				}
				_, err := b.defineQuery(ms.Name, qs)
				return err
			}})
		}
		for _, hs := range ms.Hooks {
			hs := hs
			items = append(items, &resolveItem{key: refKey(ms.Name, hs.Name), define: func() error {
				_, err := b.defineModelHook(ms.Name, hs)
				return err
			}})
		}
	}
	return items
}

// checkUniqueness reports duplicate model, validator and member names,
// compared case-insensitively. It returns false when any duplicate exists.
func (b *builder) checkUniqueness() bool {
	ok := true
	seenModels := make(map[string]bool)
	for _, ms := range b.spec.Models {
		key := strings.ToLower(ms.Name)
		if seenModels[key] {
			b.addViolation(violationDuplicateModel(ms.Name))
			ok = false
		}
		seenModels[key] = true

		seen := map[string]bool{"id": true}
		check := func(name string) {
			key := strings.ToLower(name)
			if seen[key] {
				b.addViolation(violationDuplicateMember(ms.Name, name))
				ok = false
			}
			seen[key] = true
		}
		for _, f := range ms.Fields {
			check(f.Name)
		}
		for _, r := range ms.References {
			check(r.Name)
			check(r.Name + "_id")
		}
		for _, r := range ms.Relations {
			check(r.Name)
		}
		for _, q := range ms.Queries {
			check(q.Name)
		}
		for _, c := range ms.Computeds {
			check(c.Name)
		}
		for _, h := range ms.Hooks {
			check(h.Name)
		}
	}
	seenValidators := make(map[string]bool)
	for _, vs := range b.spec.Validators {
		key := strings.ToLower(vs.Name)
		if seenValidators[key] || builtinValidatorNames[key] {
			b.addViolation(violationDuplicateValidator(vs.Name))
			ok = false
		}
		seenValidators[key] = true
	}
	return ok
}

// canonicalize orders model members by declaration order so the resulting
// Definition does not depend on how many passes each member needed.
func (b *builder) canonicalize() {
	for _, ms := range b.spec.Models {
		m := b.models[ms.Name]
		if m == nil {
			continue
		}
		order := map[string]int{"id": 0}
		next := func(name string) {
			order[name] = len(order)
		}
		for _, f := range ms.Fields {
			next(f.Name)
		}
		for _, r := range ms.References {
			next(r.Name)
			next(r.Name + "_id")
		}
		for _, r := range ms.Relations {
			next(r.Name)
		}
		for _, q := range ms.Queries {
			next(q.Name)
		}
		for _, c := range ms.Computeds {
			next(c.Name)
		}
		for _, h := range ms.Hooks {
			next(h.Name)
		}
		sort.SliceStable(m.Fields, func(i, j int) bool { return order[m.Fields[i].Name] < order[m.Fields[j].Name] })
		sort.SliceStable(m.References, func(i, j int) bool { return order[m.References[i].Name] < order[m.References[j].Name] })
		sort.SliceStable(m.Relations, func(i, j int) bool { return order[m.Relations[i].Name] < order[m.Relations[j].Name] })
		sort.SliceStable(m.Queries, func(i, j int) bool { return order[m.Queries[i].Name] < order[m.Queries[j].Name] })
		sort.SliceStable(m.Aggregates, func(i, j int) bool { return order[m.Aggregates[i].Name] < order[m.Aggregates[j].Name] })
		sort.SliceStable(m.Computeds, func(i, j int) bool { return order[m.Computeds[i].Name] < order[m.Computeds[j].Name] })
		sort.SliceStable(m.Hooks, func(i, j int) bool { return order[m.Hooks[i].Name] < order[m.Hooks[j].Name] })
	}
}

func (b *builder) defineRuntimes() {
	for _, rs := range b.spec.Runtimes {
		if rs.Kind != spec.RuntimeInline && rs.Kind != spec.RuntimeGRPC {
			b.addViolation(violationAt(fmt.Sprintf("runtime %s has unknown kind %q", rs.Name, rs.Kind), "runtime "+rs.Name))
			continue
		}
		if _, dup := b.runtimes[rs.Name]; dup {
			b.addViolation(violationAt(fmt.Sprintf("duplicate runtime %q", rs.Name), ""))
			continue
		}
		rt := &RuntimeDef{Name: rs.Name, Kind: rs.Kind, Default: rs.Default}
		b.runtimes[rs.Name] = rt
		b.def.Runtimes = append(b.def.Runtimes, rt)
		if rs.Default {
			if b.defaultRuntime != "" {
				b.addViolation(violationAt("more than one default runtime", "runtime "+rs.Name))
			}
			b.defaultRuntime = rs.Name
		}
	}
	switch {
	case len(b.def.Runtimes) == 0:
		rt := &RuntimeDef{Name: "default", Kind: spec.RuntimeInline, Default: true}
		b.runtimes[rt.Name] = rt
		b.def.Runtimes = append(b.def.Runtimes, rt)
		b.defaultRuntime = rt.Name
	case b.defaultRuntime == "" && len(b.def.Runtimes) == 1:
		b.def.Runtimes[0].Default = true
		b.defaultRuntime = b.def.Runtimes[0].Name
	}
}

// hookCode resolves the runtime of a hook reference.
func (b *builder) hookCode(ref spec.HookRef) (HookCode, error) {
	if ref.Name == "" {
		return HookCode{}, failf("hook name is required")
	}
	rt := ref.Runtime
	if rt == "" {
		if b.defaultRuntime == "" {
			return HookCode{}, failf(fmt.Sprintf("hook %s has no runtime and no default runtime is declared", ref.Name))
		}
		rt = b.defaultRuntime
	}
	if _, ok := b.runtimes[rt]; !ok {
		return HookCode{}, failf(fmt.Sprintf("hook %s uses unknown runtime %s", ref.Name, rt))
	}
	return HookCode{Runtime: rt, Name: ref.Name}, nil
}

func (b *builder) model(name string) *ModelDef { return b.models[name] }
