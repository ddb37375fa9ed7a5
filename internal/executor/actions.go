package executor

import (
	"fmt"

	"github.com/hanpama/modelgate/internal/ir"
)

// outcome is what the actions of an endpoint leave behind for the response.
type outcome struct {
	primary  *record
	deleted  bool
	responds bool
	reply    any
}

func (r *run) execActions(actions []ir.ActionDef) (*outcome, error) {
	out := &outcome{}
	for i, a := range actions {
		if err := r.execAction(a, out); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}
	return out, nil
}

func (r *run) execAction(a ir.ActionDef, out *outcome) error {
	switch a := a.(type) {
	case *ir.CreateOneAction:
		m := r.def.Model(a.Model)
		values, err := r.fieldValues(m, a.Changeset)
		if err != nil {
			return err
		}
		rec, err := r.insert(m, values)
		if err != nil {
			return err
		}
		r.bind(a.Alias, rec)
		if a.IsPrimary {
			out.primary = rec
		}
		return nil
	case *ir.UpdateOneAction:
		m := r.def.Model(a.Model)
		id, err := r.contextID(a.IDPath, m)
		if err != nil {
			return err
		}
		values, err := r.fieldValues(m, a.Changeset)
		if err != nil {
			return err
		}
		rec, err := r.update(m, id, values)
		if err != nil {
			return err
		}
		r.bind(a.Alias, rec)
		if a.IsPrimary {
			out.primary = rec
		}
		return nil
	case *ir.DeleteOneAction:
		m := r.def.Model(a.Model)
		id, err := r.contextID(a.IDPath, m)
		if err != nil {
			return err
		}
		if err := r.delete(m, id); err != nil {
			return err
		}
		if a.IsPrimary {
			out.deleted = true
		}
		return nil
	case *ir.ExecuteHookAction:
		args, err := r.evalChangeset(a.Args)
		if err != nil {
			return err
		}
		v, err := r.invoke(a.Hook, args)
		if err != nil {
			return err
		}
		if a.Responds {
			out.responds = true
			out.reply = v
		}
		return nil
	case *ir.FetchOneAction:
		recs, err := r.queryRecords(a.Query, nil, nil)
		if err != nil {
			return err
		}
		rec, err := findOne(recs, a.Model)
		if err != nil {
			return err
		}
		r.bind(a.Alias, rec)
		return nil
	}
	panic(fmt.Sprintf("unreachable: unknown action %T", a))
}

// contextID reads the id of a record to update or delete.
func (r *run) contextID(path []string, m *ir.ModelDef) (int64, error) {
	v, err := r.contextValue(path)
	if err != nil {
		return 0, err
	}
	id, ok := asInt64(v)
	if !ok {
		return 0, errNotFound(m.Name)
	}
	return id, nil
}

// lookupInputs resolves reference inputs to ids and checks unique inputs
// against stored records before the body is validated. Failures become
// markers on the validated fields.
func (r *run) lookupInputs(actions []ir.ActionDef, raw any) (Markers, error) {
	markers := make(Markers)
	for _, a := range actions {
		var m *ir.ModelDef
		var cs ir.Changeset
		var self []string
		switch a := a.(type) {
		case *ir.CreateOneAction:
			m, cs = r.def.Model(a.Model), a.Changeset
		case *ir.UpdateOneAction:
			m, cs, self = r.def.Model(a.Model), a.Changeset, a.IDPath
		default:
			continue
		}
		for _, op := range cs {
			switch s := op.Setter.(type) {
			case *ir.SetterFieldsetReferenceInput:
				if err := r.lookupReference(s, raw, markers); err != nil {
					return nil, err
				}
			case *ir.SetterFieldsetInput:
				f := m.FieldByName(op.Name)
				if f == nil || !f.Unique {
					continue
				}
				if err := r.lookupUnique(m, f, s.FieldsetPath, self, raw, markers); err != nil {
					return nil, err
				}
			}
		}
	}
	return markers, nil
}

func (r *run) lookupReference(s *ir.SetterFieldsetReferenceInput, raw any, markers Markers) error {
	key := fieldsetKey(s.FieldsetPath)
	v, ok := bodyValue(asObject(raw), s.FieldsetPath)
	if !ok {
		return nil
	}
	if v == nil {
		r.throughs[key] = nil
		return nil
	}
	v, ok = coerce(v, s.Type.Kind)
	if !ok {
		return nil
	}
	recs, err := r.records(r.def.Model(s.Model), &Where{Field: s.Through, Values: []any{v}})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		markers[key] = CodeReferenceNotFound
		return nil
	}
	r.throughs[key] = recs[0].id()
	return nil
}

func (r *run) lookupUnique(m *ir.ModelDef, f *ir.FieldDef, path, self []string, raw any, markers Markers) error {
	v, ok := bodyValue(asObject(raw), path)
	if !ok || v == nil {
		return nil
	}
	v, ok = coerce(v, f.Type)
	if !ok {
		return nil
	}
	recs, err := r.records(m, &Where{Field: f.Name, Values: []any{v}})
	if err != nil {
		return err
	}
	var selfID any
	if self != nil {
		selfID, _ = r.contextValue(self)
	}
	for _, rec := range recs {
		if selfID == nil || !equalValues(rec.id(), selfID) {
			markers[fieldsetKey(path)] = CodeAlreadyExists
			return nil
		}
	}
	return nil
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// fieldValues evaluates a changeset written to m, converting every value to
// the declared type of its field.
func (r *run) fieldValues(m *ir.ModelDef, cs ir.Changeset) (map[string]any, error) {
	values, err := r.evalChangeset(cs)
	if err != nil {
		return nil, err
	}
	for name, v := range values {
		f := m.FieldByName(name)
		if f == nil {
			continue
		}
		c, ok := coerce(v, f.Type)
		if !ok {
			return nil, fmt.Errorf("%s.%s: %T value doesn't fit %s", m.Name, name, v, f.Type)
		}
		values[name] = c
	}
	return values, nil
}
