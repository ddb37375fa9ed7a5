package ir

import "fmt"

// fieldsetBuilder collects request body fields declared by an endpoint's
// changesets and assembles them into a record tree.
type fieldsetBuilder struct {
	root *FieldsetRecord
}

func newFieldsetBuilder() *fieldsetBuilder {
	return &fieldsetBuilder{root: &FieldsetRecord{}}
}

// add registers field at path. Intermediate records are created on demand.
func (fb *fieldsetBuilder) add(path []string, field *FieldsetField) error {
	if len(path) == 0 {
		return failf("empty fieldset path")
	}
	rec := fb.root
	for i, name := range path[:len(path)-1] {
		switch def := rec.Property(name).(type) {
		case nil:
			next := &FieldsetRecord{}
			rec.Properties = append(rec.Properties, &FieldsetProperty{Name: name, Def: next})
			rec = next
		case *FieldsetRecord:
			rec = def
		default:
			return failf(fmt.Sprintf("fieldset input %s is declared both as a value and as a record", pathString(path[:i+1])))
		}
	}
	last := path[len(path)-1]
	if rec.Property(last) != nil {
		return failf(fmt.Sprintf("fieldset input %s is declared more than once", pathString(path)))
	}
	rec.Properties = append(rec.Properties, &FieldsetProperty{Name: last, Def: field})
	return nil
}

// build returns the fieldset, or nil when no input was declared.
func (fb *fieldsetBuilder) build() FieldsetDef {
	if len(fb.root.Properties) == 0 {
		return nil
	}
	return fb.root
}

// fieldsetField describes how a model field is accepted from a request body.
func fieldsetField(f *FieldDef, required bool) *FieldsetField {
	return &FieldsetField{
		Type:       f.Type,
		Nullable:   f.Nullable,
		Required:   required,
		Validators: f.Validators,
	}
}

// CreateFieldsetForModel is the body accepted when creating a record of m
// without further customization: every non-primary field, required unless nullable.
func CreateFieldsetForModel(m *ModelDef) *FieldsetRecord {
	rec := &FieldsetRecord{}
	for _, f := range m.Fields {
		if f.Primary {
			continue
		}
		rec.Properties = append(rec.Properties, &FieldsetProperty{Name: f.Name, Def: fieldsetField(f, !f.Nullable)})
	}
	return rec
}

// UpdateFieldsetForModel is like CreateFieldsetForModel with every field optional.
func UpdateFieldsetForModel(m *ModelDef) *FieldsetRecord {
	rec := &FieldsetRecord{}
	for _, f := range m.Fields {
		if f.Primary {
			continue
		}
		rec.Properties = append(rec.Properties, &FieldsetProperty{Name: f.Name, Def: fieldsetField(f, false)})
	}
	return rec
}
