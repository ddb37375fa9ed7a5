package ir

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hanpama/modelgate/internal/spec"
)

// defineModel creates the model with its implicit primary field. Defining an
// already defined model returns the existing definition.
func (b *builder) defineModel(ms *spec.Model) *ModelDef {
	if m, ok := b.refs[ms.Name].(*ModelDef); ok {
		return m
	}
	m := &ModelDef{
		RefKey: ms.Name,
		Name:   ms.Name,
		DBName: dbName(ms.Name),
	}
	id := &FieldDef{
		RefKey:      refKey(ms.Name, "id"),
		ModelRefKey: ms.Name,
		Name:        "id",
		DBName:      "id",
		Type:        TypeInteger,
		Primary:     true,
		Unique:      true,
	}
	m.Fields = append(m.Fields, id)
	b.models[ms.Name] = m
	b.refs[m.RefKey] = m
	b.refs[id.RefKey] = id
	b.def.Models = append(b.def.Models, m)
	return m
}

func parseFieldType(t string) (TypeKind, error) {
	switch strings.ToLower(t) {
	case "integer", "int":
		return TypeInteger, nil
	case "float":
		return TypeFloat, nil
	case "string", "text":
		return TypeString, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	}
	return "", failf(fmt.Sprintf("unknown field type %q", t))
}

func (b *builder) defineField(model string, fs *spec.Field) (*FieldDef, error) {
	key := refKey(model, fs.Name)
	if f, ok := b.refs[key].(*FieldDef); ok {
		return f, nil
	}
	m := b.model(model)
	if m == nil {
		return nil, errUnknownModel(model)
	}
	typ, err := parseFieldType(fs.Type)
	if err != nil {
		return nil, err
	}
	validators, err := b.composeValidatorCalls(fs.Validate, typ)
	if err != nil {
		return nil, err
	}
	f := &FieldDef{
		RefKey:      key,
		ModelRefKey: model,
		Name:        fs.Name,
		DBName:      dbName(fs.Name),
		Type:        typ,
		Unique:      fs.Unique,
		Nullable:    fs.Nullable,
		Validators:  validators,
	}
	m.Fields = append(m.Fields, f)
	b.refs[key] = f
	return f, nil
}

// defineReference also materializes the backing <name>_id field.
func (b *builder) defineReference(model string, rs *spec.Reference) (*ReferenceDef, error) {
	key := refKey(model, rs.Name)
	if r, ok := b.refs[key].(*ReferenceDef); ok {
		return r, nil
	}
	m := b.model(model)
	if m == nil {
		return nil, errUnknownModel(model)
	}
	if b.model(rs.To) == nil {
		return nil, errUnknownModel(rs.To)
	}
	fieldName := rs.Name + "_id"
	f := &FieldDef{
		RefKey:      refKey(model, fieldName),
		ModelRefKey: model,
		Name:        fieldName,
		DBName:      dbName(fieldName),
		Type:        TypeInteger,
		Unique:      rs.Unique,
		Nullable:    rs.Nullable,
	}
	r := &ReferenceDef{
		RefKey:        key,
		ModelRefKey:   model,
		Name:          rs.Name,
		FieldRefKey:   f.RefKey,
		ToModelRefKey: rs.To,
		Nullable:      rs.Nullable,
		Unique:        rs.Unique,
	}
	m.Fields = append(m.Fields, f)
	m.References = append(m.References, r)
	b.refs[f.RefKey] = f
	b.refs[key] = r
	return r, nil
}

// defineRelation requires the through reference to exist on the from model and
// to point back at the owning model.
func (b *builder) defineRelation(model string, rs *spec.Relation) (*RelationDef, error) {
	key := refKey(model, rs.Name)
	if r, ok := b.refs[key].(*RelationDef); ok {
		return r, nil
	}
	m := b.model(model)
	if m == nil {
		return nil, errUnknownModel(model)
	}
	if b.model(rs.From) == nil {
		return nil, errUnknownModel(rs.From)
	}
	through, ok := b.refs[refKey(rs.From, rs.Through)].(*ReferenceDef)
	if !ok {
		return nil, unresolved(fmt.Sprintf("reference %s.%s is not defined", rs.From, rs.Through))
	}
	if through.ToModelRefKey != model {
		return nil, failf(fmt.Sprintf("relation %s.%s: reference %s points to %s, not %s", model, rs.Name, through.RefKey, through.ToModelRefKey, model))
	}
	r := &RelationDef{
		RefKey:          key,
		ModelRefKey:     model,
		Name:            rs.Name,
		FromModelRefKey: rs.From,
		ThroughRefKey:   through.RefKey,
		Unique:          through.Unique,
	}
	m.Relations = append(m.Relations, r)
	b.refs[key] = r
	return r, nil
}

func (b *builder) defineComputed(model string, cs *spec.Computed) (*ComputedDef, error) {
	key := refKey(model, cs.Name)
	if c, ok := b.refs[key].(*ComputedDef); ok {
		return c, nil
	}
	m := b.model(model)
	if m == nil {
		return nil, errUnknownModel(model)
	}
	if cs.Expr == nil {
		return nil, failf(fmt.Sprintf("computed %s has no expression", key))
	}
	expr, err := b.composeExpression(cs.Expr, modelScope(model))
	if err != nil {
		return nil, err
	}
	c := &ComputedDef{
		RefKey:      key,
		ModelRefKey: model,
		Name:        cs.Name,
		Expr:        expr,
		Type:        expr.Type(),
	}
	m.Computeds = append(m.Computeds, c)
	b.refs[key] = c
	return c, nil
}

func (b *builder) defineModelHook(model string, hs *spec.ModelHook) (*ModelHookDef, error) {
	key := refKey(model, hs.Name)
	if h, ok := b.refs[key].(*ModelHookDef); ok {
		return h, nil
	}
	m := b.model(model)
	if m == nil {
		return nil, errUnknownModel(model)
	}
	code, err := b.hookCode(hs.Hook)
	if err != nil {
		return nil, err
	}
	var args []*ModelHookArg
	for _, as := range hs.Args {
		arg := &ModelHookArg{Name: as.Name}
		switch {
		case as.Query != nil:
			q, err := b.composeQuery(model, as.Query, nil)
			if err != nil {
				return nil, err
			}
			arg.Query = q
		case as.Expr != nil:
			e, err := b.composeExpression(as.Expr, modelScope(model))
			if err != nil {
				return nil, err
			}
			arg.Expr = e
		default:
			return nil, failf(fmt.Sprintf("hook %s argument %s needs an expression or a query", key, as.Name))
		}
		args = append(args, arg)
	}
	h := &ModelHookDef{
		RefKey:      key,
		ModelRefKey: model,
		Name:        hs.Name,
		Args:        args,
		Hook:        code,
	}
	m.Hooks = append(m.Hooks, h)
	b.refs[key] = h
	return h, nil
}

// dbName converts a CamelCase name into snake_case.
func dbName(name string) string {
	var sb strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) && runes[i-1] != '_' {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
