package ir

import (
	"strings"
)

// Definition is the compiled, immutable representation of a specification.
// It is produced by Compose and is safe to share between concurrent requests.
type Definition struct {
	Models        []*ModelDef       `json:"models"`
	Apis          []*ApiDef         `json:"apis"`
	Validators    []*ValidatorDecl  `json:"validators"`
	Runtimes      []*RuntimeDef     `json:"runtimes"`
	Authenticator *AuthenticatorDef `json:"authenticator,omitempty"`
	ResolveOrder  []string          `json:"resolveOrder"`

	index map[string]any
}

type TypeKind string

const (
	TypeInteger TypeKind = "integer"
	TypeFloat   TypeKind = "float"
	TypeString  TypeKind = "string"
	TypeBoolean TypeKind = "boolean"
	TypeNull    TypeKind = "null"
	TypeUnknown TypeKind = "unknown"
)

// VarType is the inferred type of a value-producing node.
type VarType struct {
	Kind     TypeKind `json:"kind"`
	Nullable bool     `json:"nullable,omitempty"`
}

func (t VarType) String() string {
	if t.Nullable {
		return string(t.Kind) + "?"
	}
	return string(t.Kind)
}

func (t VarType) IsNumeric() bool { return t.Kind == TypeInteger || t.Kind == TypeFloat }

type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

type ModelDef struct {
	RefKey     string          `json:"refKey"`
	Name       string          `json:"name"`
	DBName     string          `json:"dbname"`
	Fields     []*FieldDef     `json:"fields"`
	References []*ReferenceDef `json:"references"`
	Relations  []*RelationDef  `json:"relations"`
	Queries    []*QueryDef     `json:"queries"`
	Aggregates []*AggregateDef `json:"aggregates"`
	Computeds  []*ComputedDef  `json:"computeds"`
	Hooks      []*ModelHookDef `json:"hooks"`
}

type FieldDef struct {
	RefKey      string         `json:"refKey"`
	ModelRefKey string         `json:"modelRefKey"`
	Name        string         `json:"name"`
	DBName      string         `json:"dbname"`
	Type        TypeKind       `json:"type"`
	Primary     bool           `json:"primary,omitempty"`
	Unique      bool           `json:"unique,omitempty"`
	Nullable    bool           `json:"nullable,omitempty"`
	Validators  []ValidatorDef `json:"validators,omitempty"`
}

func (f *FieldDef) VarType() VarType { return VarType{Kind: f.Type, Nullable: f.Nullable} }

type ReferenceDef struct {
	RefKey        string `json:"refKey"`
	ModelRefKey   string `json:"modelRefKey"`
	Name          string `json:"name"`
	FieldRefKey   string `json:"fieldRefKey"`
	ToModelRefKey string `json:"toModelRefKey"`
	Nullable      bool   `json:"nullable,omitempty"`
	Unique        bool   `json:"unique,omitempty"`
}

type RelationDef struct {
	RefKey          string `json:"refKey"`
	ModelRefKey     string `json:"modelRefKey"`
	Name            string `json:"name"`
	FromModelRefKey string `json:"fromModelRefKey"`
	ThroughRefKey   string `json:"throughRefKey"`
	Unique          bool   `json:"unique,omitempty"`
}

// QueryDef selects records of TargetModel reachable from the owning model
// through FromPath. FromPath always starts with the owning model's name; when
// RootAlias is set the query is rooted at a record bound in the request context.
type QueryDef struct {
	RefKey      string         `json:"refKey,omitempty"`
	ModelRefKey string         `json:"modelRefKey"`
	Name        string         `json:"name,omitempty"`
	RootAlias   string         `json:"rootAlias,omitempty"`
	FromPath    []string       `json:"fromPath"`
	FromAlias   []string       `json:"fromAlias,omitempty"`
	TargetModel string         `json:"retType"`
	Cardinality Cardinality    `json:"retCardinality"`
	Filter      TypedExprDef   `json:"filter,omitempty"`
	Select      []SelectItem   `json:"select,omitempty"`
	OrderBy     []*OrderDef    `json:"orderBy,omitempty"`
	Limit       *int64         `json:"limit,omitempty"`
	Offset      *int64         `json:"offset,omitempty"`
}

type OrderDef struct {
	Expr TypedExprDef `json:"exp"`
	Desc bool         `json:"desc,omitempty"`
}

// Aggregation function names.
const (
	AggregateCount = "count"
	AggregateSum   = "sum"
)

type AggregateDef struct {
	RefKey      string    `json:"refKey"`
	ModelRefKey string    `json:"modelRefKey"`
	Name        string    `json:"name"`
	AggrFnName  string    `json:"aggrFnName"`
	TargetPath  []string  `json:"targetPath"`
	Type        VarType   `json:"type"`
	Query       *QueryDef `json:"query"`
}

type ComputedDef struct {
	RefKey      string       `json:"refKey"`
	ModelRefKey string       `json:"modelRefKey"`
	Name        string       `json:"name"`
	Expr        TypedExprDef `json:"exp"`
	Type        VarType      `json:"type"`
}

type ModelHookDef struct {
	RefKey      string          `json:"refKey"`
	ModelRefKey string          `json:"modelRefKey"`
	Name        string          `json:"name"`
	Args        []*ModelHookArg `json:"args"`
	Hook        HookCode        `json:"hook"`
}

// ModelHookArg is evaluated per record: either an expression over the record or
// a query rooted at it.
type ModelHookArg struct {
	Name  string       `json:"name"`
	Expr  TypedExprDef `json:"exp,omitempty"`
	Query *QueryDef    `json:"query,omitempty"`
}

type HookCode struct {
	Runtime string `json:"runtimeName"`
	Name    string `json:"name"`
}

func (h HookCode) String() string { return h.Runtime + ":" + h.Name }

type RuntimeDef struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Default bool   `json:"default,omitempty"`
}

type AuthenticatorDef struct {
	UserModel  string `json:"userModelRefKey"`
	TokenModel string `json:"tokenModelRefKey"`
}

// AuthAlias is the reserved context alias bound to the authenticated user.
const AuthAlias = "@auth"

type ApiDef struct {
	Name        string           `json:"name"`
	Entrypoints []*EntrypointDef `json:"entrypoints"`
}

type EntrypointDef struct {
	Name        string           `json:"name"`
	Target      *TargetDef       `json:"target"`
	Endpoints   []EndpointDef    `json:"endpoints"`
	Entrypoints []*EntrypointDef `json:"entrypoints"`
}

type TargetKind string

const (
	TargetModel     TargetKind = "model"
	TargetReference TargetKind = "reference"
	TargetRelation  TargetKind = "relation"
	TargetQuery     TargetKind = "query"
)

// TargetDef describes a record an entrypoint operates on and how it is identified.
type TargetDef struct {
	Kind        TargetKind     `json:"kind"`
	Name        string         `json:"name"`
	NamePath    []string       `json:"namePath"`
	RefKey      string         `json:"refKey"`
	RetType     string         `json:"retType"`
	Alias       string         `json:"alias"`
	Cardinality Cardinality    `json:"cardinality"`
	Identify    *IdentifierDef `json:"identifyWith,omitempty"`
}

type IdentifierDef struct {
	Field     string   `json:"name"`
	RefKey    string   `json:"refKey"`
	Type      TypeKind `json:"type"`
	ParamName string   `json:"paramName"`
}

// Model returns the model with the given name, or nil.
func (d *Definition) Model(refKey string) *ModelDef {
	m, _ := d.lookup(refKey).(*ModelDef)
	return m
}

func (d *Definition) Field(refKey string) *FieldDef {
	f, _ := d.lookup(refKey).(*FieldDef)
	return f
}

func (d *Definition) Reference(refKey string) *ReferenceDef {
	r, _ := d.lookup(refKey).(*ReferenceDef)
	return r
}

func (d *Definition) Relation(refKey string) *RelationDef {
	r, _ := d.lookup(refKey).(*RelationDef)
	return r
}

func (d *Definition) Query(refKey string) *QueryDef {
	q, _ := d.lookup(refKey).(*QueryDef)
	return q
}

func (d *Definition) Aggregate(refKey string) *AggregateDef {
	a, _ := d.lookup(refKey).(*AggregateDef)
	return a
}

func (d *Definition) Computed(refKey string) *ComputedDef {
	c, _ := d.lookup(refKey).(*ComputedDef)
	return c
}

func (d *Definition) Hook(refKey string) *ModelHookDef {
	h, _ := d.lookup(refKey).(*ModelHookDef)
	return h
}

func (d *Definition) Validator(name string) *ValidatorDecl {
	for _, v := range d.Validators {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func (d *Definition) lookup(refKey string) any {
	if d.index == nil {
		d.reindex()
	}
	return d.index[refKey]
}

// reindex is called once at the end of composition; after that the index is
// read-only.
func (d *Definition) reindex() {
	idx := make(map[string]any)
	for _, m := range d.Models {
		idx[m.RefKey] = m
		for _, f := range m.Fields {
			idx[f.RefKey] = f
		}
		for _, r := range m.References {
			idx[r.RefKey] = r
		}
		for _, r := range m.Relations {
			idx[r.RefKey] = r
		}
		for _, q := range m.Queries {
			idx[q.RefKey] = q
		}
		for _, a := range m.Aggregates {
			idx[a.RefKey] = a
		}
		for _, c := range m.Computeds {
			idx[c.RefKey] = c
		}
		for _, h := range m.Hooks {
			idx[h.RefKey] = h
		}
	}
	d.index = idx
}

// MemberKind classifies a named member of a model.
type MemberKind string

const (
	MemberField     MemberKind = "field"
	MemberReference MemberKind = "reference"
	MemberRelation  MemberKind = "relation"
	MemberQuery     MemberKind = "query"
	MemberAggregate MemberKind = "aggregate"
	MemberComputed  MemberKind = "computed"
	MemberHook      MemberKind = "hook"
)

// Member finds a member by exact name. The second result is the member definition.
func (m *ModelDef) Member(name string) (MemberKind, any) {
	for _, f := range m.Fields {
		if f.Name == name {
			return MemberField, f
		}
	}
	for _, r := range m.References {
		if r.Name == name {
			return MemberReference, r
		}
	}
	for _, r := range m.Relations {
		if r.Name == name {
			return MemberRelation, r
		}
	}
	for _, q := range m.Queries {
		if q.Name == name {
			return MemberQuery, q
		}
	}
	for _, a := range m.Aggregates {
		if a.Name == name {
			return MemberAggregate, a
		}
	}
	for _, c := range m.Computeds {
		if c.Name == name {
			return MemberComputed, c
		}
	}
	for _, h := range m.Hooks {
		if h.Name == name {
			return MemberHook, h
		}
	}
	return "", nil
}

func (m *ModelDef) FieldByName(name string) *FieldDef {
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// PrimaryField returns the implicit id field.
func (m *ModelDef) PrimaryField() *FieldDef {
	for _, f := range m.Fields {
		if f.Primary {
			return f
		}
	}
	return nil
}

func refKey(parts ...string) string { return strings.Join(parts, ".") }
