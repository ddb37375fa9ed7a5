package ir

// SelectItem is one entry of a select list. The set of implementations is closed.
type SelectItem interface {
	SelectAlias() string
	selectItem()
}

type ExpressionSelect struct {
	Alias string       `json:"alias"`
	Expr  TypedExprDef `json:"expr"`
}

// NestedSelect selects related records. NamePath is absolute: it starts with
// the model name of the enclosing select and ends with the relationship name.
type NestedSelect struct {
	Alias       string       `json:"alias"`
	NamePath    []string     `json:"namePath"`
	TargetModel string       `json:"retType"`
	Cardinality Cardinality  `json:"retCardinality"`
	Nullable    bool         `json:"nullable,omitempty"`
	Select      []SelectItem `json:"select"`
}

type ModelHookSelect struct {
	Alias    string   `json:"alias"`
	NamePath []string `json:"namePath"`
	Hook     string   `json:"hookRefKey"`
}

func (s *ExpressionSelect) SelectAlias() string { return s.Alias }
func (s *NestedSelect) SelectAlias() string     { return s.Alias }
func (s *ModelHookSelect) SelectAlias() string  { return s.Alias }

func (*ExpressionSelect) selectItem() {}
func (*NestedSelect) selectItem()     {}
func (*ModelHookSelect) selectItem()  {}

// ActionDef is one step of an endpoint's action list. The set of implementations is closed.
type ActionDef interface {
	ActionAlias() string
	actionDef()
}

// CreateOneAction inserts a record of Model and binds it to Alias.
type CreateOneAction struct {
	Alias     string    `json:"alias"`
	Model     string    `json:"model"`
	Changeset Changeset `json:"changeset"`
	IsPrimary bool      `json:"isPrimary,omitempty"`
}

// UpdateOneAction updates the record whose id is read from the context at IDPath.
type UpdateOneAction struct {
	Alias     string    `json:"alias"`
	Model     string    `json:"model"`
	IDPath    []string  `json:"idPath"`
	Changeset Changeset `json:"changeset"`
	IsPrimary bool      `json:"isPrimary,omitempty"`
}

type DeleteOneAction struct {
	Model     string   `json:"model"`
	IDPath    []string `json:"idPath"`
	IsPrimary bool     `json:"isPrimary,omitempty"`
}

type ExecuteHookAction struct {
	Alias    string    `json:"alias,omitempty"`
	Hook     HookCode  `json:"hook"`
	Args     Changeset `json:"args"`
	Responds bool      `json:"responds,omitempty"`
}

// FetchOneAction runs Query, requires exactly one row and binds it to Alias.
type FetchOneAction struct {
	Alias string    `json:"alias"`
	Model string    `json:"model"`
	Query *QueryDef `json:"query"`
}

func (a *CreateOneAction) ActionAlias() string   { return a.Alias }
func (a *UpdateOneAction) ActionAlias() string   { return a.Alias }
func (a *DeleteOneAction) ActionAlias() string   { return "" }
func (a *ExecuteHookAction) ActionAlias() string { return a.Alias }
func (a *FetchOneAction) ActionAlias() string    { return a.Alias }

func (*CreateOneAction) actionDef()   {}
func (*UpdateOneAction) actionDef()   {}
func (*DeleteOneAction) actionDef()   {}
func (*ExecuteHookAction) actionDef() {}
func (*FetchOneAction) actionDef()    {}

// Changeset is an ordered set of named value producers.
type Changeset []*ChangesetOperation

type ChangesetOperation struct {
	Name   string      `json:"name"`
	Setter FieldSetter `json:"setter"`
}

// Get returns the operation named name, or nil.
func (c Changeset) Get(name string) *ChangesetOperation {
	for _, op := range c {
		if op.Name == name {
			return op
		}
	}
	return nil
}

// FieldSetter produces one changeset value. The set of implementations is closed.
type FieldSetter interface {
	fieldSetter()
}

type SetterLiteral struct {
	Value any `json:"value"`
}

// SetterReferenceValue reads a value from the request context; Path starts with an alias.
type SetterReferenceValue struct {
	Path []string `json:"path"`
	Type VarType  `json:"type"`
}

type SetterFieldsetInput struct {
	FieldsetPath []string    `json:"fieldsetAccess"`
	Type         VarType     `json:"type"`
	Required     bool        `json:"required,omitempty"`
	Default      FieldSetter `json:"default,omitempty"`
}

// SetterFieldsetReferenceInput resolves a client-supplied unique value of the
// referenced model (Through) into that record's id.
type SetterFieldsetReferenceInput struct {
	FieldsetPath []string `json:"fieldsetAccess"`
	Model        string   `json:"model"`
	Through      string   `json:"through"`
	Type         VarType  `json:"type"`
	Required     bool     `json:"required,omitempty"`
}

type SetterFunction struct {
	Name string        `json:"name"`
	Args []FieldSetter `json:"args"`
	Type VarType       `json:"type"`
}

type SetterHook struct {
	Hook HookCode  `json:"hook"`
	Args Changeset `json:"args"`
}

// SetterQuery yields the first row of Query, or the single selected column
// when Query selects exactly one expression.
type SetterQuery struct {
	Query *QueryDef `json:"query"`
}

// SetterChangesetReference copies the value of another operation of the same changeset.
type SetterChangesetReference struct {
	Name string `json:"name"`
}

func (*SetterLiteral) fieldSetter()                {}
func (*SetterReferenceValue) fieldSetter()         {}
func (*SetterFieldsetInput) fieldSetter()          {}
func (*SetterFieldsetReferenceInput) fieldSetter() {}
func (*SetterFunction) fieldSetter()               {}
func (*SetterHook) fieldSetter()                   {}
func (*SetterQuery) fieldSetter()                  {}
func (*SetterChangesetReference) fieldSetter()     {}

// EndpointKind names the kind of an endpoint.
type EndpointKind string

const (
	KindGet        EndpointKind = "get"
	KindList       EndpointKind = "list"
	KindCreate     EndpointKind = "create"
	KindUpdate     EndpointKind = "update"
	KindDelete     EndpointKind = "delete"
	KindCustomOne  EndpointKind = "custom-one"
	KindCustomMany EndpointKind = "custom-many"
)

// EndpointDef is a compiled endpoint. The set of implementations is closed.
type EndpointDef interface {
	Kind() EndpointKind
	Base() *EndpointBase
}

// EndpointBase holds what every endpoint kind shares.
type EndpointBase struct {
	Parents                []*TargetDef `json:"parents"`
	Target                 *TargetDef   `json:"target"`
	Authorize              TypedExprDef `json:"authorize,omitempty"`
	AuthorizeDependsOnAuth bool         `json:"authorizeDependsOnAuth,omitempty"`
	Response               []SelectItem `json:"response,omitempty"`
	Fieldset               FieldsetDef  `json:"fieldset,omitempty"`
	Actions                []ActionDef  `json:"actions,omitempty"`
}

type GetEndpointDef struct {
	EndpointBase
}

type ListEndpointDef struct {
	EndpointBase
	Pageable bool         `json:"pageable,omitempty"`
	Filter   TypedExprDef `json:"filter,omitempty"`
	OrderBy  []*OrderDef  `json:"orderBy,omitempty"`
}

type CreateEndpointDef struct {
	EndpointBase
}

type UpdateEndpointDef struct {
	EndpointBase
}

type DeleteEndpointDef struct {
	EndpointBase
}

type CustomOneEndpointDef struct {
	EndpointBase
	Method string `json:"method"`
	Path   string `json:"path"`
}

type CustomManyEndpointDef struct {
	EndpointBase
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (*GetEndpointDef) Kind() EndpointKind        { return KindGet }
func (*ListEndpointDef) Kind() EndpointKind       { return KindList }
func (*CreateEndpointDef) Kind() EndpointKind     { return KindCreate }
func (*UpdateEndpointDef) Kind() EndpointKind     { return KindUpdate }
func (*DeleteEndpointDef) Kind() EndpointKind     { return KindDelete }
func (*CustomOneEndpointDef) Kind() EndpointKind  { return KindCustomOne }
func (*CustomManyEndpointDef) Kind() EndpointKind { return KindCustomMany }

func (e *GetEndpointDef) Base() *EndpointBase        { return &e.EndpointBase }
func (e *ListEndpointDef) Base() *EndpointBase       { return &e.EndpointBase }
func (e *CreateEndpointDef) Base() *EndpointBase     { return &e.EndpointBase }
func (e *UpdateEndpointDef) Base() *EndpointBase     { return &e.EndpointBase }
func (e *DeleteEndpointDef) Base() *EndpointBase     { return &e.EndpointBase }
func (e *CustomOneEndpointDef) Base() *EndpointBase  { return &e.EndpointBase }
func (e *CustomManyEndpointDef) Base() *EndpointBase { return &e.EndpointBase }

// FieldsetDef describes the shape of an endpoint's request body. The set of
// implementations is closed.
type FieldsetDef interface {
	fieldset()
}

type FieldsetRecord struct {
	Properties []*FieldsetProperty `json:"record"`
	Nullable   bool                `json:"nullable,omitempty"`
}

type FieldsetProperty struct {
	Name string      `json:"name"`
	Def  FieldsetDef `json:"def"`
}

type FieldsetField struct {
	Type       TypeKind       `json:"type"`
	Nullable   bool           `json:"nullable,omitempty"`
	Required   bool           `json:"required,omitempty"`
	Validators []ValidatorDef `json:"validators,omitempty"`
}

func (*FieldsetRecord) fieldset() {}
func (*FieldsetField) fieldset()  {}

// Property returns the named property, or nil.
func (r *FieldsetRecord) Property(name string) FieldsetDef {
	for _, p := range r.Properties {
		if p.Name == name {
			return p.Def
		}
	}
	return nil
}

// ValidatorDef is a validator applied to a field. The set of implementations is closed.
type ValidatorDef interface {
	validator()
}

// ValidatorCall applies Decl to the validated value followed by Args.
type ValidatorCall struct {
	Name string         `json:"name"`
	Args []any          `json:"args,omitempty"`
	Decl *ValidatorDecl `json:"-"`
}

type ValidatorAnd struct {
	Validators []ValidatorDef `json:"and"`
}

type ValidatorOr struct {
	Validators []ValidatorDef `json:"or"`
}

func (*ValidatorCall) validator() {}
func (*ValidatorAnd) validator()  {}
func (*ValidatorOr) validator()   {}

// ValidatorDecl is a declared validator. The first argument receives the
// validated value; the assert expression sees arguments as variables.
type ValidatorDecl struct {
	Name       string             `json:"name"`
	Args       []*ValidatorArgDef `json:"args"`
	Assert     TypedExprDef       `json:"assert,omitempty"`
	AssertHook *HookCode          `json:"assertHook,omitempty"`
	ErrorCode  string             `json:"errorCode"`
	Builtin    bool               `json:"builtin,omitempty"`
}

type ValidatorArgDef struct {
	Name string   `json:"name"`
	Type TypeKind `json:"type"`
}
