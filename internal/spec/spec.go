// Package spec holds the loosely-typed specification objects a developer writes to
// describe a backend application. They are produced by a loader (see load.go) and
// consumed by the composer in package ir, which resolves them into a Definition.
package spec

// Specification is the root of a single application description.
type Specification struct {
	Models        []*Model       `yaml:"models" json:"models"`
	Entrypoints   []*Entrypoint  `yaml:"entrypoints" json:"entrypoints"`
	Validators    []*Validator   `yaml:"validators" json:"validators,omitempty"`
	Runtimes      []*Runtime     `yaml:"runtimes" json:"runtimes,omitempty"`
	Authenticator *Authenticator `yaml:"authenticator" json:"authenticator,omitempty"`
}

type Model struct {
	Name       string       `yaml:"name" json:"name"`
	Fields     []*Field     `yaml:"fields" json:"fields,omitempty"`
	References []*Reference `yaml:"references" json:"references,omitempty"`
	Relations  []*Relation  `yaml:"relations" json:"relations,omitempty"`
	Queries    []*Query     `yaml:"queries" json:"queries,omitempty"`
	Computeds  []*Computed  `yaml:"computeds" json:"computeds,omitempty"`
	Hooks      []*ModelHook `yaml:"hooks" json:"hooks,omitempty"`
}

type Field struct {
	Name     string           `yaml:"name" json:"name"`
	Type     string           `yaml:"type" json:"type"`
	Nullable bool             `yaml:"nullable" json:"nullable,omitempty"`
	Unique   bool             `yaml:"unique" json:"unique,omitempty"`
	Validate []*ValidatorCall `yaml:"validate" json:"validate,omitempty"`
}

// ValidatorCall applies a declared validator to literal arguments, or combines
// nested calls with And/Or. Exactly one of Name, And, Or is set.
type ValidatorCall struct {
	Name string           `yaml:"name" json:"name,omitempty"`
	Args []any            `yaml:"args" json:"args,omitempty"`
	And  []*ValidatorCall `yaml:"and" json:"and,omitempty"`
	Or   []*ValidatorCall `yaml:"or" json:"or,omitempty"`
}

type Reference struct {
	Name     string `yaml:"name" json:"name"`
	To       string `yaml:"to" json:"to"`
	Nullable bool   `yaml:"nullable" json:"nullable,omitempty"`
	Unique   bool   `yaml:"unique" json:"unique,omitempty"`
}

// Relation is the inverse of a reference: From names the model holding the
// reference, Through names that reference.
type Relation struct {
	Name    string `yaml:"name" json:"name"`
	From    string `yaml:"from" json:"from"`
	Through string `yaml:"through" json:"through"`
}

type Query struct {
	Name      string     `yaml:"name" json:"name"`
	From      Path       `yaml:"from" json:"from"`
	FromAlias Path       `yaml:"as" json:"as,omitempty"`
	Filter    *Expr      `yaml:"filter" json:"filter,omitempty"`
	Select    []*Select  `yaml:"select" json:"select,omitempty"`
	OrderBy   []*Order   `yaml:"orderBy" json:"orderBy,omitempty"`
	Limit     *int64     `yaml:"limit" json:"limit,omitempty"`
	Offset    *int64     `yaml:"offset" json:"offset,omitempty"`
	Aggregate *Aggregate `yaml:"aggregate" json:"aggregate,omitempty"`
}

// Aggregate turns a query into an aggregate. Field names the summed field of
// the target model and is ignored by count.
type Aggregate struct {
	Fn    string `yaml:"fn" json:"fn"`
	Field string `yaml:"field" json:"field,omitempty"`
}

type Order struct {
	Path Path `yaml:"path" json:"path"`
	Desc bool `yaml:"desc" json:"desc,omitempty"`
}

type Computed struct {
	Name string `yaml:"name" json:"name"`
	Expr *Expr  `yaml:"expr" json:"expr"`
}

type ModelHook struct {
	Name string     `yaml:"name" json:"name"`
	Args []*HookArg `yaml:"args" json:"args,omitempty"`
	Hook HookRef    `yaml:"hook" json:"hook"`
}

// HookArg binds a hook argument either to an expression or to a query.
type HookArg struct {
	Name  string `yaml:"name" json:"name"`
	Expr  *Expr  `yaml:"expr" json:"expr,omitempty"`
	Query *Query `yaml:"query" json:"query,omitempty"`
}

// HookRef points at a hook function hosted by a runtime. An empty Runtime
// selects the default runtime.
type HookRef struct {
	Runtime string `yaml:"runtime" json:"runtime,omitempty"`
	Name    string `yaml:"name" json:"name"`
}

// Select is one item of a select list. When Expr is nil the item selects the
// member called Name; a nested Select narrows record members.
type Select struct {
	Name   string    `yaml:"name" json:"name"`
	Expr   *Expr     `yaml:"expr" json:"expr,omitempty"`
	Select []*Select `yaml:"select" json:"select,omitempty"`
}

type Entrypoint struct {
	Target      string        `yaml:"target" json:"target"`
	Alias       string        `yaml:"as" json:"as,omitempty"`
	Identify    string        `yaml:"identify" json:"identify,omitempty"`
	Response    []*Select     `yaml:"response" json:"response,omitempty"`
	Authorize   *Expr         `yaml:"authorize" json:"authorize,omitempty"`
	Endpoints   []*Endpoint   `yaml:"endpoints" json:"endpoints,omitempty"`
	Entrypoints []*Entrypoint `yaml:"entrypoints" json:"entrypoints,omitempty"`
}

// Endpoint kinds.
const (
	EndpointGet        = "get"
	EndpointList       = "list"
	EndpointCreate     = "create"
	EndpointUpdate     = "update"
	EndpointDelete     = "delete"
	EndpointCustomOne  = "custom-one"
	EndpointCustomMany = "custom-many"
)

type Endpoint struct {
	Kind      string    `yaml:"kind" json:"kind"`
	Actions   []*Action `yaml:"actions" json:"actions,omitempty"`
	Authorize *Expr     `yaml:"authorize" json:"authorize,omitempty"`
	Response  []*Select `yaml:"response" json:"response,omitempty"`
	Pageable  bool      `yaml:"pageable" json:"pageable,omitempty"`
	OrderBy   []*Order  `yaml:"orderBy" json:"orderBy,omitempty"`
	Filter    *Expr     `yaml:"filter" json:"filter,omitempty"`
	Method    string    `yaml:"method" json:"method,omitempty"`
	Path      string    `yaml:"path" json:"path,omitempty"`
}

// Action kinds.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionExecute = "execute"
	ActionFetch   = "fetch"
)

type Action struct {
	Kind      string           `yaml:"kind" json:"kind"`
	Target    Path             `yaml:"target" json:"target,omitempty"`
	Alias     string           `yaml:"as" json:"as,omitempty"`
	Set       []*SetAtom       `yaml:"set" json:"set,omitempty"`
	Input     []*InputAtom     `yaml:"input" json:"input,omitempty"`
	Reference []*ReferenceAtom `yaml:"reference" json:"reference,omitempty"`
	Deny      []*DenyAtom      `yaml:"deny" json:"deny,omitempty"`
	Hook      *HookCall        `yaml:"hook" json:"hook,omitempty"`
	Query     *Query           `yaml:"query" json:"query,omitempty"`
	Responds  bool             `yaml:"responds" json:"responds,omitempty"`
}

// SetAtom assigns a field from an expression, a hook call or a query.
type SetAtom struct {
	Field string    `yaml:"field" json:"field"`
	Expr  *Expr     `yaml:"expr" json:"expr,omitempty"`
	Hook  *HookCall `yaml:"hook" json:"hook,omitempty"`
	Query *Query    `yaml:"query" json:"query,omitempty"`
}

type HookCall struct {
	HookRef `yaml:",inline"`
	Args    []*SetAtom `yaml:"args" json:"args,omitempty"`
}

// InputAtom reads a field from the request body. Type is only used by execute
// actions, whose inputs are not backed by a model field.
type InputAtom struct {
	Field    string `yaml:"field" json:"field"`
	Type     string `yaml:"type" json:"type,omitempty"`
	Optional bool   `yaml:"optional" json:"optional,omitempty"`
	Default  *Expr  `yaml:"default" json:"default,omitempty"`
}

// ReferenceAtom lets the client identify a referenced record by one of its
// unique fields instead of its id.
type ReferenceAtom struct {
	Name    string `yaml:"name" json:"name"`
	Through string `yaml:"through" json:"through"`
}

// DenyAtom suppresses implicit inputs. A single "*" denies every field.
type DenyAtom struct {
	Fields []string `yaml:"fields" json:"fields"`
}

// Validator declares a reusable validator. Exactly one of Assert and AssertHook is set.
type Validator struct {
	Name       string          `yaml:"name" json:"name"`
	Args       []*ValidatorArg `yaml:"args" json:"args"`
	Assert     *Expr           `yaml:"assert" json:"assert,omitempty"`
	AssertHook *HookRef        `yaml:"assertHook" json:"assertHook,omitempty"`
	ErrorCode  string          `yaml:"error" json:"error"`
}

type ValidatorArg struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Runtime kinds.
const (
	RuntimeInline = "inline"
	RuntimeGRPC   = "grpc"
)

type Runtime struct {
	Name    string `yaml:"name" json:"name"`
	Kind    string `yaml:"kind" json:"kind"`
	Default bool   `yaml:"default" json:"default,omitempty"`
}

type Authenticator struct {
	UserModel  string `yaml:"userModel" json:"userModel,omitempty"`
	TokenModel string `yaml:"tokenModel" json:"tokenModel,omitempty"`
}
