package ir

import (
	"fmt"
	"strings"

	"github.com/hanpama/modelgate/internal/spec"
)

const emailPattern = `^[^@\s]+@[^@\s]+\.[^@\s]+$`

var builtinValidators = []*spec.Validator{
	{
		Name:      "min",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "integer"}, {Name: "min", Type: "integer"}},
		Assert:    spec.Binary(">=", spec.Ident("value"), spec.Ident("min")),
		ErrorCode: "min",
	},
	{
		Name:      "max",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "integer"}, {Name: "max", Type: "integer"}},
		Assert:    spec.Binary("<=", spec.Ident("value"), spec.Ident("max")),
		ErrorCode: "max",
	},
	{
		Name:      "minLength",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "string"}, {Name: "min", Type: "integer"}},
		Assert:    spec.Binary(">=", spec.Fn("length", spec.Ident("value")), spec.Ident("min")),
		ErrorCode: "min-length",
	},
	{
		Name:      "maxLength",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "string"}, {Name: "max", Type: "integer"}},
		Assert:    spec.Binary("<=", spec.Fn("length", spec.Ident("value")), spec.Ident("max")),
		ErrorCode: "max-length",
	},
	{
		Name:      "isEmail",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "string"}},
		Assert:    spec.Fn("matches", spec.Ident("value"), spec.Lit(emailPattern)),
		ErrorCode: "is-email",
	},
	{
		Name:      "isEqualInt",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "integer"}, {Name: "target", Type: "integer"}},
		Assert:    spec.Binary("is", spec.Ident("value"), spec.Ident("target")),
		ErrorCode: "is-equal-int",
	},
	{
		Name:      "isEqualString",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "string"}, {Name: "target", Type: "string"}},
		Assert:    spec.Binary("is", spec.Ident("value"), spec.Ident("target")),
		ErrorCode: "is-equal-string",
	},
	{
		Name:      "isEqualBool",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "boolean"}, {Name: "target", Type: "boolean"}},
		Assert:    spec.Binary("is", spec.Ident("value"), spec.Ident("target")),
		ErrorCode: "is-equal-bool",
	},
	{
		Name:      "isGreaterThanInt",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "integer"}, {Name: "target", Type: "integer"}},
		Assert:    spec.Binary(">", spec.Ident("value"), spec.Ident("target")),
		ErrorCode: "is-greater-than-int",
	},
	{
		Name:      "isLowerThanInt",
		Args:      []*spec.ValidatorArg{{Name: "value", Type: "integer"}, {Name: "target", Type: "integer"}},
		Assert:    spec.Binary("<", spec.Ident("value"), spec.Ident("target")),
		ErrorCode: "is-lower-than-int",
	},
}

var builtinValidatorNames = func() map[string]bool {
	names := make(map[string]bool, len(builtinValidators))
	for _, v := range builtinValidators {
		names[strings.ToLower(v.Name)] = true
	}
	return names
}()

func (b *builder) defineBuiltinValidators() {
	for _, vs := range builtinValidators {
		decl, err := b.defineValidator(vs)
		if err != nil {
			panic(fmt.Sprintf("builtin validator %s: %v", vs.Name, err))
		}
		decl.Builtin = true
	}
}

func (b *builder) defineValidator(vs *spec.Validator) (*ValidatorDecl, error) {
	if v, ok := b.validators[vs.Name]; ok {
		return v, nil
	}
	if len(vs.Args) == 0 {
		return nil, failf(fmt.Sprintf("validator %s needs at least the validated argument", vs.Name))
	}
	decl := &ValidatorDecl{Name: vs.Name, ErrorCode: vs.ErrorCode}
	if decl.ErrorCode == "" {
		decl.ErrorCode = "invalid"
	}
	sc := &scope{variables: make(map[string]VarType)}
	for _, as := range vs.Args {
		typ, err := parseFieldType(as.Type)
		if err != nil {
			return nil, fmt.Errorf("validator %s argument %s: %w", vs.Name, as.Name, err)
		}
		decl.Args = append(decl.Args, &ValidatorArgDef{Name: as.Name, Type: typ})
		sc.variables[as.Name] = VarType{Kind: typ}
	}
	switch {
	case vs.Assert != nil && vs.AssertHook != nil:
		return nil, failf(fmt.Sprintf("validator %s declares both assert and assertHook", vs.Name))
	case vs.Assert != nil:
		e, err := b.composeExpression(vs.Assert, sc)
		if err != nil {
			return nil, err
		}
		if !assignable(TypeBoolean, e.Type()) {
			return nil, errTypeMismatch("validator "+vs.Name+" assert", "boolean", e.Type())
		}
		decl.Assert = e
	case vs.AssertHook != nil:
		code, err := b.hookCode(*vs.AssertHook)
		if err != nil {
			return nil, err
		}
		decl.AssertHook = &code
	default:
		return nil, failf(fmt.Sprintf("validator %s needs assert or assertHook", vs.Name))
	}
	b.validators[vs.Name] = decl
	b.def.Validators = append(b.def.Validators, decl)
	return decl, nil
}

func (b *builder) composeValidatorCalls(calls []*spec.ValidatorCall, field TypeKind) ([]ValidatorDef, error) {
	var out []ValidatorDef
	for _, c := range calls {
		v, err := b.composeValidatorCall(c, field)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *builder) composeValidatorCall(c *spec.ValidatorCall, field TypeKind) (ValidatorDef, error) {
	switch {
	case len(c.And) > 0:
		vs, err := b.composeValidatorCalls(c.And, field)
		if err != nil {
			return nil, err
		}
		return &ValidatorAnd{Validators: vs}, nil
	case len(c.Or) > 0:
		vs, err := b.composeValidatorCalls(c.Or, field)
		if err != nil {
			return nil, err
		}
		return &ValidatorOr{Validators: vs}, nil
	}
	decl := b.validators[c.Name]
	if decl == nil {
		return nil, unresolved(fmt.Sprintf("validator %s is not defined", c.Name))
	}
	if len(c.Args) != len(decl.Args)-1 {
		return nil, failf(fmt.Sprintf("validator %s expects %d arguments, got %d", c.Name, len(decl.Args)-1, len(c.Args)))
	}
	if !compatibleKinds(decl.Args[0].Type, field) {
		return nil, failf(fmt.Sprintf("validator %s validates %s values, field is %s", c.Name, decl.Args[0].Type, field))
	}
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		lit := literalType(a)
		if lit.Kind != TypeNull && !compatibleKinds(decl.Args[i+1].Type, lit.Kind) {
			return nil, failf(fmt.Sprintf("validator %s argument %s expects %s, got %s", c.Name, decl.Args[i+1].Name, decl.Args[i+1].Type, lit.Kind))
		}
		args[i] = a
	}
	return &ValidatorCall{Name: c.Name, Args: args, Decl: decl}, nil
}

// Default model names used by the authenticator.
const (
	DefaultAuthUserModel  = "AuthUser"
	DefaultAuthTokenModel = "AuthUserAccessToken"
)

// withAuthenticatorModels returns s with the authenticator's user and token
// models appended. The input is not modified.
func withAuthenticatorModels(s *spec.Specification) *spec.Specification {
	if s.Authenticator == nil {
		return s
	}
	user, token := authModelNames(s.Authenticator)
	out := *s
	out.Models = append(append([]*spec.Model{}, s.Models...),
		&spec.Model{
			Name: user,
			Fields: []*spec.Field{
				{Name: "name", Type: "string"},
				{Name: "username", Type: "string", Unique: true},
				{Name: "passwordHash", Type: "string"},
			},
			Relations: []*spec.Relation{{Name: "accessTokens", From: token, Through: "authUser"}},
		},
		&spec.Model{
			Name: token,
			Fields: []*spec.Field{
				{Name: "token", Type: "string", Unique: true},
				{Name: "expiryDate", Type: "integer"},
			},
			References: []*spec.Reference{{Name: "authUser", To: user}},
		},
	)
	return &out
}

func authModelNames(a *spec.Authenticator) (string, string) {
	user, token := a.UserModel, a.TokenModel
	if user == "" {
		user = DefaultAuthUserModel
	}
	if token == "" {
		token = DefaultAuthTokenModel
	}
	return user, token
}

func (b *builder) defineAuthenticator() {
	if b.spec.Authenticator == nil {
		return
	}
	user, token := authModelNames(b.spec.Authenticator)
	b.def.Authenticator = &AuthenticatorDef{UserModel: user, TokenModel: token}
}
