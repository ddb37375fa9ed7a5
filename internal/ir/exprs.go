package ir

import (
	"fmt"
	"strings"
)

// TypedExprDef is a resolved, typed expression. The set of implementations is closed.
type TypedExprDef interface {
	Type() VarType
	typedExpr()
}

type LiteralExpr struct {
	Value any `json:"value"`
}

// AliasSource tells whether an alias path is rooted at a model (query scope) or
// at a record bound in the request context.
type AliasSource string

const (
	SourceModel   AliasSource = "model"
	SourceContext AliasSource = "context"
)

// AliasExpr reads a leaf value. For model sources NamePath is absolute and
// starts with the model name; for context sources it starts with the alias.
type AliasExpr struct {
	NamePath []string    `json:"namePath"`
	Source   AliasSource `json:"source"`
	VarType  VarType     `json:"type"`
}

// VariableExpr is a free-standing placeholder bound at evaluation time.
type VariableExpr struct {
	Name    string  `json:"name"`
	VarType VarType `json:"type"`
}

type FunctionExpr struct {
	Name    string         `json:"name"`
	Args    []TypedExprDef `json:"args"`
	VarType VarType        `json:"type"`
}

// AggregateFunctionExpr aggregates the records reached by following TargetPath
// from the record at SourcePath.
type AggregateFunctionExpr struct {
	FnName     string      `json:"fnName"`
	Source     AliasSource `json:"source"`
	SourcePath []string    `json:"sourcePath"`
	TargetPath []string    `json:"targetPath"`
	VarType    VarType     `json:"type"`
}

// InSubqueryExpr tests Lookup against the values reached by following
// TargetPath from the record at SourcePath.
type InSubqueryExpr struct {
	Operator   string       `json:"operator"`
	Lookup     TypedExprDef `json:"lookup"`
	Source     AliasSource  `json:"source"`
	SourcePath []string     `json:"sourcePath"`
	TargetPath []string     `json:"targetPath"`
}

func (e *LiteralExpr) Type() VarType           { return literalType(e.Value) }
func (e *AliasExpr) Type() VarType             { return e.VarType }
func (e *VariableExpr) Type() VarType          { return e.VarType }
func (e *FunctionExpr) Type() VarType          { return e.VarType }
func (e *AggregateFunctionExpr) Type() VarType { return e.VarType }
func (e *InSubqueryExpr) Type() VarType        { return VarType{Kind: TypeBoolean} }

func (*LiteralExpr) typedExpr()           {}
func (*AliasExpr) typedExpr()             {}
func (*VariableExpr) typedExpr()          {}
func (*FunctionExpr) typedExpr()          {}
func (*AggregateFunctionExpr) typedExpr() {}
func (*InSubqueryExpr) typedExpr()        {}

func literalType(v any) VarType {
	switch v.(type) {
	case nil:
		return VarType{Kind: TypeNull, Nullable: true}
	case int, int32, int64:
		return VarType{Kind: TypeInteger}
	case float32, float64:
		return VarType{Kind: TypeFloat}
	case string:
		return VarType{Kind: TypeString}
	case bool:
		return VarType{Kind: TypeBoolean}
	}
	return VarType{Kind: TypeUnknown}
}

// ExprString renders a typed expression for diagnostics.
func ExprString(e TypedExprDef) string {
	switch e := e.(type) {
	case nil:
		return "<none>"
	case *LiteralExpr:
		if s, ok := e.Value.(string); ok {
			return fmt.Sprintf("%q", s)
		}
		if e.Value == nil {
			return "null"
		}
		return fmt.Sprint(e.Value)
	case *AliasExpr:
		return strings.Join(e.NamePath, ".")
	case *VariableExpr:
		return "$" + e.Name
	case *FunctionExpr:
		if op, ok := binaryOperatorOf(e.Name); ok && len(e.Args) == 2 {
			return "(" + ExprString(e.Args[0]) + " " + op + " " + ExprString(e.Args[1]) + ")"
		}
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = ExprString(a)
		}
		return e.Name + "(" + strings.Join(parts, ", ") + ")"
	case *AggregateFunctionExpr:
		return e.FnName + "(" + strings.Join(append(append([]string{}, e.SourcePath...), e.TargetPath...), ".") + ")"
	case *InSubqueryExpr:
		return "(" + ExprString(e.Lookup) + " " + e.Operator + " " + strings.Join(append(append([]string{}, e.SourcePath...), e.TargetPath...), ".") + ")"
	}
	panic(fmt.Sprintf("unreachable: unknown expression %T", e))
}

// WalkExpr calls fn for e and every nested expression, depth first.
func WalkExpr(e TypedExprDef, fn func(TypedExprDef)) {
	if e == nil {
		return
	}
	fn(e)
	switch e := e.(type) {
	case *FunctionExpr:
		for _, a := range e.Args {
			WalkExpr(a, fn)
		}
	case *InSubqueryExpr:
		WalkExpr(e.Lookup, fn)
	}
}

// Function names understood by the evaluators. Binary operators are lowered to
// functions named after the operator.
const (
	FnAnd           = "and"
	FnOr            = "or"
	FnNot           = "not"
	FnIs            = "is"
	FnIsNot         = "is not"
	FnLt            = "<"
	FnLte           = "<="
	FnGt            = ">"
	FnGte           = ">="
	FnAdd           = "+"
	FnSub           = "-"
	FnMul           = "*"
	FnDiv           = "/"
	FnIn            = "in"
	FnNotIn         = "not in"
	FnConcat        = "concat"
	FnLength        = "length"
	FnLower         = "lower"
	FnUpper         = "upper"
	FnNow           = "now"
	FnStringify     = "stringify"
	FnMatches       = "matches"
	FnCryptoHash    = "cryptoHash"
	FnCryptoToken   = "cryptoToken"
	FnCryptoCompare = "cryptoCompare"
	FnCount         = "count"
	FnSum           = "sum"
)

func binaryOperatorOf(name string) (string, bool) {
	switch name {
	case FnAnd, FnOr, FnIs, FnIsNot, FnLt, FnLte, FnGt, FnGte, FnAdd, FnSub, FnMul, FnDiv:
		return name, true
	}
	return "", false
}
