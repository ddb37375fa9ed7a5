package ir

import (
	"fmt"

	"github.com/hanpama/modelgate/internal/spec"
)

// composeExpression lowers an untyped expression into a typed one, resolving
// identifiers against sc.
func (b *builder) composeExpression(e *spec.Expr, sc *scope) (TypedExprDef, error) {
	if e == nil {
		return nil, nil
	}
	switch e.Kind {
	case spec.ExprLiteral:
		return &LiteralExpr{Value: e.Value}, nil
	case spec.ExprIdentifier:
		return b.composeIdentifier(e.Path, sc)
	case spec.ExprUnary:
		if e.Op != FnNot {
			return nil, failf(fmt.Sprintf("unknown unary operator %q", e.Op))
		}
		arg, err := b.composeExpression(e.Args[0], sc)
		if err != nil {
			return nil, err
		}
		if !assignable(TypeBoolean, arg.Type()) {
			return nil, errTypeMismatch("not", "boolean", arg.Type())
		}
		return &FunctionExpr{Name: FnNot, Args: []TypedExprDef{arg}, VarType: VarType{Kind: TypeBoolean}}, nil
	case spec.ExprBinary:
		return b.composeBinary(e, sc)
	case spec.ExprFunction:
		return b.composeFunction(e, sc)
	}
	return nil, failf(fmt.Sprintf("unknown expression kind %q", e.Kind))
}

func (b *builder) composeIdentifier(path []string, sc *scope) (TypedExprDef, error) {
	if len(path) == 0 {
		return nil, failf("empty identifier")
	}
	if len(path) == 1 {
		if t, ok := sc.variables[path[0]]; ok {
			return &VariableExpr{Name: path[0], VarType: t}, nil
		}
		if t, ok := sc.changeset[path[0]]; ok {
			return &VariableExpr{Name: path[0], VarType: t}, nil
		}
	}
	tp, abs, err := b.resolveScoped(path, sc)
	if err != nil {
		return nil, err
	}
	if tp.IsRecord() {
		return nil, failf(fmt.Sprintf("path %s resolves to a record, not a value", pathString(path)))
	}
	if tp.Leaf.Kind == MemberHook {
		return nil, failf(fmt.Sprintf("hook %s can't be used in an expression", pathString(path)))
	}
	if tp.firstCollection(scopeStart(tp, sc)) >= 0 {
		return nil, errCollectionPath(path)
	}
	typ := tp.Leaf.Type
	typ.Nullable = tp.Nullable()
	return &AliasExpr{NamePath: abs, Source: tp.Source, VarType: typ}, nil
}

// splitCollectionPath resolves an identifier that must traverse a to-many
// relationship and splits it at the first such node.
func (b *builder) splitCollectionPath(what string, arg *spec.Expr, sc *scope) (*TypedPath, []string, []string, error) {
	if arg == nil || arg.Kind != spec.ExprIdentifier {
		return nil, nil, nil, failf(fmt.Sprintf("%s expects a path argument", what))
	}
	tp, abs, err := b.resolveScoped(arg.Path, sc)
	if err != nil {
		return nil, nil, nil, err
	}
	at := tp.firstCollection(scopeStart(tp, sc))
	if at < 0 {
		return nil, nil, nil, failf(fmt.Sprintf("%s expects a collection path, %s is not one", what, pathString(arg.Path)))
	}
	// abs[0] is the root, abs[i+1] is node i
	return tp, abs[:at+1], abs[at+1:], nil
}

func (b *builder) composeAggregateCall(fn string, args []*spec.Expr, sc *scope) (TypedExprDef, error) {
	if len(args) != 1 {
		return nil, failf(fmt.Sprintf("%s expects exactly one argument", fn))
	}
	tp, source, target, err := b.splitCollectionPath(fn, args[0], sc)
	if err != nil {
		return nil, err
	}
	e := &AggregateFunctionExpr{FnName: fn, Source: tp.Source, SourcePath: source, TargetPath: target}
	switch fn {
	case FnCount:
		if tp.Leaf != nil && tp.Leaf.Kind == MemberHook {
			return nil, failf("count can't aggregate a hook")
		}
		e.VarType = VarType{Kind: TypeInteger}
	case FnSum:
		if tp.Leaf == nil || !tp.Leaf.Type.IsNumeric() {
			return nil, failf(fmt.Sprintf("sum expects a numeric field path, got %s", pathString(args[0].Path)))
		}
		e.VarType = VarType{Kind: tp.Leaf.Type.Kind}
	}
	return e, nil
}

func (b *builder) composeIn(op string, lhs, rhs *spec.Expr, sc *scope) (TypedExprDef, error) {
	lookup, err := b.composeExpression(lhs, sc)
	if err != nil {
		return nil, err
	}
	tp, source, target, err := b.splitCollectionPath(op, rhs, sc)
	if err != nil {
		return nil, err
	}
	if tp.Leaf == nil || tp.Leaf.Kind == MemberHook {
		return nil, failf(fmt.Sprintf("%s expects a path ending in a value, got %s", op, pathString(rhs.Path)))
	}
	if !comparableTypes(lookup.Type(), tp.Leaf.Type) {
		return nil, errTypeMismatch(op, tp.Leaf.Type.String(), lookup.Type())
	}
	return &InSubqueryExpr{Operator: op, Lookup: lookup, Source: tp.Source, SourcePath: source, TargetPath: target}, nil
}

func (b *builder) composeBinary(e *spec.Expr, sc *scope) (TypedExprDef, error) {
	if e.Op == FnIn || e.Op == FnNotIn {
		return b.composeIn(e.Op, e.Args[0], e.Args[1], sc)
	}
	lhs, err := b.composeExpression(e.Args[0], sc)
	if err != nil {
		return nil, err
	}
	rhs, err := b.composeExpression(e.Args[1], sc)
	if err != nil {
		return nil, err
	}
	lt, rt := lhs.Type(), rhs.Type()
	args := []TypedExprDef{lhs, rhs}
	nullable := lt.Nullable || rt.Nullable
	switch e.Op {
	case FnAnd, FnOr:
		if !assignable(TypeBoolean, lt) || !assignable(TypeBoolean, rt) {
			return nil, failf(fmt.Sprintf("operator %s expects boolean operands, got %s and %s", e.Op, lt, rt))
		}
		return &FunctionExpr{Name: e.Op, Args: args, VarType: VarType{Kind: TypeBoolean}}, nil
	case FnIs, FnIsNot:
		if !comparableTypes(lt, rt) {
			return nil, failf(fmt.Sprintf("operator %s can't compare %s with %s", e.Op, lt, rt))
		}
		return &FunctionExpr{Name: e.Op, Args: args, VarType: VarType{Kind: TypeBoolean}}, nil
	case FnLt, FnLte, FnGt, FnGte:
		if !ordered(lt, rt) {
			return nil, failf(fmt.Sprintf("operator %s can't order %s and %s", e.Op, lt, rt))
		}
		return &FunctionExpr{Name: e.Op, Args: args, VarType: VarType{Kind: TypeBoolean, Nullable: nullable}}, nil
	case FnAdd:
		if lt.Kind == TypeString {
			return &FunctionExpr{Name: FnConcat, Args: args, VarType: VarType{Kind: TypeString, Nullable: nullable}}, nil
		}
		fallthrough
	case FnSub, FnMul, FnDiv:
		kind, ok := numericResult(lt, rt)
		if !ok {
			return nil, failf(fmt.Sprintf("operator %s expects numeric operands, got %s and %s", e.Op, lt, rt))
		}
		return &FunctionExpr{Name: e.Op, Args: args, VarType: VarType{Kind: kind, Nullable: nullable}}, nil
	}
	return nil, failf(fmt.Sprintf("unknown binary operator %q", e.Op))
}

type functionSig struct {
	args     []TypeKind
	variadic bool
	result   TypeKind
}

var functionSigs = map[string]functionSig{
	FnConcat:        {args: []TypeKind{TypeUnknown}, variadic: true, result: TypeString},
	FnLength:        {args: []TypeKind{TypeString}, result: TypeInteger},
	FnLower:         {args: []TypeKind{TypeString}, result: TypeString},
	FnUpper:         {args: []TypeKind{TypeString}, result: TypeString},
	FnNow:           {result: TypeInteger},
	FnStringify:     {args: []TypeKind{TypeUnknown}, result: TypeString},
	FnMatches:       {args: []TypeKind{TypeString, TypeString}, result: TypeBoolean},
	FnCryptoHash:    {args: []TypeKind{TypeString, TypeInteger}, result: TypeString},
	FnCryptoToken:   {args: []TypeKind{TypeInteger}, result: TypeString},
	FnCryptoCompare: {args: []TypeKind{TypeString, TypeString}, result: TypeBoolean},
}

func (b *builder) composeFunction(e *spec.Expr, sc *scope) (TypedExprDef, error) {
	if e.Name == FnCount || e.Name == FnSum {
		return b.composeAggregateCall(e.Name, e.Args, sc)
	}
	sig, ok := functionSigs[e.Name]
	if !ok {
		return nil, failf(fmt.Sprintf("unknown function %s", e.Name))
	}
	if sig.variadic {
		if len(e.Args) == 0 {
			return nil, failf(fmt.Sprintf("%s expects at least one argument", e.Name))
		}
	} else if len(e.Args) != len(sig.args) {
		return nil, failf(fmt.Sprintf("%s expects %d arguments, got %d", e.Name, len(sig.args), len(e.Args)))
	}
	args := make([]TypedExprDef, len(e.Args))
	nullable := false
	for i, a := range e.Args {
		arg, err := b.composeExpression(a, sc)
		if err != nil {
			return nil, err
		}
		want := sig.args[0]
		if !sig.variadic {
			want = sig.args[i]
		}
		if want != TypeUnknown && !assignable(want, arg.Type()) {
			return nil, errTypeMismatch(fmt.Sprintf("%s argument %d", e.Name, i+1), string(want), arg.Type())
		}
		nullable = nullable || arg.Type().Nullable
		args[i] = arg
	}
	typ := VarType{Kind: sig.result}
	switch e.Name {
	case FnLength, FnLower, FnUpper, FnConcat:
		typ.Nullable = nullable
	}
	return &FunctionExpr{Name: e.Name, Args: args, VarType: typ}, nil
}

// assignable reports whether a value of type got may be used where want is expected.
func assignable(want TypeKind, got VarType) bool {
	switch got.Kind {
	case TypeUnknown, TypeNull:
		return true
	}
	return compatibleKinds(want, got.Kind)
}

func compatibleKinds(a, b TypeKind) bool {
	if a == b || a == TypeUnknown || b == TypeUnknown {
		return true
	}
	return (a == TypeInteger || a == TypeFloat) && (b == TypeInteger || b == TypeFloat)
}

func comparableTypes(a, b VarType) bool {
	if a.Kind == TypeNull || b.Kind == TypeNull {
		return true
	}
	return compatibleKinds(a.Kind, b.Kind)
}

func ordered(a, b VarType) bool {
	if !comparableTypes(a, b) {
		return false
	}
	switch a.Kind {
	case TypeBoolean:
		return false
	}
	return true
}

func numericResult(a, b VarType) (TypeKind, bool) {
	isNum := func(t VarType) bool { return t.IsNumeric() || t.Kind == TypeUnknown || t.Kind == TypeNull }
	if !isNum(a) || !isNum(b) {
		return "", false
	}
	if a.Kind == TypeFloat || b.Kind == TypeFloat {
		return TypeFloat, true
	}
	return TypeInteger, true
}
