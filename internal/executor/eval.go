package executor

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hanpama/modelgate/internal/ir"
)

// env is the record scope an expression is evaluated in. Model-sourced paths
// are absolute: they start with from[0] and share a prefix with from, and
// tuple[i] holds the record reached by from[:i+1].
type env struct {
	from  []string
	tuple []*record
	vars  map[string]any
}

func recordEnv(rec *record) *env {
	return &env{from: []string{rec.model.Name}, tuple: []*record{rec}}
}

// anchor returns the tuple record a model path starts from and the remaining
// segments.
func (e *env) anchor(path []string) (*record, []string) {
	if e == nil || len(e.tuple) == 0 {
		return nil, nil
	}
	k := 0
	for k+1 < len(e.tuple) && k+1 < len(path) && path[k+1] == e.from[k+1] {
		k++
	}
	return e.tuple[k], path[k+1:]
}

func (r *run) eval(e ir.TypedExprDef, en *env) (any, error) {
	switch e := e.(type) {
	case nil:
		return nil, nil
	case *ir.LiteralExpr:
		return normalize(e.Value), nil
	case *ir.AliasExpr:
		if e.Source == ir.SourceContext {
			return r.contextValue(e.NamePath)
		}
		start, rest := en.anchor(e.NamePath)
		_, v, err := r.walkOne(start, rest)
		return v, err
	case *ir.VariableExpr:
		if en == nil {
			return nil, nil
		}
		return en.vars[e.Name], nil
	case *ir.FunctionExpr:
		return r.evalFunction(e, en)
	case *ir.AggregateFunctionExpr:
		_, recs, vals, err := r.collection(e.Source, e.SourcePath, e.TargetPath, en)
		if err != nil {
			return nil, err
		}
		if e.FnName == ir.FnCount {
			if vals == nil {
				return int64(len(recs)), nil
			}
			var n int64
			for _, v := range vals {
				if v != nil {
					n++
				}
			}
			return n, nil
		}
		return sum(vals, e.VarType.Kind), nil
	case *ir.InSubqueryExpr:
		lookup, err := r.eval(e.Lookup, en)
		if err != nil {
			return nil, err
		}
		_, _, vals, err := r.collection(e.Source, e.SourcePath, e.TargetPath, en)
		if err != nil {
			return nil, err
		}
		found := matchesAny(lookup, vals)
		if e.Operator == ir.FnNotIn {
			return !found, nil
		}
		return found, nil
	}
	panic(fmt.Sprintf("unreachable: unknown expression %T", e))
}

// collection resolves the record at sourcePath and follows targetPath from it.
func (r *run) collection(source ir.AliasSource, sourcePath, targetPath []string, en *env) (*record, []*record, []any, error) {
	var src *record
	var err error
	if source == ir.SourceContext {
		src, err = r.contextRecord(sourcePath)
	} else {
		start, rest := en.anchor(sourcePath)
		src, _, err = r.walkOne(start, rest)
	}
	if err != nil || src == nil {
		return nil, nil, nil, err
	}
	recs, vals, err := r.walk([]*record{src}, targetPath)
	return src, recs, vals, err
}

func (r *run) evalFunction(e *ir.FunctionExpr, en *env) (any, error) {
	switch e.Name {
	case ir.FnAnd, ir.FnOr:
		lhs, err := r.eval(e.Args[0], en)
		if err != nil {
			return nil, err
		}
		if e.Name == ir.FnAnd && !truthy(lhs) {
			return false, nil
		}
		if e.Name == ir.FnOr && truthy(lhs) {
			return true, nil
		}
		rhs, err := r.eval(e.Args[1], en)
		if err != nil {
			return nil, err
		}
		return truthy(rhs), nil
	}

	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		v, err := r.eval(a, en)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return r.apply(e.Name, args, e.VarType.Kind)
}

// apply computes a function over evaluated arguments. It is shared by
// expressions and setters.
func (r *run) apply(name string, args []any, result ir.TypeKind) (any, error) {
	switch name {
	case ir.FnAnd:
		return truthy(args[0]) && truthy(args[1]), nil
	case ir.FnOr:
		return truthy(args[0]) || truthy(args[1]), nil
	case ir.FnNot:
		return !truthy(args[0]), nil
	case ir.FnIs:
		return equalValues(args[0], args[1]), nil
	case ir.FnIsNot:
		return !equalValues(args[0], args[1]), nil
	case ir.FnLt, ir.FnLte, ir.FnGt, ir.FnGte:
		if args[0] == nil || args[1] == nil {
			return nil, nil
		}
		c := compareValues(args[0], args[1])
		switch name {
		case ir.FnLt:
			return c < 0, nil
		case ir.FnLte:
			return c <= 0, nil
		case ir.FnGt:
			return c > 0, nil
		}
		return c >= 0, nil
	case ir.FnAdd, ir.FnSub, ir.FnMul, ir.FnDiv:
		return arithmetic(name, args[0], args[1], result)
	case ir.FnConcat:
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(stringify(a))
		}
		return sb.String(), nil
	case ir.FnLength:
		s, ok := args[0].(string)
		if !ok {
			return nil, nil
		}
		return int64(utf8.RuneCountInString(s)), nil
	case ir.FnLower, ir.FnUpper:
		s, ok := args[0].(string)
		if !ok {
			return nil, nil
		}
		if name == ir.FnLower {
			return strings.ToLower(s), nil
		}
		return strings.ToUpper(s), nil
	case ir.FnNow:
		return r.now().Unix(), nil
	case ir.FnStringify:
		return stringify(args[0]), nil
	case ir.FnMatches:
		s, ok := args[0].(string)
		pattern, _ := args[1].(string)
		if !ok {
			return false, nil
		}
		re, err := r.regexp(pattern)
		if err != nil {
			return nil, err
		}
		return re.MatchString(s), nil
	case ir.FnCryptoHash:
		s, ok := args[0].(string)
		if !ok {
			return nil, nil
		}
		cost, _ := asInt64(args[1])
		return HashSecret(s, int(cost))
	case ir.FnCryptoToken:
		n, _ := asInt64(args[0])
		return NewToken(int(n))
	case ir.FnCryptoCompare:
		plain, ok1 := args[0].(string)
		hash, ok2 := args[1].(string)
		return ok1 && ok2 && CompareSecret(plain, hash), nil
	}
	return nil, fmt.Errorf("unknown function %s", name)
}

func (r *run) regexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := r.regexps[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("matches: %w", err)
	}
	r.regexps[pattern] = re
	return re, nil
}

func arithmetic(op string, a, b any, result ir.TypeKind) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	ia, aInt := normalize(a).(int64)
	ib, bInt := normalize(b).(int64)
	if aInt && bInt && result != ir.TypeFloat {
		switch op {
		case ir.FnAdd:
			return ia + ib, nil
		case ir.FnSub:
			return ia - ib, nil
		case ir.FnMul:
			return ia * ib, nil
		}
		if ib == 0 {
			return nil, NewError(CodeOther, "division by zero")
		}
		return ia / ib, nil
	}
	fa, ok1 := toFloat(a)
	fb, ok2 := toFloat(b)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("operator %s expects numbers, got %T and %T", op, a, b)
	}
	switch op {
	case ir.FnAdd:
		return fa + fb, nil
	case ir.FnSub:
		return fa - fb, nil
	case ir.FnMul:
		return fa * fb, nil
	}
	if fb == 0 {
		return nil, NewError(CodeOther, "division by zero")
	}
	return fa / fb, nil
}
