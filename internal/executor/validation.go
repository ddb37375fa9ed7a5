package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/hanpama/modelgate/internal/ir"
)

// Error codes reported by validation in addition to validator error codes.
const (
	CodeRequired          = "required"
	CodeType              = "type"
	CodeReferenceNotFound = "reference-not-found"
	CodeAlreadyExists     = "already-exists"
)

// Markers attaches error codes found by database lookups to fieldset fields,
// keyed by the dotted field path. Markers are layered over the compiled
// fieldset at validation time.
type Markers map[string]string

// Validate checks value against fs. It returns nil when value is accepted and
// otherwise an error tree mirroring fs: a map for records and a list of error
// codes for fields. The error result is reserved for failures of validator
// hooks. value is not modified.
func Validate(ctx context.Context, fs ir.FieldsetDef, value any, markers Markers, hooks HookInvoker) (any, error) {
	r := newRun(ctx, nil, nil, hooks, time.Now)
	_, tree, err := r.validateBody(fs, value, markers)
	return tree, err
}

// validateBody validates a request body and returns a copy with numbers
// coerced to the declared field types.
func (r *run) validateBody(fs ir.FieldsetDef, value any, markers Markers) (map[string]any, any, error) {
	if fs == nil {
		return map[string]any{}, nil, nil
	}
	if value == nil {
		value = map[string]any{}
	}
	out, tree, err := r.validate(fs, value, true, nil, markers)
	if err != nil || tree != nil {
		return nil, tree, err
	}
	body, _ := out.(map[string]any)
	if body == nil {
		body = map[string]any{}
	}
	return body, nil, nil
}

func (r *run) validate(fs ir.FieldsetDef, value any, present bool, path []string, markers Markers) (any, any, error) {
	switch fs := fs.(type) {
	case *ir.FieldsetRecord:
		if !present || value == nil {
			if fs.Nullable || (!present && !recordRequired(fs)) {
				return nil, nil, nil
			}
			return nil, []string{CodeRequired}, nil
		}
		m, ok := value.(map[string]any)
		if !ok {
			return nil, []string{CodeType}, nil
		}
		out := make(map[string]any, len(fs.Properties))
		errs := make(map[string]any)
		for _, p := range fs.Properties {
			v, ok := m[p.Name]
			cv, tree, err := r.validate(p.Def, v, ok, append(path[:len(path):len(path)], p.Name), markers)
			if err != nil {
				return nil, nil, err
			}
			if tree != nil {
				errs[p.Name] = tree
				continue
			}
			if ok {
				out[p.Name] = cv
			}
		}
		if len(errs) > 0 {
			return nil, errs, nil
		}
		return out, nil, nil
	case *ir.FieldsetField:
		if !present {
			if fs.Required {
				return nil, []string{CodeRequired}, nil
			}
			return nil, nil, nil
		}
		if value == nil {
			if fs.Nullable {
				return nil, nil, nil
			}
			return nil, []string{CodeRequired}, nil
		}
		v, ok := coerce(value, fs.Type)
		if !ok {
			return nil, []string{CodeType}, nil
		}
		codes, err := r.runValidators(fs.Validators, v)
		if err != nil {
			return nil, nil, err
		}
		if code := markers[fieldsetKey(path)]; code != "" {
			codes = append(codes, code)
		}
		if len(codes) > 0 {
			return nil, codes, nil
		}
		return v, nil, nil
	}
	panic(fmt.Sprintf("unreachable: unknown fieldset %T", fs))
}

// recordRequired reports whether an absent record would leave a required
// field unset.
func recordRequired(fs *ir.FieldsetRecord) bool {
	for _, p := range fs.Properties {
		switch d := p.Def.(type) {
		case *ir.FieldsetField:
			if d.Required {
				return true
			}
		case *ir.FieldsetRecord:
			if !d.Nullable && recordRequired(d) {
				return true
			}
		}
	}
	return false
}

func (r *run) runValidators(vs []ir.ValidatorDef, value any) ([]string, error) {
	var codes []string
	for _, v := range vs {
		c, err := r.runValidator(v, value)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c...)
	}
	return codes, nil
}

func (r *run) runValidator(v ir.ValidatorDef, value any) ([]string, error) {
	switch v := v.(type) {
	case *ir.ValidatorCall:
		ok, code, err := r.check(v, value)
		if err != nil || ok {
			return nil, err
		}
		return []string{code}, nil
	case *ir.ValidatorAnd:
		return r.runValidators(v.Validators, value)
	case *ir.ValidatorOr:
		var codes []string
		for _, child := range v.Validators {
			c, err := r.runValidator(child, value)
			if err != nil {
				return nil, err
			}
			if len(c) == 0 {
				return nil, nil
			}
			codes = append(codes, c...)
		}
		return codes, nil
	}
	panic(fmt.Sprintf("unreachable: unknown validator %T", v))
}

// check applies a declared validator. The first declared argument receives
// value and the rest receive the call arguments. The code is the validator's
// error code.
func (r *run) check(call *ir.ValidatorCall, value any) (bool, string, error) {
	decl := call.Decl
	if decl == nil && r.def != nil {
		decl = r.def.Validator(call.Name)
	}
	if decl == nil {
		return false, "", fmt.Errorf("validator %s is not defined", call.Name)
	}
	vars := map[string]any{decl.Args[0].Name: value}
	for i, a := range call.Args {
		vars[decl.Args[i+1].Name] = normalize(a)
	}
	if decl.AssertHook != nil {
		v, err := r.invoke(*decl.AssertHook, vars)
		if err != nil {
			return false, "", fmt.Errorf("validator %s: %w", decl.Name, err)
		}
		return truthy(v), decl.ErrorCode, nil
	}
	v, err := r.eval(decl.Assert, &env{vars: vars})
	if err != nil {
		return false, "", fmt.Errorf("validator %s: %w", decl.Name, err)
	}
	return truthy(v), decl.ErrorCode, nil
}
