package ir

import (
	"fmt"
	"strings"
)

// Common reusable error constructors (template helpers)
// NOTE: Keep messages stable to avoid breaking snapshot tests.

func errNotInContext(name string) error {
	return failf(fmt.Sprintf("%s is not in the context", name))
}

func errNotAModel(path []string) error {
	return failf(fmt.Sprintf("path %s does not resolve into a model", strings.Join(path, ".")))
}

func errUnknownMember(model, member string) error {
	return unresolved(fmt.Sprintf("%s.%s is not defined", model, member))
}

func errUnknownModel(name string) error {
	return unresolved(fmt.Sprintf("model %s is not defined", name))
}

func errAmbiguousQueryTarget(query string) error {
	return failf(fmt.Sprintf("query %s doesn't resolve to an unambiguous target model", query))
}

func errCollectionPath(path []string) error {
	return failf(fmt.Sprintf("path %s traverses a collection; use an aggregate or `in`", strings.Join(path, ".")))
}

func errTypeMismatch(what string, want string, got VarType) error {
	return failf(fmt.Sprintf("%s expects %s, got %s", what, want, got))
}

func errAliasCollision(alias string) error {
	return failf(fmt.Sprintf("alias %s is already used in this endpoint", alias))
}

func errOverlap(field, a, b string) error {
	return failf(fmt.Sprintf("field %s is both %s and %s", field, a, b))
}

func violationDuplicateModel(name string) *Violation {
	return violationAt(fmt.Sprintf("duplicate model name %q", name), "")
}

func violationDuplicateMember(model, member string) *Violation {
	return violationAt(fmt.Sprintf("duplicate member %q in model %q", member, model), "model "+model)
}

func violationDuplicateValidator(name string) *Violation {
	return violationAt(fmt.Sprintf("duplicate validator %q", name), "")
}

func violationDeadlock(stuck []string) *Violation {
	return violationAt("could not resolve specification:\n  "+strings.Join(stuck, "\n  "), "")
}
