package ir

import "errors"

type Violation struct {
	Message string `json:"message"`
	Where   string `json:"where,omitempty"`
}

type ValidationError []*Violation

func (e ValidationError) Error() string {
	msg := "violations found:\n"
	for _, v := range e {
		line := "- " + v.Message
		if v.Where != "" {
			line += " (" + v.Where + ")"
		}
		msg += line + "\n"
	}
	return msg
}

// Core primitive used by all template helpers.
func violationAt(message, where string) *Violation {
	return &Violation{Message: message, Where: where}
}

// errUnresolved marks a composition step that depends on something not yet
// defined. The fixpoint loop requeues such steps instead of reporting them.
var errUnresolved = errors.New("unresolved")

type unresolvedError struct {
	msg string
}

func (e *unresolvedError) Error() string { return e.msg }
func (e *unresolvedError) Unwrap() error { return errUnresolved }

func unresolved(msg string) error { return &unresolvedError{msg: msg} }

func isUnresolved(err error) bool { return errors.Is(err, errUnresolved) }

// compileError is a definite composition failure.
type compileError struct {
	msg string
}

func (e *compileError) Error() string { return e.msg }

func failf(msg string) error { return &compileError{msg: msg} }
