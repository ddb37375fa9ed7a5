package spec

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type ExprKind string

const (
	ExprLiteral    ExprKind = "literal"
	ExprIdentifier ExprKind = "identifier"
	ExprUnary      ExprKind = "unary"
	ExprBinary     ExprKind = "binary"
	ExprFunction   ExprKind = "function"
)

// Expr is an untyped expression node. Which fields are meaningful depends on Kind:
// literal uses Value, identifier uses Path, unary and binary use Op and Args,
// function uses Name and Args.
type Expr struct {
	Kind  ExprKind `json:"kind"`
	Value any      `json:"value,omitempty"`
	Path  Path     `json:"path,omitempty"`
	Op    string   `json:"op,omitempty"`
	Name  string   `json:"name,omitempty"`
	Args  []*Expr  `json:"args,omitempty"`
}

func Lit(v any) *Expr { return &Expr{Kind: ExprLiteral, Value: v} }

// Ident builds an identifier from a dotted path such as "org.repos.name".
func Ident(path string) *Expr { return &Expr{Kind: ExprIdentifier, Path: SplitPath(path)} }

func Unary(op string, e *Expr) *Expr { return &Expr{Kind: ExprUnary, Op: op, Args: []*Expr{e}} }

func Binary(op string, lhs, rhs *Expr) *Expr {
	return &Expr{Kind: ExprBinary, Op: op, Args: []*Expr{lhs, rhs}}
}

func Fn(name string, args ...*Expr) *Expr { return &Expr{Kind: ExprFunction, Name: name, Args: args} }

func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ExprLiteral:
		if s, ok := e.Value.(string); ok {
			return fmt.Sprintf("%q", s)
		}
		if e.Value == nil {
			return "null"
		}
		return fmt.Sprint(e.Value)
	case ExprIdentifier:
		return e.Path.String()
	case ExprUnary:
		return e.Op + " " + e.Args[0].String()
	case ExprBinary:
		return "(" + e.Args[0].String() + " " + e.Op + " " + e.Args[1].String() + ")"
	case ExprFunction:
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = a.String()
		}
		return e.Name + "(" + strings.Join(parts, ", ") + ")"
	}
	return "<invalid>"
}

// Path is a dotted name path. In YAML it is written either as "a.b.c" or as a sequence.
type Path []string

func SplitPath(s string) Path {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

func (p Path) String() string { return strings.Join(p, ".") }

func (p *Path) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*p = SplitPath(node.Value)
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := node.Decode(&parts); err != nil {
			return err
		}
		*p = parts
		return nil
	}
	return fmt.Errorf("line %d: path must be a string or a list", node.Line)
}

// UnmarshalYAML accepts the following forms:
//
//	42 / "text" / true                literal
//	{lit: v}                          literal, v may be null
//	{ident: a.b.c}                    identifier
//	{not: e}                          unary
//	{op: is, lhs: e, rhs: e}          binary
//	{fn: name, args: [e, ...]}        function call
//
// Operands are decoded from raw nodes, so a null operand is the null literal
// rather than a missing one.
func (e *Expr) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var v any
		if err := node.Decode(&v); err != nil {
			return err
		}
		*e = Expr{Kind: ExprLiteral, Value: normalizeLiteral(v)}
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expression must be a scalar or a mapping", node.Line)
	}
	var raw struct {
		Lit   yaml.Node   `yaml:"lit"`
		Ident Path        `yaml:"ident"`
		Not   yaml.Node   `yaml:"not"`
		Op    string      `yaml:"op"`
		LHS   yaml.Node   `yaml:"lhs"`
		RHS   yaml.Node   `yaml:"rhs"`
		Fn    string      `yaml:"fn"`
		Args  []yaml.Node `yaml:"args"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch {
	case present(raw.Lit):
		var v any
		if err := raw.Lit.Decode(&v); err != nil {
			return err
		}
		*e = Expr{Kind: ExprLiteral, Value: normalizeLiteral(v)}
	case len(raw.Ident) > 0:
		*e = *Ident(raw.Ident.String())
	case present(raw.Not):
		operand, err := operand(&raw.Not)
		if err != nil {
			return err
		}
		*e = *Unary("not", operand)
	case raw.Op != "":
		if !present(raw.LHS) || !present(raw.RHS) {
			return fmt.Errorf("line %d: binary %q needs lhs and rhs", node.Line, raw.Op)
		}
		lhs, err := operand(&raw.LHS)
		if err != nil {
			return err
		}
		rhs, err := operand(&raw.RHS)
		if err != nil {
			return err
		}
		*e = *Binary(raw.Op, lhs, rhs)
	case raw.Fn != "":
		args := make([]*Expr, len(raw.Args))
		for i := range raw.Args {
			arg, err := operand(&raw.Args[i])
			if err != nil {
				return err
			}
			args[i] = arg
		}
		*e = *Fn(raw.Fn, args...)
	default:
		return fmt.Errorf("line %d: unrecognized expression", node.Line)
	}
	return nil
}

// present reports whether a mapping key was written. An absent key leaves the
// node zero; an explicit null decodes to a !!null scalar.
func present(n yaml.Node) bool { return n.Kind != 0 }

func operand(n *yaml.Node) (*Expr, error) {
	e := &Expr{}
	if err := e.UnmarshalYAML(n); err != nil {
		return nil, err
	}
	return e, nil
}

// normalizeLiteral widens YAML integers to int64 so literals compare consistently.
func normalizeLiteral(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return v
}
