package predicate

import (
	"context"
	"fmt"
	"strings"
)

// Op is a comparison operator used by field expressions.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
	OpGte      Op = "gte"
	OpLte      Op = "lte"
	OpContains Op = "contains"
	OpIn       Op = "in"
	OpExists   Op = "exists"
)

var opSymbols = map[Op]string{
	OpEq:       "==",
	OpNe:       "!=",
	OpGt:       ">",
	OpLt:       "<",
	OpGte:      ">=",
	OpLte:      "<=",
	OpContains: "contains",
	OpIn:       "in",
	OpExists:   "exists",
}

// Valid reports whether op is a known operator.
func (o Op) Valid() bool {
	_, ok := opSymbols[NormalizeOp(o)]
	return ok
}

// NormalizeOp lowercases op and maps symbolic aliases (==, <, ...) to their names.
func NormalizeOp(o Op) Op {
	raw := strings.ToLower(strings.TrimSpace(string(o)))
	for name, sym := range opSymbols {
		if raw == sym {
			return name
		}
	}
	return Op(raw)
}

// Expr is a serializable boolean expression over a workflow data map.
// Exactly one of Field, All, Any, Not or Ref must be set.
type Expr struct {
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	Op    Op     `json:"op,omitempty" yaml:"op,omitempty"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
	All   []Expr `json:"all,omitempty" yaml:"all,omitempty"`
	Any   []Expr `json:"any,omitempty" yaml:"any,omitempty"`
	Not   *Expr  `json:"not,omitempty" yaml:"not,omitempty"`
	Ref   string `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// Env is the evaluation environment for an expression.
type Env struct {
	Data  map[string]any
	Funcs *Registry
}

// Field builds a comparison against the value at a dotted path.
func Field(path string, op Op, value any) Expr {
	return Expr{Field: path, Op: op, Value: value}
}

// All builds a conjunction.
func All(exprs ...Expr) Expr { return Expr{All: exprs} }

// Any builds a disjunction.
func Any(exprs ...Expr) Expr { return Expr{Any: exprs} }

// Not negates expr.
func Not(expr Expr) Expr { return Expr{Not: &expr} }

// Ref builds a reference to a registered named predicate.
func Ref(name string) Expr { return Expr{Ref: name} }

func (e Expr) kinds() int {
	n := 0
	if strings.TrimSpace(e.Field) != "" {
		n++
	}
	if len(e.All) > 0 {
		n++
	}
	if len(e.Any) > 0 {
		n++
	}
	if e.Not != nil {
		n++
	}
	if strings.TrimSpace(e.Ref) != "" {
		n++
	}
	return n
}

// Validate checks the expression shape. When funcs is non-nil, refs must resolve.
func (e Expr) Validate(funcs *Registry) error {
	switch e.kinds() {
	case 0:
		return fmt.Errorf("empty expression")
	case 1:
	default:
		return fmt.Errorf("expression must set exactly one of field/all/any/not/ref")
	}
	switch {
	case strings.TrimSpace(e.Field) != "":
		if !e.Op.Valid() {
			return fmt.Errorf("field %s has unknown operator %q", e.Field, e.Op)
		}
	case len(e.All) > 0:
		for idx, sub := range e.All {
			if err := sub.Validate(funcs); err != nil {
				return fmt.Errorf("all[%d]: %w", idx, err)
			}
		}
	case len(e.Any) > 0:
		for idx, sub := range e.Any {
			if err := sub.Validate(funcs); err != nil {
				return fmt.Errorf("any[%d]: %w", idx, err)
			}
		}
	case e.Not != nil:
		if err := e.Not.Validate(funcs); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	default:
		if funcs != nil {
			if _, ok := funcs.Lookup(e.Ref); !ok {
				return fmt.Errorf("unknown predicate ref %q", e.Ref)
			}
		}
	}
	return nil
}

// Eval evaluates the expression against env.
func (e Expr) Eval(ctx context.Context, env Env) (bool, error) {
	switch {
	case strings.TrimSpace(e.Field) != "":
		return evalField(e, env.Data)
	case len(e.All) > 0:
		for _, sub := range e.All {
			ok, err := sub.Eval(ctx, env)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case len(e.Any) > 0:
		for _, sub := range e.Any {
			ok, err := sub.Eval(ctx, env)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case e.Not != nil:
		ok, err := e.Not.Eval(ctx, env)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case strings.TrimSpace(e.Ref) != "":
		fn, ok := env.Funcs.Lookup(e.Ref)
		if !ok {
			return false, fmt.Errorf("unknown predicate ref %q", e.Ref)
		}
		return fn(ctx, env.Data)
	default:
		return false, fmt.Errorf("empty expression")
	}
}

func evalField(e Expr, data map[string]any) (bool, error) {
	op := NormalizeOp(e.Op)
	left, found := Lookup(data, e.Field)
	if op == OpExists {
		want := true
		if b, ok := e.Value.(bool); ok {
			want = b
		}
		return (found && left != nil) == want, nil
	}
	if !found {
		return op == OpNe, nil
	}
	return Compare(left, op, e.Value)
}

// String renders the expression for humans.
func (e Expr) String() string {
	switch {
	case strings.TrimSpace(e.Field) != "":
		op := NormalizeOp(e.Op)
		if op == OpExists {
			return fmt.Sprintf("exists(%s)", e.Field)
		}
		return fmt.Sprintf("%s %s %v", e.Field, opSymbols[op], e.Value)
	case len(e.All) > 0:
		return "all(" + joinExprs(e.All) + ")"
	case len(e.Any) > 0:
		return "any(" + joinExprs(e.Any) + ")"
	case e.Not != nil:
		return "not(" + e.Not.String() + ")"
	case strings.TrimSpace(e.Ref) != "":
		return "@" + e.Ref
	default:
		return "<empty>"
	}
}

func joinExprs(exprs []Expr) string {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, ", ")
}
