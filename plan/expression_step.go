package plan

import (
	"fmt"
	"strings"
)

// Assignment names the result of an expression.
type Assignment struct {
	Name string
	Expr Expr
}

func (a Assignment) String() string {
	if c, ok := a.Expr.(*ColumnExpr); ok && c.Name == a.Name {
		return a.Name
	}
	return fmt.Sprintf("%s AS %s", a.Expr.String(), a.Name)
}

// Expression computes its output columns from the input columns.
type Expression struct {
	Assignments []Assignment
}

func NewExpression(assignments ...Assignment) *Expression {
	return &Expression{Assignments: assignments}
}

func (s *Expression) Name() string {
	return "Expression"
}

func (s *Expression) String() string {
	parts := make([]string, len(s.Assignments))
	for i, a := range s.Assignments {
		parts[i] = a.String()
	}
	return fmt.Sprintf("Expression: %s", strings.Join(parts, ", "))
}

// OutputColumns returns the names the step produces, in order.
func (s *Expression) OutputColumns() []string {
	out := make([]string, len(s.Assignments))
	for i, a := range s.Assignments {
		out[i] = a.Name
	}
	return out
}

// Passthrough returns the output columns that are input columns forwarded unchanged.
func (s *Expression) Passthrough() []string {
	var out []string
	for _, a := range s.Assignments {
		if c, ok := a.Expr.(*ColumnExpr); ok && c.Name == a.Name {
			out = append(out, a.Name)
		}
	}
	return out
}

// Mapping returns output name -> defining expression.
func (s *Expression) Mapping() map[string]Expr {
	m := make(map[string]Expr, len(s.Assignments))
	for _, a := range s.Assignments {
		m[a.Name] = a.Expr
	}
	return m
}

// Substitute replaces column references found in mapping by their definitions.
func Substitute(e Expr, mapping map[string]Expr) Expr {
	switch x := e.(type) {
	case *ColumnExpr:
		if def, ok := mapping[x.Name]; ok {
			return def
		}
		return x
	case *ComparisonExpr:
		return NewComparisonExpr(Substitute(x.Left, mapping), Substitute(x.Right, mapping), x.CompType)
	case *LogicExpr:
		return NewLogicExpr(Substitute(x.Left, mapping), Substitute(x.Right, mapping), x.LogicType)
	case *NotExpr:
		return NewNotExpr(Substitute(x.Child, mapping))
	case *IsNullExpr:
		return &IsNullExpr{Child: Substitute(x.Child, mapping), Negated: x.Negated}
	}
	return e
}
