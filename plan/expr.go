package plan

import (
	"fmt"
	"sort"
	"strings"

	"mit.edu/dsg/planopt/common"
)

// Expr represents a node in an expression tree.
// Expressions are immutable; rewrites build new ones instead of editing them.
type Expr interface {
	// OutputType returns the type of value this expression produces.
	OutputType() common.Type

	// Columns returns the names of the columns the expression reads.
	Columns() []string

	// String returns a string representation of the expression.
	String() string
}

// ColumnExpr references a column of the input by name.
type ColumnExpr struct {
	Name string
	Type common.Type
}

func NewColumnExpr(name string, t common.Type) *ColumnExpr {
	return &ColumnExpr{Name: name, Type: t}
}

func (e *ColumnExpr) OutputType() common.Type {
	return e.Type
}

func (e *ColumnExpr) Columns() []string {
	return []string{e.Name}
}

func (e *ColumnExpr) String() string {
	return e.Name
}

type ConstantExpr struct {
	Val common.Value
}

func NewConstantExpr(val common.Value) *ConstantExpr {
	return &ConstantExpr{Val: val}
}

func (e *ConstantExpr) OutputType() common.Type {
	return e.Val.Type()
}

func (e *ConstantExpr) Columns() []string {
	return nil
}

func (e *ConstantExpr) String() string {
	return e.Val.String()
}

type ComparisonType int

const (
	Equal ComparisonType = iota
	NotEqual
	GreaterThan
	LessThan
	GreaterThanOrEqual
	LessThanOrEqual
)

func (c ComparisonType) String() string {
	switch c {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case GreaterThan:
		return ">"
	case LessThan:
		return "<"
	case GreaterThanOrEqual:
		return ">="
	case LessThanOrEqual:
		return "<="
	}
	return "???"
}

// ParseComparison maps an operator spelling to a ComparisonType.
func ParseComparison(op string) (ComparisonType, bool) {
	switch op {
	case "=", "==":
		return Equal, true
	case "!=", "<>":
		return NotEqual, true
	case ">":
		return GreaterThan, true
	case "<":
		return LessThan, true
	case ">=":
		return GreaterThanOrEqual, true
	case "<=":
		return LessThanOrEqual, true
	}
	return Equal, false
}

type ComparisonExpr struct {
	Left     Expr
	Right    Expr
	CompType ComparisonType
}

func NewComparisonExpr(left Expr, right Expr, compType ComparisonType) *ComparisonExpr {
	return &ComparisonExpr{Left: left, Right: right, CompType: compType}
}

func (e *ComparisonExpr) OutputType() common.Type {
	return common.IntType
}

func (e *ComparisonExpr) Columns() []string {
	return mergeColumns(e.Left.Columns(), e.Right.Columns())
}

func (e *ComparisonExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.Left.String(), e.CompType.String(), e.Right.String())
}

// ColumnConstant returns the column and constant of a "column op constant" comparison,
// normalizing "constant op column" by mirroring the operator.
func (e *ComparisonExpr) ColumnConstant() (*ColumnExpr, common.Value, ComparisonType, bool) {
	if col, ok := e.Left.(*ColumnExpr); ok {
		if c, ok := e.Right.(*ConstantExpr); ok {
			return col, c.Val, e.CompType, true
		}
	}
	if col, ok := e.Right.(*ColumnExpr); ok {
		if c, ok := e.Left.(*ConstantExpr); ok {
			return col, c.Val, mirror(e.CompType), true
		}
	}
	return nil, common.Value{}, e.CompType, false
}

func mirror(c ComparisonType) ComparisonType {
	switch c {
	case GreaterThan:
		return LessThan
	case LessThan:
		return GreaterThan
	case GreaterThanOrEqual:
		return LessThanOrEqual
	case LessThanOrEqual:
		return GreaterThanOrEqual
	}
	return c
}

type LogicType int

const (
	LogicAnd LogicType = iota
	LogicOr
)

func (l LogicType) String() string {
	if l == LogicAnd {
		return "AND"
	}
	return "OR"
}

type LogicExpr struct {
	Left      Expr
	Right     Expr
	LogicType LogicType
}

func NewLogicExpr(left Expr, right Expr, logicType LogicType) *LogicExpr {
	return &LogicExpr{Left: left, Right: right, LogicType: logicType}
}

func (e *LogicExpr) OutputType() common.Type {
	return common.IntType
}

func (e *LogicExpr) Columns() []string {
	return mergeColumns(e.Left.Columns(), e.Right.Columns())
}

func (e *LogicExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left.String(), e.LogicType.String(), e.Right.String())
}

type NotExpr struct {
	Child Expr
}

func NewNotExpr(child Expr) *NotExpr {
	return &NotExpr{Child: child}
}

func (e *NotExpr) OutputType() common.Type {
	return common.IntType
}

func (e *NotExpr) Columns() []string {
	return e.Child.Columns()
}

func (e *NotExpr) String() string {
	return fmt.Sprintf("NOT %s", e.Child.String())
}

// IsNullExpr tests a column for NULL (or NOT NULL when Negated).
type IsNullExpr struct {
	Child   Expr
	Negated bool
}

func (e *IsNullExpr) OutputType() common.Type {
	return common.IntType
}

func (e *IsNullExpr) Columns() []string {
	return e.Child.Columns()
}

func (e *IsNullExpr) String() string {
	if e.Negated {
		return fmt.Sprintf("%s IS NOT NULL", e.Child.String())
	}
	return fmt.Sprintf("%s IS NULL", e.Child.String())
}

// Conjuncts splits an expression on top-level ANDs.
func Conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	var out []Expr
	stack := []Expr{e}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if l, ok := cur.(*LogicExpr); ok && l.LogicType == LogicAnd {
			stack = append(stack, l.Right, l.Left)
			continue
		}
		out = append(out, cur)
	}
	return out
}

// And joins expressions with AND, skipping nils. It returns nil for no operands.
func And(exprs ...Expr) Expr {
	var result Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if result == nil {
			result = e
		} else {
			result = NewLogicExpr(result, e, LogicAnd)
		}
	}
	return result
}

// ExprString renders a possibly nil expression.
func ExprString(e Expr) string {
	if e == nil {
		return ""
	}
	return e.String()
}

// ExprList renders a list of expressions separated by commas.
func ExprList(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// ColumnsSubset reports whether every column read by e is in allowed.
func ColumnsSubset(e Expr, allowed []string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		set[c] = struct{}{}
	}
	for _, c := range e.Columns() {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

func mergeColumns(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, c := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
