package rules

import (
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// tryMergeFilters turns Filter(Filter(x)) into a single Filter(x).
func tryMergeFilters(node plan.NodeID, store *plan.Store, _ optimizer.ExtraSettings) int {
	outer, ok := store.Step(node).(*plan.Filter)
	if !ok {
		return 0
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return 0
	}
	inner, ok := store.Step(child).(*plan.Filter)
	if !ok {
		return 0
	}
	store.Set(node, plan.NewFilter(plan.And(inner.Predicate, outer.Predicate)), store.Children(child)...)
	return 1
}

// tryPushDownFilter moves a filter into the read below it, below an expression, or into
// the inputs of a join.
func tryPushDownFilter(node plan.NodeID, store *plan.Store, _ optimizer.ExtraSettings) int {
	filter, ok := store.Step(node).(*plan.Filter)
	if !ok || filter.Predicate == nil {
		return 0
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return 0
	}

	switch s := store.Step(child).(type) {
	case *plan.ReadFromTable:
		if !plan.ColumnsSubset(filter.Predicate, s.Columns) {
			return 0
		}
		s.Filter = plan.And(s.Filter, filter.Predicate)
		store.Set(node, s, store.Children(child)...)
		return 1
	case *plan.Expression:
		if len(store.Children(child)) != 1 || !plan.ColumnsSubset(filter.Predicate, s.OutputColumns()) {
			return 0
		}
		pushed := plan.NewFilter(plan.Substitute(filter.Predicate, s.Mapping()))
		swapWithChild(store, node, child, s, pushed)
		return 2
	case *plan.Join:
		return pushFilterIntoJoin(node, child, filter, s, store)
	}
	return 0
}

func pushFilterIntoJoin(node, join plan.NodeID, filter *plan.Filter, j *plan.Join, store *plan.Store) int {
	children := store.Children(join)
	if len(children) != 2 {
		return 0
	}
	leftCols, leftOK := outputColumns(store, children[0])
	rightCols, rightOK := outputColumns(store, children[1])

	var left, right, rest []plan.Expr
	for _, conj := range plan.Conjuncts(filter.Predicate) {
		switch {
		case leftOK && plan.ColumnsSubset(conj, leftCols):
			left = append(left, conj)
		// rows of a LEFT join's right side must not be filtered before the join
		case rightOK && j.Kind == plan.InnerJoin && plan.ColumnsSubset(conj, rightCols):
			right = append(right, conj)
		default:
			rest = append(rest, conj)
		}
	}
	if len(left) == 0 && len(right) == 0 {
		return 0
	}

	if len(left) > 0 {
		store.SetChild(join, 0, store.Add(plan.NewFilter(plan.And(left...)), children[0]))
	}
	if len(right) > 0 {
		store.SetChild(join, 1, store.Add(plan.NewFilter(plan.And(right...)), children[1]))
	}
	if len(rest) == 0 {
		store.Set(node, j, store.Children(join)...)
		return 2
	}
	filter.Predicate = plan.And(rest...)
	return 3
}

// tryConvertOuterJoinToInner turns a LEFT join into an INNER one when the filter above it
// rejects the NULL rows the outer join adds for unmatched left rows.
func tryConvertOuterJoinToInner(node plan.NodeID, store *plan.Store, _ optimizer.ExtraSettings) int {
	filter, ok := store.Step(node).(*plan.Filter)
	if !ok || filter.Predicate == nil {
		return 0
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return 0
	}
	j, ok := store.Step(child).(*plan.Join)
	if !ok || j.Kind != plan.LeftJoin {
		return 0
	}
	children := store.Children(child)
	if len(children) != 2 {
		return 0
	}
	rightCols, ok := outputColumns(store, children[1])
	if !ok {
		return 0
	}
	rightCols = append(append([]string(nil), rightCols...), j.RightKeys...)

	for _, conj := range plan.Conjuncts(filter.Predicate) {
		if rejectsNull(conj, rightCols) {
			j.Kind = plan.InnerJoin
			return 1
		}
	}
	return 0
}

// rejectsNull reports whether e is never true when one of the columns of cols is NULL.
func rejectsNull(e plan.Expr, cols []string) bool {
	switch x := e.(type) {
	case *plan.ComparisonExpr:
		for _, c := range x.Columns() {
			if contains(cols, c) {
				return true
			}
		}
	case *plan.IsNullExpr:
		if !x.Negated {
			return false
		}
		for _, c := range x.Columns() {
			if contains(cols, c) {
				return true
			}
		}
	case *plan.LogicExpr:
		if x.LogicType == plan.LogicAnd {
			return rejectsNull(x.Left, cols) || rejectsNull(x.Right, cols)
		}
		return rejectsNull(x.Left, cols) && rejectsNull(x.Right, cols)
	}
	return false
}
