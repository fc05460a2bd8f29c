package rules

import (
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// tryMergeExpressions composes an expression with the expression below it.
func tryMergeExpressions(node plan.NodeID, store *plan.Store, _ optimizer.ExtraSettings) int {
	if mergeExpressions(node, store) {
		return 1
	}
	return 0
}

func mergeExpressions(node plan.NodeID, store *plan.Store) bool {
	outer, ok := store.Step(node).(*plan.Expression)
	if !ok {
		return false
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return false
	}
	inner, ok := store.Step(child).(*plan.Expression)
	if !ok {
		return false
	}

	mapping := inner.Mapping()
	composed := make([]plan.Assignment, len(outer.Assignments))
	for i, a := range outer.Assignments {
		composed[i] = plan.Assignment{Name: a.Name, Expr: plan.Substitute(a.Expr, mapping)}
	}
	store.Set(node, plan.NewExpression(composed...), store.Children(child)...)
	return true
}
