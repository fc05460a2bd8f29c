package rules

import (
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// tryPushDownLimit moves a limit below an expression and hands it to a sort below it.
func tryPushDownLimit(node plan.NodeID, store *plan.Store, _ optimizer.ExtraSettings) int {
	limit, ok := store.Step(node).(*plan.Limit)
	if !ok || limit.Limit <= 0 {
		return 0
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return 0
	}

	switch s := store.Step(child).(type) {
	case *plan.Expression:
		// Limit(Expression(x)) -> Expression(Limit(x))
		if len(store.Children(child)) != 1 {
			return 0
		}
		swapWithChild(store, node, child, s, limit)
		return 2
	case *plan.Sort:
		n := limit.Limit + limit.Offset
		if s.Limit > 0 && s.Limit <= n {
			return 0
		}
		s.Limit = n
		return 1
	}
	return 0
}
