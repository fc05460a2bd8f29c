package rules

import (
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// tryRemoveRedundantSorting drops a sort whose order is overwritten by the sort above it or
// ignored by the aggregation above it.
func tryRemoveRedundantSorting(node plan.NodeID, store *plan.Store, _ optimizer.ExtraSettings) int {
	if removeRedundantSorting(node, store) {
		return 1
	}
	return 0
}

func removeRedundantSorting(node plan.NodeID, store *plan.Store) bool {
	switch s := store.Step(node).(type) {
	case *plan.Sort, *plan.Aggregate:
		if a, ok := s.(*plan.Aggregate); ok && a.InOrder {
			return false
		}
	default:
		return false
	}

	child, ok := onlyChild(store, node)
	if !ok {
		return false
	}
	inner, ok := store.Step(child).(*plan.Sort)
	// a sort with a limit drops rows, it is not only an order
	if !ok || inner.Limit > 0 {
		return false
	}
	grandchild, ok := onlyChild(store, child)
	if !ok {
		return false
	}
	store.SetChild(node, 0, grandchild)
	return true
}

// tryRemoveRedundantDistinct drops a distinct whose input is already unique over its
// columns.
func tryRemoveRedundantDistinct(node plan.NodeID, store *plan.Store, _ optimizer.ExtraSettings) int {
	outer, ok := store.Step(node).(*plan.Distinct)
	if !ok {
		return 0
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return 0
	}

	switch s := store.Step(child).(type) {
	case *plan.Distinct:
		if !containsAll(outer.Columns, s.Columns) {
			return 0
		}
	case *plan.Aggregate:
		if len(s.GroupBy) == 0 || !containsAll(outer.Columns, s.GroupBy) {
			return 0
		}
	default:
		return 0
	}
	store.Set(node, store.Step(child), store.Children(child)...)
	return 1
}
