package rules

import (
	"mit.edu/dsg/planopt/plan"
)

// onlyChild returns the single operand of a unary node.
func onlyChild(store *plan.Store, id plan.NodeID) (plan.NodeID, bool) {
	children := store.Children(id)
	if len(children) != 1 {
		return plan.InvalidNodeID, false
	}
	return children[0], true
}

// outputColumns returns the columns produced by the subtree rooted at id, or false when
// they cannot be determined from the steps alone.
func outputColumns(store *plan.Store, id plan.NodeID) ([]string, bool) {
	for {
		switch s := store.Step(id).(type) {
		case *plan.ReadFromTable:
			return s.Columns, true
		case *plan.LazilyReadFromTable:
			return s.Columns, true
		case *plan.Expression:
			return s.OutputColumns(), true
		case *plan.Aggregate:
			cols := append([]string(nil), s.GroupBy...)
			for _, a := range s.Aggregates {
				cols = append(cols, a.String())
			}
			return cols, true
		case *plan.Join, *plan.JoinLazyColumns:
			var cols []string
			for _, child := range store.Children(id) {
				c, ok := outputColumns(store, child)
				if !ok {
					return nil, false
				}
				cols = append(cols, c...)
			}
			return cols, true
		case *plan.Filter, *plan.Sort, *plan.Limit, *plan.Distinct, *plan.Union, *plan.CreatingSets, *plan.DelayedCreatingSets:
			children := store.Children(id)
			if len(children) == 0 {
				return nil, false
			}
			id = children[0]
		default:
			return nil, false
		}
	}
}

// findRead follows unary Filter and Expression steps below id down to a table read.
func findRead(store *plan.Store, id plan.NodeID) (plan.NodeID, *plan.ReadFromTable, bool) {
	for {
		switch s := store.Step(id).(type) {
		case *plan.ReadFromTable:
			return id, s, true
		case *plan.Filter, *plan.Expression:
			child, ok := onlyChild(store, id)
			if !ok {
				return plan.InvalidNodeID, nil, false
			}
			id = child
		default:
			return plan.InvalidNodeID, nil, false
		}
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func containsAll(list []string, subset []string) bool {
	for _, s := range subset {
		if !contains(list, s) {
			return false
		}
	}
	return true
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// swapWithChild exchanges the steps of a unary node and its unary child, keeping both
// handles in place: parent(child(x)) becomes child(parent(x)).
func swapWithChild(store *plan.Store, node, child plan.NodeID, newParentStep, newChildStep plan.Step) {
	grandchildren := store.Children(child)
	store.Set(child, newChildStep, grandchildren...)
	store.Set(node, newParentStep, child)
}
