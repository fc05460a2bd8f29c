package rules

import (
	"sort"

	"go.uber.org/zap"
	"mit.edu/dsg/planopt/common"
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// OptimizePrimaryKeyConditionAndLimit derives the primary key ranges of the read on top of
// the stack from its own conditions and the filters directly above it, and hands it the
// limit above it when nothing in between drops rows. The result is recomputed on every call.
func (r *Rewriter) OptimizePrimaryKeyConditionAndLimit(stack *optimizer.Stack, store *plan.Store) {
	top := stack.Top()
	read, ok := store.Step(top.Node).(*plan.ReadFromTable)
	if !ok {
		return
	}

	conds := read.Conditions()
	limit := 0
	rowsPreserved := read.Filter == nil && read.Prewhere == nil
	for i := stack.Len() - 2; i >= 0; i-- {
		done := false
		switch s := store.Step(stack.At(i).Node).(type) {
		case *plan.Filter:
			conds = append(conds, plan.Conjuncts(s.Predicate)...)
			rowsPreserved = false
		case *plan.Expression:
		case *plan.Limit:
			if rowsPreserved && limit == 0 {
				limit = s.Limit + s.Offset
			}
			done = true
		default:
			done = true
		}
		if done {
			break
		}
	}
	read.Limit = limit

	table, ok := r.table(read.TableOid)
	if !ok {
		read.KeyCondition = nil
		return
	}
	read.KeyCondition = keyConditions(conds, r.sortKey(table, read))
}

// filtersAbove returns the conjuncts of the filters between the stack top and the first
// ancestor that is neither a filter nor an expression.
func filtersAbove(stack *optimizer.Stack, store *plan.Store) []plan.Expr {
	var conds []plan.Expr
	for i := stack.Len() - 2; i >= 0; i-- {
		switch s := store.Step(stack.At(i).Node).(type) {
		case *plan.Filter:
			conds = append(conds, plan.Conjuncts(s.Predicate)...)
		case *plan.Expression:
		default:
			return conds
		}
	}
	return conds
}

// keyConditions keeps the column-constant comparisons on key columns, in key order.
func keyConditions(conds []plan.Expr, key []string) []plan.KeyCondition {
	var out []plan.KeyCondition
	for _, c := range conds {
		cmp, ok := c.(*plan.ComparisonExpr)
		if !ok {
			continue
		}
		col, val, op, ok := cmp.ColumnConstant()
		if !ok || op == plan.NotEqual || !contains(key, col.Name) {
			continue
		}
		out = append(out, plan.KeyCondition{Column: col.Name, Op: op, Value: val})
	}
	position := func(col string) int {
		for i, k := range key {
			if k == col {
				return i
			}
		}
		return len(key)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return position(out[i].Column) < position(out[j].Column)
	})
	return out
}

// UpdateQueryConditionCache keys the read on top of the stack by its table and conditions.
func (r *Rewriter) UpdateQueryConditionCache(stack *optimizer.Stack, store *plan.Store, _ *optimizer.Settings) {
	read, ok := store.Step(stack.Top().Node).(*plan.ReadFromTable)
	if !ok {
		return
	}
	// filters above the read are folded into it by prewhere optimization later on
	conds := append(read.Conditions(), filtersAbove(stack, store)...)
	if len(conds) == 0 {
		read.ConditionCacheKey = 0
		return
	}
	// independent of how the conditions are split between prewhere and filter
	parts := make([]string, 0, len(conds)+1)
	for _, c := range conds {
		parts = append(parts, c.String())
	}
	sort.Strings(parts)
	read.ConditionCacheKey = common.HashStrings(append([]string{read.Table}, parts...)...)
}

// OptimizePrewhere moves conditions of the read on top of the stack that need fewer columns
// than the read returns into its prewhere. A filter directly above the read is folded in
// and removed from the plan together with its frame.
func (r *Rewriter) OptimizePrewhere(stack *optimizer.Stack, tree *plan.Tree) error {
	store := tree.Store()
	top := stack.Top()
	readID := top.Node
	read, ok := store.Step(readID).(*plan.ReadFromTable)
	if !ok || read.Projection != "" {
		return nil
	}

	if parent := stack.Parent(); parent != nil {
		if filter, ok := store.Step(parent.Node).(*plan.Filter); ok && plan.ColumnsSubset(filter.Predicate, read.Columns) {
			read.Filter = plan.And(read.Filter, filter.Predicate)
			filterIndex := stack.Len() - 2
			if filterIndex == 0 {
				if tree.Root() != parent.Node {
					return common.NewOptError(common.StructuralInvariantError,
						"bottom frame %s is not the plan root %s", parent.Node, tree.Root())
				}
				tree.SetRoot(readID)
			} else {
				grandparent := stack.At(filterIndex - 1)
				slot := grandparent.NextChild - 1
				if store.Child(grandparent.Node, slot) != parent.Node {
					return common.NewOptError(common.StructuralInvariantError,
						"frame of %s does not point at filter %s", grandparent.Node, parent.Node)
				}
				store.SetChild(grandparent.Node, slot, readID)
			}
			stack.Remove(filterIndex)
			r.Logger.Debug("Folded filter into read", zap.String("table", read.Table))
		}
	}

	if read.Filter == nil {
		return nil
	}
	var prewhere, rest []plan.Expr
	for _, conj := range plan.Conjuncts(read.Filter) {
		if len(conj.Columns()) < len(read.Columns) {
			prewhere = append(prewhere, conj)
		} else {
			rest = append(rest, conj)
		}
	}
	if len(prewhere) == 0 {
		return nil
	}
	read.Prewhere = plan.And(read.Prewhere, plan.And(prewhere...))
	read.Filter = plan.And(rest...)
	return nil
}

// CalculateHashTableCacheKeys keys the build side of every join and the input of every
// aggregation by the shape of their subtree.
func (r *Rewriter) CalculateHashTableCacheKeys(tree *plan.Tree) {
	store := tree.Store()
	walk(tree, func(id plan.NodeID) {
		switch s := store.Step(id).(type) {
		case *plan.Join:
			children := store.Children(id)
			if len(children) == 2 {
				s.CacheKey = fingerprint(store, children[1])
			}
		case *plan.Aggregate:
			if child, ok := onlyChild(store, id); ok {
				s.CacheKey = common.HashStrings(s.String(), fingerprintString(store, child))
			}
		}
	})
}

func fingerprint(store *plan.Store, id plan.NodeID) uint64 {
	return common.HashStrings(fingerprintString(store, id))
}

// fingerprintString renders a subtree as "step(child,child)" with cache keys left out.
func fingerprintString(store *plan.Store, id plan.NodeID) string {
	type item struct {
		id    plan.NodeID
		close bool
	}
	var parts []byte
	stack := []item{{id: id}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.close {
			parts = append(parts, ')')
			continue
		}
		parts = append(parts, store.Step(it.id).String()...)
		parts = append(parts, '(')
		stack = append(stack, item{close: true})
		children := store.Children(it.id)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{id: children[i]})
		}
	}
	return string(parts)
}
