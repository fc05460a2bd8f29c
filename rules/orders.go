package rules

import (
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// OptimizeReadInOrder asks the read below a sort for primary key order when the sort starts
// with the primary key in one direction.
func (r *Rewriter) OptimizeReadInOrder(node plan.NodeID, store *plan.Store) {
	s, ok := store.Step(node).(*plan.Sort)
	if !ok || len(s.OrderBy) == 0 {
		return
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return
	}
	_, read, ok := findRead(store, child)
	if !ok || read.Projection != "" {
		return
	}
	table, ok := r.table(read.TableOid)
	if !ok {
		return
	}

	direction := s.OrderBy[0].Direction
	n := 0
	for n < len(s.OrderBy) && n < len(table.PrimaryKey) &&
		s.OrderBy[n].Column == table.PrimaryKey[n] && s.OrderBy[n].Direction == direction {
		n++
	}
	if n == 0 {
		return
	}
	read.Order = plan.ReadAscending
	if direction == plan.SortOrderDescending {
		read.Order = plan.ReadDescending
	}
	s.PrefixSorted = n
}

// OptimizeDistinctInOrder streams a distinct whose input read can be produced sorted by one
// of the distinct columns.
func (r *Rewriter) OptimizeDistinctInOrder(node plan.NodeID, store *plan.Store) {
	d, ok := store.Step(node).(*plan.Distinct)
	if !ok || d.InOrder {
		return
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return
	}
	_, read, ok := findRead(store, child)
	if !ok || read.Projection != "" {
		return
	}
	table, ok := r.table(read.TableOid)
	if !ok || len(table.PrimaryKey) == 0 || !contains(d.Columns, table.PrimaryKey[0]) {
		return
	}
	if read.Order == plan.ReadUnordered {
		read.Order = plan.ReadAscending
	}
	d.InOrder = true
}

// OptimizeAggregationInOrder aggregates in primary key order when the grouping keys start
// with the primary key.
func (r *Rewriter) OptimizeAggregationInOrder(node plan.NodeID, store *plan.Store) {
	a, ok := store.Step(node).(*plan.Aggregate)
	if !ok || a.InOrder || len(a.GroupBy) == 0 {
		return
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return
	}
	_, read, ok := findRead(store, child)
	if !ok || read.Projection != "" {
		return
	}
	table, ok := r.table(read.TableOid)
	if !ok || len(table.PrimaryKey) == 0 || !contains(a.GroupBy, table.PrimaryKey[0]) {
		return
	}
	if read.Order == plan.ReadUnordered {
		read.Order = plan.ReadAscending
	}
	a.InOrder = true
}

// TryMergeExpressions composes the expression at node with the expression below it.
func (r *Rewriter) TryMergeExpressions(node plan.NodeID, store *plan.Store) {
	for mergeExpressions(node, store) {
	}
}

// TryRemoveRedundantSorting drops every sort made redundant by a sort or an aggregation
// above it.
func (r *Rewriter) TryRemoveRedundantSorting(tree *plan.Tree) {
	store := tree.Store()
	walk(tree, func(id plan.NodeID) {
		for removeRedundantSorting(id, store) {
		}
	})
}

// ApplyOrder computes the order each node produces its rows in, bottom-up, and tells every
// sort how much of its order the input already provides.
func (r *Rewriter) ApplyOrder(_ *optimizer.Settings, tree *plan.Tree) {
	if tree.Empty() {
		return
	}
	store := tree.Store()
	orders := make(map[plan.NodeID][]plan.OrderByClause)

	var stack optimizer.Stack
	stack.Push(optimizer.Frame{Node: tree.Root()})
	for !stack.Empty() {
		top := stack.Top()
		children := store.Children(top.Node)
		if top.NextChild < len(children) {
			child := children[top.NextChild]
			top.NextChild++
			stack.Push(optimizer.Frame{Node: child})
			continue
		}
		id := stack.Pop().Node
		orders[id] = r.outputOrder(store, id, orders)
	}
}

func (r *Rewriter) outputOrder(store *plan.Store, id plan.NodeID, orders map[plan.NodeID][]plan.OrderByClause) []plan.OrderByClause {
	children := store.Children(id)
	var input []plan.OrderByClause
	if len(children) > 0 {
		input = orders[children[0]]
	}

	switch s := store.Step(id).(type) {
	case *plan.ReadFromTable:
		if s.Order == plan.ReadUnordered || s.Projection != "" {
			return nil
		}
		table, ok := r.table(s.TableOid)
		if !ok {
			return nil
		}
		direction := plan.SortOrderAscending
		if s.Order == plan.ReadDescending {
			direction = plan.SortOrderDescending
		}
		out := make([]plan.OrderByClause, len(table.PrimaryKey))
		for i, col := range table.PrimaryKey {
			out[i] = plan.OrderByClause{Column: col, Direction: direction}
		}
		return out
	case *plan.Filter, *plan.Limit:
		return input
	case *plan.Distinct:
		if s.InOrder {
			return input
		}
		return nil
	case *plan.Expression:
		passthrough := s.Passthrough()
		n := 0
		for n < len(input) && contains(passthrough, input[n].Column) {
			n++
		}
		return input[:n]
	case *plan.Aggregate:
		if !s.InOrder {
			return nil
		}
		n := 0
		for n < len(input) && contains(s.GroupBy, input[n].Column) {
			n++
		}
		return input[:n]
	case *plan.Sort:
		n := 0
		for n < len(input) && n < len(s.OrderBy) && input[n] == s.OrderBy[n] {
			n++
		}
		if n > s.PrefixSorted {
			s.PrefixSorted = n
		}
		return s.OrderBy
	case *plan.Join:
		if s.Strategy != plan.FullSortingMergeJoin || len(children) != 2 {
			return nil
		}
		left, right := orders[children[0]], orders[children[1]]
		s.InputsSorted = prefixColumns(left, s.LeftKeys) && prefixColumns(right, s.RightKeys)
		if s.InputsSorted {
			return left[:len(s.LeftKeys)]
		}
		return nil
	}
	return nil
}

func prefixColumns(order []plan.OrderByClause, cols []string) bool {
	if len(cols) == 0 || len(order) < len(cols) {
		return false
	}
	for i, c := range cols {
		if order[i].Column != c {
			return false
		}
	}
	return true
}
