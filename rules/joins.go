package rules

import (
	"go.uber.org/zap"
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

const unknownRows int64 = -1

// estimateRows gives an upper bound of the rows produced by the subtree at id.
func (r *Rewriter) estimateRows(store *plan.Store, id plan.NodeID) int64 {
	switch s := store.Step(id).(type) {
	case *plan.ReadFromTable:
		table, ok := r.table(s.TableOid)
		if !ok || table.RowCount <= 0 {
			return unknownRows
		}
		if s.Limit > 0 && int64(s.Limit) < table.RowCount {
			return int64(s.Limit)
		}
		return table.RowCount
	case *plan.Limit:
		child, ok := onlyChild(store, id)
		if !ok {
			return unknownRows
		}
		rows := r.estimateRows(store, child)
		if rows == unknownRows || int64(s.Limit) < rows {
			return int64(s.Limit)
		}
		return rows
	case *plan.Filter, *plan.Expression, *plan.Sort, *plan.Distinct, *plan.Aggregate:
		child, ok := onlyChild(store, id)
		if !ok {
			return unknownRows
		}
		return r.estimateRows(store, child)
	}
	return unknownRows
}

// OptimizeJoinLogical estimates both inputs of a logical join and moves the smaller one to
// the build (right) side of an inner join.
func (r *Rewriter) OptimizeJoinLogical(node plan.NodeID, store *plan.Store, _ *optimizer.Settings) *optimizer.JoinEstimate {
	j, ok := store.Step(node).(*plan.Join)
	if !ok || !j.Logical {
		return nil
	}
	children := store.Children(node)
	if len(children) != 2 {
		return nil
	}

	estimate := &optimizer.JoinEstimate{
		LeftRows:  r.estimateRows(store, children[0]),
		RightRows: r.estimateRows(store, children[1]),
	}
	if j.Kind == plan.InnerJoin && estimate.LeftRows != unknownRows && estimate.RightRows != unknownRows &&
		estimate.RightRows > estimate.LeftRows {
		left, right := children[0], children[1]
		store.SetChild(node, 0, right)
		store.SetChild(node, 1, left)
		j.LeftKeys, j.RightKeys = j.RightKeys, j.LeftKeys
		j.Swapped = !j.Swapped
		estimate.LeftRows, estimate.RightRows = estimate.RightRows, estimate.LeftRows
		estimate.Swapped = true
		r.Logger.Debug("Swapped join inputs",
			zap.Int64("build_rows", estimate.RightRows),
			zap.Int64("probe_rows", estimate.LeftRows))
	}
	return estimate
}

// ConvertLogicalJoinToPhysical picks the algorithm of a join the logical optimizer looked at.
func (r *Rewriter) ConvertLogicalJoinToPhysical(node plan.NodeID, store *plan.Store, settings *optimizer.Settings, estimate *optimizer.JoinEstimate) bool {
	if estimate == nil {
		return false
	}
	j, ok := store.Step(node).(*plan.Join)
	if !ok {
		return false
	}

	j.Logical = false
	j.InputsSorted = r.inputsSortedByKeys(node, store, j)
	switch settings.JoinAlgorithm {
	case optimizer.JoinAlgorithmFullSortingMerge:
		j.Strategy = plan.FullSortingMergeJoin
	case optimizer.JoinAlgorithmHash:
		j.Strategy = plan.HashJoin
	default:
		if j.InputsSorted {
			j.Strategy = plan.FullSortingMergeJoin
		} else {
			j.Strategy = plan.HashJoin
		}
	}
	if j.Strategy == plan.FullSortingMergeJoin && j.InputsSorted {
		for _, child := range store.Children(node) {
			if _, read, ok := findRead(store, child); ok && read.Order == plan.ReadUnordered {
				read.Order = plan.ReadAscending
			}
		}
	}
	return true
}

// inputsSortedByKeys reports whether both inputs read tables whose primary keys start with
// the join keys.
func (r *Rewriter) inputsSortedByKeys(node plan.NodeID, store *plan.Store, j *plan.Join) bool {
	if len(j.LeftKeys) == 0 {
		return false
	}
	children := store.Children(node)
	if len(children) != 2 {
		return false
	}
	for i, keys := range [][]string{j.LeftKeys, j.RightKeys} {
		_, read, ok := findRead(store, children[i])
		if !ok {
			return false
		}
		table, ok := r.table(read.TableOid)
		if !ok || table.PrimaryKeyPrefix(keys) != len(keys) {
			return false
		}
	}
	return true
}

// OptimizeJoinLegacy resolves a join the logical optimizer did not handle: an index lookup
// when the right input is a read keyed by the join keys, a nested loop without keys, a hash
// join otherwise.
func (r *Rewriter) OptimizeJoinLegacy(node plan.NodeID, store *plan.Store, settings *optimizer.Settings) {
	j, ok := store.Step(node).(*plan.Join)
	if !ok || j.Strategy != plan.JoinUnresolved {
		return
	}
	children := store.Children(node)
	if len(children) != 2 {
		return
	}

	switch {
	case len(j.RightKeys) == 0:
		j.Strategy = plan.NestedLoopJoin
	case settings.UseIndexForJoin && r.readKeyedBy(store, children[1], j.RightKeys):
		j.Strategy = plan.IndexNestedLoopJoin
	default:
		j.Strategy = plan.HashJoin
	}
}

func (r *Rewriter) readKeyedBy(store *plan.Store, id plan.NodeID, keys []string) bool {
	read, ok := store.Step(id).(*plan.ReadFromTable)
	if !ok || read.Projection != "" {
		return false
	}
	table, ok := r.table(read.TableOid)
	if !ok || len(table.PrimaryKey) == 0 {
		return false
	}
	return table.PrimaryKeyPrefix(keys) == len(table.PrimaryKey) && len(keys) == len(table.PrimaryKey)
}

// OptimizeJoinByShards splits joins of two tables with aligned primary key ranges into
// per-shard joins.
func (r *Rewriter) OptimizeJoinByShards(tree *plan.Tree) {
	store := tree.Store()
	walk(tree, func(id plan.NodeID) {
		j, ok := store.Step(id).(*plan.Join)
		if !ok || j.Kind != plan.InnerJoin || len(j.LeftKeys) == 0 {
			return
		}
		if j.Strategy != plan.HashJoin && j.Strategy != plan.FullSortingMergeJoin {
			return
		}
		children := store.Children(id)
		if len(children) != 2 {
			return
		}

		shards := 0
		var key []string
		for i, keys := range [][]string{j.LeftKeys, j.RightKeys} {
			_, read, ok := findRead(store, children[i])
			if !ok {
				return
			}
			table, ok := r.table(read.TableOid)
			if !ok || table.Shards < 2 || table.PrimaryKeyPrefix(keys) != len(keys) {
				return
			}
			if i == 0 {
				shards, key = table.Shards, table.PrimaryKey
			} else if table.Shards != shards || len(table.PrimaryKey) != len(key) {
				return
			}
		}
		j.Shards = shards
	})
}
