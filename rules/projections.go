package rules

import (
	"go.uber.org/zap"
	"mit.edu/dsg/planopt/catalog"
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// ImplicitCountProjection answers count() over a whole table from part metadata.
const ImplicitCountProjection = "_minmax_count_projection"

// sortKey returns the columns the data read by read is sorted by.
func (r *Rewriter) sortKey(table *catalog.Table, read *plan.ReadFromTable) []string {
	if read.Projection == "" {
		return table.PrimaryKey
	}
	for _, kind := range []catalog.ProjectionKind{catalog.NormalProjection, catalog.AggregateProjection} {
		for _, p := range r.Catalog.ProjectionsOf(table, kind) {
			if p.Name != read.Projection {
				continue
			}
			if kind == catalog.AggregateProjection {
				return p.GroupBy
			}
			return p.OrderBy
		}
	}
	return nil
}

func conditionColumns(conds []plan.Expr) []string {
	var cols []string
	for _, c := range conds {
		for _, col := range c.Columns() {
			if !contains(cols, col) {
				cols = append(cols, col)
			}
		}
	}
	return cols
}

// OptimizeUseAggregateProjections reads pre-aggregated data for an aggregation directly over
// a table read when a projection groups by a superset of its keys and stores all of its
// aggregates.
func (r *Rewriter) OptimizeUseAggregateProjections(node plan.NodeID, store *plan.Store, allowImplicit bool) (string, bool) {
	a, ok := store.Step(node).(*plan.Aggregate)
	if !ok {
		return "", false
	}
	child, ok := onlyChild(store, node)
	if !ok {
		return "", false
	}
	read, ok := store.Step(child).(*plan.ReadFromTable)
	if !ok || read.Projection != "" {
		return "", false
	}
	table, ok := r.table(read.TableOid)
	if !ok {
		return "", false
	}

	conds := read.Conditions()
	condCols := conditionColumns(conds)
	aggs := make([]string, len(a.Aggregates))
	for i, agg := range a.Aggregates {
		aggs[i] = agg.String()
	}

	name := ""
	var key []string
	for _, p := range r.Catalog.ProjectionsOf(table, catalog.AggregateProjection) {
		if containsAll(p.GroupBy, a.GroupBy) && containsAll(p.GroupBy, condCols) && containsAll(p.Aggregates, aggs) {
			name, key = p.Name, p.GroupBy
			break
		}
	}
	if name == "" && allowImplicit && len(a.GroupBy) == 0 && len(conds) == 0 && onlyCounts(a) {
		name = ImplicitCountProjection
	}
	if name == "" {
		return "", false
	}

	read.Projection = name
	read.Order = plan.ReadUnordered
	read.KeyCondition = keyConditions(conds, key)
	r.Logger.Debug("Using aggregate projection", zap.String("table", read.Table), zap.String("projection", name))
	return name, true
}

func onlyCounts(a *plan.Aggregate) bool {
	if len(a.Aggregates) == 0 {
		return false
	}
	for _, agg := range a.Aggregates {
		if agg.Type != plan.AggCount {
			return false
		}
	}
	return true
}

// OptimizeUseNormalProjections reads the table on top of the stack through a projection
// sorted by a constrained column when the table's own primary key is not constrained.
func (r *Rewriter) OptimizeUseNormalProjections(stack *optimizer.Stack, store *plan.Store) (string, bool, error) {
	top := stack.Top()
	read, ok := store.Step(top.Node).(*plan.ReadFromTable)
	if !ok || read.Projection != "" || read.Order != plan.ReadUnordered {
		return "", false, nil
	}
	conds := read.Conditions()
	if len(conds) == 0 {
		return "", false, nil
	}
	table, ok := r.table(read.TableOid)
	if !ok {
		return "", false, nil
	}
	if len(table.PrimaryKey) > 0 && len(keyConditions(conds, table.PrimaryKey[:1])) > 0 {
		return "", false, nil
	}

	condCols := conditionColumns(conds)
	for _, p := range r.Catalog.ProjectionsOf(table, catalog.NormalProjection) {
		if len(p.OrderBy) == 0 || !containsAll(p.Columns, read.Columns) || !containsAll(p.Columns, condCols) {
			continue
		}
		if len(keyConditions(conds, p.OrderBy[:1])) == 0 {
			continue
		}

		projected := *read
		projected.Projection = p.Name
		projected.KeyCondition = keyConditions(conds, p.OrderBy)
		store.Set(top.Node, &projected, store.Children(top.Node)...)
		stack.Truncate(stack.Len() - 1)
		r.Logger.Debug("Using projection", zap.String("table", read.Table), zap.String("projection", p.Name))
		return p.Name, true, nil
	}
	return "", false, nil
}

// OptimizeLazyMaterialization defers reading the columns a top-N query does not sort or
// filter on until the N rows are known: Limit(Sort(Read)) becomes
// JoinLazyColumns(Limit(Sort(Read of the needed columns)), LazilyReadFromTable).
func (r *Rewriter) OptimizeLazyMaterialization(tree *plan.Tree, stack *optimizer.Stack, maxLimit int) (bool, error) {
	store := tree.Store()
	top := stack.Top()
	limit, ok := store.Step(top.Node).(*plan.Limit)
	if !ok || limit.Limit <= 0 {
		return false, nil
	}
	if maxLimit > 0 && limit.Limit+limit.Offset > maxLimit {
		return false, nil
	}
	sortID, ok := onlyChild(store, top.Node)
	if !ok {
		return false, nil
	}
	s, ok := store.Step(sortID).(*plan.Sort)
	if !ok {
		return false, nil
	}
	readID, ok := onlyChild(store, sortID)
	if !ok {
		return false, nil
	}
	read, ok := store.Step(readID).(*plan.ReadFromTable)
	if !ok || read.Projection != "" || len(store.Children(readID)) > 0 {
		return false, nil
	}

	needed := append(s.Columns(), conditionColumns(read.Conditions())...)
	var eagerCols, lazyCols []string
	for _, c := range read.Columns {
		if contains(needed, c) {
			eagerCols = append(eagerCols, c)
		} else {
			lazyCols = append(lazyCols, c)
		}
	}
	if len(lazyCols) == 0 {
		return false, nil
	}

	eager := *read
	eager.Columns = eagerCols
	store.Set(readID, &eager)
	lazy := store.Add(&plan.LazilyReadFromTable{TableOid: read.TableOid, Table: read.Table, Columns: lazyCols})
	newLimit := store.Add(limit, sortID)
	store.Set(top.Node, &plan.JoinLazyColumns{Table: read.Table, Columns: lazyCols}, newLimit, lazy)
	r.Logger.Debug("Deferred column materialization", zap.String("table", read.Table), zap.Strings("columns", lazyCols))
	return true, nil
}
