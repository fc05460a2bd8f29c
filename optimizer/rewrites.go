package optimizer

import (
	"github.com/tidwall/btree"
	"mit.edu/dsg/planopt/plan"
)

// JoinEstimate is what the logical join optimizer learned about a join. It is handed to
// the logical-to-physical conversion of the same node.
type JoinEstimate struct {
	LeftRows  int64
	RightRows int64
	// Swapped is set when the inputs were exchanged so that the smaller one is built.
	Swapped bool
}

// ConditionRewrites push conditions and limits into table reads. The stack-based methods
// run at every stack-top visit of the second pass and must be idempotent.
type ConditionRewrites interface {
	OptimizePrimaryKeyConditionAndLimit(stack *Stack, store *plan.Store)
	UpdateQueryConditionCache(stack *Stack, store *plan.Store, settings *Settings)
	// OptimizePrewhere may remove the node below the top frame from the tree together with
	// its frame. The top frame itself always stays.
	OptimizePrewhere(stack *Stack, tree *plan.Tree) error
	CalculateHashTableCacheKeys(tree *plan.Tree)
}

// JoinRewrites choose physical join implementations.
type JoinRewrites interface {
	// OptimizeJoinLogical returns nil when node is not a logical join.
	OptimizeJoinLogical(node plan.NodeID, store *plan.Store, settings *Settings) *JoinEstimate
	ConvertLogicalJoinToPhysical(node plan.NodeID, store *plan.Store, settings *Settings, estimate *JoinEstimate) bool
	OptimizeJoinLegacy(node plan.NodeID, store *plan.Store, settings *Settings)
	OptimizeJoinByShards(tree *plan.Tree)
}

// OrderRewrites exploit and propagate sort orders.
type OrderRewrites interface {
	OptimizeReadInOrder(node plan.NodeID, store *plan.Store)
	OptimizeDistinctInOrder(node plan.NodeID, store *plan.Store)
	OptimizeAggregationInOrder(node plan.NodeID, store *plan.Store)
	TryMergeExpressions(node plan.NodeID, store *plan.Store)
	TryRemoveRedundantSorting(tree *plan.Tree)
	ApplyOrder(settings *Settings, tree *plan.Tree)
}

// ProjectionRewrites substitute projections for table reads.
type ProjectionRewrites interface {
	// OptimizeUseAggregateProjections returns the name of the projection it applied at node.
	OptimizeUseAggregateProjections(node plan.NodeID, store *plan.Store, allowImplicit bool) (string, bool)
	// OptimizeUseNormalProjections runs once the children of the top frame are exhausted.
	// On success it truncates the stack so that the parent of the rewritten node is on top,
	// or empties it when the rewritten node is the root.
	OptimizeUseNormalProjections(stack *Stack, store *plan.Store) (string, bool, error)
	// OptimizeLazyMaterialization reports whether it restructured the plan. The walk stops
	// after the first success.
	OptimizeLazyMaterialization(tree *plan.Tree, stack *Stack, maxLimit int) (bool, error)
}

// SetBuilder turns delayed set subqueries into plans that build the sets.
type SetBuilder interface {
	AddPlansForSets(settings *Settings, tree *plan.Tree, node plan.NodeID, sets *SetRegistry) error
}

// Rewrites are the collaborators of the second pass and of set building.
type Rewrites interface {
	ConditionRewrites
	JoinRewrites
	OrderRewrites
	ProjectionRewrites
	SetBuilder
}

// SetRegistry tracks the sets built during one optimization so that a set shared by several
// subqueries is built once.
type SetRegistry struct {
	built    btree.Set[string]
	optimize func(*plan.Tree) error
}

// MarkBuilt records key and reports whether it was new.
func (r *SetRegistry) MarkBuilt(key string) bool {
	if r.built.Contains(key) {
		return false
	}
	r.built.Insert(key)
	return true
}

func (r *SetRegistry) Built(key string) bool {
	return r.built.Contains(key)
}

// Keys returns the built set keys in sorted order.
func (r *SetRegistry) Keys() []string {
	return r.built.Keys()
}

// Optimize runs the whole optimizer on the plan that builds a set.
func (r *SetRegistry) Optimize(sub *plan.Tree) error {
	if r.optimize == nil {
		return nil
	}
	return r.optimize(sub)
}

// NopRewrites leaves every plan as it is. Embed it to override a subset of Rewrites.
type NopRewrites struct{}

var _ Rewrites = NopRewrites{}

func (NopRewrites) OptimizePrimaryKeyConditionAndLimit(*Stack, *plan.Store)  {}
func (NopRewrites) UpdateQueryConditionCache(*Stack, *plan.Store, *Settings) {}
func (NopRewrites) OptimizePrewhere(*Stack, *plan.Tree) error                { return nil }
func (NopRewrites) CalculateHashTableCacheKeys(*plan.Tree)                   {}
func (NopRewrites) OptimizeJoinLogical(plan.NodeID, *plan.Store, *Settings) *JoinEstimate {
	return nil
}
func (NopRewrites) ConvertLogicalJoinToPhysical(plan.NodeID, *plan.Store, *Settings, *JoinEstimate) bool {
	return false
}
func (NopRewrites) OptimizeJoinLegacy(plan.NodeID, *plan.Store, *Settings) {}
func (NopRewrites) OptimizeJoinByShards(*plan.Tree)                        {}
func (NopRewrites) OptimizeReadInOrder(plan.NodeID, *plan.Store)           {}
func (NopRewrites) OptimizeDistinctInOrder(plan.NodeID, *plan.Store)       {}
func (NopRewrites) OptimizeAggregationInOrder(plan.NodeID, *plan.Store)    {}
func (NopRewrites) TryMergeExpressions(plan.NodeID, *plan.Store)           {}
func (NopRewrites) TryRemoveRedundantSorting(*plan.Tree)                   {}
func (NopRewrites) ApplyOrder(*Settings, *plan.Tree)                       {}
func (NopRewrites) OptimizeUseAggregateProjections(plan.NodeID, *plan.Store, bool) (string, bool) {
	return "", false
}
func (NopRewrites) OptimizeUseNormalProjections(*Stack, *plan.Store) (string, bool, error) {
	return "", false, nil
}
func (NopRewrites) OptimizeLazyMaterialization(*plan.Tree, *Stack, int) (bool, error) {
	return false, nil
}
func (NopRewrites) AddPlansForSets(*Settings, *plan.Tree, plan.NodeID, *SetRegistry) error {
	return nil
}
