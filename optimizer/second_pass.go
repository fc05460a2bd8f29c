package optimizer

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"mit.edu/dsg/planopt/common"
	"mit.edu/dsg/planopt/plan"
)

// secondPass runs the rewrites that depend on each other's results, each stage as its own
// walk over the whole tree.
func (o *Optimizer) secondPass(r *run, tree *plan.Tree) error {
	steps := []func(*run, *plan.Tree) error{
		o.pushConditions,
		o.cacheKeys,
		o.chooseJoinsAndOrders,
		o.spliceSubplans,
		o.useProjections,
		o.materializeLazily,
		o.checkProjections,
		o.propagateOrders,
	}
	for _, step := range steps {
		if err := step(r, tree); err != nil {
			return err
		}
	}
	return nil
}

// pushConditions runs the condition rewrites at every visit of the stack top. Prewhere
// optimization may drop the frame of the filter it folds into a read.
func (o *Optimizer) pushConditions(r *run, tree *plan.Tree) error {
	store := tree.Store()
	var stack Stack
	stack.Push(Frame{Node: tree.Root()})
	for !stack.Empty() {
		o.rewrites.OptimizePrimaryKeyConditionAndLimit(&stack, store)
		if r.settings.UseQueryConditionCache {
			o.rewrites.UpdateQueryConditionCache(&stack, store, r.settings)
		}
		if r.settings.OptimizePrewhere {
			if err := o.rewrites.OptimizePrewhere(&stack, tree); err != nil {
				return err
			}
			if stack.Empty() {
				return common.NewOptError(common.StructuralInvariantError, "prewhere optimization emptied the traversal stack")
			}
		}

		pushed, err := stack.descend(store)
		if err != nil {
			return err
		}
		if !pushed {
			stack.Pop()
		}
	}
	return nil
}

func (o *Optimizer) cacheKeys(_ *run, tree *plan.Tree) error {
	o.rewrites.CalculateHashTableCacheKeys(tree)
	return nil
}

func (o *Optimizer) chooseJoinsAndOrders(r *run, tree *plan.Tree) error {
	store := tree.Store()
	var stack Stack
	stack.Push(Frame{Node: tree.Root()})
	for !stack.Empty() {
		frame := stack.Top()
		if frame.NextChild == 0 {
			estimate := o.rewrites.OptimizeJoinLogical(frame.Node, store, r.settings)
			if !o.rewrites.ConvertLogicalJoinToPhysical(frame.Node, store, r.settings, estimate) {
				o.rewrites.OptimizeJoinLegacy(frame.Node, store, r.settings)
			}
			if r.settings.ReadInOrder {
				o.rewrites.OptimizeReadInOrder(frame.Node, store)
			}
			if r.settings.DistinctInOrder {
				o.rewrites.OptimizeDistinctInOrder(frame.Node, store)
			}
		}

		pushed, err := stack.descend(store)
		if err != nil {
			return err
		}
		if !pushed {
			stack.Pop()
		}
	}
	return nil
}

// spliceSubplans optimizes every embedded local plan on its own and puts it in place of
// the node that carried it.
func (o *Optimizer) spliceSubplans(r *run, tree *plan.Tree) error {
	store := tree.Store()
	spliced := false

	var stack Stack
	stack.Push(Frame{Node: tree.Root()})
	for !stack.Empty() {
		pushed, err := stack.descend(store)
		if err != nil {
			return err
		}
		if pushed {
			continue
		}

		frame := stack.Pop()
		step := store.Step(frame.Node)
		if !plan.CapabilitiesOf(step).Has(plan.CapEmbeddedSubplan) {
			continue
		}
		carrier, ok := step.(plan.SubplanCarrier)
		if !ok {
			return common.NewOptError(common.StructuralInvariantError,
				"step %s of node %s cannot hand over its sub-plan", step.Name(), frame.Node)
		}
		if !carrier.HasSubplan() {
			continue
		}

		sub := carrier.ExtractPlan()
		if err := o.optimizeSubplan(r, sub); err != nil {
			return errors.Wrapf(err, "failed to optimize local plan of node %s", frame.Node)
		}
		if err := tree.ReplaceSubtree(frame.Node, sub); err != nil {
			return err
		}
		spliced = true
		r.splices++
		o.metrics.Splices.Inc()
		r.logger.Debug("Spliced local plan", zap.Stringer("node", frame.Node))

		if r.settings.MergeExpressions {
			o.rewrites.TryMergeExpressions(frame.Node, store)
		}
	}

	if spliced && r.settings.RemoveRedundantSorting {
		o.rewrites.TryRemoveRedundantSorting(tree)
	}
	return nil
}

// useProjections substitutes projections for table reads. Aggregate projections are tried
// when a node is first reached and normal projections once its children are done. A normal
// projection rewrites the children of the node's parent, so the parent's remaining children
// are walked again.
func (o *Optimizer) useProjections(r *run, tree *plan.Tree) error {
	store := tree.Store()
	maxApplied := r.settings.MaxOptimizationsToApply

	var stack Stack
	stack.Push(Frame{Node: tree.Root()})
	for !stack.Empty() {
		frame := stack.Top()
		if frame.NextChild == 0 {
			if plan.CapabilitiesOf(store.Step(frame.Node)).Has(plan.CapProjectableScan) {
				r.readsTable = true
			}
			if r.settings.OptimizeProjection {
				if name, ok := o.rewrites.OptimizeUseAggregateProjections(frame.Node, store, r.settings.OptimizeUseImplicitProjections); ok {
					r.useProjection(o, name)
				}
			}
			if r.settings.AggregationInOrder {
				o.rewrites.OptimizeAggregationInOrder(frame.Node, store)
			}
		}

		pushed, err := stack.descend(store)
		if err != nil {
			return err
		}
		if pushed {
			continue
		}

		if r.settings.OptimizeProjection {
			name, ok, err := o.rewrites.OptimizeUseNormalProjections(&stack, store)
			if err != nil {
				return err
			}
			if ok {
				r.useProjection(o, name)
				if maxApplied > 0 && r.projections.Len() > maxApplied {
					o.metrics.BudgetExceeded.WithLabelValues("projections", budgetMode(r.settings)).Inc()
					if !r.settings.IsExplain() {
						return common.NewOptError(common.ProjectionBudgetExceededError,
							"too many projection optimizations applied to query plan, current limit is %d", maxApplied)
					}
				}

				if stack.Empty() {
					stack.Push(Frame{Node: tree.Root()})
				} else {
					top := stack.Top()
					common.Assert(top.NextChild > 0, "projection left parent %s without a visited child", top.Node)
					top.NextChild--
				}
				continue
			}
		}
		stack.Pop()
	}
	return nil
}

func (r *run) useProjection(o *Optimizer, name string) {
	if !r.projections.Contains(name) {
		r.projections.Insert(name)
		r.logger.Debug("Applied projection", zap.String("projection", name))
	}
	o.metrics.ProjectionsApplied.WithLabelValues(name).Inc()
}

// materializeLazily stops at the first node where lazy materialization restructures the plan.
func (o *Optimizer) materializeLazily(r *run, tree *plan.Tree) error {
	if !r.settings.OptimizeLazyMaterialization {
		return nil
	}
	store := tree.Store()
	var stack Stack
	stack.Push(Frame{Node: tree.Root()})
	for !stack.Empty() {
		if stack.Top().NextChild == 0 {
			done, err := o.rewrites.OptimizeLazyMaterialization(tree, &stack, r.settings.MaxLimitForLazyMaterialization)
			if err != nil {
				return err
			}
			if done {
				r.logger.Debug("Plan restructured for lazy materialization")
				return nil
			}
		}

		pushed, err := stack.descend(store)
		if err != nil {
			return err
		}
		if !pushed {
			stack.Pop()
		}
	}
	return nil
}

func (o *Optimizer) checkProjections(r *run, _ *plan.Tree) error {
	if !r.readsTable {
		return nil
	}
	if r.settings.ForceUseProjection && r.projections.Len() == 0 {
		return common.NewOptError(common.RequiredProjectionMissingError,
			"no projection is used although force-use-projection is set")
	}
	if name := r.settings.ForceProjectionName; name != "" && !r.projections.Contains(name) {
		return common.NewOptError(common.RequiredProjectionMissingError,
			"projection '%s' is required by force-projection-name but not used", name)
	}
	return nil
}

func (o *Optimizer) propagateOrders(r *run, tree *plan.Tree) error {
	o.rewrites.ApplyOrder(r.settings, tree)
	if r.settings.JoinShardByPKRanges {
		o.rewrites.OptimizeJoinByShards(tree)
	}
	return nil
}
