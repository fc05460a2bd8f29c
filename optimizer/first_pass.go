package optimizer

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"mit.edu/dsg/planopt/common"
	"mit.edu/dsg/planopt/plan"
)

// firstPass applies the rule catalog bottom-up until no rule reports a change. A node whose
// rules changed something is revisited together with as many levels of its subtree as the
// rules reported, instead of restarting from the root.
func (o *Optimizer) firstPass(r *run, tree *plan.Tree) error {
	if !r.settings.OptimizePlan {
		return nil
	}

	rules := o.rules.Rules()
	store := tree.Store()
	maxApplied := r.settings.MaxOptimizationsToApply

	var stack Stack
	stack.Push(Frame{Node: tree.Root()})
	for !stack.Empty() {
		frame := stack.Top()

		if frame.DepthLimit != 1 {
			children := store.Children(frame.Node)
			if frame.NextChild < len(children) {
				child := children[frame.NextChild]
				if !store.Valid(child) {
					return common.NewOptError(common.StructuralInvariantError,
						"node %s child %d is a dangling handle %s", frame.Node, frame.NextChild, child)
				}
				depth := 0
				if frame.DepthLimit > 0 {
					depth = frame.DepthLimit - 1
				}
				frame.NextChild++
				stack.Push(Frame{Node: child, DepthLimit: depth})
				continue
			}
		}

		maxUpdateDepth := 0
		for _, rule := range rules {
			if !rule.enabled(r.settings) {
				continue
			}

			if maxApplied > 0 && r.applied >= maxApplied {
				o.metrics.BudgetExceeded.WithLabelValues("first", budgetMode(r.settings)).Inc()
				if r.settings.IsExplain() {
					r.logger.Warn("Optimization budget exhausted, showing partially optimized plan",
						zap.Int("max_optimizations_to_apply", maxApplied))
					r.budgetStopped = true
					return nil
				}
				return common.NewOptError(common.BudgetExceededError,
					"too many optimizations applied to query plan, current limit is %d", maxApplied)
			}

			depth := rule.Apply(frame.Node, store, r.settings.Extra)
			if depth < 0 {
				return common.NewOptError(common.StructuralInvariantError,
					"rule '%s' reported negative depth %d at node %s", rule.Name, depth, frame.Node)
			}
			if depth == 0 {
				continue
			}

			r.applied++
			o.metrics.RulesApplied.WithLabelValues(rule.Name).Inc()
			r.logger.Debug("Applied rule",
				zap.String("rule", rule.Name),
				zap.Stringer("node", frame.Node),
				zap.String("step", store.Step(frame.Node).Name()),
				zap.Int("depth", depth))

			if err := checkChildren(store, frame.Node); err != nil {
				return errors.Wrapf(err, "rule '%s' broke the plan", rule.Name)
			}
			if depth > maxUpdateDepth {
				maxUpdateDepth = depth
			}
		}

		if maxUpdateDepth > 0 {
			frame.DepthLimit = maxUpdateDepth
			frame.NextChild = 0
			continue
		}
		stack.Pop()
	}
	return nil
}

func checkChildren(store *plan.Store, id plan.NodeID) error {
	if store.Step(id) == nil {
		return common.NewOptError(common.StructuralInvariantError, "node %s has no step", id)
	}
	for i, child := range store.Children(id) {
		if !store.Valid(child) {
			return common.NewOptError(common.StructuralInvariantError,
				"node %s child %d is a dangling handle %s", id, i, child)
		}
	}
	return nil
}
