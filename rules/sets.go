package rules

import (
	"github.com/pkg/errors"
	"mit.edu/dsg/planopt/common"
	"mit.edu/dsg/planopt/optimizer"
	"mit.edu/dsg/planopt/plan"
)

// AddPlansForSets replaces a DelayedCreatingSets node by a CreatingSets node whose extra
// children build the sets not built elsewhere in the plan yet. Each set plan is optimized
// before it is attached.
func (r *Rewriter) AddPlansForSets(_ *optimizer.Settings, tree *plan.Tree, node plan.NodeID, sets *optimizer.SetRegistry) error {
	store := tree.Store()
	delayed, ok := store.Step(node).(*plan.DelayedCreatingSets)
	if !ok {
		return nil
	}
	input, ok := onlyChild(store, node)
	if !ok {
		return common.NewOptError(common.StructuralInvariantError,
			"delayed sets node %s must have exactly one input, has %d", node, len(store.Children(node)))
	}

	children := []plan.NodeID{input}
	for _, set := range delayed.Sets {
		if set.Plan == nil || !sets.MarkBuilt(set.Key) {
			continue
		}
		if err := sets.Optimize(set.Plan); err != nil {
			return errors.Wrapf(err, "failed to optimize plan of set %q", set.Key)
		}
		id, err := tree.Import(set.Plan)
		if err != nil {
			return err
		}
		children = append(children, store.Add(&plan.CreatingSet{Key: set.Key}, id))
	}

	if len(children) == 1 {
		store.Set(node, store.Step(input), store.Children(input)...)
		return nil
	}
	store.Set(node, &plan.CreatingSets{}, children...)
	return nil
}
