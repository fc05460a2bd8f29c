package optimizer

import (
	"mit.edu/dsg/planopt/plan"
)

// buildSets visits the plan in post order so a node sees the sets its inputs already build.
func (o *Optimizer) buildSets(r *run, tree *plan.Tree) error {
	store := tree.Store()
	registry := &SetRegistry{
		optimize: func(sub *plan.Tree) error {
			return o.optimizeSubplan(r, sub)
		},
	}

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
		if err := o.rewrites.AddPlansForSets(r.settings, tree, frame.Node, registry); err != nil {
			return err
		}
	}
	r.sets = registry.Keys()
	return nil
}
