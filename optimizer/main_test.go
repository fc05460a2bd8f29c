package optimizer

import (
	"testing"

	"go.uber.org/goleak"
	"mit.edu/dsg/planopt/plan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testStep is an opaque step identified by its name.
type testStep struct {
	name string
}

func (s *testStep) Name() string   { return s.name }
func (s *testStep) String() string { return s.name }

func step(name string) plan.Step {
	return &testStep{name: name}
}

// buildChain builds names[0] -> names[1] -> ... and returns the tree rooted at names[0].
func buildChain(names ...string) *plan.Tree {
	tree := plan.NewTree()
	id := plan.InvalidNodeID
	for i := len(names) - 1; i >= 0; i-- {
		if id == plan.InvalidNodeID {
			id = tree.Store().Add(step(names[i]))
		} else {
			id = tree.Store().Add(step(names[i]), id)
		}
	}
	tree.SetRoot(id)
	return tree
}

// stepNames returns the names of the reachable steps in pre-order.
func stepNames(tree *plan.Tree) []string {
	var out []string
	for _, id := range tree.Reachable() {
		out = append(out, tree.Store().Step(id).Name())
	}
	return out
}

func newTestOptimizer(rules ...*Rule) *Optimizer {
	catalog := NewRuleCatalog()
	catalog.MustRegister(rules...)
	return New(catalog, nil)
}

// recorder returns a rule that never changes anything and records the names of the
// steps it is applied to.
func recorder(visits *[]string) *Rule {
	return &Rule{
		Name: "recorder",
		Apply: func(node plan.NodeID, store *plan.Store, _ ExtraSettings) int {
			*visits = append(*visits, store.Step(node).Name())
			return 0
		},
	}
}
