package plan

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/tidwall/btree"
	"github.com/xlab/treeprint"
	"mit.edu/dsg/planopt/common"
)

// Tree owns a node store and tracks which node is the root. It is built by a planner,
// rewritten in place by the optimizer and then handed read-only to execution.
type Tree struct {
	store *Store
	root  NodeID
}

// NewTree returns an empty tree with its own store.
func NewTree() *Tree {
	return &Tree{store: NewStore(), root: InvalidNodeID}
}

func (t *Tree) Store() *Store {
	return t.store
}

func (t *Tree) Root() NodeID {
	return t.root
}

// SetRoot makes id the root of the tree.
func (t *Tree) SetRoot(id NodeID) {
	common.Assert(t.store.Valid(id), "root %s is not a valid handle", id)
	t.root = id
}

// Empty reports whether the tree has no root.
func (t *Tree) Empty() bool {
	return t.root == InvalidNodeID
}

// ReplaceSubtree substitutes the subtree rooted at id with sub. The nodes of sub are moved
// into this tree's store under fresh handles and slot id is reassigned to sub's root, so the
// single child slot referring to id (or the tree root) now reaches the new subtree. All other
// handles, siblings and ancestors included, are untouched. The old descendants of id are no
// longer reachable but stay allocated. sub must not be used afterwards.
func (t *Tree) ReplaceSubtree(id NodeID, sub *Tree) error {
	if !t.store.Valid(id) {
		return common.NewOptError(common.StructuralInvariantError, "cannot replace invalid node %s", id)
	}
	if sub == nil || sub.Empty() {
		return common.NewOptError(common.StructuralInvariantError, "cannot replace node %s with an empty plan", id)
	}
	if sub.store == t.store {
		return common.NewOptError(common.StructuralInvariantError, "replacement plan for node %s shares its store", id)
	}
	if err := sub.Validate(); err != nil {
		return errors.Wrapf(err, "replacement plan for node %s", id)
	}

	type item struct {
		src  NodeID
		next int
	}
	imported := make(map[NodeID]NodeID, sub.store.Len())
	stack := []item{{src: sub.root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := sub.store.Node(top.src)
		if top.next < len(n.Children) {
			child := n.Children[top.next]
			top.next++
			stack = append(stack, item{src: child})
			continue
		}

		children := make([]NodeID, len(n.Children))
		for i, c := range n.Children {
			children[i] = imported[c]
		}
		if top.src == sub.root {
			t.store.Set(id, n.Step, children...)
		} else {
			imported[top.src] = t.store.Add(n.Step, children...)
		}
		stack = stack[:len(stack)-1]
	}

	sub.root = InvalidNodeID
	return nil
}

// Import moves the nodes of sub into this tree's store and returns the handle of its root,
// detached from this tree until a parent references it.
func (t *Tree) Import(sub *Tree) (NodeID, error) {
	id := t.store.Add(nil)
	if err := t.ReplaceSubtree(id, sub); err != nil {
		return InvalidNodeID, err
	}
	return id, nil
}

// Validate checks that every handle reachable from the root resolves and that each node is
// reached exactly once (no cycles, no shared subtrees). All violations are reported.
func (t *Tree) Validate() error {
	if t.Empty() {
		return nil
	}
	if !t.store.Valid(t.root) {
		return common.NewOptError(common.StructuralInvariantError, "root %s is not a valid handle", t.root)
	}

	var result *multierror.Error
	var visited btree.Set[NodeID]
	stack := []NodeID{t.root}
	visited.Insert(t.root)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i, child := range t.store.Node(id).Children {
			if !t.store.Valid(child) {
				result = multierror.Append(result, common.NewOptError(common.StructuralInvariantError,
					"node %s (%s) child %d is a dangling handle %s", id, t.store.Step(id).Name(), i, child))
				continue
			}
			if visited.Contains(child) {
				result = multierror.Append(result, common.NewOptError(common.StructuralInvariantError,
					"node %s is reached more than once (from %s)", child, id))
				continue
			}
			visited.Insert(child)
			stack = append(stack, child)
		}
	}
	return result.ErrorOrNil()
}

// Reachable returns the handles reachable from the root in pre-order.
func (t *Tree) Reachable() []NodeID {
	if t.Empty() {
		return nil
	}
	var out []NodeID
	stack := []NodeID{t.root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, id)
		children := t.store.Children(id)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

// Size returns the number of nodes reachable from the root.
func (t *Tree) Size() int {
	return len(t.Reachable())
}

// Explain renders the reachable tree, one step per line.
func (t *Tree) Explain() string {
	if t.Empty() {
		return "<empty plan>\n"
	}
	type item struct {
		id     NodeID
		branch treeprint.Tree
	}
	root := treeprint.NewWithRoot(t.store.Step(t.root).String())
	stack := []item{{id: t.root, branch: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		children := t.store.Children(top.id)
		branches := make([]item, len(children))
		for i, c := range children {
			branches[i] = item{id: c, branch: top.branch.AddBranch(t.store.Step(c).String())}
		}
		for i := len(branches) - 1; i >= 0; i-- {
			stack = append(stack, branches[i])
		}
	}
	return root.String()
}

func (t *Tree) String() string {
	return fmt.Sprintf("Plan(%d nodes)", t.Size())
}
