package plan

import (
	"fmt"

	"mit.edu/dsg/planopt/common"
)

// NodeID is a stable handle to a Node inside a Store. Handles are indices, never pointers,
// so they stay valid for the lifetime of the store regardless of how the tree around them
// is rewritten.
type NodeID int32

// InvalidNodeID marks an absent node (the root of an empty tree).
const InvalidNodeID NodeID = -1

func (id NodeID) String() string {
	return fmt.Sprintf("#%d", int32(id))
}

// Node is one operator of a query plan: an opaque step and its ordered operands.
type Node struct {
	Step     Step
	Children []NodeID
}

// Store is the arena owning every node of a plan. Nodes are never freed individually;
// a node detached by a rewrite simply becomes unreachable from the root.
type Store struct {
	nodes []*Node
}

func NewStore() *Store {
	return &Store{}
}

// Add allocates a node and returns its handle.
func (s *Store) Add(step Step, children ...NodeID) NodeID {
	s.nodes = append(s.nodes, &Node{Step: step, Children: cloneIDs(children)})
	return NodeID(len(s.nodes) - 1)
}

// Valid reports whether id refers to an allocated slot.
func (s *Store) Valid(id NodeID) bool {
	return id >= 0 && int(id) < len(s.nodes)
}

// Node dereferences a handle. The returned pointer remains valid while the store is alive,
// but its contents change when the slot is reassigned with Set.
func (s *Store) Node(id NodeID) *Node {
	common.Assert(s.Valid(id), "dereferencing invalid node handle %s", id)
	return s.nodes[id]
}

// Step returns the payload of a node.
func (s *Store) Step(id NodeID) Step {
	return s.Node(id).Step
}

// Children returns the operands of a node. The slice must not be modified by the caller;
// use Set or SetChild.
func (s *Store) Children(id NodeID) []NodeID {
	return s.Node(id).Children
}

// Child returns the i-th operand of a node.
func (s *Store) Child(id NodeID, i int) NodeID {
	children := s.Node(id).Children
	common.Assert(i >= 0 && i < len(children), "node %s has no child %d", id, i)
	return children[i]
}

// Set reassigns the slot id: the handle keeps its identity (and therefore the child slot
// pointing at it in the parent) while its step and operands are replaced.
func (s *Store) Set(id NodeID, step Step, children ...NodeID) {
	n := s.Node(id)
	n.Step = step
	n.Children = cloneIDs(children)
}

// SetChild replaces exactly one operand slot of parent.
func (s *Store) SetChild(parent NodeID, i int, child NodeID) {
	n := s.Node(parent)
	common.Assert(i >= 0 && i < len(n.Children), "node %s has no child %d", parent, i)
	n.Children[i] = child
}

// Len returns the number of allocated slots, reachable or not.
func (s *Store) Len() int {
	return len(s.nodes)
}

func cloneIDs(ids []NodeID) []NodeID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]NodeID, len(ids))
	copy(out, ids)
	return out
}
