package optimizer

import (
	"mit.edu/dsg/planopt/common"
	"mit.edu/dsg/planopt/plan"
)

// Frame is the traversal state of one node on the stack.
type Frame struct {
	Node plan.NodeID
	// DepthLimit bounds how many levels below Node the walk may still descend.
	// 0 is unlimited and 1 means Node's children are not visited.
	DepthLimit int
	// NextChild is the index of the next child to descend into.
	NextChild int
}

// Stack is the explicit traversal stack shared by the optimizer and the second-pass
// rewrites. Index 0 is the root side. Rewrites may remove frames of nodes they splice out
// of the tree; pointers returned by Top and At are invalidated by any Push.
type Stack struct {
	frames []Frame
}

func (s *Stack) Push(f Frame) {
	s.frames = append(s.frames, f)
}

func (s *Stack) Pop() Frame {
	common.Assert(len(s.frames) > 0, "pop from an empty traversal stack")
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

// Top returns the innermost frame.
func (s *Stack) Top() *Frame {
	common.Assert(len(s.frames) > 0, "top of an empty traversal stack")
	return &s.frames[len(s.frames)-1]
}

// At returns the i-th frame counting from the root.
func (s *Stack) At(i int) *Frame {
	common.Assert(i >= 0 && i < len(s.frames), "frame %d out of range [0, %d)", i, len(s.frames))
	return &s.frames[i]
}

// Parent returns the frame below the top, or nil when the top is the root frame.
func (s *Stack) Parent() *Frame {
	if len(s.frames) < 2 {
		return nil
	}
	return &s.frames[len(s.frames)-2]
}

func (s *Stack) Len() int {
	return len(s.frames)
}

func (s *Stack) Empty() bool {
	return len(s.frames) == 0
}

// Remove deletes the i-th frame, shifting the frames above it down by one.
func (s *Stack) Remove(i int) {
	common.Assert(i >= 0 && i < len(s.frames), "frame %d out of range [0, %d)", i, len(s.frames))
	s.frames = append(s.frames[:i], s.frames[i+1:]...)
}

// Truncate keeps only the first n frames.
func (s *Stack) Truncate(n int) {
	common.Assert(n >= 0 && n <= len(s.frames), "cannot truncate %d frames to %d", len(s.frames), n)
	s.frames = s.frames[:n]
}

// Clear empties the stack, keeping its capacity.
func (s *Stack) Clear() {
	s.frames = s.frames[:0]
}

// Nodes returns the handles on the stack, root first.
func (s *Stack) Nodes() []plan.NodeID {
	out := make([]plan.NodeID, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Node
	}
	return out
}

// descend pushes the next child of the top frame, without depth limits. It reports false
// once the top frame's children are exhausted.
func (s *Stack) descend(store *plan.Store) (bool, error) {
	top := s.Top()
	children := store.Children(top.Node)
	if top.NextChild >= len(children) {
		return false, nil
	}
	child := children[top.NextChild]
	if !store.Valid(child) {
		return false, common.NewOptError(common.StructuralInvariantError,
			"node %s child %d is a dangling handle %s", top.Node, top.NextChild, child)
	}
	top.NextChild++
	s.Push(Frame{Node: child})
	return true, nil
}
