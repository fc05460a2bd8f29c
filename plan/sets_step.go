package plan

import (
	"fmt"
	"strings"
)

// SetSubquery is a subquery whose result is materialized once as a reusable set
// (for IN (subquery) and similar).
type SetSubquery struct {
	Key  string
	Plan *Tree
}

// DelayedCreatingSets marks a node whose input needs the listed sets built before it runs.
// Its single child is that input.
type DelayedCreatingSets struct {
	Sets []*SetSubquery
}

func (s *DelayedCreatingSets) Name() string {
	return "DelayedCreatingSets"
}

func (s *DelayedCreatingSets) String() string {
	keys := make([]string, len(s.Sets))
	for i, set := range s.Sets {
		keys[i] = set.Key
	}
	return fmt.Sprintf("DelayedCreatingSets: %s", strings.Join(keys, ", "))
}

// CreatingSets runs the set building children (all but the first) before forwarding the
// rows of the first child.
type CreatingSets struct{}

func (s *CreatingSets) Name() string {
	return "CreatingSets"
}

func (s *CreatingSets) String() string {
	return "CreatingSets"
}

// CreatingSet materializes the result of its child as the set Key.
type CreatingSet struct {
	Key string
}

func (s *CreatingSet) Name() string {
	return "CreatingSet"
}

func (s *CreatingSet) String() string {
	return fmt.Sprintf("CreatingSet: %s", s.Key)
}
