package plan

import (
	"fmt"
	"strings"
)

type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
)

func (k JoinKind) String() string {
	if k == LeftJoin {
		return "LEFT"
	}
	return "INNER"
}

// JoinStrategy is the physical algorithm chosen for a join.
type JoinStrategy int

const (
	// JoinUnresolved is the strategy of a join no rewrite has looked at yet.
	JoinUnresolved JoinStrategy = iota
	HashJoin
	FullSortingMergeJoin
	IndexNestedLoopJoin
	NestedLoopJoin
)

func (s JoinStrategy) String() string {
	switch s {
	case HashJoin:
		return "hash"
	case FullSortingMergeJoin:
		return "full_sorting_merge"
	case IndexNestedLoopJoin:
		return "index_nested_loop"
	case NestedLoopJoin:
		return "nested_loop"
	}
	return "unresolved"
}

// Join combines its two children (left, right) on LeftKeys[i] = RightKeys[i].
type Join struct {
	Kind      JoinKind
	LeftKeys  []string
	RightKeys []string
	// Logical joins are planned by the logical join optimizer; the others take the
	// legacy path.
	Logical  bool
	Strategy JoinStrategy
	// Swapped records that the optimizer exchanged the inputs to build on the smaller side.
	Swapped bool
	// InputsSorted is set when both inputs arrive sorted by the join keys.
	InputsSorted bool
	// Shards is the number of aligned primary key ranges the join is split into.
	Shards int
	// CacheKey identifies the build side for the hash table size cache.
	CacheKey uint64
}

func NewJoin(kind JoinKind, leftKeys, rightKeys []string) *Join {
	return &Join{Kind: kind, LeftKeys: leftKeys, RightKeys: rightKeys}
}

func (s *Join) Name() string {
	return "Join"
}

func (s *Join) String() string {
	conds := make([]string, len(s.LeftKeys))
	for i := range s.LeftKeys {
		conds[i] = fmt.Sprintf("%s = %s", s.LeftKeys[i], s.RightKeys[i])
	}
	out := fmt.Sprintf("Join: %s ON %s strategy=%s", s.Kind.String(), strings.Join(conds, " AND "), s.Strategy.String())
	if s.Shards > 0 {
		out += fmt.Sprintf(" shards=%d", s.Shards)
	}
	return out
}

// JoinLazyColumns attaches lazily read columns (second child) to the rows produced by the
// first child.
type JoinLazyColumns struct {
	Table   string
	Columns []string
}

func (s *JoinLazyColumns) Name() string {
	return "JoinLazyColumns"
}

func (s *JoinLazyColumns) String() string {
	return fmt.Sprintf("JoinLazyColumns: %s [%s]", s.Table, strings.Join(s.Columns, ", "))
}
