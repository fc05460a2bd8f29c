package plan

import (
	"fmt"
	"strings"

	"mit.edu/dsg/planopt/common"
)

// KeyCondition bounds one primary key column of a table read.
type KeyCondition struct {
	Column string
	Op     ComparisonType
	Value  common.Value
}

func (k KeyCondition) String() string {
	return fmt.Sprintf("%s %s %s", k.Column, k.Op.String(), k.Value.String())
}

// ReadFromTable reads a table, optionally through a projection, applying the conditions the
// optimizer pushed into it.
type ReadFromTable struct {
	TableOid common.ObjectID
	Table    string
	Columns  []string

	// Filter is evaluated on every row produced by the read.
	Filter Expr
	// Prewhere is evaluated first, on the columns it needs, before the remaining columns
	// are read.
	Prewhere Expr
	// KeyCondition is derived from Filter/Prewhere/ancestor filters; it limits the primary
	// key ranges read.
	KeyCondition []KeyCondition
	// Limit stops the read early when no step between it and the limit drops rows.
	Limit int
	// Order is the primary key order the read must produce rows in.
	Order ReadOrder
	// Projection names the projection substituted for the raw table data.
	Projection string
	// ConditionCacheKey identifies (table, filter) in the query condition cache.
	ConditionCacheKey uint64
}

// ReadOrder is the primary key order requested from a table read.
type ReadOrder int

const (
	ReadUnordered ReadOrder = iota
	ReadAscending
	ReadDescending
)

func (o ReadOrder) String() string {
	switch o {
	case ReadAscending:
		return "asc"
	case ReadDescending:
		return "desc"
	}
	return "none"
}

func NewReadFromTable(tableOid common.ObjectID, table string, columns []string) *ReadFromTable {
	return &ReadFromTable{
		TableOid: tableOid,
		Table:    table,
		Columns:  columns,
	}
}

func (s *ReadFromTable) Name() string {
	return "ReadFromTable"
}

func (s *ReadFromTable) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ReadFromTable: %s [%s]", s.Table, strings.Join(s.Columns, ", "))
	if s.Projection != "" {
		fmt.Fprintf(&b, " projection=%s", s.Projection)
	}
	if s.Prewhere != nil {
		fmt.Fprintf(&b, " prewhere=(%s)", s.Prewhere.String())
	}
	if s.Filter != nil {
		fmt.Fprintf(&b, " filter=(%s)", s.Filter.String())
	}
	if len(s.KeyCondition) > 0 {
		parts := make([]string, len(s.KeyCondition))
		for i, k := range s.KeyCondition {
			parts[i] = k.String()
		}
		fmt.Fprintf(&b, " key=(%s)", strings.Join(parts, " AND "))
	}
	if s.Limit > 0 {
		fmt.Fprintf(&b, " limit=%d", s.Limit)
	}
	if s.Order != ReadUnordered {
		fmt.Fprintf(&b, " order=%s", s.Order.String())
	}
	return b.String()
}

// Conditions returns the conjuncts of the read's prewhere and filter.
func (s *ReadFromTable) Conditions() []Expr {
	return append(Conjuncts(s.Prewhere), Conjuncts(s.Filter)...)
}

// LazilyReadFromTable reads the deferred columns of rows selected by an earlier read.
type LazilyReadFromTable struct {
	TableOid common.ObjectID
	Table    string
	Columns  []string
}

func (s *LazilyReadFromTable) Name() string {
	return "LazilyReadFromTable"
}

func (s *LazilyReadFromTable) String() string {
	return fmt.Sprintf("LazilyReadFromTable: %s [%s]", s.Table, strings.Join(s.Columns, ", "))
}

// ReadFromLocalReplica is a deferred local sub-read: it carries an independently built plan
// that is optimized separately and spliced in place of this step.
type ReadFromLocalReplica struct {
	Description string
	plan        *Tree
}

func NewReadFromLocalReplica(description string, plan *Tree) *ReadFromLocalReplica {
	return &ReadFromLocalReplica{Description: description, plan: plan}
}

func (s *ReadFromLocalReplica) Name() string {
	return "ReadFromLocalReplica"
}

func (s *ReadFromLocalReplica) String() string {
	return fmt.Sprintf("ReadFromLocalReplica: %s", s.Description)
}

func (s *ReadFromLocalReplica) HasSubplan() bool {
	return s.plan != nil && !s.plan.Empty()
}

func (s *ReadFromLocalReplica) ExtractPlan() *Tree {
	p := s.plan
	s.plan = nil
	return p
}

// ReadFromRemote reads the part of a distributed query executed by other replicas.
type ReadFromRemote struct {
	Replicas int
}

func (s *ReadFromRemote) Name() string {
	return "ReadFromRemote"
}

func (s *ReadFromRemote) String() string {
	return fmt.Sprintf("ReadFromRemote: %d replicas", s.Replicas)
}
