package plan

import (
	"fmt"
	"strings"

	"mit.edu/dsg/planopt/common"
)

type AggregatorType int

const (
	AggCount AggregatorType = iota
	AggSum
	AggMin
	AggMax
)

func (a AggregatorType) String() string {
	switch a {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	}
	return "???"
}

// AggregateClause is one aggregate function over an input column; count() has no column.
type AggregateClause struct {
	Type   AggregatorType
	Column string
}

func (c AggregateClause) String() string {
	return fmt.Sprintf("%s(%s)", c.Type.String(), c.Column)
}

// ParseAggregate parses the "func(column)" spelling used by catalogs and plan files.
func ParseAggregate(s string) (AggregateClause, error) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return AggregateClause{}, common.NewOptError(common.InvalidConfigError, "malformed aggregate %q", s)
	}
	col := strings.TrimSpace(s[open+1 : len(s)-1])
	var t AggregatorType
	switch strings.ToLower(s[:open]) {
	case "count":
		t = AggCount
	case "sum":
		t = AggSum
	case "min":
		t = AggMin
	case "max":
		t = AggMax
	default:
		return AggregateClause{}, common.NewOptError(common.InvalidConfigError, "unknown aggregate function in %q", s)
	}
	if t != AggCount && col == "" {
		return AggregateClause{}, common.NewOptError(common.InvalidConfigError, "aggregate %q needs a column", s)
	}
	return AggregateClause{Type: t, Column: col}, nil
}

// Aggregate groups its input by GroupBy and computes Aggregates per group.
type Aggregate struct {
	GroupBy    []string
	Aggregates []AggregateClause
	// InOrder is set when the input arrives sorted by a prefix of GroupBy.
	InOrder bool
	// CacheKey identifies the aggregation input for the hash table size cache.
	CacheKey uint64
}

func NewAggregate(groupBy []string, aggregates []AggregateClause) *Aggregate {
	return &Aggregate{GroupBy: groupBy, Aggregates: aggregates}
}

func (s *Aggregate) Name() string {
	return "Aggregate"
}

func (s *Aggregate) String() string {
	aggs := make([]string, len(s.Aggregates))
	for i, a := range s.Aggregates {
		aggs[i] = a.String()
	}
	out := fmt.Sprintf("Aggregate: GroupBy(%s) [%s]", strings.Join(s.GroupBy, ", "), strings.Join(aggs, ", "))
	if s.InOrder {
		out += " in-order"
	}
	return out
}

// InputColumns returns the columns the aggregation reads.
func (s *Aggregate) InputColumns() []string {
	cols := append([]string(nil), s.GroupBy...)
	for _, a := range s.Aggregates {
		if a.Column != "" {
			cols = append(cols, a.Column)
		}
	}
	return cols
}
