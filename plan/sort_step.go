package plan

import (
	"fmt"
	"strings"
)

type SortDirection int

const (
	SortOrderAscending SortDirection = iota
	SortOrderDescending
)

func (d SortDirection) String() string {
	if d == SortOrderDescending {
		return "DESC"
	}
	return "ASC"
}

type OrderByClause struct {
	Column    string
	Direction SortDirection
}

func (c OrderByClause) String() string {
	return fmt.Sprintf("%s %s", c.Column, c.Direction.String())
}

// Sort sorts the input rows. With Limit set it keeps only the first Limit rows (top-N).
type Sort struct {
	OrderBy []OrderByClause
	Limit   int
	// PrefixSorted is the number of leading OrderBy clauses the input is already sorted by;
	// the sort only has to finish the remaining ones.
	PrefixSorted int
}

func NewSort(orderBy []OrderByClause) *Sort {
	return &Sort{OrderBy: orderBy}
}

func (s *Sort) Name() string {
	return "Sort"
}

func (s *Sort) String() string {
	parts := make([]string, len(s.OrderBy))
	for i, c := range s.OrderBy {
		parts[i] = c.String()
	}
	out := fmt.Sprintf("Sort: %s", strings.Join(parts, ", "))
	if s.Limit > 0 {
		out += fmt.Sprintf(" limit=%d", s.Limit)
	}
	if s.PrefixSorted > 0 {
		out += fmt.Sprintf(" prefix-sorted=%d", s.PrefixSorted)
	}
	return out
}

// Columns returns the sort columns in order.
func (s *Sort) Columns() []string {
	out := make([]string, len(s.OrderBy))
	for i, c := range s.OrderBy {
		out[i] = c.Column
	}
	return out
}
