package plan

import (
	"fmt"
	"strings"
)

// Distinct removes duplicate rows over Columns.
type Distinct struct {
	Columns []string
	// InOrder is set when the input is sorted by a prefix of Columns, allowing a
	// streaming implementation.
	InOrder bool
}

func NewDistinct(columns []string) *Distinct {
	return &Distinct{Columns: columns}
}

func (s *Distinct) Name() string {
	return "Distinct"
}

func (s *Distinct) String() string {
	out := fmt.Sprintf("Distinct: %s", strings.Join(s.Columns, ", "))
	if s.InOrder {
		out += " in-order"
	}
	return out
}
