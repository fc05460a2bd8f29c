package plan

import "fmt"

// Filter drops rows for which Predicate is not true.
type Filter struct {
	Predicate Expr
}

func NewFilter(predicate Expr) *Filter {
	return &Filter{Predicate: predicate}
}

func (s *Filter) Name() string {
	return "Filter"
}

func (s *Filter) String() string {
	return fmt.Sprintf("Filter: %s", s.Predicate.String())
}
