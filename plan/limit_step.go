package plan

import "fmt"

// Limit forwards at most Limit rows after skipping Offset rows.
type Limit struct {
	Limit  int
	Offset int
}

func NewLimit(limit int) *Limit {
	return &Limit{Limit: limit}
}

func (s *Limit) Name() string {
	return "Limit"
}

func (s *Limit) String() string {
	if s.Offset > 0 {
		return fmt.Sprintf("Limit: %d offset %d", s.Limit, s.Offset)
	}
	return fmt.Sprintf("Limit: %d", s.Limit)
}
