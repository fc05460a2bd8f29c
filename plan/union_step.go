package plan

// Union concatenates the rows of all its children.
type Union struct{}

func (s *Union) Name() string {
	return "Union"
}

func (s *Union) String() string {
	return "Union"
}
