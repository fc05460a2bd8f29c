package plan

// Step is the executable meaning of a plan node (scan, filter, join, aggregate, ...).
// The optimizer driver never looks inside a step; rewrite rules type-switch on the
// concrete kinds they understand and leave the rest alone.
type Step interface {
	// Name is the operator name shown in explain output.
	Name() string

	// String describes the step including its parameters.
	String() string
}

// Capability is the closed set of step properties the optimizer driver itself inspects.
type Capability uint8

const (
	// CapEmbeddedSubplan marks a step carrying an independent sub-plan that must be
	// optimized on its own and spliced into the tree.
	CapEmbeddedSubplan Capability = 1 << iota
	// CapProjectableScan marks a table read a projection may be substituted for.
	CapProjectableScan
)

// Has reports whether all bits of other are set in c.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// CapabilitiesOf returns the capabilities of a step. Steps outside the closed set have none.
func CapabilitiesOf(step Step) Capability {
	switch step.(type) {
	case *ReadFromLocalReplica:
		return CapEmbeddedSubplan
	case *ReadFromTable:
		return CapProjectableScan
	}
	return 0
}

// SubplanCarrier is implemented by steps with CapEmbeddedSubplan.
type SubplanCarrier interface {
	Step
	// HasSubplan reports whether the embedded plan has not been extracted yet.
	HasSubplan() bool
	// ExtractPlan hands over the embedded plan. Subsequent calls return nil.
	ExtractPlan() *Tree
}
