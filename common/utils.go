package common

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Assert checks a condition and panics if it is false.
//
// Only for invariants the optimizer owns itself. Conditions a rewrite rule can break are
// reported as StructuralInvariantError.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Hash computes the 64-bit xxHash of the provided byte slice. It is used for plan cache
// keys, which must be stable across processes for the same plan shape.
func Hash(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// HashStrings hashes the concatenation of parts, separated so that ("ab","c") and
// ("a","bc") do not collide.
func HashStrings(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(p)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
