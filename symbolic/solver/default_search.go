//go:build !z3

package solver

// Z3Available indicates whether the binary was built with the Z3 backend.
const Z3Available = false

// NewDefaultSolver returns the search solver. Build with the z3 tag to decide queries with Z3 instead.
func NewDefaultSolver(budget int) Solver {
	return NewSearchSolver(budget)
}
