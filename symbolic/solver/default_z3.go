//go:build z3

package solver

// Z3Available indicates whether the binary was built with the Z3 backend.
const Z3Available = true

// NewDefaultSolver returns Z3 backed by the search solver, which still finds models Z3 could only produce for the
// uninterpreted keccak and exponentiation.
func NewDefaultSolver(budget int) Solver {
	return NewFallbackSolver(NewZ3Solver(), NewSearchSolver(budget))
}
