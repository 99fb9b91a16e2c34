package solver

//go:generate mockgen -source solver.go -destination solver_mock.go -package solver

import (
	"context"

	"github.com/crytic/warden/symbolic"
)

// Status describes the outcome of a satisfiability query.
type Status int

const (
	// Unsat indicates the proposition has no satisfying assignment; the path it describes is unreachable.
	Unsat Status = iota
	// Sat indicates a satisfying assignment was found.
	Sat
	// Timeout indicates the query was inconclusive within its time or search budget. A timeout is not proof of
	// unreachability.
	Timeout
)

// String returns a human-readable name of the status.
func (s Status) String() string {
	switch s {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result describes the outcome of a satisfiability query, with a model when the status is Sat.
type Result struct {
	// Status describes whether the proposition was satisfiable.
	Status Status

	// Model is a satisfying assignment, only set when Status is Sat.
	Model symbolic.Model
}

// Solver describes a decision procedure for path propositions. Implementations must be safe for concurrent use, as
// queries for independent events are issued in parallel.
type Solver interface {
	// Solve decides whether the proposition is satisfiable. The context deadline bounds the query; exceeding it
	// yields a Timeout result rather than an error. Errors are reserved for failures of the solver itself.
	Solve(ctx context.Context, proposition symbolic.Proposition) (Result, error)
}
