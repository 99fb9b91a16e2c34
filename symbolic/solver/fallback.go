package solver

import (
	"context"

	"github.com/crytic/warden/symbolic"
)

// FallbackSolver consults a list of solvers in order and returns the first conclusive result. A query only times out
// if every solver timed out or the context ended.
type FallbackSolver struct {
	solvers []Solver
}

// NewFallbackSolver returns a FallbackSolver over the provided solvers, consulted in order.
func NewFallbackSolver(solvers ...Solver) *FallbackSolver {
	return &FallbackSolver{solvers: solvers}
}

// Solve decides whether the proposition is satisfiable.
func (s *FallbackSolver) Solve(ctx context.Context, proposition symbolic.Proposition) (Result, error) {
	for _, solver := range s.solvers {
		if ctx.Err() != nil {
			break
		}
		result, err := solver.Solve(ctx, proposition)
		if err != nil {
			return Result{}, err
		}
		if result.Status != Timeout {
			return result, nil
		}
	}
	return Result{Status: Timeout}, nil
}
