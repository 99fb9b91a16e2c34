// Package analysis holds the checks run over a finished execution graph to find storage and access control
// violations.
package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/logging"
	"github.com/crytic/warden/symbolic"
	"github.com/crytic/warden/symbolic/solver"
	"github.com/pkg/errors"
)

// Check is a query over the execution graph. Every event a check inspects ends in exactly one of three outcomes:
// unsatisfiable and skipped, satisfiable and unconstrained (a Violation), or satisfiable and constrained (clean).
type Check interface {
	// Name returns a short identifier of the check used in logs and timeout diagnostics.
	Name() string

	// Run inspects the graph of rc and returns the violations found, in graph order.
	Run(ctx context.Context, rc *RunContext) ([]*Violation, error)
}

// Timeout describes an event whose satisfiability could not be decided in time. A timeout is not proof of safety.
type Timeout struct {
	// Check is the name of the check issuing the query.
	Check string `json:"check"`

	// Contract is the name of the contract executing the event.
	Contract string `json:"contract"`

	// Function is the name of the function whose transaction produced the event.
	Function string `json:"function"`

	// Address is the byte offset of the instruction producing the event.
	Address uint64 `json:"address"`
}

// accumulator collects the diagnostics of a single run.
type accumulator struct {
	timeouts []Timeout
	visited  int
	unsat    int
	clean    int
	lock     sync.Mutex
}

// RunContext holds everything the checks of a single run share. A fresh RunContext must be used per run, so no
// diagnostic leaks from one run into another.
type RunContext struct {
	// Graph is the finished execution graph. Checks only read it.
	Graph *engine.Graph

	// Solver decides the satisfiability of event propositions.
	Solver solver.Solver

	// Timeout bounds every solver query.
	Timeout time.Duration

	// Workers bounds the number of concurrent solver queries.
	Workers int

	// acc collects the diagnostics of the run.
	acc *accumulator

	// logger describes the RunContext's log object that can be used to log important events
	logger *logging.Logger
}

// NewRunContext returns a RunContext over graph.
func NewRunContext(graph *engine.Graph, s solver.Solver, timeout time.Duration, workers int) *RunContext {
	if workers <= 0 {
		workers = 1
	}
	return &RunContext{
		Graph:   graph,
		Solver:  s,
		Timeout: timeout,
		Workers: workers,
		acc:     &accumulator{timeouts: make([]Timeout, 0)},
		logger:  logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.ANALYSIS_SERVICE),
	}
}

// Timeouts returns the events whose queries timed out, in the order checks reported them.
func (rc *RunContext) Timeouts() []Timeout {
	rc.acc.lock.Lock()
	defer rc.acc.lock.Unlock()
	return append([]Timeout(nil), rc.acc.timeouts...)
}

// Visited returns the number of events whose satisfiability was queried.
func (rc *RunContext) Visited() int {
	rc.acc.lock.Lock()
	defer rc.acc.lock.Unlock()
	return rc.acc.visited
}

// Unreachable returns the number of events proven unsatisfiable.
func (rc *RunContext) Unreachable() int {
	rc.acc.lock.Lock()
	defer rc.acc.lock.Unlock()
	return rc.acc.unsat
}

// Clean returns the number of reachable events found to be access controlled.
func (rc *RunContext) Clean() int {
	rc.acc.lock.Lock()
	defer rc.acc.lock.Unlock()
	return rc.acc.clean
}

// event is a single graph event queried by a check.
type event struct {
	state       *engine.GlobalState
	proposition symbolic.Proposition
}

// outcome is the solver's answer for an event.
type outcome struct {
	status solver.Status
	model  symbolic.Model
}

// solveAll decides the satisfiability of every event on a bounded pool and returns the outcomes in event order.
// Timeouts and solver failures are recorded against the check and reported as solver.Timeout. Only cancellation of
// ctx is returned as an error.
func (rc *RunContext) solveAll(ctx context.Context, check string, events []event) ([]outcome, error) {
	outcomes := make([]outcome, len(events))

	threadReserveChannel := make(chan struct{}, rc.Workers)
	var wg sync.WaitGroup
	for i := range events {
		threadReserveChannel <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer func() {
				<-threadReserveChannel
				wg.Done()
			}()
			outcomes[i] = rc.solve(ctx, events[i].proposition)
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	// Fold the diagnostics back in event order
	rc.acc.lock.Lock()
	defer rc.acc.lock.Unlock()
	for i, o := range outcomes {
		rc.acc.visited++
		switch o.status {
		case solver.Unsat:
			rc.acc.unsat++
		case solver.Timeout:
			state := events[i].state
			rc.acc.timeouts = append(rc.acc.timeouts, Timeout{
				Check:    check,
				Contract: state.Node.ContractName,
				Function: state.Node.FunctionName,
				Address:  state.Address(),
			})
		}
	}
	return outcomes, nil
}

// solve issues a single query under the per-query timeout.
func (rc *RunContext) solve(ctx context.Context, proposition symbolic.Proposition) outcome {
	queryCtx := ctx
	if rc.Timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, rc.Timeout)
		defer cancel()
	}

	result, err := rc.Solver.Solve(queryCtx, proposition)
	if err != nil {
		rc.logger.Warn("Solver query failed, treating it as inconclusive", err)
		return outcome{status: solver.Timeout}
	}
	return outcome{status: result.Status, model: result.Model}
}

// markClean records a reachable, access controlled event.
func (rc *RunContext) markClean() {
	rc.acc.lock.Lock()
	defer rc.acc.lock.Unlock()
	rc.acc.clean++
}

// callerConstrained indicates whether the proposition ties reachability to the caller of the transaction executing
// state.
func callerConstrained(state *engine.GlobalState, proposition symbolic.Proposition) bool {
	return proposition.Mentions(engine.CallerSymbolName(state.Transaction().ID()))
}

// Run executes every check against rc in order and returns the violations, de-duplicated by contract, function,
// instruction address, kind and field. The first violation of each key in check order wins.
func Run(ctx context.Context, rc *RunContext, checks []Check) ([]*Violation, error) {
	violations := make([]*Violation, 0)
	seen := make(map[violationKey]struct{})
	for _, check := range checks {
		rc.logger.Debug("Running check ", check.Name())
		found, err := check.Run(ctx, rc)
		if err != nil {
			return nil, errors.Wrapf(err, "check %v failed", check.Name())
		}
		for _, v := range found {
			key := v.key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			violations = append(violations, v)
		}
	}
	return violations, nil
}
