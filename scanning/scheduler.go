package scanning

import (
	"context"
	"sync"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/logging"
	"github.com/crytic/warden/scanning/dependency"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// RoundStats describes the outcome of a single Scheduler.Advance call.
type RoundStats struct {
	// Transactions is the number of message call transactions executed.
	Transactions int

	// DeadStatesDropped is the number of open states dropped because their target was deleted.
	DeadStatesDropped int

	// PrunedBranches is the number of open states not extended because their candidate set was empty.
	PrunedBranches int

	// AtBudget is the number of open states not extended because their sequence reached the transaction budget.
	AtBudget int

	// FailedTransactions is the number of transactions whose execution failed. Failures only drop the affected
	// branch.
	FailedTransactions int

	// Execution aggregates how the paths of every executed transaction ended.
	Execution engine.ExecutionStats
}

// Scheduler chooses the message calls applied to each open world state and executes them. It never calls the solver
// itself; the interpreter it wraps may do so when branch pruning is enabled.
type Scheduler struct {
	// interpreter executes transactions.
	interpreter *engine.Interpreter

	// graph receives the traces of every executed transaction.
	graph *engine.Graph

	// target is the address of the contract under analysis.
	target common.Address

	// functions are the public functions of the target, sorted by name.
	functions []engine.Function

	// functionsByName maps function names to functions.
	functionsByName map[string]engine.Function

	// workers bounds the number of transactions executed concurrently.
	workers int

	// logger describes the Scheduler's log object that can be used to log important events
	logger *logging.Logger
}

// NewScheduler returns a Scheduler applying the provided functions of the contract at target, executing up to workers
// transactions concurrently and merging their traces into graph.
func NewScheduler(interpreter *engine.Interpreter, graph *engine.Graph, target common.Address, functions []engine.Function, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	sorted := slices.Clone(functions)
	engine.SortFunctions(sorted)

	byName := make(map[string]engine.Function, len(sorted))
	for _, function := range sorted {
		byName[function.Name] = function
	}
	return &Scheduler{
		interpreter:     interpreter,
		graph:           graph,
		target:          target,
		functions:       sorted,
		functionsByName: byName,
		workers:         workers,
		logger:          logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.SCANNING_SERVICE),
	}
}

// Candidates returns the functions worth calling next on state, sorted by name. Right after creation every function
// is a candidate. After the first message call f, the candidates are the functions schedulable after f together with
// the functions holding any dependency on f. Afterwards, candidates are the functions schedulable after the first
// message call of the sequence.
func (s *Scheduler) Candidates(state *engine.WorldState, record *dependency.Record) []engine.Function {
	calls := make([]string, 0, len(state.TransactionSequence))
	for _, tx := range state.TransactionSequence {
		if !tx.IsCreation() {
			calls = append(calls, tx.FunctionName())
		}
	}

	if len(calls) == 0 {
		return slices.Clone(s.functions)
	}

	var names []string
	root := calls[0]
	if len(calls) == 1 {
		names = append(record.Permutations(root), record.Related(root)...)
	} else {
		names = record.Permutations(root)
	}
	return s.resolve(names)
}

// resolve maps function names to known functions, de-duplicated and sorted by name.
func (s *Scheduler) resolve(names []string) []engine.Function {
	slices.Sort(names)
	names = slices.Compact(names)

	functions := make([]engine.Function, 0, len(names))
	for _, name := range names {
		if function, ok := s.functionsByName[name]; ok {
			functions = append(functions, function)
		}
	}
	return functions
}

// job is a single transaction scheduled within a round.
type job struct {
	tx     *engine.MessageCallTransaction
	result *engine.ExecutionResult
	err    error
}

// Advance applies one more message call to every open state whose sequence is shorter than budget and returns the
// resulting open states. States whose target was deleted are dropped, and states without candidates are pruned. The
// transactions of a round execute concurrently, but their traces are merged into the graph and their open states
// returned in the order the transactions were scheduled, so the outcome of a round does not depend on timing.
func (s *Scheduler) Advance(ctx context.Context, openStates []*engine.WorldState, record *dependency.Record, budget int) ([]*engine.WorldState, RoundStats, error) {
	var stats RoundStats

	// Schedule the transactions of the round
	jobs := make([]*job, 0)
	for _, state := range openStates {
		account := state.Account(s.target)
		if account == nil || account.Deleted {
			s.logger.Debug("Can not execute dead contract, skipping")
			stats.DeadStatesDropped++
			continue
		}
		if state.MessageCallCount() >= budget {
			stats.AtBudget++
			continue
		}

		candidates := s.Candidates(state, record)
		if len(candidates) == 0 {
			stats.PrunedBranches++
			continue
		}
		for _, function := range candidates {
			jobs = append(jobs, &job{tx: engine.NewMessageCallTransaction(state, s.target, function)})
		}
	}

	// Execute them on a bounded pool
	threadReserveChannel := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, j := range jobs {
		threadReserveChannel <- struct{}{}
		wg.Add(1)
		go func(j *job) {
			defer func() {
				<-threadReserveChannel
				wg.Done()
			}()
			j.result, j.err = s.interpreter.Execute(ctx, j.tx)
		}(j)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, stats, errors.WithStack(err)
	}

	// Merge in scheduling order
	nextStates := make([]*engine.WorldState, 0)
	for _, j := range jobs {
		stats.Transactions++
		if j.err != nil {
			if errors.Is(j.err, engine.ErrDeadAccount) {
				stats.DeadStatesDropped++
				continue
			}
			s.logger.Warn("Failed to execute ", j.tx.FunctionName(), ", dropping branch", j.err)
			stats.FailedTransactions++
			continue
		}
		s.graph.Merge(j.result.Trace)
		stats.Execution.Add(j.result.Stats)
		nextStates = append(nextStates, j.result.OpenStates...)
	}
	return nextStates, stats, nil
}
