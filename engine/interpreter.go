package engine

import (
	"context"
	"time"

	"github.com/crytic/warden/logging"
	"github.com/crytic/warden/symbolic"
	"github.com/crytic/warden/symbolic/solver"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrDeadAccount indicates a transaction targeted an account that does not exist or self-destructed.
	ErrDeadAccount = errors.New("can not execute dead contract")

	// ErrNoCode indicates a message call targeted an account without runtime code.
	ErrNoCode = errors.New("target account has no code")
)

// Config bounds the exploration performed by an Interpreter.
type Config struct {
	// MaxInstructions is the maximum number of instructions executed on a single path of a transaction.
	MaxInstructions int

	// LoopBound is the maximum number of times a single jump edge may be taken on a path.
	LoopBound int

	// PruneInfeasible enables solver checks on symbolic branches, dropping branches proven unsatisfiable.
	PruneInfeasible bool

	// PruneTimeout bounds each branch feasibility check.
	PruneTimeout time.Duration
}

// DefaultConfig returns the default interpreter bounds.
func DefaultConfig() Config {
	return Config{
		MaxInstructions: 25_000,
		LoopBound:       3,
		PruneInfeasible: false,
		PruneTimeout:    100 * time.Millisecond,
	}
}

// StorageAccessHook observes the storage keys read and written during execution. Implementations must be safe for
// concurrent use since transactions may execute in parallel.
type StorageAccessHook interface {
	// OnStorageRead is called for every SLOAD.
	OnStorageRead(tx Transaction, key *symbolic.BitVec)
	// OnStorageWrite is called for every SSTORE.
	OnStorageWrite(tx Transaction, key *symbolic.BitVec)
}

// ExecutionStats counts how the paths of an execution ended.
type ExecutionStats struct {
	// Completed is the number of paths that ended with STOP, RETURN or SELFDESTRUCT.
	Completed int
	// Reverted is the number of paths that reverted or halted exceptionally.
	Reverted int
	// Exhausted is the number of paths cut off by an exploration bound.
	Exhausted int
	// Pruned is the number of branches dropped as infeasible.
	Pruned int
}

// Add accumulates other into the receiver.
func (s *ExecutionStats) Add(other ExecutionStats) {
	s.Completed += other.Completed
	s.Reverted += other.Reverted
	s.Exhausted += other.Exhausted
	s.Pruned += other.Pruned
}

// ExecutionResult is the outcome of executing one transaction.
type ExecutionResult struct {
	// OpenStates are the world states of every path that completed, in exploration order.
	OpenStates []*WorldState
	// Trace holds the graph nodes, edges and records produced.
	Trace *Trace
	// Stats counts how paths ended.
	Stats ExecutionStats
}

// Interpreter symbolically executes transactions. An Interpreter holds no per-execution state and may execute
// several transactions concurrently.
type Interpreter struct {
	config Config
	solver solver.Solver
	hook   StorageAccessHook
	logger *logging.Logger
}

// NewInterpreter returns an Interpreter with the provided bounds. The solver is optional and only consulted for
// branch pruning when enabled.
func NewInterpreter(config Config, s solver.Solver) *Interpreter {
	if config.MaxInstructions <= 0 {
		config.MaxInstructions = DefaultConfig().MaxInstructions
	}
	if config.LoopBound <= 0 {
		config.LoopBound = DefaultConfig().LoopBound
	}
	return &Interpreter{
		config: config,
		solver: s,
		logger: logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.ENGINE_SERVICE),
	}
}

// SetStorageAccessHook sets the hook notified of storage accesses. It must be called before execution starts.
func (in *Interpreter) SetStorageAccessHook(hook StorageAccessHook) {
	in.hook = hook
}

// Config returns the bounds of the interpreter.
func (in *Interpreter) Config() Config {
	return in.config
}

// execution holds the state of a single Execute call.
type execution struct {
	*Interpreter
	ctx          context.Context
	tx           Transaction
	contractName string
	result       *ExecutionResult
}

// Execute applies tx to its world state, exploring every feasible path. The world state of tx is forked, never
// modified. Paths that revert are discarded together with their records.
func (in *Interpreter) Execute(ctx context.Context, tx Transaction) (*ExecutionResult, error) {
	parent := tx.WorldState()
	world := parent.Fork()

	var code *Disassembly
	var contractName string
	if creation, ok := tx.(*ContractCreationTransaction); ok {
		account := NewAccount(tx.Callee(), creation.ContractName)
		account.Balance = tx.CallValue()
		world.PutAccount(account)
		code = Disassemble(creation.InitCode)
		contractName = creation.ContractName
	} else {
		account := world.MutableAccount(tx.Callee())
		if account == nil || account.Deleted {
			return nil, errors.Wrapf(ErrDeadAccount, "account %v", tx.Callee().Hex())
		}
		if !account.HasCode() {
			return nil, errors.Wrapf(ErrNoCode, "account %v", tx.Callee().Hex())
		}
		account.Balance = symbolic.Add(account.Balance, tx.CallValue())
		code = account.Code
		contractName = account.ContractName
	}

	e := &execution{
		Interpreter:  in,
		ctx:          ctx,
		tx:           tx,
		contractName: contractName,
		result: &ExecutionResult{
			OpenStates: make([]*WorldState, 0),
			Trace:      NewTrace(),
		},
	}

	initial := &GlobalState{
		Machine: NewMachineState(parent.Constraints.Concat(tx.Setup())),
		World:   world,
		Environment: Environment{
			ActiveAccount: tx.Callee(),
			Code:          code,
			Transaction:   tx,
		},
		pending: &pendingRecords{},
	}
	e.enterNode(initial, parent.Node, TransactionBoundary, nil)

	work := []*GlobalState{initial}
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		g := work[len(work)-1]
		work = work[:len(work)-1]

		// Push forks in reverse so the first one is explored next
		forks := e.run(g)
		for i := len(forks) - 1; i >= 0; i-- {
			work = append(work, forks[i])
		}
	}

	in.logger.Trace("Executed tx ", tx.ID(), " (", tx.FunctionName(), "): ", len(e.result.OpenStates), " open states, ",
		len(e.result.Trace.Nodes), " nodes")
	return e.result, nil
}

// run executes a path until it forks or ends. Forked successor states are returned; nil means the path ended.
func (e *execution) run(g *GlobalState) []*GlobalState {
	code := g.Environment.Code
	for {
		m := g.Machine
		if m.PC >= len(code.Instructions) {
			e.complete(g)
			return nil
		}
		if m.Steps >= e.config.MaxInstructions {
			e.exhaust(g, "instruction bound reached")
			return nil
		}
		m.Steps++

		instruction := code.Instructions[m.PC]
		forks, result, err := e.step(g, instruction)
		if err != nil {
			if e.logger.Level() <= zerolog.TraceLevel {
				e.logger.Trace("Path halted exceptionally at ", instruction.String(), ": ", err.Error())
			}
			e.result.Stats.Reverted++
			return nil
		}

		switch result {
		case outcomeContinue:
			continue
		case outcomeFork:
			return forks
		case outcomeComplete:
			e.complete(g)
		case outcomeRevert:
			e.result.Stats.Reverted++
		case outcomeExhausted:
			e.exhaust(g, "bound reached at "+instruction.String())
		}
		return nil
	}
}

// complete commits the records of a path that finished its transaction and publishes its world state.
func (e *execution) complete(g *GlobalState) {
	e.result.Trace.commit(g.pending)

	world := g.World
	world.TransactionSequence = append(world.TransactionSequence, e.tx)
	world.Constraints = g.Machine.Constraints
	world.Node = g.Node
	e.result.OpenStates = append(e.result.OpenStates, world)
	e.result.Stats.Completed++
}

// exhaust ends a path that hit an exploration bound.
func (e *execution) exhaust(g *GlobalState, reason string) {
	e.logger.Debug("Path of tx ", e.tx.ID(), " (", e.tx.FunctionName(), ") exhausted: ", reason)
	e.result.Stats.Exhausted++
}

// enterNode opens a new graph node for g, linking it from the provided node.
func (e *execution) enterNode(g *GlobalState, from *Node, kind JumpType, condition *symbolic.Bool) {
	node := &Node{
		ContractName:  e.contractName,
		FunctionName:  e.tx.FunctionName(),
		StartAddress:  g.Address(),
		TransactionID: e.tx.ID(),
		States:        make([]*GlobalState, 0, 1),
		Constraints:   g.Machine.Constraints,
	}
	e.result.Trace.Nodes = append(e.result.Trace.Nodes, node)
	if from != nil {
		e.result.Trace.Edges = append(e.result.Trace.Edges, &Edge{From: from, To: node, Kind: kind, Condition: condition})
	}
	g.Node = node
	node.States = append(node.States, g.snapshot())
}

// observe records a snapshot of g on its node and returns it.
func (e *execution) observe(g *GlobalState) *GlobalState {
	snapshot := g.snapshot()
	g.Node.States = append(g.Node.States, snapshot)
	return snapshot
}

// feasible indicates whether a branch condition may hold under the path condition of m.
func (e *execution) feasible(m *MachineState, condition *symbolic.Bool) bool {
	if condition.IsFalse() || m.Constraints.Contains(symbolic.LNot(condition)) {
		return false
	}
	if !e.config.PruneInfeasible || e.solver == nil || condition.IsTrue() {
		return true
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.config.PruneTimeout)
	defer cancel()
	result, err := e.solver.Solve(ctx, m.Constraints.Append(condition))
	if err != nil {
		e.logger.Debug("Branch feasibility check failed", err)
		return true
	}
	return result.Status != solver.Unsat
}
