package scanning

import (
	"context"
	"testing"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/engine/asm"
	"github.com/crytic/warden/scanning/dependency"
	"github.com/crytic/warden/scanning/storagelayout"
	"github.com/crytic/warden/symbolic"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	openFunction = engine.NewFunctionFromSignature("open()")
	killFunction = engine.NewFunctionFromSignature("kill()")
	peekFunction = engine.NewFunctionFromSignature("peek()")
)

// gateRuntime returns runtime code where open() sets slot 1, kill() self-destructs only once slot 1 is set and
// peek() reads slot 2, which nothing writes.
func gateRuntime() []byte {
	return asm.New().
		Dispatch(
			asm.Entry{Selector: openFunction.Selector, Label: "open"},
			asm.Entry{Selector: killFunction.Selector, Label: "kill"},
			asm.Entry{Selector: peekFunction.Selector, Label: "peek"},
		).
		Label("open").Push(1).Push(1).Op(vm.SSTORE, vm.STOP).
		Label("kill").Push(1).Op(vm.SLOAD, vm.ISZERO).JumpI("deny").Op(vm.CALLER, vm.SELFDESTRUCT).
		Label("peek").Push(2).Op(vm.SLOAD, vm.POP, vm.STOP).
		Label("deny").Revert().
		Bytes()
}

// deployGate executes the creation of the gate contract and returns its single open state.
func deployGate(t *testing.T, interpreter *engine.Interpreter, graph *engine.Graph) *engine.WorldState {
	creation := engine.NewContractCreationTransaction(engine.NewWorldState(), engine.TargetAddress, "Gate",
		asm.Deployer(asm.New(), gateRuntime()), nil)
	result, err := interpreter.Execute(context.Background(), creation)
	require.NoError(t, err)
	require.Len(t, result.OpenStates, 1)
	graph.Merge(result.Trace)
	return result.OpenStates[0]
}

// gateRecord returns the dependency record of the gate contract.
func gateRecord() *dependency.Record {
	one, two := SlotToken(uint256.NewInt(1)), SlotToken(uint256.NewInt(2))
	return dependency.Analyze(
		map[string][]string{killFunction.Name: {one}, peekFunction.Name: {two}},
		map[string][]string{openFunction.Name: {one}},
	)
}

// newGateScheduler returns a scheduler over the gate contract.
func newGateScheduler(interpreter *engine.Interpreter, graph *engine.Graph) *Scheduler {
	return NewScheduler(interpreter, graph, engine.TargetAddress, []engine.Function{peekFunction, openFunction, killFunction}, 4)
}

// functionNames returns the names of functions.
func functionNames(functions []engine.Function) []string {
	names := make([]string, len(functions))
	for i, function := range functions {
		names[i] = function.Name
	}
	return names
}

// TestCandidates ensures every function follows creation, the first call widens its candidates with related
// functions, and later calls only follow the first call's scheduling dependencies.
func TestCandidates(t *testing.T) {
	interpreter := engine.NewInterpreter(engine.DefaultConfig(), nil)
	graph := engine.NewGraph()
	deployed := deployGate(t, interpreter, graph)
	scheduler := newGateScheduler(interpreter, graph)
	record := gateRecord()

	// Right after creation
	assert.Equal(t, []string{killFunction.Name, openFunction.Name, peekFunction.Name},
		functionNames(scheduler.Candidates(deployed, record)))

	// After open(), kill() reads what open() wrote
	afterOpen, err := interpreter.Execute(context.Background(), engine.NewMessageCallTransaction(deployed, engine.TargetAddress, openFunction))
	require.NoError(t, err)
	require.Len(t, afterOpen.OpenStates, 1)
	assert.Equal(t, []string{killFunction.Name, openFunction.Name},
		functionNames(scheduler.Candidates(afterOpen.OpenStates[0], record)))

	// peek() only shares a read with itself, which admits it once more but never a third time
	afterPeek, err := interpreter.Execute(context.Background(), engine.NewMessageCallTransaction(deployed, engine.TargetAddress, peekFunction))
	require.NoError(t, err)
	require.Len(t, afterPeek.OpenStates, 1)
	assert.Equal(t, []string{peekFunction.Name}, functionNames(scheduler.Candidates(afterPeek.OpenStates[0], record)))

	afterPeekTwice, err := interpreter.Execute(context.Background(), engine.NewMessageCallTransaction(afterPeek.OpenStates[0], engine.TargetAddress, peekFunction))
	require.NoError(t, err)
	require.Len(t, afterPeekTwice.OpenStates, 1)
	assert.Empty(t, scheduler.Candidates(afterPeekTwice.OpenStates[0], record))
}

// TestAdvance ensures rounds extend open states along dependencies, drop dead states and prune states without
// candidates.
func TestAdvance(t *testing.T) {
	interpreter := engine.NewInterpreter(engine.DefaultConfig(), nil)
	graph := engine.NewGraph()
	deployed := deployGate(t, interpreter, graph)
	scheduler := newGateScheduler(interpreter, graph)
	record := gateRecord()
	ctx := context.Background()

	// Round 1: kill() reverts since slot 1 is unset
	openStates, stats, err := scheduler.Advance(ctx, []*engine.WorldState{deployed}, record, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Transactions)
	assert.Equal(t, 1, stats.Execution.Reverted)
	require.Len(t, openStates, 2)

	// Round 2: open() is followed by kill() and open(), peek() by peek()
	openStates, stats, err = scheduler.Advance(ctx, openStates, record, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Transactions)
	require.Len(t, openStates, 3)
	assert.Len(t, graph.SelfDestructs(), 1)

	// Round 3: the destroyed contract is dropped and peek(), peek() has no candidates left
	openStates, stats, err = scheduler.Advance(ctx, openStates, record, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadStatesDropped)
	assert.Equal(t, 1, stats.PrunedBranches)
	assert.Equal(t, 2, stats.Transactions)

	// Every remaining state is at budget
	openStates, stats, err = scheduler.Advance(ctx, openStates, record, 3)
	require.NoError(t, err)
	assert.Empty(t, openStates)
	assert.Zero(t, stats.Transactions)
	assert.Greater(t, stats.AtBudget, 0)
}

// TestAdvanceCancelled ensures a cancelled context aborts a round.
func TestAdvanceCancelled(t *testing.T) {
	interpreter := engine.NewInterpreter(engine.DefaultConfig(), nil)
	graph := engine.NewGraph()
	deployed := deployGate(t, interpreter, graph)
	scheduler := newGateScheduler(interpreter, graph)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := scheduler.Advance(ctx, []*engine.WorldState{deployed}, gateRecord(), 3)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRecordAccessSets ensures recording captures the slots read and written by each function, including on reverted
// paths.
func TestRecordAccessSets(t *testing.T) {
	interpreter := engine.NewInterpreter(engine.DefaultConfig(), nil)
	deployed := deployGate(t, interpreter, engine.NewGraph())

	reads, writes, err := RecordAccessSets(context.Background(), engine.DefaultConfig(), deployed, engine.TargetAddress,
		[]engine.Function{openFunction, killFunction, peekFunction})
	require.NoError(t, err)

	one, two := SlotToken(uint256.NewInt(1)), SlotToken(uint256.NewInt(2))
	assert.Equal(t, []string{one}, writes[openFunction.Name])
	assert.Empty(t, reads[openFunction.Name])
	assert.Equal(t, []string{one}, reads[killFunction.Name])
	assert.Equal(t, []string{two}, reads[peekFunction.Name])
	assert.Empty(t, writes[peekFunction.Name])

	record := dependency.Analyze(reads, writes)
	assert.Equal(t, dependency.RAW, record.Class(openFunction.Name, killFunction.Name))
}

// TestKeyToken ensures mapping and dynamic array keys map back to the slot they derive from.
func TestKeyToken(t *testing.T) {
	assert.Equal(t, SlotToken(uint256.NewInt(7)), KeyToken(symbolic.ConstUint64(7)))

	// balances[k] with balances at slot 3
	mappingKey := symbolic.KeccakWords(symbolic.Symbol("k"), symbolic.ConstUint64(3))
	assert.Equal(t, SlotToken(uint256.NewInt(3)), KeyToken(mappingKey))

	// values[i] with values at slot 5: the data area base is hashed eagerly
	arrayKey := symbolic.Add(symbolic.KeccakWords(symbolic.ConstUint64(5)), symbolic.Symbol("i"))
	assert.Equal(t, SlotToken(storagelayout.DataSlot(uint256.NewInt(5))), KeyToken(arrayKey))

	assert.Equal(t, DynamicSlot, KeyToken(symbolic.Symbol("slot")))
}
