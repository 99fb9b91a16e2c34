package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/warden/engine/asm"
	"github.com/crytic/warden/symbolic"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	setOwnerFunction = NewFunctionFromSignature("setOwner(address)")
	killFunction     = NewFunctionFromSignature("kill()")
)

// ownableRuntime returns runtime code with an unrestricted setOwner(address) writing slot 0 and a kill() that
// self-destructs only when called by the owner stored in slot 0.
func ownableRuntime() []byte {
	return asm.New().
		Dispatch(
			asm.Entry{Selector: setOwnerFunction.Selector, Label: "setOwner"},
			asm.Entry{Selector: killFunction.Selector, Label: "kill"},
		).
		Label("setOwner").Push(4).Op(vm.CALLDATALOAD).Push(0).Op(vm.SSTORE, vm.STOP).
		Label("kill").Push(0).Op(vm.SLOAD, vm.CALLER, vm.EQ, vm.ISZERO).JumpI("deny").Op(vm.CALLER, vm.SELFDESTRUCT).
		Label("deny").Revert().
		Bytes()
}

// deployOwnable executes the creation of the ownable contract, whose constructor stores the creator as owner.
func deployOwnable(t *testing.T, in *Interpreter) (*WorldState, *ExecutionResult) {
	constructor := asm.New().Op(vm.CALLER).Push(0).Op(vm.SSTORE)
	tx := NewContractCreationTransaction(NewWorldState(), TargetAddress, "Ownable", asm.Deployer(constructor, ownableRuntime()), nil)

	result, err := in.Execute(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, result.OpenStates, 1)
	return result.OpenStates[0], result
}

// worldWithCode returns a world state holding a single contract with the provided runtime code.
func worldWithCode(code []byte) *WorldState {
	world := NewWorldState()
	account := NewAccount(TargetAddress, "Test")
	account.Code = Disassemble(code)
	world.PutAccount(account)
	return world
}

// TestExecuteCreation ensures the constructor runs under the creator sentinel and installs the runtime code.
func TestExecuteCreation(t *testing.T) {
	world, result := deployOwnable(t, NewInterpreter(DefaultConfig(), nil))

	account := world.Account(TargetAddress)
	require.NotNil(t, account)
	assert.Equal(t, ownableRuntime(), account.Code.Bytecode)
	assert.True(t, account.Storage.Load(symbolic.ConstUint64(0)).Equal(AddressWord(CreatorAddress)))

	require.Len(t, world.TransactionSequence, 1)
	assert.True(t, world.TransactionSequence[0].IsCreation())
	assert.Equal(t, 0, world.MessageCallCount())

	require.Len(t, result.Trace.StorageWrites, 1)
	write := result.Trace.StorageWrites[0]
	assert.True(t, write.Offset.Equal(symbolic.ConstUint64(0)))
	assert.Equal(t, ConstructorName, write.State.Node.FunctionName)
	assert.Equal(t, 1, result.Stats.Completed)
}

// TestExecuteForksOnSymbolicCondition ensures a guarded self-destruct forks into a reverting branch and a completing
// branch whose path condition constrains the caller.
func TestExecuteForksOnSymbolicCondition(t *testing.T) {
	in := NewInterpreter(DefaultConfig(), nil)
	deployed, _ := deployOwnable(t, in)

	tx := NewMessageCallTransaction(deployed, TargetAddress, killFunction)
	result, err := in.Execute(context.Background(), tx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Stats.Completed)
	assert.Equal(t, 1, result.Stats.Reverted)
	require.Len(t, result.OpenStates, 1)
	require.Len(t, result.Trace.SelfDestructs, 1)

	destruct := result.Trace.SelfDestructs[0]
	assert.True(t, destruct.Constraints.Mentions(CallerSymbolName(tx.ID())))
	assert.Equal(t, killFunction.Name, destruct.State.Node.FunctionName)
	assert.True(t, result.OpenStates[0].Account(TargetAddress).Deleted)
	assert.False(t, deployed.Account(TargetAddress).Deleted)

	// Entry node, the dispatcher jump and one node per branch
	assert.Len(t, result.Trace.Nodes, 4)
	require.Len(t, result.Trace.Edges, 4)
	assert.Equal(t, TransactionBoundary, result.Trace.Edges[0].Kind)
	assert.Equal(t, deployed.Node, result.Trace.Edges[0].From)

	// The completed path's world state extends the sequence
	open := result.OpenStates[0]
	require.Len(t, open.TransactionSequence, 2)
	assert.Equal(t, tx, open.LastTransaction())
	assert.Equal(t, 1, open.MessageCallCount())
}

// TestExecuteUnrestrictedWrite ensures a write of a call data argument completes without constraining the caller.
func TestExecuteUnrestrictedWrite(t *testing.T) {
	in := NewInterpreter(DefaultConfig(), nil)
	deployed, _ := deployOwnable(t, in)

	tx := NewMessageCallTransaction(deployed, TargetAddress, setOwnerFunction)
	result, err := in.Execute(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, result.Trace.StorageWrites, 1)

	write := result.Trace.StorageWrites[0]
	assert.False(t, write.Constraints.Mentions(CallerSymbolName(tx.ID())))
	assert.Contains(t, write.Value.Vars(), CalldataSymbolName(tx.ID(), 4))
	assert.Equal(t, tx, write.State.Transaction())
}

// storageRecorder records every storage access.
type storageRecorder struct {
	mu     sync.Mutex
	reads  []*symbolic.BitVec
	writes []*symbolic.BitVec
}

func (r *storageRecorder) OnStorageRead(tx Transaction, key *symbolic.BitVec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, key)
}

func (r *storageRecorder) OnStorageWrite(tx Transaction, key *symbolic.BitVec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, key)
}

// TestRevertDiscardsRecords ensures records of reverted paths are dropped while storage hooks still observe them.
func TestRevertDiscardsRecords(t *testing.T) {
	code := asm.New().Push(1).Op(vm.SLOAD).Push(0).Op(vm.SSTORE).Revert().Bytes()
	world := worldWithCode(code)

	recorder := &storageRecorder{}
	in := NewInterpreter(DefaultConfig(), nil)
	in.SetStorageAccessHook(recorder)

	result, err := in.Execute(context.Background(), NewMessageCallTransaction(world, TargetAddress, setOwnerFunction))
	require.NoError(t, err)
	assert.Empty(t, result.OpenStates)
	assert.Empty(t, result.Trace.StorageWrites)
	assert.Equal(t, 1, result.Stats.Reverted)

	require.Len(t, recorder.reads, 1)
	require.Len(t, recorder.writes, 1)
	assert.True(t, recorder.reads[0].Equal(symbolic.ConstUint64(1)))
	assert.True(t, recorder.writes[0].Equal(symbolic.ConstUint64(0)))
}

// TestExplorationBounds ensures loops and long paths end as exhausted.
func TestExplorationBounds(t *testing.T) {
	loop := asm.New().Label("loop").Jump("loop").Bytes()
	in := NewInterpreter(Config{MaxInstructions: 1000, LoopBound: 3}, nil)
	result, err := in.Execute(context.Background(), NewMessageCallTransaction(worldWithCode(loop), TargetAddress, killFunction))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Exhausted)
	assert.Empty(t, result.OpenStates)
	assert.Len(t, result.Trace.Nodes, 4)

	long := asm.New()
	for i := 0; i < 20; i++ {
		long.Op(vm.JUMPDEST)
	}
	in = NewInterpreter(Config{MaxInstructions: 10, LoopBound: 3}, nil)
	result, err = in.Execute(context.Background(), NewMessageCallTransaction(worldWithCode(long.Bytes()), TargetAddress, killFunction))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.Exhausted)
}

// TestExecuteDeadAccount ensures transactions to self-destructed accounts are rejected.
func TestExecuteDeadAccount(t *testing.T) {
	in := NewInterpreter(DefaultConfig(), nil)
	deployed, _ := deployOwnable(t, in)
	result, err := in.Execute(context.Background(), NewMessageCallTransaction(deployed, TargetAddress, killFunction))
	require.NoError(t, err)
	require.Len(t, result.OpenStates, 1)

	_, err = in.Execute(context.Background(), NewMessageCallTransaction(result.OpenStates[0], TargetAddress, setOwnerFunction))
	assert.True(t, errors.Is(err, ErrDeadAccount))
}

// TestExternalCallRecorded ensures calls are recorded with their callee and value while precompile calls are not.
func TestExternalCallRecorded(t *testing.T) {
	code := asm.New().
		// CALL(gas, caller, 5, 0, 0, 0, 0)
		Push(0).Push(0).Push(0).Push(0).Push(5).Op(vm.CALLER, vm.GAS, vm.CALL, vm.POP).
		// STATICCALL(gas, 1, 0, 0, 0, 0) to the ecrecover precompile
		Push(0).Push(0).Push(0).Push(0).Push(1).Op(vm.GAS, vm.STATICCALL, vm.POP, vm.STOP).
		Bytes()

	tx := NewMessageCallTransaction(worldWithCode(code), TargetAddress, killFunction)
	result, err := NewInterpreter(DefaultConfig(), nil).Execute(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, result.Trace.ExternalCalls, 1)

	call := result.Trace.ExternalCalls[0]
	assert.Equal(t, vm.CALL, call.Op)
	assert.True(t, call.Callee.Equal(tx.Caller()))
	assert.True(t, call.Value.Equal(symbolic.ConstUint64(5)))
}

// TestExampleTransactionSequence ensures example sequences use model values and fall back to the attacker sentinel.
func TestExampleTransactionSequence(t *testing.T) {
	in := NewInterpreter(DefaultConfig(), nil)
	deployed, _ := deployOwnable(t, in)
	tx := NewMessageCallTransaction(deployed, TargetAddress, killFunction)
	result, err := in.Execute(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, result.Trace.SelfDestructs, 1)
	state := result.Trace.SelfDestructs[0].State

	examples := ExampleTransactionSequence(state, symbolic.Model{})
	require.Len(t, examples, 2)
	assert.Equal(t, CreatorAddress, examples[0].From)
	assert.Nil(t, examples[0].To)
	assert.Equal(t, AttackerAddress, examples[1].From)
	assert.Equal(t, TargetAddress, *examples[1].To)
	assert.Equal(t, killFunction.Selector[:], []byte(examples[1].Input[:4]))

	owner := AddressWord(CreatorAddress).Value()
	examples = ExampleTransactionSequence(state, symbolic.Model{CallerSymbolName(tx.ID()): owner})
	assert.Equal(t, CreatorAddress, examples[1].From)
}
