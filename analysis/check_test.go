package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/engine/asm"
	"github.com/crytic/warden/symbolic/solver"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var (
	setOwnerFunction = engine.NewFunctionFromSignature("setOwner(address)")
	killFunction     = engine.NewFunctionFromSignature("kill()")
	writeFunction    = engine.NewFunctionFromSignature("write(uint256,uint256)")
	callFunction     = engine.NewFunctionFromSignature("forward(address)")
	setFunction      = engine.NewFunctionFromSignature("set(uint256)")
	bumpFunction     = engine.NewFunctionFromSignature("bump()")
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

// openRuntime returns runtime code with an arbitrary storage write(uint256,uint256), an unguarded kill() and an
// unguarded forward(address) issuing a CALL.
func openRuntime() []byte {
	return asm.New().
		Dispatch(
			asm.Entry{Selector: writeFunction.Selector, Label: "write"},
			asm.Entry{Selector: killFunction.Selector, Label: "kill"},
			asm.Entry{Selector: callFunction.Selector, Label: "forward"},
		).
		Label("write").Push(36).Op(vm.CALLDATALOAD).Push(4).Op(vm.CALLDATALOAD, vm.SSTORE, vm.STOP).
		Label("kill").Op(vm.CALLER, vm.SELFDESTRUCT).
		Label("forward").
		Push(0).Push(0).Push(0).Push(0).Push(0).Push(4).Op(vm.CALLDATALOAD, vm.GAS, vm.CALL, vm.STOP).
		Bytes()
}

// guardedSetRuntime returns runtime code where set(uint256) writes slot 0 only when its argument times 3 is 21, with
// no access control.
func guardedSetRuntime() []byte {
	return asm.New().
		Dispatch(asm.Entry{Selector: setFunction.Selector, Label: "set"}).
		Label("set").Push(21).Push(3).Push(4).Op(vm.CALLDATALOAD, vm.MUL, vm.EQ, vm.ISZERO).JumpI("skip").
		Push(1).Push(0).Op(vm.SSTORE, vm.STOP).
		Label("skip").Op(vm.STOP).
		Bytes()
}

// bumpRuntime returns runtime code where bump() writes slot 1.
func bumpRuntime() []byte {
	return asm.New().
		Dispatch(asm.Entry{Selector: bumpFunction.Selector, Label: "bump"}).
		Label("bump").Push(9).Push(1).Op(vm.SSTORE, vm.STOP).
		Bytes()
}

// explore deploys runtime behind a constructor storing the caller in slot 0 and applies one call of every function
// to the deployed state, returning the resulting graph.
func explore(t *testing.T, runtime []byte, functions ...engine.Function) *engine.Graph {
	return exploreWithConstructor(t, asm.New().Op(vm.CALLER).Push(0).Op(vm.SSTORE), runtime, functions...)
}

// exploreWithConstructor is explore with a custom constructor.
func exploreWithConstructor(t *testing.T, constructor *asm.Program, runtime []byte, functions ...engine.Function) *engine.Graph {
	in := engine.NewInterpreter(engine.DefaultConfig(), nil)
	graph := engine.NewGraph()

	creation := engine.NewContractCreationTransaction(engine.NewWorldState(), engine.TargetAddress, "Target",
		asm.Deployer(constructor, runtime), nil)
	result, err := in.Execute(context.Background(), creation)
	require.NoError(t, err)
	require.Len(t, result.OpenStates, 1)
	graph.Merge(result.Trace)

	for _, function := range functions {
		tx := engine.NewMessageCallTransaction(result.OpenStates[0], engine.TargetAddress, function)
		callResult, err := in.Execute(context.Background(), tx)
		require.NoError(t, err)
		graph.Merge(callResult.Trace)
	}
	return graph
}

// newTestRunContext returns a RunContext over graph using the built-in solver.
func newTestRunContext(graph *engine.Graph) *RunContext {
	return NewRunContext(graph, solver.NewSearchSolver(0), 5*time.Second, 4)
}

// TestUnrestrictedWriteCheck ensures an unguarded write is reported with a reproducing trace while the constructor's
// write to the same slot is not.
func TestUnrestrictedWriteCheck(t *testing.T) {
	graph := explore(t, ownableRuntime(), setOwnerFunction, killFunction)
	rc := newTestRunContext(graph)

	violations, err := NewUnrestrictedWriteCheck("owner", []*uint256.Int{uint256.NewInt(0)}).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, violations, 1)

	v := violations[0]
	assert.Equal(t, UnrestrictedWrite, v.Kind)
	assert.Equal(t, setOwnerFunction.Name, v.Function)
	assert.Equal(t, "Target", v.Contract)
	assert.Equal(t, "owner", v.Field)
	assert.Equal(t, "0x0", v.Offset)
	assert.Equal(t, SeverityWarning, v.Severity)

	require.Len(t, v.Trace, 2)
	assert.Equal(t, engine.ConstructorName, v.Trace[0].Function)
	assert.Equal(t, engine.CreatorAddress, v.Trace[0].From)
	assert.Nil(t, v.Trace[0].To)
	assert.Equal(t, engine.AttackerAddress, v.Trace[1].From)
	assert.Equal(t, setOwnerFunction.Selector[:], []byte(v.Trace[1].Input[:4]))

	assert.Empty(t, rc.Timeouts())
	assert.Equal(t, 1, rc.Visited())
}

// TestUnrestrictedWriteCheckSymbolicOffset ensures a write to a caller-chosen slot is matched against the target
// offset through an added equality.
func TestUnrestrictedWriteCheckSymbolicOffset(t *testing.T) {
	graph := explore(t, openRuntime(), writeFunction)
	rc := newTestRunContext(graph)

	violations, err := NewUnrestrictedWriteCheck("owner", []*uint256.Int{uint256.NewInt(0)}).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, writeFunction.Name, violations[0].Function)
	assert.Equal(t, "0x0", violations[0].Offset)
}

// TestImmutableCheck ensures the constructor's write is accepted as the first write and later writes are reported.
func TestImmutableCheck(t *testing.T) {
	graph := explore(t, ownableRuntime(), setOwnerFunction, killFunction)
	rc := newTestRunContext(graph)

	violations, err := NewImmutableCheck("owner", []*uint256.Int{uint256.NewInt(0)}).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, TaintedStateVariable, violations[0].Kind)
	assert.Equal(t, setOwnerFunction.Name, violations[0].Function)
	assert.Equal(t, 2, rc.Visited())
	assert.Equal(t, 1, rc.Clean())

	// Other offsets are never visited
	rc = newTestRunContext(graph)
	violations, err = NewImmutableCheck("other", []*uint256.Int{uint256.NewInt(1)}).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Equal(t, 0, rc.Visited())
}

// TestImmutableCheckConstructorOnly ensures a field only written by the constructor yields nothing.
func TestImmutableCheckConstructorOnly(t *testing.T) {
	rc := newTestRunContext(explore(t, ownableRuntime(), killFunction))

	violations, err := NewImmutableCheck("manager", []*uint256.Int{uint256.NewInt(0)}).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Equal(t, 1, rc.Visited())
	assert.Equal(t, 1, rc.Clean())
}

// TestImmutableCheckPerOffset ensures every slot of a multi-slot field has its own first write.
func TestImmutableCheckPerOffset(t *testing.T) {
	constructor := asm.New().Push(7).Push(0).Op(vm.SSTORE).Push(8).Push(1).Op(vm.SSTORE)
	pair := []*uint256.Int{uint256.NewInt(0), uint256.NewInt(1)}

	// Both slots initialized during creation only
	rc := newTestRunContext(exploreWithConstructor(t, constructor, bumpRuntime()))
	violations, err := NewImmutableCheck("pair", pair).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Equal(t, 2, rc.Clean())

	// A later write to the second slot is reported against that slot
	rc = newTestRunContext(exploreWithConstructor(t, constructor, bumpRuntime(), bumpFunction))
	violations, err = NewImmutableCheck("pair", pair).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, bumpFunction.Name, violations[0].Function)
	assert.Equal(t, "0x1", violations[0].Offset)
}

// TestUnrestrictedWriteBehindArithmeticGuard ensures a write guarded only by an arithmetic condition on the call data
// is reported rather than dropped as unreachable.
func TestUnrestrictedWriteBehindArithmeticGuard(t *testing.T) {
	rc := newTestRunContext(explore(t, guardedSetRuntime(), setFunction))

	violations, err := NewUnrestrictedWriteCheck("flag", []*uint256.Int{uint256.NewInt(0)}).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, setFunction.Name, violations[0].Function)
	assert.Zero(t, rc.Unreachable())
	assert.Empty(t, rc.Timeouts())

	// The reproducing call data satisfies the guard
	input := violations[0].Trace[1].Input
	require.GreaterOrEqual(t, len(input), 36)
	assert.EqualValues(t, 7, new(uint256.Int).SetBytes(input[4:36]).Uint64())
}

// TestTerminalOpCheck ensures guarded self-destructs are clean and unguarded ones and external calls are reported.
func TestTerminalOpCheck(t *testing.T) {
	// The owner guard constrains the caller
	rc := newTestRunContext(explore(t, ownableRuntime(), setOwnerFunction, killFunction))
	violations, err := NewTerminalOpCheck(SelfDestructOp).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Equal(t, 1, rc.Clean())

	// No guard at all
	rc = newTestRunContext(explore(t, openRuntime(), killFunction, callFunction))
	violations, err = NewTerminalOpCheck(SelfDestructOp).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, UnrestrictedSelfDestruct, violations[0].Kind)
	assert.Equal(t, killFunction.Name, violations[0].Function)

	violations, err = NewTerminalOpCheck(ExternalCallOp).Run(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, UnrestrictedExternalCall, violations[0].Kind)
	assert.Equal(t, callFunction.Name, violations[0].Function)
}

// TestTimeoutsAreInconclusive ensures timed out queries are neither violations nor clean, and are reported.
func TestTimeoutsAreInconclusive(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSolver := solver.NewMockSolver(ctrl)
	mockSolver.EXPECT().Solve(gomock.Any(), gomock.Any()).Return(solver.Result{Status: solver.Timeout}, nil).AnyTimes()

	graph := explore(t, ownableRuntime(), setOwnerFunction)
	rc := NewRunContext(graph, mockSolver, time.Second, 2)

	violations, err := NewUnrestrictedWriteCheck("owner", []*uint256.Int{uint256.NewInt(0)}).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Empty(t, violations)
	require.Len(t, rc.Timeouts(), 1)
	assert.Equal(t, setOwnerFunction.Name, rc.Timeouts()[0].Function)
	assert.Equal(t, "unrestricted-write(owner)", rc.Timeouts()[0].Check)
	assert.Equal(t, 0, rc.Clean())
}

// TestUnsatEventsAreSkipped ensures unreachable events produce nothing.
func TestUnsatEventsAreSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockSolver := solver.NewMockSolver(ctrl)
	mockSolver.EXPECT().Solve(gomock.Any(), gomock.Any()).Return(solver.Result{Status: solver.Unsat}, nil).Times(2)

	graph := explore(t, ownableRuntime(), setOwnerFunction)
	rc := NewRunContext(graph, mockSolver, time.Second, 2)

	violations, err := NewImmutableCheck("owner", []*uint256.Int{uint256.NewInt(0)}).Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Empty(t, rc.Timeouts())
	assert.Equal(t, 2, rc.Unreachable())
}

// TestRunDeduplicates ensures the same finding reported by repeated checks appears once.
func TestRunDeduplicates(t *testing.T) {
	graph := explore(t, ownableRuntime(), setOwnerFunction)
	rc := newTestRunContext(graph)

	check := NewUnrestrictedWriteCheck("owner", []*uint256.Int{uint256.NewInt(0)})
	violations, err := Run(context.Background(), rc, []Check{check, check, NewTerminalOpCheck(SelfDestructOp)})
	require.NoError(t, err)
	assert.Len(t, violations, 1)
}

// TestRunCancelled ensures cancellation aborts a run.
func TestRunCancelled(t *testing.T) {
	graph := explore(t, ownableRuntime(), setOwnerFunction)
	rc := newTestRunContext(graph)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, rc, []Check{NewUnrestrictedWriteCheck("owner", []*uint256.Int{uint256.NewInt(0)})})
	assert.ErrorIs(t, err, context.Canceled)
}
