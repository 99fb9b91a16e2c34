package engine

import (
	"testing"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/warden/engine/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDisassemble ensures PUSH immediates are skipped and truncated pushes are zero-padded.
func TestDisassemble(t *testing.T) {
	// PUSH2 0x5b5b, JUMPDEST, PUSH0, PUSH3 0x01 (truncated)
	code := []byte{byte(vm.PUSH2), 0x5b, 0x5b, byte(vm.JUMPDEST), byte(vm.PUSH0), byte(vm.PUSH3), 0x01}
	d := Disassemble(code)

	require.Len(t, d.Instructions, 4)
	assert.Equal(t, vm.PUSH2, d.Instructions[0].Op)
	assert.Equal(t, []byte{0x5b, 0x5b}, d.Instructions[0].Argument)
	assert.EqualValues(t, 3, d.Instructions[1].Address)
	assert.Nil(t, d.Instructions[2].Argument)
	assert.Equal(t, []byte{0x01, 0x00, 0x00}, d.Instructions[3].Argument)

	// Bytes inside push data are never jump destinations
	assert.False(t, d.IsJumpDest(1))
	assert.True(t, d.IsJumpDest(3))
	index, ok := d.IndexOf(4)
	require.True(t, ok)
	assert.Equal(t, 2, index)
	_, ok = d.IndexOf(6)
	assert.False(t, ok)
}

// TestFunctionDiscovery ensures selectors compared by a dispatcher are discovered and named deterministically.
func TestFunctionDiscovery(t *testing.T) {
	transfer := NewFunctionFromSignature("transfer(address,uint256)")
	assert.Equal(t, "0xa9059cbb", transfer.SelectorHex())
	assert.Equal(t, "transfer", transfer.ShortName())

	approve := NewFunctionFromSignature("approve(address,uint256)")
	code := asm.New().
		Dispatch(asm.Entry{Selector: transfer.Selector, Label: "a"}, asm.Entry{Selector: approve.Selector, Label: "b"}).
		Label("a").Op(vm.STOP).
		Label("b").Op(vm.STOP).
		Bytes()

	functions := DiscoverFunctions(Disassemble(code))
	require.Len(t, functions, 2)
	assert.Equal(t, "_function_0x095ea7b3", functions[0].Name)
	assert.Equal(t, approve.Selector, functions[0].Selector)
	assert.Equal(t, "_function_0xa9059cbb", functions[1].Name)
}

// TestDeployer ensures the assembler's deployment wrapper returns exactly the runtime code.
func TestDeployer(t *testing.T) {
	runtime := asm.New().Push(1).Push(0).Op(vm.SSTORE).Op(vm.STOP).Bytes()
	code := asm.Deployer(asm.New(), runtime)
	assert.Equal(t, runtime, code[len(code)-len(runtime):])

	d := Disassemble(code)
	assert.Equal(t, vm.CODECOPY, d.Instructions[3].Op)
	assert.Equal(t, vm.RETURN, d.Instructions[6].Op)
}
