package engine

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/warden/symbolic"
)

// BlockGasLimit is the gas limit attached to every transaction.
const BlockGasLimit uint64 = 8_000_000

// MaxStackSize is the maximum number of items on the operand stack.
const MaxStackSize = 1024

var (
	// CreatorAddress is the fixed caller of contract creation transactions.
	CreatorAddress = common.HexToAddress("0xAFFEAFFEAFFEAFFEAFFEAFFEAFFEAFFEAFFEAFFE")

	// AttackerAddress is the concrete caller reported for message calls whose caller is unconstrained.
	AttackerAddress = common.HexToAddress("0xDEADBEEFDEADBEEFDEADBEEFDEADBEEFDEADBEEF")

	// TargetAddress is the address the contract under analysis is deployed at.
	TargetAddress = common.HexToAddress("0x901d12ebe1b195e5aa8748e62bd7734ae19b51f0")
)

// AddressWord returns the 256-bit word encoding of an address.
func AddressWord(address common.Address) *symbolic.BitVec {
	return symbolic.ConstBytes(address.Bytes())
}

// WordAddress returns the address encoded by a concrete word, if it is concrete.
func WordAddress(word *symbolic.BitVec) (common.Address, bool) {
	v := word.Value()
	if v == nil {
		return common.Address{}, false
	}
	buf := v.Bytes32()
	return common.BytesToAddress(buf[12:]), true
}
