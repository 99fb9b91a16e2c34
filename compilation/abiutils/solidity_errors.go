// Package abiutils decodes the revert data produced by Solidity contracts.
package abiutils

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/crytic/medusa-geth/accounts/abi"
)

// An enum is defined below providing all `Panic(uint)` error codes returned in return data when the VM encounters
// an error in some cases.
// Reference: https://docs.soliditylang.org/en/latest/control-structures.html#panic-via-assert-and-error-via-require
const (
	PanicCodeCompilerInserted              = 0x00
	PanicCodeAssertFailed                  = 0x01
	PanicCodeArithmeticUnderOverflow       = 0x11
	PanicCodeDivideByZero                  = 0x12
	PanicCodeEnumTypeConversionOutOfBounds = 0x21
	PanicCodeIncorrectStorageAccess        = 0x22
	PanicCodePopEmptyArray                 = 0x31
	PanicCodeOutOfBoundsArrayAccess        = 0x32
	PanicCodeAllocateTooMuchMemory         = 0x41
	PanicCodeCallUninitializedVariable     = 0x51
)

var (
	// panicMethod describes the `Panic(uint256)` revert data emitted by failed compiler checks.
	panicMethod = newRevertMethod("Panic", "uint256")

	// errorMethod describes the `Error(string)` revert data emitted by require and revert with a reason.
	errorMethod = newRevertMethod("Error", "string")
)

// newRevertMethod returns an ABI method taking a single argument of the provided type.
func newRevertMethod(name string, argumentType string) abi.Method {
	t, _ := abi.NewType(argumentType, "", nil)
	return abi.NewMethod(name, name, abi.Function, "", false, false, []abi.Argument{{Type: t}}, abi.Arguments{})
}

// GetSolidityPanicCode obtains a panic code from revert data, or nil if the data does not encode a Panic.
func GetSolidityPanicCode(returnData []byte) *big.Int {
	if len(returnData) != 4+32 || !bytes.Equal(returnData[:4], panicMethod.ID) {
		return nil
	}
	values, err := panicMethod.Inputs.Unpack(returnData[4:])
	if err != nil || len(values) == 0 {
		return nil
	}
	code, _ := values[0].(*big.Int)
	return code
}

// GetSolidityRevertErrorString obtains an error message from revert data, or nil if the data does not encode an
// Error.
func GetSolidityRevertErrorString(returnData []byte) *string {
	if len(returnData) <= 4 || !bytes.Equal(returnData[:4], errorMethod.ID) {
		return nil
	}
	values, err := errorMethod.Inputs.Unpack(returnData[4:])
	if err != nil || len(values) == 0 {
		return nil
	}
	message, ok := values[0].(string)
	if !ok {
		return nil
	}
	return &message
}

// GetRevertReason describes revert data as a panic reason or an error message. It returns false if the data is
// neither.
func GetRevertReason(returnData []byte) (string, bool) {
	if code := GetSolidityPanicCode(returnData); code != nil {
		return GetPanicReason(code.Uint64()), true
	}
	if message := GetSolidityRevertErrorString(returnData); message != nil {
		return "error: " + *message, true
	}
	return "", false
}

// GetPanicReason will take in a panic code as an uint64 and will return the string reason behind that panic code. For
// example, if panic code is PanicCodeAssertFailed, then "assertion failure" is returned.
func GetPanicReason(panicCode uint64) string {
	switch panicCode {
	case PanicCodeCompilerInserted:
		return "panic: compiler inserted panic"
	case PanicCodeAssertFailed:
		return "panic: assertion failed"
	case PanicCodeArithmeticUnderOverflow:
		return "panic: arithmetic underflow"
	case PanicCodeDivideByZero:
		return "panic: division by zero"
	case PanicCodeEnumTypeConversionOutOfBounds:
		return "panic: enum access out of bounds"
	case PanicCodeIncorrectStorageAccess:
		return "panic: incorrect storage access"
	case PanicCodePopEmptyArray:
		return "panic: pop on empty array"
	case PanicCodeOutOfBoundsArrayAccess:
		return "panic: out of bounds array access"
	case PanicCodeAllocateTooMuchMemory:
		return "panic: overallocation of memory"
	case PanicCodeCallUninitializedVariable:
		return "panic: call on uninitialized variable"
	default:
		return fmt.Sprintf("unknown panic code(%v)", panicCode)
	}
}
