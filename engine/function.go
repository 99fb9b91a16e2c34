package engine

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/crypto"
)

// ConstructorName is the function name attached to contract creation transactions.
const ConstructorName = "constructor"

// Function describes a public function of a contract.
type Function struct {
	// Name is the canonical signature of the function (e.g. "transfer(address,uint256)"), or a placeholder derived
	// from the selector when no ABI is available.
	Name string

	// Selector is the four-byte function selector that prefixes call data.
	Selector [4]byte
}

// NewFunctionFromSignature returns the Function for a canonical signature.
func NewFunctionFromSignature(signature string) Function {
	f := Function{Name: signature}
	copy(f.Selector[:], crypto.Keccak256([]byte(signature))[:4])
	return f
}

// NewFunctionFromSelector returns a placeholder Function for a selector with no known signature.
func NewFunctionFromSelector(selector [4]byte) Function {
	return Function{Name: fmt.Sprintf("_function_0x%x", selector[:]), Selector: selector}
}

// SelectorHex returns the selector as a 0x-prefixed hex string.
func (f Function) SelectorHex() string {
	return "0x" + hex.EncodeToString(f.Selector[:])
}

// ShortName returns the function name without its parameter list.
func (f Function) ShortName() string {
	if i := strings.IndexByte(f.Name, '('); i >= 0 {
		return f.Name[:i]
	}
	return f.Name
}

// FunctionsFromABI returns the public functions described by a contract ABI, sorted by name.
func FunctionsFromABI(contractABI *abi.ABI) []Function {
	functions := make([]Function, 0, len(contractABI.Methods))
	for _, method := range contractABI.Methods {
		f := Function{Name: method.Sig}
		copy(f.Selector[:], method.ID)
		functions = append(functions, f)
	}
	SortFunctions(functions)
	return functions
}

// DiscoverFunctions returns placeholder Functions for every selector the dispatcher of the provided runtime code
// compares against, sorted by name.
func DiscoverFunctions(code *Disassembly) []Function {
	selectors := code.Selectors()
	functions := make([]Function, 0, len(selectors))
	for _, selector := range selectors {
		functions = append(functions, NewFunctionFromSelector(selector))
	}
	SortFunctions(functions)
	return functions
}

// SortFunctions sorts functions by name so that candidate enumeration is deterministic.
func SortFunctions(functions []Function) {
	sort.SliceStable(functions, func(i, j int) bool {
		return functions[i].Name < functions[j].Name
	})
}
