package types

import (
	"encoding/json"
	"strings"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// CompiledContract represents a single contract unit from a smart contract compilation.
type CompiledContract struct {
	// Abi describes a contract's application binary interface, used to name the functions reachable through the
	// contract's dispatcher.
	Abi abi.ABI

	// InitBytecode describes the bytecode used to deploy a contract.
	InitBytecode []byte

	// RuntimeBytecode represents the rudimentary bytecode to be expected once the contract has been successfully
	// deployed. This may differ at runtime based on constructor arguments, immutables, etc.
	RuntimeBytecode []byte

	// StorageLayout describes where the contract's state variables live in storage. It is nil if the platform could
	// not provide one.
	StorageLayout *StorageLayout
}

// DeploymentBytecode returns the init bytecode of the contract with ABI-encoded constructor arguments appended.
func (c *CompiledContract) DeploymentBytecode(encodedArgs []byte) []byte {
	initBytecodeWithArgs := slices.Clone(c.InitBytecode)
	return append(initBytecodeWithArgs, encodedArgs...)
}

// StrippedRuntimeBytecode returns the runtime bytecode without the trailing CBOR contract metadata, so that the
// metadata is not disassembled as instructions.
func (c *CompiledContract) StrippedRuntimeBytecode() []byte {
	return RemoveContractMetadata(c.RuntimeBytecode)
}

// CompilerVersion returns the solc version recorded in the runtime bytecode's metadata, or an empty string if the
// bytecode carries none.
func (c *CompiledContract) CompilerVersion() string {
	metadata := ExtractContractMetadata(c.RuntimeBytecode)
	if metadata == nil {
		return ""
	}
	return metadata.CompilerVersion()
}

// ParseABIFromInterface parses a generic object into an abi.ABI and returns it, or an error if one occurs.
func ParseABIFromInterface(i any) (*abi.ABI, error) {
	var (
		result abi.ABI
		err    error
	)

	// If it's a string, just parse it. Otherwise, we assume it's an interface and serialize it into a string.
	if s, ok := i.(string); ok {
		result, err = abi.JSON(strings.NewReader(s))
		if err != nil {
			return nil, errors.WithStack(err)
		}
	} else {
		var b []byte
		b, err = json.Marshal(i)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		result, err = abi.JSON(strings.NewReader(string(b)))
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return &result, nil
}
