package platforms

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/crytic/warden/compilation/types"
	"github.com/crytic/warden/utils"
	"github.com/pkg/errors"
)

// BytecodeCompilationConfig describes a precompiled contract given as hex-encoded bytecode files. It lets contracts
// be scanned without a compiler toolchain.
type BytecodeCompilationConfig struct {
	// Target is the path of a file holding the hex-encoded init bytecode of the contract.
	Target string `json:"target"`

	// ContractName is the name reported for the contract. The target's file name is used if it is empty.
	ContractName string `json:"contractName"`

	// RuntimeTarget is the optional path of a file holding the hex-encoded runtime bytecode.
	RuntimeTarget string `json:"runtimeTarget,omitempty"`

	// AbiTarget is the optional path of a JSON ABI file. Without one, functions are discovered from the dispatcher.
	AbiTarget string `json:"abiTarget,omitempty"`

	// StorageLayoutTarget is the optional path of a solc storage layout JSON file.
	StorageLayoutTarget string `json:"storageLayoutTarget,omitempty"`
}

// NewBytecodeCompilationConfig returns a BytecodeCompilationConfig for the provided init bytecode file.
func NewBytecodeCompilationConfig(target string) *BytecodeCompilationConfig {
	return &BytecodeCompilationConfig{
		Target: target,
	}
}

// Platform returns the platform identifier of the config.
func (b *BytecodeCompilationConfig) Platform() string {
	return "bytecode"
}

// GetTarget returns the target for compilation
func (b *BytecodeCompilationConfig) GetTarget() string {
	return b.Target
}

// SetTarget sets the new target for compilation
func (b *BytecodeCompilationConfig) SetTarget(newTarget string) {
	b.Target = newTarget
}

// Compile reads the configured files into a single-contract Compilation.
func (b *BytecodeCompilationConfig) Compile() ([]types.Compilation, string, error) {
	initBytecode, err := readHexFile(b.Target)
	if err != nil {
		return nil, "", err
	}

	contract := types.CompiledContract{InitBytecode: initBytecode}
	if b.RuntimeTarget != "" {
		if contract.RuntimeBytecode, err = readHexFile(b.RuntimeTarget); err != nil {
			return nil, "", err
		}
	}
	if b.AbiTarget != "" {
		data, err := os.ReadFile(b.AbiTarget)
		if err != nil {
			return nil, "", errors.WithStack(err)
		}
		contractAbi, err := types.ParseABIFromInterface(string(data))
		if err != nil {
			return nil, "", errors.Wrapf(err, "could not parse abi file %v", b.AbiTarget)
		}
		contract.Abi = *contractAbi
	}
	if b.StorageLayoutTarget != "" {
		data, err := os.ReadFile(b.StorageLayoutTarget)
		if err != nil {
			return nil, "", errors.WithStack(err)
		}
		contract.StorageLayout = &types.StorageLayout{}
		if err = json.Unmarshal(data, contract.StorageLayout); err != nil {
			return nil, "", errors.Wrapf(err, "could not parse storage layout file %v", b.StorageLayoutTarget)
		}
	}

	contractName := b.ContractName
	if contractName == "" {
		contractName = utils.GetFileNameWithoutExtension(b.Target)
	}

	compilation := types.NewCompilation()
	compilation.AddContract(filepath.Clean(b.Target), contractName, contract)
	return []types.Compilation{*compilation}, "", nil
}

// readHexFile reads a file holding hex-encoded bytes, with or without a 0x prefix.
func readHexFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(data)), "0x"))
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode bytecode file %v", path)
	}
	return decoded, nil
}
