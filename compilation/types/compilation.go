package types

import (
	"golang.org/x/exp/slices"
)

// Compilation represents the artifacts of a smart contract compilation.
type Compilation struct {
	// SourcePathToArtifact maps a source file path to the CompiledSource produced from it.
	SourcePathToArtifact map[string]CompiledSource
}

// NewCompilation returns a new, empty Compilation object.
func NewCompilation() *Compilation {
	return &Compilation{
		SourcePathToArtifact: make(map[string]CompiledSource),
	}
}

// AddContract records a compiled contract under the provided source path.
func (c *Compilation) AddContract(sourcePath string, contractName string, contract CompiledContract) {
	source, ok := c.SourcePathToArtifact[sourcePath]
	if !ok {
		source = CompiledSource{Contracts: make(map[string]CompiledContract)}
		c.SourcePathToArtifact[sourcePath] = source
	}
	source.Contracts[contractName] = contract
}

// FindContract looks up a contract by name across the provided compilations. Sources are searched in sorted path
// order, so the result is deterministic when several sources define the same name.
func FindContract(compilations []Compilation, contractName string) (*CompiledContract, bool) {
	for _, compilation := range compilations {
		paths := make([]string, 0, len(compilation.SourcePathToArtifact))
		for path := range compilation.SourcePathToArtifact {
			paths = append(paths, path)
		}
		slices.Sort(paths)

		for _, path := range paths {
			if contract, ok := compilation.SourcePathToArtifact[path].Contracts[contractName]; ok {
				return &contract, true
			}
		}
	}
	return nil, false
}

// ContractNames returns the sorted, de-duplicated names of all deployable contracts in the provided
// compilations. Interfaces and abstract contracts have no init bytecode and are excluded.
func ContractNames(compilations []Compilation) []string {
	names := make([]string, 0)
	for _, compilation := range compilations {
		for _, source := range compilation.SourcePathToArtifact {
			for name, contract := range source.Contracts {
				if len(contract.InitBytecode) > 0 && !slices.Contains(names, name) {
					names = append(names, name)
				}
			}
		}
	}
	slices.Sort(names)
	return names
}
