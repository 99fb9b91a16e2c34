package types

// CompiledSource represents a source descriptor for a smart contract compilation, housing the CompiledContract
// instances defined in it.
type CompiledSource struct {
	// Contracts describes a mapping of contract names to contract definition structures which are contained within
	// the source.
	Contracts map[string]CompiledContract
}
