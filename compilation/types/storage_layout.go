package types

// StorageLayout is the storage layout of a contract as emitted by solc's storage-layout output. It describes the slot
// and byte offset of every state variable along with the types needed to expand aggregates.
// Reference: https://docs.soliditylang.org/en/latest/internals/layout_in_storage.html#json-output
type StorageLayout struct {
	// Storage lists the state variables of the contract in declaration order.
	Storage []StorageVariable `json:"storage"`

	// Types maps type identifiers to their description.
	Types map[string]StorageType `json:"types"`
}

// StorageVariable describes a single state variable.
type StorageVariable struct {
	// Label is the name of the state variable.
	Label string `json:"label"`

	// Contract is the fully qualified name of the contract declaring the variable.
	Contract string `json:"contract"`

	// Slot is the first storage slot of the variable, as a decimal string.
	Slot string `json:"slot"`

	// Offset is the byte offset of the variable within its slot.
	Offset uint64 `json:"offset"`

	// Type is the identifier of the variable's type in StorageLayout.Types.
	Type string `json:"type"`
}

// StorageType describes a type referenced by a storage variable.
type StorageType struct {
	// Encoding is one of "inplace", "mapping", "dynamic_array" or "bytes".
	Encoding string `json:"encoding"`

	// Label is the canonical name of the type.
	Label string `json:"label"`

	// NumberOfBytes is the number of bytes used by the type, as a decimal string.
	NumberOfBytes string `json:"numberOfBytes"`

	// Base is the element type of arrays.
	Base string `json:"base,omitempty"`

	// Key is the key type of mappings.
	Key string `json:"key,omitempty"`

	// Value is the value type of mappings.
	Value string `json:"value,omitempty"`

	// Members lists the members of structs, with slots relative to the struct's first slot.
	Members []StorageVariable `json:"members,omitempty"`
}
