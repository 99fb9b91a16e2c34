package types

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor"
)

// ContractMetadata is an CBOR-encoded structure describing contract information which is embedded within smart contract
// bytecode by the Solidity compiler (unless explicitly directed not to).
// Reference: https://docs.soliditylang.org/en/v0.8.16/metadata.html
type ContractMetadata map[string]any

// metadataHashPrefixes defines patterns to use in search for CBOR-encoded contract metadata appended to the end of
// bytecode.
var metadataHashPrefixes = [][]byte{
	{0xa1, 0x65, 98, 122, 122, 114, 48, 0x58, 0x20},  // a1 65 "bzzr0" 0x58 0x20 (solc <= 0.5.8)
	{0xa2, 0x65, 98, 122, 122, 114, 48, 0x58, 0x20},  // a2 65 "bzzr0" 0x58 0x20 (solc >= 0.5.9)
	{0xa2, 0x65, 98, 122, 122, 114, 49, 0x58, 0x20},  // a2 65 "bzzr1" 0x58 0x20 (solc >= 0.5.11)
	{0xa2, 0x64, 0x69, 0x70, 0x66, 0x73, 0x58, 0x22}, // a2 64 "ipfs" 0x58 0x22 (solc >= 0.6.0)
}

// byteCodeHashMetadataKeys defines the keys in the CBOR-encoded ContractMetadata which contain bytecode hashes.
var byteCodeHashMetadataKeys = [...]string{
	"bzzr0",
	"bzzr1",
	"ipfs",
}

// locateContractMetadata finds the CBOR-encoded metadata appended to bytecode. It returns the offset the metadata
// starts at along with the decoded metadata, or -1 and nil if no known prefix is followed by a decodable map.
func locateContractMetadata(bytecode []byte) (int, *ContractMetadata) {
	// Try matching each metadata hash prefix in the file. Metadata is appended to the end of the file.
	for _, metadataHashPrefix := range metadataHashPrefixes {
		metadataOffset := bytes.LastIndex(bytecode, metadataHashPrefix)
		if metadataOffset == -1 {
			continue
		}

		// A prefix match inside code or data is not metadata unless the tail decodes.
		var metadata ContractMetadata
		if err := cbor.Unmarshal(bytecode[metadataOffset:], &metadata); err != nil {
			continue
		}
		return metadataOffset, &metadata
	}
	return -1, nil
}

// ExtractContractMetadata extracts contract metadata from provided byte code and returns it. If contract metadata
// could not be extracted, nil is returned.
func ExtractContractMetadata(bytecode []byte) *ContractMetadata {
	_, metadata := locateContractMetadata(bytecode)
	return metadata
}

// RemoveContractMetadata takes bytecode and attempts to detect contract metadata within it, splitting it where the
// metadata is found. The INVALID instruction solc emits ahead of the metadata is removed along with it.
// Only a tail that decodes to metadata carrying a bytecode hash is removed. Otherwise this method returns the
// provided input as-is.
func RemoveContractMetadata(bytecode []byte) []byte {
	metadataOffset, metadata := locateContractMetadata(bytecode)
	if metadataOffset <= 0 || metadata.ExtractBytecodeHash() == nil {
		return bytecode
	}
	return bytecode[:metadataOffset-1]
}

// ExtractBytecodeHash extracts the bytecode hash from given contract metadata and returns the bytes representing the
// hash. If it could not be detected or extracted, nil is returned.
func (m ContractMetadata) ExtractBytecodeHash() []byte {
	// Try every known metadata key to see if we can resolve the bytecode hash
	for _, possibleMetadataKey := range byteCodeHashMetadataKeys {
		if bytecodeHashData, keyExists := m[possibleMetadataKey]; keyExists {
			// Try to cast it to a byte array and return it if we succeeded.
			if bytecodeHash, ok := bytecodeHashData.([]byte); ok {
				return bytecodeHash
			}
		}
	}
	return nil
}

// CompilerVersion returns the solc version recorded in the metadata as "major.minor.patch", or an empty string if
// the metadata does not carry one.
func (m ContractMetadata) CompilerVersion() string {
	version, ok := m["solc"].([]byte)
	if !ok || len(version) != 3 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", version[0], version[1], version[2])
}
