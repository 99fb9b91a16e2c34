package compilation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crytic/warden/compilation/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCompilation returns a compilation holding the provided contracts in a single source.
func testCompilation(contracts map[string]types.CompiledContract) []types.Compilation {
	compilation := types.NewCompilation()
	for name, contract := range contracts {
		compilation.AddContract("Contract.sol", name, contract)
	}
	return []types.Compilation{*compilation}
}

func TestComputeArtifactHash(t *testing.T) {
	t.Parallel()

	alpha := types.CompiledContract{InitBytecode: []byte{0x01, 0x02}, RuntimeBytecode: []byte{0x03, 0x04}}
	beta := types.CompiledContract{InitBytecode: []byte{0x05, 0x06}, RuntimeBytecode: []byte{0x07, 0x08}}

	empty := ComputeArtifactHash(nil)
	assert.NotEmpty(t, empty)
	assert.Equal(t, empty, ComputeArtifactHash([]types.Compilation{}))

	first := ComputeArtifactHash(testCompilation(map[string]types.CompiledContract{"Alpha": alpha, "Beta": beta}))
	second := ComputeArtifactHash(testCompilation(map[string]types.CompiledContract{"Beta": beta, "Alpha": alpha}))
	assert.Equal(t, first, second, "hash should be independent of map order")

	changed := beta
	changed.RuntimeBytecode = []byte{0x07, 0x09}
	third := ComputeArtifactHash(testCompilation(map[string]types.CompiledContract{"Alpha": alpha, "Beta": changed}))
	assert.NotEqual(t, first, third, "different bytecode should produce a different hash")
}

func TestContractHashIgnoresMetadata(t *testing.T) {
	t.Parallel()

	runtime := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	withMetadata := append(append([]byte{}, runtime...), 0xfe)
	withMetadata = append(withMetadata, 0xa2, 0x64, 'i', 'p', 'f', 's', 0x58, 0x22)
	withMetadata = append(withMetadata, make([]byte, 34)...)

	plain := &types.CompiledContract{RuntimeBytecode: runtime}
	tagged := &types.CompiledContract{RuntimeBytecode: withMetadata}
	assert.Equal(t, ContractHash("C", plain), ContractHash("C", tagged))
	assert.NotEqual(t, ContractHash("C", plain), ContractHash("D", plain))
}

func TestArtifactHashCache(t *testing.T) {
	t.Parallel()

	assert.Nil(t, LoadArtifactHashCache("/nonexistent/path"))

	directory := filepath.Join(t.TempDir(), "nested", "dir")
	original := &ArtifactHashCache{
		Hash:      "abc123def456",
		Timestamp: time.Now().Truncate(time.Second),
	}
	require.NoError(t, SaveArtifactHashCache(directory, original))

	loaded := LoadArtifactHashCache(directory)
	require.NotNil(t, loaded)
	assert.Equal(t, original.Hash, loaded.Hash)
	assert.WithinDuration(t, original.Timestamp, loaded.Timestamp, time.Second)

	require.NoError(t, os.WriteFile(filepath.Join(directory, ArtifactHashCacheFileName), []byte("invalid json"), 0644))
	assert.Nil(t, LoadArtifactHashCache(directory))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		duration time.Duration
		expected string
	}{
		{30 * time.Second, "30 seconds"},
		{1 * time.Minute, "1 minute"},
		{5 * time.Minute, "5 minutes"},
		{1 * time.Hour, "1 hour"},
		{3 * time.Hour, "3 hours"},
		{24 * time.Hour, "1 day"},
		{72 * time.Hour, "3 days"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
