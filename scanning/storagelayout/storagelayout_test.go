package storagelayout

import (
	"testing"

	"github.com/crytic/warden/compilation/types"
	"github.com/crytic/warden/scanning/config"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLayout describes:
//
//	address owner;            // slot 0
//	bool paused;              // slot 0, packed
//	uint256[3] limits;        // slots 1-3
//	struct Config { uint256 fee; address manager; } config; // slots 4-5
//	uint256[] history;        // slot 6, data at keccak(6)
//	mapping(address => uint256) balances; // slot 7
func testLayout() *types.StorageLayout {
	return &types.StorageLayout{
		Storage: []types.StorageVariable{
			{Label: "owner", Slot: "0", Offset: 0, Type: "t_address"},
			{Label: "paused", Slot: "0", Offset: 20, Type: "t_bool"},
			{Label: "limits", Slot: "1", Type: "t_array(t_uint256)3_storage"},
			{Label: "config", Slot: "4", Type: "t_struct(Config)10_storage"},
			{Label: "history", Slot: "6", Type: "t_array(t_uint256)dyn_storage"},
			{Label: "balances", Slot: "7", Type: "t_mapping(t_address,t_uint256)"},
		},
		Types: map[string]types.StorageType{
			"t_address":                   {Encoding: "inplace", Label: "address", NumberOfBytes: "20"},
			"t_bool":                      {Encoding: "inplace", Label: "bool", NumberOfBytes: "1"},
			"t_uint256":                   {Encoding: "inplace", Label: "uint256", NumberOfBytes: "32"},
			"t_array(t_uint256)3_storage": {Encoding: "inplace", Label: "uint256[3]", NumberOfBytes: "96", Base: "t_uint256"},
			"t_struct(Config)10_storage": {Encoding: "inplace", Label: "struct Wallet.Config", NumberOfBytes: "64", Members: []types.StorageVariable{
				{Label: "fee", Slot: "0", Type: "t_uint256"},
				{Label: "manager", Slot: "1", Type: "t_address"},
			}},
			"t_array(t_uint256)dyn_storage":  {Encoding: "dynamic_array", Label: "uint256[]", NumberOfBytes: "32", Base: "t_uint256"},
			"t_mapping(t_address,t_uint256)": {Encoding: "mapping", Label: "mapping(address => uint256)", NumberOfBytes: "32", Key: "t_address", Value: "t_uint256"},
		},
	}
}

// slots converts offsets to uint64 values for comparison.
func slots(t *testing.T, offsets []*uint256.Int) []uint64 {
	values := make([]uint64, len(offsets))
	for i, offset := range offsets {
		require.True(t, offset.IsUint64())
		values[i] = offset.Uint64()
	}
	return values
}

func TestFromSolcLayout(t *testing.T) {
	mapping, err := FromSolcLayout(testLayout())
	require.NoError(t, err)

	tests := []struct {
		name     string
		expected []uint64
	}{
		{"owner", []uint64{0}},
		{"paused", []uint64{0}},
		{"limits", []uint64{1, 2, 3}},
		{"config", []uint64{4, 5}},
		{"config.fee", []uint64{4}},
		{"config.manager", []uint64{5}},
	}
	for _, test := range tests {
		offsets, err := mapping.Offsets(test.name)
		require.NoError(t, err, test.name)
		assert.Equal(t, test.expected, slots(t, offsets), test.name)
	}

	// Dynamic arrays map to their length slot and the start of their data area
	history, err := mapping.Offsets("history")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(6), history[0].Uint64())
	assert.Equal(t, "0xf652222313e28459528d920b65115c16c04f3efc82aaedc97be59f3f377c0d3f", history[1].Hex())

	name, ok := mapping.VariableAt(uint256.NewInt(5))
	assert.True(t, ok)
	assert.Equal(t, "config", name)
	_, ok = mapping.VariableAt(uint256.NewInt(99))
	assert.False(t, ok)
}

func TestOffsetsErrors(t *testing.T) {
	mapping, err := FromSolcLayout(testLayout())
	require.NoError(t, err)

	_, err = mapping.Offsets("balances")
	assert.True(t, errors.Is(err, ErrUnsupportedType))
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	_, err = mapping.Resolve([]string{"owner", "manager"})
	assert.True(t, errors.Is(err, ErrUnknownVariable))
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	// Pinned offsets override the layout, including unsupported variables
	mapping.PinAll(map[string][]config.StorageOffset{
		"balances": {{Int: *uint256.NewInt(42)}},
		"manager":  {{Int: *uint256.NewInt(5)}},
	})
	resolved, err := mapping.Resolve([]string{"balances", "manager"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, slots(t, resolved["balances"]))
	assert.Equal(t, []uint64{5}, slots(t, resolved["manager"]))

	// Malformed layouts are configuration errors
	broken := testLayout()
	broken.Storage = append(broken.Storage, types.StorageVariable{Label: "ghost", Slot: "8", Type: "t_missing"})
	_, err = FromSolcLayout(broken)
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	// A missing layout yields an empty mapping
	empty, err := FromSolcLayout(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Names())
}
