package config

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseStorageOffset tests parsing of decimal and hex storage offsets.
func TestParseStorageOffset(t *testing.T) {
	testCases := []struct {
		input    string
		expected uint64
	}{
		{"0", 0},
		{"7", 7},
		{"010", 10},
		{"0x10", 16},
		{"0X1f", 31},
		{" 42 ", 42},
	}
	for _, tc := range testCases {
		offset, err := ParseStorageOffset(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, offset.Uint64(), tc.input)
	}

	for _, input := range []string{"", "-1", "0xzz", "owner", "0x10000000000000000000000000000000000000000000000000000000000000000"} {
		_, err := ParseStorageOffset(input)
		assert.ErrorIs(t, err, ErrConfiguration, input)
	}
}

// TestStorageOffsetJSON tests that offsets are accepted as strings or numbers and serialize as hex.
func TestStorageOffsetJSON(t *testing.T) {
	var offsets map[string][]StorageOffset
	require.NoError(t, json.Unmarshal([]byte(`{"owner": ["0x0"], "values": [2, "3"]}`), &offsets))
	assert.Equal(t, uint64(0), offsets["owner"][0].Uint64())
	assert.Equal(t, uint64(2), offsets["values"][0].Uint64())
	assert.Equal(t, uint64(3), offsets["values"][1].Uint64())

	out, err := json.Marshal(offsets["values"])
	require.NoError(t, err)
	assert.JSONEq(t, `["0x2", "0x3"]`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"owner": ["nope"]}`), &offsets))
}

// TestValidate tests that each invalid setting is reported as a configuration error.
func TestValidate(t *testing.T) {
	valid := func() *ProjectConfig {
		projectConfig, err := GetDefaultProjectConfig("solc")
		require.NoError(t, err)
		return projectConfig
	}
	require.NoError(t, valid().Validate())

	testCases := []struct {
		name   string
		mutate func(*ProjectConfig)
	}{
		{"workers", func(p *ProjectConfig) { p.Scanning.Workers = 0 }},
		{"max transactions", func(p *ProjectConfig) { p.Scanning.MaxTransactions = 0 }},
		{"solver timeout", func(p *ProjectConfig) { p.Scanning.SolverTimeout = -1 }},
		{"loop bound", func(p *ProjectConfig) { p.Scanning.LoopBound = 0 }},
		{"no checks", func(p *ProjectConfig) { p.Scanning.Checks = ChecksConfig{} }},
		{"empty variable", func(p *ProjectConfig) { p.Scanning.Checks.Immutable = []string{" "} }},
		{"empty offsets", func(p *ProjectConfig) { p.Scanning.StorageOffsets["owner"] = nil }},
		{"constructor args", func(p *ProjectConfig) { p.Scanning.ConstructorArgs = "0x123" }},
		{"compilation", func(p *ProjectConfig) { p.Compilation = nil }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			projectConfig := valid()
			tc.mutate(projectConfig)
			err := projectConfig.Validate()
			assert.True(t, errors.Is(err, ErrConfiguration), "expected a configuration error, got %v", err)
		})
	}
}

// TestReadWriteProjectConfig tests that a written config reads back with its values and defaults for omitted keys.
func TestReadWriteProjectConfig(t *testing.T) {
	projectConfig, err := GetDefaultProjectConfig("solc")
	require.NoError(t, err)
	projectConfig.Scanning.TargetContract = "Wallet"
	projectConfig.Scanning.Checks.UnrestrictedWrite = []string{"owner", "owner"}
	projectConfig.Scanning.Checks.Immutable = []string{"owner", "manager"}
	projectConfig.Scanning.ConstructorArgs = "0x0000000000000000000000000000000000000000000000000000000000000001"

	path := filepath.Join(t.TempDir(), "warden.json")
	require.NoError(t, projectConfig.WriteToFile(path))

	read, err := ReadProjectConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Wallet", read.Scanning.TargetContract)
	assert.Equal(t, "solc", read.Compilation.Platform)
	assert.Equal(t, []string{"owner", "manager"}, read.Scanning.Checks.TargetVariables())

	args, err := read.Scanning.DecodeConstructorArgs()
	require.NoError(t, err)
	assert.Len(t, args, 32)
	assert.Equal(t, byte(1), args[31])
}
