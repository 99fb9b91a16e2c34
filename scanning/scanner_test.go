package scanning

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/warden/analysis"
	"github.com/crytic/warden/compilation"
	"github.com/crytic/warden/compilation/platforms"
	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/engine/asm"
	"github.com/crytic/warden/scanning/config"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var setOwnerFunction = engine.NewFunctionFromSignature("setOwner(address)")

// ownableABI declares setOwner(address) and kill().
const ownableABI = `[
	{"type":"function","name":"setOwner","inputs":[{"name":"owner","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"kill","inputs":[],"outputs":[],"stateMutability":"nonpayable"}
]`

// ownableInitBytecode returns init code storing the creator in slot 0 and deploying a runtime with an unrestricted
// setOwner(address) and an owner-guarded kill().
func ownableInitBytecode() []byte {
	runtime := asm.New().
		Dispatch(
			asm.Entry{Selector: setOwnerFunction.Selector, Label: "setOwner"},
			asm.Entry{Selector: killFunction.Selector, Label: "kill"},
		).
		Label("setOwner").Push(4).Op(vm.CALLDATALOAD).Push(0).Op(vm.SSTORE, vm.STOP).
		Label("kill").Push(0).Op(vm.SLOAD, vm.CALLER, vm.EQ, vm.ISZERO).JumpI("deny").Op(vm.CALLER, vm.SELFDESTRUCT).
		Label("deny").Revert().
		Bytes()
	return asm.Deployer(asm.New().Op(vm.CALLER).Push(0).Op(vm.SSTORE), runtime)
}

// newOwnableConfig writes the ownable contract to a temporary directory and returns a project config scanning it,
// with owner pinned to slot 0.
func newOwnableConfig(t *testing.T) config.ProjectConfig {
	directory := t.TempDir()
	target := filepath.Join(directory, "Ownable.bin")
	require.NoError(t, os.WriteFile(target, []byte(hex.EncodeToString(ownableInitBytecode())), 0644))
	abiTarget := filepath.Join(directory, "Ownable.abi")
	require.NoError(t, os.WriteFile(abiTarget, []byte(ownableABI), 0644))

	platformConfig := platforms.NewBytecodeCompilationConfig(target)
	platformConfig.AbiTarget = abiTarget
	compilationConfig, err := compilation.NewCompilationConfigFromPlatformConfig(platformConfig)
	require.NoError(t, err)

	projectConfig, err := config.GetDefaultProjectConfig("")
	require.NoError(t, err)
	projectConfig.Compilation = compilationConfig
	projectConfig.Scanning.Workers = 2
	projectConfig.Scanning.Checks.UnrestrictedWrite = []string{"owner"}
	projectConfig.Scanning.StorageOffsets = map[string][]config.StorageOffset{"owner": {{Int: *uint256.NewInt(0)}}}
	return *projectConfig
}

// TestScannerFindsUnrestrictedWrite ensures a full scan reports the unguarded owner write and leaves the guarded
// self-destruct alone.
func TestScannerFindsUnrestrictedWrite(t *testing.T) {
	projectConfig := newOwnableConfig(t)
	projectConfig.Scanning.ReportDirectory = filepath.Join(t.TempDir(), "reports")
	scanner, err := NewScanner(projectConfig)
	require.NoError(t, err)
	assert.Equal(t, "Ownable", scanner.ContractName())
	assert.Len(t, scanner.Functions(), 2)

	// Track the published events
	rounds := 0
	var stopping *ScanStoppingEvent
	scanner.Events.RoundFinished.Subscribe(func(event RoundFinishedEvent) {
		rounds++
	})
	scanner.Events.ScanStopping.Subscribe(func(event ScanStoppingEvent) {
		stopping = &event
	})

	report, err := scanner.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	require.Len(t, report.Violations, 1)
	assert.Equal(t, analysis.UnrestrictedWrite, report.Violations[0].Kind)
	assert.Equal(t, setOwnerFunction.Name, report.Violations[0].Function)
	assert.Equal(t, "Ownable", report.Violations[0].Contract)
	assert.Empty(t, report.Timeouts)

	// setOwner() writes what kill() reads, so the second round runs
	assert.Equal(t, 2, report.Rounds)
	assert.Equal(t, rounds, report.Rounds)
	assert.Greater(t, report.Transactions, 1)
	assert.Equal(t, scanner.Metrics().Transactions(), report.Transactions)
	assert.Contains(t, scanner.DependencyRecord().Permutations(setOwnerFunction.Name), killFunction.Name)

	require.NotNil(t, stopping)
	assert.NoError(t, stopping.Err)
	assert.Same(t, report, stopping.Report)

	_, err = os.Stat(filepath.Join(projectConfig.Scanning.ReportDirectory, analysis.ReportJSONFileName))
	assert.NoError(t, err)
}

// violationKey identifies a finding independently of the sequence that exposed it.
type violationKey struct {
	function string
	address  uint64
	kind     analysis.Kind
	offset   string
}

// violationKeys returns the set of findings in a report.
func violationKeys(report *analysis.Report) map[violationKey]struct{} {
	keys := make(map[violationKey]struct{}, len(report.Violations))
	for _, v := range report.Violations {
		keys[violationKey{function: v.Function, address: v.Address, kind: v.Kind, offset: v.Offset}] = struct{}{}
	}
	return keys
}

// TestScannerImmutableAndPersistentCache ensures immutability findings are reported and that a second scan with a
// cache directory reaches exactly the same findings.
func TestScannerImmutableAndPersistentCache(t *testing.T) {
	projectConfig := newOwnableConfig(t)
	projectConfig.Scanning.Checks.UnrestrictedWrite = nil
	projectConfig.Scanning.Checks.Immutable = []string{"owner"}
	projectConfig.Scanning.CacheDirectory = t.TempDir()

	var previous map[violationKey]struct{}
	for i := 0; i < 2; i++ {
		scanner, err := NewScanner(projectConfig)
		require.NoError(t, err)
		report, err := scanner.Start(context.Background())
		require.NoError(t, err)

		require.NotEmpty(t, report.Violations)
		for _, v := range report.Violations {
			assert.Equal(t, analysis.TaintedStateVariable, v.Kind)
			assert.Equal(t, setOwnerFunction.Name, v.Function)
			assert.Equal(t, "0x0", v.Offset)
		}
		keys := violationKeys(report)
		if previous != nil {
			assert.Equal(t, previous, keys)
		}
		previous = keys
	}
}

// TestScannerDepthMonotonicity ensures raising the transaction budget never loses a finding.
func TestScannerDepthMonotonicity(t *testing.T) {
	scan := func(maxTransactions int) map[violationKey]struct{} {
		projectConfig := newOwnableConfig(t)
		projectConfig.Scanning.Checks.Immutable = []string{"owner"}
		projectConfig.Scanning.MaxTransactions = maxTransactions
		scanner, err := NewScanner(projectConfig)
		require.NoError(t, err)
		report, err := scanner.Start(context.Background())
		require.NoError(t, err)
		return violationKeys(report)
	}

	shallow, deep := scan(1), scan(2)
	require.NotEmpty(t, shallow)
	for key := range shallow {
		assert.Contains(t, deep, key)
	}
	assert.GreaterOrEqual(t, len(deep), len(shallow))
}

// TestScannerFunctionAccess ensures declared access sets are resolved against state variable names and offsets.
func TestScannerFunctionAccess(t *testing.T) {
	projectConfig := newOwnableConfig(t)
	projectConfig.Scanning.AccessRecordingEnabled = false
	projectConfig.Scanning.FunctionAccess = map[string]config.FunctionAccessConfig{
		"setOwner": {Writes: []string{"owner"}},
		"kill()":   {Reads: []string{"0x0"}},
	}
	scanner, err := NewScanner(projectConfig)
	require.NoError(t, err)
	_, err = scanner.Start(context.Background())
	require.NoError(t, err)
	assert.Contains(t, scanner.DependencyRecord().Permutations(setOwnerFunction.Name), killFunction.Name)

	// Unknown functions are configuration errors
	projectConfig.Scanning.FunctionAccess = map[string]config.FunctionAccessConfig{"missing()": {Reads: []string{"owner"}}}
	_, err = NewScanner(projectConfig)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

// TestScannerConfigurationErrors ensures unresolvable configurations fail before exploration.
func TestScannerConfigurationErrors(t *testing.T) {
	// A state variable that is neither in the layout nor pinned
	projectConfig := newOwnableConfig(t)
	projectConfig.Scanning.Checks.Immutable = []string{"admin"}
	_, err := NewScanner(projectConfig)
	assert.ErrorIs(t, err, config.ErrConfiguration)

	// A target contract that does not exist
	projectConfig = newOwnableConfig(t)
	projectConfig.Scanning.TargetContract = "Missing"
	_, err = NewScanner(projectConfig)
	assert.ErrorIs(t, err, config.ErrConfiguration)

	// An invalid bound
	projectConfig = newOwnableConfig(t)
	projectConfig.Scanning.MaxTransactions = 0
	_, err = NewScanner(projectConfig)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

// TestScannerStop ensures a cancelled scan returns an error and publishes it.
func TestScannerStop(t *testing.T) {
	scanner, err := NewScanner(newOwnableConfig(t))
	require.NoError(t, err)

	var stoppingErr error
	scanner.Events.ScanStarting.Subscribe(func(event ScanStartingEvent) {
		event.Scanner.Stop()
	})
	scanner.Events.ScanStopping.Subscribe(func(event ScanStoppingEvent) {
		stoppingErr = event.Err
	})

	report, err := scanner.Start(context.Background())
	assert.Nil(t, report)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, stoppingErr, context.Canceled)
}
