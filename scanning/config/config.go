package config

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"os"
	"strings"

	"github.com/crytic/warden/compilation"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrConfiguration is the root of all errors caused by an invalid configuration. A configuration error aborts a scan
// before exploration starts.
var ErrConfiguration = errors.New("configuration error")

// ProjectConfig describes the configuration of a scan over a single project.
type ProjectConfig struct {
	// Scanning describes the configuration used by the scanning.Scanner.
	Scanning ScanningConfig `json:"scanning"`

	// Compilation describes the configuration used to compile the underlying project.
	Compilation *compilation.CompilationConfig `json:"compilation"`

	// Logging describes the configuration used for logging
	Logging LoggingConfig `json:"logging"`
}

// ScanningConfig describes the configuration options used by the scanning.Scanner.
type ScanningConfig struct {
	// TargetContract is the name of the contract to scan. It may be omitted if the compilation yields a single
	// deployable contract.
	TargetContract string `json:"targetContract"`

	// ConstructorArgs is the hex-encoded, ABI-encoded argument data appended to the init bytecode on deployment.
	ConstructorArgs string `json:"constructorArgs"`

	// Checks describes which checks run over the execution graph once exploration finishes.
	Checks ChecksConfig `json:"checks"`

	// StorageOffsets pins the storage offsets of state variables, overriding the compiler's storage layout. Offsets
	// may be decimal or 0x-prefixed hex strings.
	StorageOffsets map[string][]StorageOffset `json:"storageOffsets"`

	// MaxTransactions is the maximum number of message calls in a transaction sequence, excluding the contract
	// creation.
	MaxTransactions int `json:"maxTransactions"`

	// Workers is the number of transactions executed concurrently within a round, and the number of concurrent
	// solver queries issued by checks.
	Workers int `json:"workers"`

	// SolverTimeout is the per-query solver timeout in milliseconds.
	SolverTimeout int `json:"solverTimeout"`

	// SolverBudget is the maximum number of candidate assignments the built-in solver evaluates per query. Zero
	// selects the solver's default.
	SolverBudget int `json:"solverBudget"`

	// SolverCacheSize is the number of solver results kept in memory.
	SolverCacheSize int `json:"solverCacheSize"`

	// CacheDirectory is the directory where solver results are persisted between runs. If empty, results are not
	// persisted.
	CacheDirectory string `json:"cacheDirectory"`

	// MaxInstructions is the maximum number of instructions executed on a single path of a transaction.
	MaxInstructions int `json:"maxInstructions"`

	// LoopBound is the maximum number of times a single jump edge may be taken on a path.
	LoopBound int `json:"loopBound"`

	// PruneInfeasible enables solver checks on symbolic branches during exploration.
	PruneInfeasible bool `json:"pruneInfeasible"`

	// AccessRecordingEnabled describes whether each function is executed once after creation to infer the storage
	// slots it reads and writes.
	AccessRecordingEnabled bool `json:"accessRecordingEnabled"`

	// SlitherEnabled describes whether slither's echidna printer is run to infer function relations.
	SlitherEnabled bool `json:"slitherEnabled"`

	// FunctionAccess declares the storage slots or state variable names each function reads and writes. It is
	// merged with the recorded and slither-derived access sets.
	FunctionAccess map[string]FunctionAccessConfig `json:"functionAccess"`

	// ReportDirectory is the directory where reports are written. If empty, reports are only printed.
	ReportDirectory string `json:"reportDirectory"`
}

// ChecksConfig describes which checks are run over the execution graph.
type ChecksConfig struct {
	// UnrestrictedWrite lists the state variables that must not be writable by an arbitrary caller.
	UnrestrictedWrite []string `json:"unrestrictedWrite"`

	// Immutable lists the state variables that must not change after their first write.
	Immutable []string `json:"immutable"`

	// SelfDestruct enables the unrestricted self-destruct check.
	SelfDestruct bool `json:"selfDestruct"`

	// ExternalCall enables the unrestricted external call check.
	ExternalCall bool `json:"externalCall"`
}

// Enabled returns whether at least one check is configured.
func (c ChecksConfig) Enabled() bool {
	return len(c.UnrestrictedWrite) > 0 || len(c.Immutable) > 0 || c.SelfDestruct || c.ExternalCall
}

// TargetVariables returns the de-duplicated state variable names referenced by the checks, in configuration order.
func (c ChecksConfig) TargetVariables() []string {
	seen := make(map[string]bool)
	variables := make([]string, 0)
	for _, name := range append(append([]string{}, c.UnrestrictedWrite...), c.Immutable...) {
		if !seen[name] {
			seen[name] = true
			variables = append(variables, name)
		}
	}
	return variables
}

// FunctionAccessConfig declares the storage a function accesses. Entries are state variable names or storage
// offsets.
type FunctionAccessConfig struct {
	// Reads lists the storage read by the function.
	Reads []string `json:"reads"`

	// Writes lists the storage written by the function.
	Writes []string `json:"writes"`
}

// LoggingConfig describes the configuration options used for logging
type LoggingConfig struct {
	// Level describes whether logs of certain severity levels (eg info, warning, etc.) will be emitted or discarded.
	// Increasing level values represent more severe logs
	Level zerolog.Level `json:"level"`

	// EnableConsoleLogging describes whether console logging is enabled
	EnableConsoleLogging bool `json:"enableConsoleLogging"`

	// LogDirectory describes the directory where structured log _files_ will be outputted. If the string is empty, then
	// no log files are kept
	LogDirectory string `json:"logDirectory"`
}

// StorageOffset is a storage slot that serializes as a hex string and parses from hex or decimal strings.
type StorageOffset struct {
	uint256.Int
}

// ParseStorageOffset parses a decimal or 0x-prefixed hex string into a storage offset.
func ParseStorageOffset(s string) (*StorageOffset, error) {
	s = strings.TrimSpace(s)
	digits, base := s, 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits, base = s[2:], 16
	}
	b, ok := new(big.Int).SetString(digits, base)
	if !ok || b.Sign() < 0 {
		return nil, errors.Wrapf(ErrConfiguration, "invalid storage offset %q", s)
	}
	offset := &StorageOffset{}
	if overflow := offset.SetFromBig(b); overflow {
		return nil, errors.Wrapf(ErrConfiguration, "storage offset %q exceeds 256 bits", s)
	}
	return offset, nil
}

// MarshalJSON serializes the offset as a hex string.
func (o StorageOffset) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Hex())
}

// UnmarshalJSON parses the offset from a hex or decimal string, or a JSON number.
func (o *StorageOffset) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept plain numbers as well
		s = string(data)
	}
	parsed, err := ParseStorageOffset(s)
	if err != nil {
		return err
	}
	*o = *parsed
	return nil
}

// ReadProjectConfigFromFile reads a JSON-serialized ProjectConfig from a provided file path.
// Returns the ProjectConfig if it succeeds, or an error if one occurs.
func ReadProjectConfigFromFile(path string) (*ProjectConfig, error) {
	// Read our project configuration file data
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Parse the project configuration over the defaults
	projectConfig, err := GetDefaultProjectConfig("")
	if err != nil {
		return nil, err
	}
	err = json.Unmarshal(b, projectConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return projectConfig, nil
}

// WriteToFile writes the ProjectConfig to a provided file path in a JSON-serialized format.
// Returns an error if one occurs.
func (p *ProjectConfig) WriteToFile(path string) error {
	// Serialize the configuration
	b, err := json.MarshalIndent(p, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}

	// Save it to the provided output path and return the result
	err = os.WriteFile(path, b, 0644)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// Validate validates that the ProjectConfig meets certain requirements. Every error returned wraps ErrConfiguration.
func (p *ProjectConfig) Validate() error {
	// Verify the worker count is a positive number.
	if p.Scanning.Workers <= 0 {
		return errors.Wrap(ErrConfiguration, "worker count must be a positive number")
	}

	// Verify the transaction budget is a positive number
	if p.Scanning.MaxTransactions <= 0 {
		return errors.Wrap(ErrConfiguration, "max transactions must be a positive number")
	}

	// Verify the solver bounds
	if p.Scanning.SolverTimeout <= 0 {
		return errors.Wrap(ErrConfiguration, "solver timeout must be a positive number of milliseconds")
	}
	if p.Scanning.SolverBudget < 0 || p.Scanning.SolverCacheSize < 0 {
		return errors.Wrap(ErrConfiguration, "solver budget and cache size cannot be negative")
	}

	// Verify the interpreter bounds
	if p.Scanning.MaxInstructions <= 0 || p.Scanning.LoopBound <= 0 {
		return errors.Wrap(ErrConfiguration, "max instructions and loop bound must be positive numbers")
	}

	// At least one check must be configured, otherwise the scan cannot produce anything.
	if !p.Scanning.Checks.Enabled() {
		return errors.Wrap(ErrConfiguration, "no checks are enabled")
	}
	for _, name := range p.Scanning.Checks.TargetVariables() {
		if strings.TrimSpace(name) == "" {
			return errors.Wrap(ErrConfiguration, "target variable names cannot be empty")
		}
	}

	// Pinned offsets must not be empty
	for name, offsets := range p.Scanning.StorageOffsets {
		if len(offsets) == 0 {
			return errors.Wrapf(ErrConfiguration, "no storage offsets pinned for %v", name)
		}
	}

	// Constructor arguments must be hex
	if _, err := p.Scanning.DecodeConstructorArgs(); err != nil {
		return err
	}

	// Verify the compilation config is present
	if p.Compilation == nil {
		return errors.Wrap(ErrConfiguration, "no compilation config provided")
	}
	return nil
}

// DecodeConstructorArgs decodes the configured hex-encoded constructor arguments.
func (s *ScanningConfig) DecodeConstructorArgs() ([]byte, error) {
	args := strings.TrimPrefix(strings.TrimSpace(s.ConstructorArgs), "0x")
	decoded, err := hex.DecodeString(args)
	if err != nil {
		return nil, errors.Wrap(ErrConfiguration, "constructor arguments must be an even-length hex string")
	}
	return decoded, nil
}
