package platforms

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/crytic/warden/compilation/types"
	"github.com/crytic/warden/utils"
	"github.com/pkg/errors"
)

// storageLayoutConstraint selects the solc versions able to emit storage layouts in combined JSON output.
var storageLayoutConstraint, _ = semver.NewConstraint(">= 0.5.13")

// SolcCompilationConfig describes the configuration used to compile a single source file with the system solc.
type SolcCompilationConfig struct {
	// Target is the path of the source file to compile.
	Target string `json:"target"`

	// Args are additional arguments passed to solc, such as remappings or optimizer settings.
	Args []string `json:"args,omitempty"`
}

// NewSolcCompilationConfig returns a SolcCompilationConfig for the provided source file.
func NewSolcCompilationConfig(target string) *SolcCompilationConfig {
	return &SolcCompilationConfig{
		Target: target,
		Args:   []string{},
	}
}

// Platform returns the platform identifier of the config.
func (s *SolcCompilationConfig) Platform() string {
	return "solc"
}

// GetTarget returns the target for compilation
func (s *SolcCompilationConfig) GetTarget() string {
	return s.Target
}

// SetTarget sets the new target for compilation
func (s *SolcCompilationConfig) SetTarget(newTarget string) {
	s.Target = newTarget
}

// GetSystemSolcVersion runs solc --version and parses the compiler version from its output.
func GetSystemSolcVersion() (*semver.Version, error) {
	// Run solc --version to obtain our compiler version.
	out, err := exec.Command("solc", "--version").CombinedOutput()
	if err != nil {
		return nil, errors.Errorf("error while executing solc:\nOUTPUT:\n%s\nERROR: %s\n", string(out), err.Error())
	}

	// Parse the compiler version out of the output
	exp := regexp.MustCompile(`\d+\.\d+\.\d+`)
	versionStr := exp.FindString(string(out))
	if versionStr == "" {
		return nil, errors.New("could not parse solc version using 'solc --version'")
	}

	// Parse our semver string and return it
	version, err := semver.NewVersion(versionStr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return version, nil
}

// GetSolcOutputOptions determines what combined JSON output options should be requested from solc given its version.
// Storage layouts are requested whenever the compiler supports them.
func (s *SolcCompilationConfig) GetSolcOutputOptions(v *semver.Version) string {
	// if version is 0.3.0-0.3.6 or 0.4.0-0.4.11 no 'hashes' outputOption
	if (v.Major() == 0 && v.Minor() == 4 && v.Patch() <= 11) || (v.Major() == 0 && v.Minor() < 4) {
		return "abi,bin,bin-runtime"
	}
	if storageLayoutConstraint.Check(v) {
		return "abi,bin,bin-runtime,hashes,storage-layout"
	}
	return "abi,bin,bin-runtime,hashes"
}

// Compile runs solc over the target and parses its combined JSON output. The compiler's stderr is returned alongside
// the compilations.
func (s *SolcCompilationConfig) Compile() ([]types.Compilation, string, error) {
	// Obtain our solc version string
	v, err := GetSystemSolcVersion()
	if err != nil {
		return nil, "", err
	}

	// Create our command
	args := append([]string{s.Target, "--combined-json", s.GetSolcOutputOptions(v)}, s.Args...)
	cmd := exec.Command("solc", args...)
	cmdStdout, cmdStderr, cmdCombined, err := utils.RunCommandWithOutputAndError(cmd)
	if err != nil {
		return nil, "", errors.Errorf("error while executing solc:\n%s\n\nCommand Output:\n%s\n", err.Error(), string(cmdCombined))
	}

	compilation, err := ParseCombinedJSON(cmdStdout)
	if err != nil {
		return nil, "", err
	}
	return []types.Compilation{*compilation}, string(cmdStderr), nil
}

// combinedJSONContract is a single contract entry of solc's combined JSON output. Older compilers emit the ABI and
// storage layout as JSON-encoded strings, newer ones as objects.
type combinedJSONContract struct {
	Abi           json.RawMessage `json:"abi"`
	Bin           string          `json:"bin"`
	BinRuntime    string          `json:"bin-runtime"`
	StorageLayout json.RawMessage `json:"storage-layout"`
}

// ParseCombinedJSON parses solc's combined JSON output into a Compilation. Contracts whose ABI cannot be parsed are
// skipped.
func ParseCombinedJSON(output []byte) (*types.Compilation, error) {
	var results struct {
		Contracts map[string]combinedJSONContract `json:"contracts"`
	}
	err := json.Unmarshal(output, &results)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse solc combined json output")
	}

	compilation := types.NewCompilation()
	for name, contract := range results.Contracts {
		// Split our name which should be of form "filename:contractname"
		nameSplit := strings.Split(name, ":")
		sourcePath := strings.Join(nameSplit[0:len(nameSplit)-1], ":")
		contractName := nameSplit[len(nameSplit)-1]

		// Convert the abi structure to our parsed abi type
		abiJSON, err := unwrapJSONString(contract.Abi)
		if err != nil {
			continue
		}
		contractAbi, err := types.ParseABIFromInterface(string(abiJSON))
		if err != nil {
			continue
		}

		// Decode our init and runtime bytecode
		initBytecode, err := hex.DecodeString(strings.TrimPrefix(contract.Bin, "0x"))
		if err != nil {
			return nil, errors.Errorf("unable to parse init bytecode for contract '%s'", contractName)
		}
		runtimeBytecode, err := hex.DecodeString(strings.TrimPrefix(contract.BinRuntime, "0x"))
		if err != nil {
			return nil, errors.Errorf("unable to parse runtime bytecode for contract '%s'", contractName)
		}

		// Parse the storage layout if one was emitted
		var layout *types.StorageLayout
		layoutJSON, err := unwrapJSONString(contract.StorageLayout)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to parse storage layout for contract '%s'", contractName)
		}
		if len(layoutJSON) > 0 {
			layout = &types.StorageLayout{}
			if err = json.Unmarshal(layoutJSON, layout); err != nil {
				return nil, errors.Wrapf(err, "unable to parse storage layout for contract '%s'", contractName)
			}
		}

		compilation.AddContract(sourcePath, contractName, types.CompiledContract{
			Abi:             *contractAbi,
			InitBytecode:    initBytecode,
			RuntimeBytecode: runtimeBytecode,
			StorageLayout:   layout,
		})
	}
	return compilation, nil
}

// unwrapJSONString returns the JSON document held by raw, decoding it first if it was emitted as a JSON string. A
// missing or null value yields nil.
func unwrapJSONString(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, errors.WithStack(err)
	}
	return []byte(s), nil
}
