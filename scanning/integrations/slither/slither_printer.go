package slither

import (
	"encoding/json"
	"os/exec"

	"github.com/crytic/warden/utils"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// ECHIDNA_PRINTER is the name of slither's echidna printer
const ECHIDNA_PRINTER = "echidna"

// SlitherData is the data structure that holds the results from slither's echidna printer that are relevant to
// scheduling.
type SlitherData struct {
	// FunctionsRelations maps a contract name to its entry points and, for each one, the entry points it impacts
	// (writes state they read) and is impacted by (reads state they write).
	FunctionsRelations map[string]map[string]FunctionRelations `json:"functions_relations"`

	// ConstantFunctions holds all constant functions / variables per contract
	ConstantFunctions map[string][]string `json:"constant_functions"`

	// SolcVersions holds all the solc versions used during compilation
	SolcVersions []string `json:"solc_versions"`
}

// FunctionRelations describes the storage relations of a single entry point with the other entry points of its
// contract.
type FunctionRelations struct {
	// Impacts lists the functions reading state this function writes.
	Impacts []string `json:"impacts"`

	// IsImpactedBy lists the functions writing state this function reads.
	IsImpactedBy []string `json:"is_impacted_by"`
}

// RunPrinter will run Slither's echidna printer and returns an object that will store the output data.
// Note that the function will not compile the target since it is expected that the compilation artifacts already exist
// at the target location.
func RunPrinter(target string) (*SlitherData, error) {
	// Make sure target is not the empty string
	if target == "" {
		return nil, errors.New("must provide a target to run slither's echidna printer")
	}

	// Set up the arguments necessary for a no-compile slither printer run
	args := []string{target, "--print", ECHIDNA_PRINTER, "--ignore-compile", "--json", "-"}

	// Run the command
	cmd := exec.Command("slither", args...)
	cmdStdout, _, cmdCombined, err := utils.RunCommandWithOutputAndError(cmd)

	// If we failed, exit out
	if err != nil {
		return nil, errors.Errorf("error while running slither:\n%s\n\nCommand Output:\n%s\n", err.Error(), string(cmdCombined))
	}
	return ParsePrinterOutput(cmdStdout)
}

// ParsePrinterOutput parses the JSON output of a slither run with the echidna printer.
func ParsePrinterOutput(output []byte) (*SlitherData, error) {
	// The actual printer data will be stored in the results[`results`][`printers`] key. The value of `printers` is
	// actually a _list_ of mappings where the `description` key at the 0th index will hold the data for the `echidna` printer
	type rawSlitherOutput struct {
		Error   any `json:"error"`
		Results struct {
			Printers []struct {
				Printer     string `json:"printer"`
				Description string `json:"description"`
			} `json:"printers"`
		} `json:"results"`
	}

	var rawOutput rawSlitherOutput
	err := json.Unmarshal(output, &rawOutput)
	if err != nil {
		return nil, errors.Wrap(err, "error while unmarshaling slither's output")
	}

	// If, for some reason, the printer or slither failed to run, exit out
	if rawOutput.Error != nil {
		return nil, errors.Errorf("slither returned the following error: %v", rawOutput.Error)
	}

	// Make sure there is only one printer result and those results are from the `echidna` printer
	printers := rawOutput.Results.Printers
	if len(printers) != 1 || printers[0].Printer != ECHIDNA_PRINTER {
		return nil, errors.New("expected the slither output to contain the results from the echidna printer")
	}

	var slitherData SlitherData
	err = json.Unmarshal([]byte(printers[0].Description), &slitherData)
	if err != nil {
		return nil, errors.Wrap(err, "error while unmarshaling slither's echidna printer results")
	}
	return &slitherData, nil
}

// AccessSets translates the function relations of a contract into synthetic read and write sets. Every relation
// "A impacts B" becomes a token written by A and read by B, so that dependency analysis classifies (A, B) as
// read-after-write exactly where slither found one.
func (s *SlitherData) AccessSets(contractName string) (reads map[string][]string, writes map[string][]string) {
	reads = make(map[string][]string)
	writes = make(map[string][]string)

	relate := func(writer string, reader string) {
		token := "slither:" + writer + "->" + reader
		if !slices.Contains(writes[writer], token) {
			writes[writer] = append(writes[writer], token)
		}
		if !slices.Contains(reads[reader], token) {
			reads[reader] = append(reads[reader], token)
		}
	}

	for function, relations := range s.FunctionsRelations[contractName] {
		// Every entry point is known even if it has no relations
		if _, ok := reads[function]; !ok {
			reads[function] = []string{}
		}
		if _, ok := writes[function]; !ok {
			writes[function] = []string{}
		}
		for _, impacted := range relations.Impacts {
			relate(function, impacted)
		}
		for _, impacting := range relations.IsImpactedBy {
			relate(impacting, function)
		}
	}

	// Keep the output independent of map iteration order
	for _, sets := range []map[string][]string{reads, writes} {
		for function := range sets {
			slices.Sort(sets[function])
		}
	}
	return reads, writes
}

// IsConstant returns whether slither found the function of the contract to be constant.
func (s *SlitherData) IsConstant(contractName string, function string) bool {
	return slices.Contains(s.ConstantFunctions[contractName], function)
}
