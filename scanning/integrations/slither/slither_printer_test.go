package slither

import (
	"encoding/json"
	"os/exec"
	"testing"

	"github.com/crytic/warden/scanning/dependency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// printerOutput wraps an echidna printer description in slither's JSON output envelope.
func printerOutput(t *testing.T, description string) []byte {
	output, err := json.Marshal(map[string]any{
		"success": true,
		"error":   nil,
		"results": map[string]any{
			"printers": []map[string]any{
				{"printer": ECHIDNA_PRINTER, "description": description},
			},
		},
	})
	require.NoError(t, err)
	return output
}

// walletRelations describes a wallet whose setOwner(address) writes the owner read by withdraw(uint256).
const walletRelations = `{
  "functions_relations": {
    "Wallet": {
      "setOwner(address)": {"impacts": ["withdraw(uint256)", "setOwner(address)"], "is_impacted_by": ["setOwner(address)"]},
      "withdraw(uint256)": {"impacts": [], "is_impacted_by": ["setOwner(address)"]},
      "owner()": {"impacts": [], "is_impacted_by": []}
    }
  },
  "constant_functions": {"Wallet": ["owner()"]},
  "solc_versions": ["0.8.19"]
}`

// TestParsePrinterOutput ensures relations are parsed from the printer envelope and translated into access sets the
// dependency analyzer classifies as read-after-write.
func TestParsePrinterOutput(t *testing.T) {
	data, err := ParsePrinterOutput(printerOutput(t, walletRelations))
	require.NoError(t, err)
	assert.Equal(t, []string{"0.8.19"}, data.SolcVersions)
	assert.True(t, data.IsConstant("Wallet", "owner()"))
	assert.False(t, data.IsConstant("Wallet", "withdraw(uint256)"))

	reads, writes := data.AccessSets("Wallet")
	assert.Len(t, reads, 3)
	assert.Equal(t, []string{"slither:setOwner(address)->setOwner(address)", "slither:setOwner(address)->withdraw(uint256)"}, writes["setOwner(address)"])
	assert.Empty(t, writes["withdraw(uint256)"])

	record := dependency.Analyze(reads, writes)
	assert.True(t, record.Class("setOwner(address)", "withdraw(uint256)").Has(dependency.RAW))
	assert.True(t, record.Class("withdraw(uint256)", "setOwner(address)").Has(dependency.WAR))
	assert.Equal(t, dependency.None, record.Class("owner()", "withdraw(uint256)"))

	// Unknown contracts have no relations
	reads, writes = data.AccessSets("Token")
	assert.Empty(t, reads)
	assert.Empty(t, writes)
}

// TestParsePrinterOutputErrors ensures failed runs and foreign printers are rejected.
func TestParsePrinterOutputErrors(t *testing.T) {
	_, err := ParsePrinterOutput([]byte("not json"))
	assert.Error(t, err)

	_, err = ParsePrinterOutput([]byte(`{"success": false, "error": "compilation failed", "results": {}}`))
	assert.Error(t, err)

	_, err = ParsePrinterOutput([]byte(`{"success": true, "error": null, "results": {"printers": [{"printer": "cfg", "description": "{}"}]}}`))
	assert.Error(t, err)

	_, err = RunPrinter("")
	assert.Error(t, err)
}

// TestRunPrinter runs slither's echidna printer when slither is installed.
func TestRunPrinter(t *testing.T) {
	if _, err := exec.LookPath("slither"); err != nil {
		t.Skip("slither is not installed")
	}
	_, err := RunPrinter("testdata/missing.sol")
	assert.Error(t, err)
}
