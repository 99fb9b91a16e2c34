package analysis

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReportForms ensures every report form carries the violations, the timeouts and the exploration summary.
func TestReportForms(t *testing.T) {
	rc := newTestRunContext(explore(t, ownableRuntime(), setOwnerFunction))
	violations, err := Run(context.Background(), rc, []Check{NewUnrestrictedWriteCheck("owner", []*uint256.Int{uint256.NewInt(0)})})
	require.NoError(t, err)

	report := NewReport("Target")
	report.AddRunContext(rc, violations)
	report.Timeouts = append(report.Timeouts, Timeout{Check: "immutable(owner)", Contract: "Target", Function: "f()", Address: 7})
	report.Transactions = 2
	report.Rounds = 1
	report.DepthLimitReached = true
	report.CompilerVersion = "0.8.19"

	b, err := report.JSON()
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Equal(t, report.ScannerVersion, decoded.ScannerVersion)
	assert.Equal(t, "0.8.19", decoded.CompilerVersion)
	require.Len(t, decoded.Violations, 1)
	assert.Equal(t, UnrestrictedWrite, decoded.Violations[0].Kind)
	assert.Len(t, decoded.Timeouts, 1)

	text := report.Text()
	assert.Contains(t, text, "==== Unrestricted write to State Variable ====")
	assert.Contains(t, text, setOwnerFunction.Name)
	assert.Contains(t, text, "Inconclusive (1)")
	assert.Contains(t, text, "depth limit reached")
	assert.Contains(t, text, "Compiled with solc 0.8.19")

	markdown := report.Markdown()
	assert.Contains(t, markdown, "# Analysis results for Target")
	assert.Contains(t, markdown, "## Inconclusive queries")

	// An empty report says so
	assert.Contains(t, NewReport("Target").Text(), "No issues were detected")
}

// TestReportWriteToDirectory ensures both report files are written.
func TestReportWriteToDirectory(t *testing.T) {
	directory := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, NewReport("Target").WriteToDirectory(directory))

	for _, name := range []string{ReportJSONFileName, ReportMarkdownFileName} {
		_, err := os.Stat(filepath.Join(directory, name))
		assert.NoError(t, err)
	}
}
