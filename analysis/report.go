package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crytic/warden/utils"
	"github.com/crytic/warden/version"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// ReportJSONFileName is the name of the machine-readable report written by WriteToDirectory.
	ReportJSONFileName = "warden-report.json"

	// ReportMarkdownFileName is the name of the markdown report written by WriteToDirectory.
	ReportMarkdownFileName = "warden-report.md"
)

// Report is the outcome of a scan: the confirmed violations, the inconclusive queries and a summary of how
// exploration ended.
type Report struct {
	// RunID uniquely identifies the scan.
	RunID uuid.UUID `json:"runId"`

	// ScannerVersion is the version of the binary that produced the report.
	ScannerVersion string `json:"scannerVersion"`

	// Contract is the name of the scanned contract.
	Contract string `json:"contract"`

	// CompilerVersion is the solc version recorded in the contract's metadata, if any.
	CompilerVersion string `json:"compilerVersion,omitempty"`

	// Violations are the confirmed findings, in check order then graph order.
	Violations []*Violation `json:"violations"`

	// Timeouts are the events whose queries were inconclusive.
	Timeouts []Timeout `json:"timeouts"`

	// EventsVisited is the number of events whose satisfiability was queried.
	EventsVisited int `json:"eventsVisited"`

	// PrunedBranches is the number of open states not extended because no function was worth calling next.
	PrunedBranches int `json:"prunedBranches"`

	// DeadStatesDropped is the number of open states dropped because the contract had self-destructed.
	DeadStatesDropped int `json:"deadStatesDropped"`

	// DepthLimitReached indicates exploration stopped at the transaction budget with open states remaining.
	DepthLimitReached bool `json:"depthLimitReached"`

	// Transactions is the number of transactions executed, creation included.
	Transactions int `json:"transactions"`

	// Rounds is the number of message call rounds executed.
	Rounds int `json:"rounds"`
}

// NewReport returns an empty Report for contract with a fresh run id.
func NewReport(contract string) *Report {
	return &Report{
		RunID:          uuid.New(),
		ScannerVersion: version.GetInfo().Short(),
		Contract:       contract,
		Violations:     make([]*Violation, 0),
		Timeouts:       make([]Timeout, 0),
	}
}

// AddRunContext copies the violations and diagnostics of a finished run into the report.
func (r *Report) AddRunContext(rc *RunContext, violations []*Violation) {
	r.Violations = append(r.Violations, violations...)
	r.Timeouts = append(r.Timeouts, rc.Timeouts()...)
	r.EventsVisited += rc.Visited()
}

// JSON serializes the report.
func (r *Report) JSON() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "\t")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// summary returns the exploration summary lines shared by the text and markdown forms.
func (r *Report) summary() []string {
	lines := []string{
		fmt.Sprintf("transactions executed: %d in %d rounds", r.Transactions, r.Rounds),
		fmt.Sprintf("events visited: %d", r.EventsVisited),
		fmt.Sprintf("pruned branches: %d", r.PrunedBranches),
		fmt.Sprintf("dead states dropped: %d", r.DeadStatesDropped),
	}
	if r.DepthLimitReached {
		lines = append(lines, "depth limit reached")
	}
	return lines
}

// Text returns a human-readable form of the report.
func (r *Report) Text() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Scan %v of %v (warden %v)\n", r.RunID, r.Contract, r.ScannerVersion))
	if r.CompilerVersion != "" {
		sb.WriteString(fmt.Sprintf("Compiled with solc %v\n", r.CompilerVersion))
	}
	if len(r.Violations) == 0 {
		sb.WriteString("The analysis was completed successfully. No issues were detected.\n")
	}
	for _, v := range r.Violations {
		sb.WriteString(fmt.Sprintf("==== %v ====\n", v.Title))
		sb.WriteString(fmt.Sprintf("Severity: %v\n", v.Severity))
		sb.WriteString(fmt.Sprintf("Contract: %v\n", v.Contract))
		sb.WriteString(fmt.Sprintf("Function name: %v\n", v.Function))
		sb.WriteString(fmt.Sprintf("PC address: %d\n", v.Address))
		if v.Field != "" {
			sb.WriteString(fmt.Sprintf("State variable: %v (offset %v)\n", v.Field, v.Offset))
		}
		sb.WriteString(v.Description + "\n")
		sb.WriteString("--------------------\n")
		sb.WriteString(traceText(v))
		sb.WriteString("\n")
	}
	if len(r.Timeouts) > 0 {
		sb.WriteString(fmt.Sprintf("==== Inconclusive (%d) ====\n", len(r.Timeouts)))
		for _, t := range r.Timeouts {
			sb.WriteString(fmt.Sprintf("%v: %v.%v at %d\n", t.Check, t.Contract, t.Function, t.Address))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(r.summary(), "\n"))
	sb.WriteString("\n")
	return sb.String()
}

// Markdown returns a markdown form of the report.
func (r *Report) Markdown() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Analysis results for %v\n\n", r.Contract))
	if len(r.Violations) == 0 {
		sb.WriteString("The analysis was completed successfully. No issues were detected.\n\n")
	}
	for _, v := range r.Violations {
		sb.WriteString(fmt.Sprintf("## %v\n\n", v.Title))
		sb.WriteString(fmt.Sprintf("- Kind: %v\n", v.Kind))
		sb.WriteString(fmt.Sprintf("- Severity: %v\n", v.Severity))
		sb.WriteString(fmt.Sprintf("- Contract: %v\n", v.Contract))
		sb.WriteString(fmt.Sprintf("- Function name: `%v`\n", v.Function))
		sb.WriteString(fmt.Sprintf("- PC address: %d\n", v.Address))
		if v.Field != "" {
			sb.WriteString(fmt.Sprintf("- State variable: `%v` (offset `%v`)\n", v.Field, v.Offset))
		}
		sb.WriteString("\n### Description\n\n" + v.Description + "\n\n")
		sb.WriteString("### Transaction sequence\n\n```\n" + traceText(v) + "```\n\n")
	}
	if len(r.Timeouts) > 0 {
		sb.WriteString("## Inconclusive queries\n\n")
		for _, t := range r.Timeouts {
			sb.WriteString(fmt.Sprintf("- `%v`: %v.`%v` at %d\n", t.Check, t.Contract, t.Function, t.Address))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("## Summary\n\n")
	for _, line := range r.summary() {
		sb.WriteString("- " + line + "\n")
	}
	return sb.String()
}

// traceText renders the reproducing transaction sequence of a violation, one transaction per line.
func traceText(v *Violation) string {
	var sb strings.Builder
	for _, tx := range v.Trace {
		to := "(creation)"
		if tx.To != nil {
			to = tx.To.Hex()
		}
		sb.WriteString(fmt.Sprintf("%v: from %v to %v value %v data %v\n", tx.Function, tx.From.Hex(), to, tx.Value, tx.Input))
	}
	return sb.String()
}

// WriteToDirectory writes the JSON and markdown forms of the report to directory, creating it if needed.
func (r *Report) WriteToDirectory(directory string) error {
	if err := utils.MakeDirectory(directory); err != nil {
		return err
	}
	b, err := r.JSON()
	if err != nil {
		return err
	}
	if err = os.WriteFile(filepath.Join(directory, ReportJSONFileName), b, 0644); err != nil {
		return errors.WithStack(err)
	}
	if err = os.WriteFile(filepath.Join(directory, ReportMarkdownFileName), []byte(r.Markdown()), 0644); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
