package analysis

import (
	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/symbolic"
)

// Kind identifies the class of a Violation.
type Kind string

const (
	// UnrestrictedWrite indicates any caller can write a protected state variable.
	UnrestrictedWrite Kind = "unrestricted-write"

	// TaintedStateVariable indicates a state variable meant to be immutable changes after its first write.
	TaintedStateVariable Kind = "tainted-state-variable"

	// UnrestrictedSelfDestruct indicates any caller can self-destruct the contract.
	UnrestrictedSelfDestruct Kind = "unrestricted-selfdestruct"

	// UnrestrictedExternalCall indicates any caller can make the contract issue an external call.
	UnrestrictedExternalCall Kind = "unrestricted-external-call"
)

// SeverityWarning is the severity attached to every violation.
const SeverityWarning = "Warning"

// Violation is a confirmed finding: a reachable event whose reachability does not depend on who the caller is, or a
// write to an immutable field after its first write.
type Violation struct {
	// Contract is the name of the contract executing the event.
	Contract string `json:"contract"`

	// Function is the name of the function whose transaction produced the event.
	Function string `json:"function"`

	// Address is the byte offset of the instruction producing the event.
	Address uint64 `json:"address"`

	// Kind identifies the class of the violation.
	Kind Kind `json:"kind"`

	// Title is a short human-readable summary.
	Title string `json:"title"`

	// Severity is the severity of the violation.
	Severity string `json:"severity"`

	// Description explains the violation.
	Description string `json:"description"`

	// Field is the name of the state variable involved, if any.
	Field string `json:"field,omitempty"`

	// Offset is the storage offset written, if any, as a hex string.
	Offset string `json:"offset,omitempty"`

	// Trace is a concrete transaction sequence reproducing the event, creation first.
	Trace []engine.ExampleTransaction `json:"trace"`
}

// violationKey identifies violations reported at the same place for the same reason.
type violationKey struct {
	contract string
	function string
	address  uint64
	kind     Kind
	field    string
}

// key returns the de-duplication key of the violation.
func (v *Violation) key() violationKey {
	return violationKey{
		contract: v.Contract,
		function: v.Function,
		address:  v.Address,
		kind:     v.Kind,
		field:    v.Field,
	}
}

// newViolation builds a violation for the event at state, reconstructing its trace from model.
func newViolation(state *engine.GlobalState, model symbolic.Model, kind Kind, title string, description string) *Violation {
	return &Violation{
		Contract:    state.Node.ContractName,
		Function:    state.Node.FunctionName,
		Address:     state.Address(),
		Kind:        kind,
		Title:       title,
		Severity:    SeverityWarning,
		Description: description,
		Trace:       engine.ExampleTransactionSequence(state, model),
	}
}
