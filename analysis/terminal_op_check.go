package analysis

import (
	"context"

	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/symbolic/solver"
)

// TerminalOp selects the instructions a TerminalOpCheck inspects.
type TerminalOp int

const (
	// SelfDestructOp selects SELFDESTRUCT.
	SelfDestructOp TerminalOp = iota
	// ExternalCallOp selects CALL, CALLCODE, DELEGATECALL and STATICCALL to non-precompile addresses.
	ExternalCallOp
)

// String returns the name of the instruction class.
func (o TerminalOp) String() string {
	switch o {
	case SelfDestructOp:
		return "selfdestruct"
	case ExternalCallOp:
		return "external-call"
	default:
		return "unknown"
	}
}

// TerminalOpCheck reports self-destructs or external calls any caller can trigger. Events of the contract creation
// transaction are never reported, since its caller is fixed.
type TerminalOpCheck struct {
	// Op selects the instructions inspected.
	Op TerminalOp
}

// NewTerminalOpCheck returns a TerminalOpCheck for the provided instruction class.
func NewTerminalOpCheck(op TerminalOp) *TerminalOpCheck {
	return &TerminalOpCheck{Op: op}
}

// Name returns the identifier of the check.
func (c *TerminalOpCheck) Name() string {
	return "unrestricted-" + c.Op.String()
}

// events returns the graph events of the selected instruction class.
func (c *TerminalOpCheck) events(graph *engine.Graph) []event {
	events := make([]event, 0)
	switch c.Op {
	case SelfDestructOp:
		for _, destruct := range graph.SelfDestructs() {
			events = append(events, event{state: destruct.State, proposition: destruct.Constraints})
		}
	case ExternalCallOp:
		for _, call := range graph.ExternalCalls() {
			events = append(events, event{state: call.State, proposition: call.Constraints})
		}
	}

	// Creation runs under the fixed creator
	filtered := events[:0]
	for _, e := range events {
		if !e.state.Transaction().IsCreation() {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// Run reports every reachable event whose path condition does not constrain the caller.
func (c *TerminalOpCheck) Run(ctx context.Context, rc *RunContext) ([]*Violation, error) {
	events := c.events(rc.Graph)
	outcomes, err := rc.solveAll(ctx, c.Name(), events)
	if err != nil {
		return nil, err
	}

	violations := make([]*Violation, 0)
	for i, o := range outcomes {
		if o.status != solver.Sat {
			continue
		}
		if callerConstrained(events[i].state, events[i].proposition) {
			rc.markClean()
			continue
		}

		var v *Violation
		if c.Op == SelfDestructOp {
			v = newViolation(events[i].state, o.model, UnrestrictedSelfDestruct, "Unprotected Selfdestruct",
				"Any sender can trigger execution of the SELFDESTRUCT instruction to destroy this contract account. "+
					"Review the transaction trace and make sure appropriate access control is in place.")
		} else {
			v = newViolation(events[i].state, o.model, UnrestrictedExternalCall, "Unrestricted call",
				"Any sender can make the contract execute "+events[i].state.Instruction().Op.String()+
					". Review the transaction trace and make sure appropriate access control is in place.")
		}
		violations = append(violations, v)
	}
	return violations, nil
}
