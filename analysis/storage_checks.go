package analysis

import (
	"context"
	"fmt"

	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/symbolic"
	"github.com/crytic/warden/symbolic/solver"
	"github.com/holiman/uint256"
)

// targetEvents selects the storage writes of the graph that may target one of offsets, paired with the proposition
// under which they do. Writes to a concrete key only match an identical offset. Writes to a symbolic key match under
// the additional constraint that the key equals the offset.
func targetEvents(writes []*engine.StorageWrite, offsets []*uint256.Int, skipCreation bool) ([]event, []*engine.StorageWrite) {
	events := make([]event, 0)
	matched := make([]*engine.StorageWrite, 0)
	for _, write := range writes {
		if skipCreation && write.State.Transaction().IsCreation() {
			continue
		}
		if key := write.Offset.Value(); key != nil {
			for _, offset := range offsets {
				if key.Eq(offset) {
					events = append(events, event{state: write.State, proposition: write.Constraints})
					matched = append(matched, write)
					break
				}
			}
			continue
		}

		targets := make([]*symbolic.Bool, 0, len(offsets))
		for _, offset := range offsets {
			targets = append(targets, symbolic.Eq(write.Offset, symbolic.Const(offset)))
		}
		events = append(events, event{state: write.State, proposition: write.Constraints.Append(symbolic.LOr(targets...))})
		matched = append(matched, write)
	}
	return events, matched
}

// offsetValue returns a write's key under model.
func offsetValue(write *engine.StorageWrite, model symbolic.Model) *uint256.Int {
	if v := write.Offset.Value(); v != nil {
		return v
	}
	return write.Offset.Eval(model)
}

// offsetHex returns the hex form of a write's key under model.
func offsetHex(write *engine.StorageWrite, model symbolic.Model) string {
	return offsetValue(write, model).Hex()
}

// UnrestrictedWriteCheck reports writes to a state variable that any caller can perform. Writes made by the contract
// creation transaction are never reported.
type UnrestrictedWriteCheck struct {
	// Field is the name of the state variable.
	Field string

	// Offsets are the storage offsets the variable occupies.
	Offsets []*uint256.Int
}

// NewUnrestrictedWriteCheck returns an UnrestrictedWriteCheck for the field occupying offsets.
func NewUnrestrictedWriteCheck(field string, offsets []*uint256.Int) *UnrestrictedWriteCheck {
	return &UnrestrictedWriteCheck{Field: field, Offsets: offsets}
}

// Name returns the identifier of the check.
func (c *UnrestrictedWriteCheck) Name() string {
	return fmt.Sprintf("unrestricted-write(%v)", c.Field)
}

// Run reports every reachable write to the field whose path condition does not constrain the caller.
func (c *UnrestrictedWriteCheck) Run(ctx context.Context, rc *RunContext) ([]*Violation, error) {
	events, writes := targetEvents(rc.Graph.StorageWrites(), c.Offsets, true)
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
		v := newViolation(events[i].state, o.model, UnrestrictedWrite, "Unrestricted write to State Variable",
			fmt.Sprintf("Any sender can write to state variable %v. Review the transaction trace and make sure "+
				"appropriate access control is in place.", c.Field))
		v.Field = c.Field
		v.Offset = offsetHex(writes[i], o.model)
		violations = append(violations, v)
	}
	return violations, nil
}

// ImmutableCheck reports writes to a state variable after its first reachable write, in graph order. Each offset the
// variable occupies has its own first write, accepted whatever transaction performs it, the constructor included.
type ImmutableCheck struct {
	// Field is the name of the state variable.
	Field string

	// Offsets are the storage offsets the variable occupies.
	Offsets []*uint256.Int
}

// NewImmutableCheck returns an ImmutableCheck for the field occupying offsets.
func NewImmutableCheck(field string, offsets []*uint256.Int) *ImmutableCheck {
	return &ImmutableCheck{Field: field, Offsets: offsets}
}

// Name returns the identifier of the check.
func (c *ImmutableCheck) Name() string {
	return fmt.Sprintf("immutable(%v)", c.Field)
}

// firstWriteTracker tracks whether the initializing write of a field is still expected.
type firstWriteTracker struct {
	pending bool
}

// consume returns true for the first call only.
func (t *firstWriteTracker) consume() bool {
	if t.pending {
		t.pending = false
		return true
	}
	return false
}

// Run reports every reachable write to an offset of the field following the first write to that offset.
func (c *ImmutableCheck) Run(ctx context.Context, rc *RunContext) ([]*Violation, error) {
	events, writes := targetEvents(rc.Graph.StorageWrites(), c.Offsets, false)
	outcomes, err := rc.solveAll(ctx, c.Name(), events)
	if err != nil {
		return nil, err
	}

	trackers := make(map[uint256.Int]*firstWriteTracker, len(c.Offsets))
	for _, offset := range c.Offsets {
		trackers[*offset] = &firstWriteTracker{pending: true}
	}
	violations := make([]*Violation, 0)
	for i, o := range outcomes {
		if o.status != solver.Sat {
			continue
		}
		tracker, ok := trackers[*offsetValue(writes[i], o.model)]
		if ok && tracker.consume() {
			rc.markClean()
			continue
		}
		v := newViolation(events[i].state, o.model, TaintedStateVariable, "Tainted State Variable",
			fmt.Sprintf("State variable %v can be modified after its first write.", c.Field))
		v.Field = c.Field
		v.Offset = offsetHex(writes[i], o.model)
		violations = append(violations, v)
	}
	return violations, nil
}
