package symbolic

import (
	"strings"
)

// Proposition is an ordered conjunction of predicates describing the path condition of a state. It is persistent:
// appending returns a new Proposition and never modifies the receiver, so forked states may share a common prefix
// safely.
type Proposition struct {
	conjuncts []*Bool
}

// NewProposition returns a proposition over the provided predicates.
func NewProposition(cs ...*Bool) Proposition {
	return Proposition{}.Append(cs...)
}

// Append returns a new proposition with the provided predicates added to the end. Constant true predicates are
// dropped.
func (p Proposition) Append(cs ...*Bool) Proposition {
	added := make([]*Bool, 0, len(cs))
	for _, c := range cs {
		if c == nil || c.IsTrue() {
			continue
		}
		added = append(added, c)
	}
	if len(added) == 0 {
		return p
	}
	conjuncts := make([]*Bool, len(p.conjuncts)+len(added))
	copy(conjuncts, p.conjuncts)
	copy(conjuncts[len(p.conjuncts):], added)
	return Proposition{conjuncts: conjuncts}
}

// Concat returns a new proposition consisting of the receiver's predicates followed by other's.
func (p Proposition) Concat(other Proposition) Proposition {
	return p.Append(other.conjuncts...)
}

// Conjuncts returns the predicates of the proposition in order. The returned slice must not be modified.
func (p Proposition) Conjuncts() []*Bool {
	return p.conjuncts
}

// Len returns the number of predicates in the proposition.
func (p Proposition) Len() int {
	return len(p.conjuncts)
}

// IsTriviallyFalse indicates whether the proposition contains a constant false predicate or a predicate together with
// its own negation. It is a syntactic check and does not consult a solver.
func (p Proposition) IsTriviallyFalse() bool {
	for _, c := range p.conjuncts {
		if c.IsFalse() {
			return true
		}
	}
	for i, c := range p.conjuncts {
		negated := LNot(c)
		for _, d := range p.conjuncts[i+1:] {
			if d.Equal(negated) {
				return true
			}
		}
	}
	return false
}

// Contains indicates whether a structurally identical predicate is already part of the proposition.
func (p Proposition) Contains(c *Bool) bool {
	for _, d := range p.conjuncts {
		if d.Equal(c) {
			return true
		}
	}
	return false
}

// Vars returns the sorted names of the free symbols across all predicates.
func (p Proposition) Vars() []string {
	s := newSymbolCollector()
	for _, c := range p.conjuncts {
		s.bool(c)
	}
	return s.names()
}

// Symbols returns the free symbols across all predicates keyed by name.
func (p Proposition) Symbols() map[string]*BitVec {
	s := newSymbolCollector()
	for _, c := range p.conjuncts {
		s.bool(c)
	}
	return s.symbols
}

// Mentions indicates whether the named symbol appears free in any predicate of the proposition.
func (p Proposition) Mentions(name string) bool {
	for _, c := range p.conjuncts {
		s := newSymbolCollector()
		s.bool(c)
		if _, ok := s.symbols[name]; ok {
			return true
		}
	}
	return false
}

// Eval indicates whether every predicate holds under the provided model.
func (p Proposition) Eval(m Model) bool {
	e := newEvaluator(m)
	for _, c := range p.conjuncts {
		if !e.bool(c) {
			return false
		}
	}
	return true
}

// String returns the canonical textual form of the proposition, one predicate per line.
func (p Proposition) String() string {
	lines := make([]string, len(p.conjuncts))
	for i, c := range p.conjuncts {
		lines[i] = c.String()
	}
	return strings.Join(lines, "\n")
}
