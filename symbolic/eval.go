package symbolic

import (
	"sort"

	"github.com/holiman/uint256"
)

// Model is an assignment of concrete values to symbol names. Symbols absent from a model evaluate to zero.
type Model map[string]*uint256.Int

// Get returns the value assigned to a symbol, or zero if it is unassigned.
func (m Model) Get(name string) *uint256.Int {
	if v, ok := m[name]; ok && v != nil {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// Clone returns a copy of the model.
func (m Model) Clone() Model {
	c := make(Model, len(m))
	for k, v := range m {
		c[k] = new(uint256.Int).Set(v)
	}
	return c
}

// Names returns the assigned symbol names in sorted order.
func (m Model) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// evaluator computes concrete values of expressions under a model, memoizing shared sub-expressions.
type evaluator struct {
	model Model
	words map[*BitVec]*uint256.Int
	bools map[*Bool]bool
}

func newEvaluator(m Model) *evaluator {
	return &evaluator{model: m, words: make(map[*BitVec]*uint256.Int), bools: make(map[*Bool]bool)}
}

func (e *evaluator) word(b *BitVec) *uint256.Int {
	if v, ok := e.words[b]; ok {
		return v
	}

	var v *uint256.Int
	switch b.op {
	case OpConst:
		v = &b.value
	case OpSymbol:
		v = e.model.Get(b.name)
		if b.width == ByteWidth {
			v.And(v, uint256.NewInt(0xff))
		}
	case OpIte:
		if e.bool(b.cond) {
			v = e.word(b.args[0])
		} else {
			v = e.word(b.args[1])
		}
	default:
		vals := make([]*uint256.Int, len(b.args))
		for i, arg := range b.args {
			vals[i] = e.word(arg)
		}
		v = applyOp(b.op, b.index, vals)
	}
	e.words[b] = v
	return v
}

func (e *evaluator) bool(c *Bool) bool {
	if v, ok := e.bools[c]; ok {
		return v
	}

	var v bool
	switch c.op {
	case BoolConst:
		v = c.value
	case BoolEq:
		v = e.word(c.a).Eq(e.word(c.b))
	case BoolUlt:
		v = e.word(c.a).Lt(e.word(c.b))
	case BoolSlt:
		v = e.word(c.a).Slt(e.word(c.b))
	case BoolAnd:
		v = true
		for _, arg := range c.args {
			if !e.bool(arg) {
				v = false
				break
			}
		}
	case BoolOr:
		for _, arg := range c.args {
			if e.bool(arg) {
				v = true
				break
			}
		}
	case BoolNot:
		v = !e.bool(c.args[0])
	}
	e.bools[c] = v
	return v
}

// Eval computes the concrete value of the expression under the provided model.
func (b *BitVec) Eval(m Model) *uint256.Int {
	return new(uint256.Int).Set(newEvaluator(m).word(b))
}

// Eval computes the truth value of the predicate under the provided model.
func (c *Bool) Eval(m Model) bool {
	return newEvaluator(m).bool(c)
}

// substituter replaces assigned symbols by constants, re-simplifying every rebuilt node.
type substituter struct {
	model Model
	words map[*BitVec]*BitVec
	bools map[*Bool]*Bool
}

func newSubstituter(m Model) *substituter {
	return &substituter{model: m, words: make(map[*BitVec]*BitVec), bools: make(map[*Bool]*Bool)}
}

func (s *substituter) word(b *BitVec) *BitVec {
	if r, ok := s.words[b]; ok {
		return r
	}

	r := b
	switch b.op {
	case OpConst:
	case OpSymbol:
		if v, ok := s.model[b.name]; ok {
			r = newConst(v, b.width)
		}
	default:
		changed := false
		args := make([]*BitVec, len(b.args))
		for i, arg := range b.args {
			args[i] = s.word(arg)
			changed = changed || args[i] != arg
		}
		var cond *Bool
		if b.cond != nil {
			cond = s.bool(b.cond)
			changed = changed || cond != b.cond
		}
		if changed {
			r = rebuild(b, args, cond)
		}
	}
	s.words[b] = r
	return r
}

func (s *substituter) bool(c *Bool) *Bool {
	if r, ok := s.bools[c]; ok {
		return r
	}

	r := c
	switch c.op {
	case BoolConst:
	case BoolEq, BoolUlt, BoolSlt:
		a, b := s.word(c.a), s.word(c.b)
		if a != c.a || b != c.b {
			r = rebuildBool(c, a, b, nil)
		}
	default:
		changed := false
		args := make([]*Bool, len(c.args))
		for i, arg := range c.args {
			args[i] = s.bool(arg)
			changed = changed || args[i] != arg
		}
		if changed {
			r = rebuildBool(c, nil, nil, args)
		}
	}
	s.bools[c] = r
	return r
}

// Substitute returns the expression with every symbol assigned in the model replaced by its value.
func (b *BitVec) Substitute(m Model) *BitVec {
	return newSubstituter(m).word(b)
}

// Substitute returns the predicate with every symbol assigned in the model replaced by its value.
func (c *Bool) Substitute(m Model) *Bool {
	return newSubstituter(m).bool(c)
}

// symbolCollector walks expression DAGs once per node, collecting free symbols.
type symbolCollector struct {
	symbols map[string]*BitVec
	seenW   map[*BitVec]struct{}
	seenB   map[*Bool]struct{}
}

func newSymbolCollector() *symbolCollector {
	return &symbolCollector{
		symbols: make(map[string]*BitVec),
		seenW:   make(map[*BitVec]struct{}),
		seenB:   make(map[*Bool]struct{}),
	}
}

func (s *symbolCollector) word(b *BitVec) {
	if _, ok := s.seenW[b]; ok {
		return
	}
	s.seenW[b] = struct{}{}
	if b.op == OpSymbol {
		s.symbols[b.name] = b
		return
	}
	for _, arg := range b.args {
		s.word(arg)
	}
	if b.cond != nil {
		s.bool(b.cond)
	}
}

func (s *symbolCollector) bool(c *Bool) {
	if _, ok := s.seenB[c]; ok {
		return
	}
	s.seenB[c] = struct{}{}
	if c.a != nil {
		s.word(c.a)
		s.word(c.b)
	}
	for _, arg := range c.args {
		s.bool(arg)
	}
}

func (s *symbolCollector) names() []string {
	names := make([]string, 0, len(s.symbols))
	for name := range s.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Vars returns the sorted names of the free symbols in the expression.
func (b *BitVec) Vars() []string {
	s := newSymbolCollector()
	s.word(b)
	return s.names()
}

// Vars returns the sorted names of the free symbols in the predicate.
func (c *Bool) Vars() []string {
	s := newSymbolCollector()
	s.bool(c)
	return s.names()
}

// Symbols returns the free symbols in the predicate keyed by name.
func (c *Bool) Symbols() map[string]*BitVec {
	s := newSymbolCollector()
	s.bool(c)
	return s.symbols
}
