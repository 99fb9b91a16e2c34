package solver

import (
	"context"
	"sort"

	"github.com/crytic/warden/symbolic"
	"github.com/holiman/uint256"
)

// DefaultSearchBudget is the default number of candidate assignments a SearchSolver evaluates per query.
const DefaultSearchBudget = 200_000

// maxCandidates bounds the number of candidate values tried for a single unit.
const maxCandidates = 96

// SearchSolver is a built-in decision procedure for path propositions. It propagates forced equalities and unsigned
// bounds, then runs a deterministic backtracking search over candidate values mined from the proposition's own
// constants. Satisfying models are always verified by evaluation. Unsat is only reported when a predicate is refuted
// or every symbol left ranges over a fully enumerated byte domain; any other failure to find a model is a Timeout.
type SearchSolver struct {
	// budget is the maximum number of candidate assignments evaluated per query.
	budget int
}

// NewSearchSolver returns a SearchSolver with the provided per-query budget. A non-positive budget selects
// DefaultSearchBudget.
func NewSearchSolver(budget int) *SearchSolver {
	if budget <= 0 {
		budget = DefaultSearchBudget
	}
	return &SearchSolver{budget: budget}
}

// Solve decides whether the proposition is satisfiable.
func (s *SearchSolver) Solve(ctx context.Context, proposition symbolic.Proposition) (Result, error) {
	if ctx.Err() != nil {
		return Result{Status: Timeout}, nil
	}

	model := symbolic.Model{}
	remaining, ok := propagate(proposition.Conjuncts(), model)
	if !ok || !withinBounds(remaining) {
		return Result{Status: Unsat}, nil
	}

	if len(remaining) > 0 {
		search := newSearch(ctx, remaining, model, s.budget)
		switch search.run() {
		case Unsat:
			return Result{Status: Unsat}, nil
		case Timeout:
			return Result{Status: Timeout}, nil
		}
	}

	// Every model must satisfy the original proposition, not just its simplified form.
	if !proposition.Eval(model) {
		return Result{Status: Timeout}, nil
	}
	return Result{Status: Sat, Model: model}, nil
}

// propagate assigns symbols whose values are forced by equalities with constants, substituting them until a fixed
// point is reached. It returns the predicates left undecided, or false if a predicate was refuted.
func propagate(conjuncts []*symbolic.Bool, model symbolic.Model) ([]*symbolic.Bool, bool) {
	for {
		changed := false
		next := make([]*symbolic.Bool, 0, len(conjuncts))
		for _, c := range conjuncts {
			for _, d := range flatten(c.Substitute(model)) {
				if d.IsFalse() {
					return nil, false
				}
				if d.IsTrue() {
					continue
				}
				if assignForced(d, model) {
					changed = true
					continue
				}
				next = append(next, d)
			}
		}
		conjuncts = next
		if !changed {
			return conjuncts, true
		}
	}
}

// flatten splits a conjunction into its parts.
func flatten(c *symbolic.Bool) []*symbolic.Bool {
	if c.Op() != symbolic.BoolAnd {
		return []*symbolic.Bool{c}
	}
	out := make([]*symbolic.Bool, 0, len(c.Args()))
	for _, arg := range c.Args() {
		out = append(out, flatten(arg)...)
	}
	return out
}

// assignForced records an assignment for equalities of the form symbol == constant, including masked symbols such as
// addresses (symbol & mask == constant). It reports whether the predicate was consumed.
func assignForced(c *symbolic.Bool, model symbolic.Model) bool {
	if c.Op() != symbolic.BoolEq {
		return false
	}
	a, b := c.Operands()
	if !b.IsConst() {
		return false
	}
	if a.IsSymbol() {
		if _, ok := model[a.Name()]; !ok {
			model[a.Name()] = b.Value()
			return true
		}
		return false
	}
	if a.Op() == symbolic.OpAnd && a.Args()[0].IsSymbol() && a.Args()[1].IsConst() {
		sym, mask, value := a.Args()[0], a.Args()[1].Value(), b.Value()
		if _, ok := model[sym.Name()]; ok {
			return false
		}
		if new(uint256.Int).And(value, mask).Eq(value) {
			model[sym.Name()] = value
			return true
		}
	}
	return false
}

// interval is the unsigned range a symbol is bounded to.
type interval struct {
	lo, hi uint256.Int
}

// withinBounds collects the unsigned bounds that comparisons between a symbol and a constant place on the symbol,
// and reports false if some symbol is left with an empty range.
func withinBounds(conjuncts []*symbolic.Bool) bool {
	ranges := make(map[string]*interval)
	rangeOf := func(b *symbolic.BitVec) *interval {
		r, ok := ranges[b.Name()]
		if !ok {
			r = &interval{}
			r.hi.SetAllOne()
			if b.Width() == symbolic.ByteWidth {
				r.hi.SetUint64(0xff)
			}
			ranges[b.Name()] = r
		}
		return r
	}
	atMost := func(r *interval, v *uint256.Int) {
		if v.Lt(&r.hi) {
			r.hi.Set(v)
		}
	}
	atLeast := func(r *interval, v *uint256.Int) {
		if v.Gt(&r.lo) {
			r.lo.Set(v)
		}
	}

	for _, c := range conjuncts {
		negated := false
		if c.Op() == symbolic.BoolNot && c.Args()[0].Op() == symbolic.BoolUlt {
			c, negated = c.Args()[0], true
		}
		if c.Op() != symbolic.BoolUlt {
			continue
		}
		a, b := c.Operands()
		switch {
		case a.IsSymbol() && b.IsConst() && !negated:
			// a < b, b is never zero once folded
			atMost(rangeOf(a), new(uint256.Int).SubUint64(b.Value(), 1))
		case a.IsSymbol() && b.IsConst():
			atLeast(rangeOf(a), b.Value())
		case a.IsConst() && b.IsSymbol() && !negated:
			if a.Value().Eq(new(uint256.Int).SetAllOne()) {
				return false
			}
			atLeast(rangeOf(b), new(uint256.Int).AddUint64(a.Value(), 1))
		case a.IsConst() && b.IsSymbol():
			atMost(rangeOf(b), a.Value())
		}
	}
	for _, r := range ranges {
		if r.lo.Gt(&r.hi) {
			return false
		}
	}
	return true
}

// unit is a group of symbols assigned together during the search: either a single symbol or the byte symbols that
// make up one word.
type unit struct {
	// symbols are the symbol names assigned by this unit.
	symbols []string

	// positions holds, for word units, the byte index within the word of each symbol.
	positions []int

	// width is the width of a single-symbol unit.
	width int

	// candidates are the values tried for this unit, in order.
	candidates []*uint256.Int
}

// apply assigns a candidate value to the unit's symbols.
func (u *unit) apply(v *uint256.Int, model symbolic.Model) {
	if u.positions == nil {
		if u.width == symbolic.ByteWidth {
			model[u.symbols[0]] = new(uint256.Int).And(v, uint256.NewInt(0xff))
		} else {
			model[u.symbols[0]] = v
		}
		return
	}
	buf := v.Bytes32()
	for i, name := range u.symbols {
		model[name] = uint256.NewInt(uint64(buf[u.positions[i]]))
	}
}

// clear removes the unit's assignments from the model.
func (u *unit) clear(model symbolic.Model) {
	for _, name := range u.symbols {
		delete(model, name)
	}
}

// search is the state of a single backtracking search.
type search struct {
	ctx       context.Context
	model     symbolic.Model
	units     []*unit
	ready     [][]*symbolic.Bool
	budget    int
	steps     int
	exhausted bool

	// complete indicates every unit ranges over its whole domain, so a failed search refutes the predicates.
	complete bool
}

// newSearch partitions the undecided predicates' symbols into units and schedules each predicate to be checked as
// soon as its last unit is assigned.
func newSearch(ctx context.Context, conjuncts []*symbolic.Bool, model symbolic.Model, budget int) *search {
	s := &search{ctx: ctx, model: model, budget: budget}

	wordCandidates, byteCandidates := mineCandidates(conjuncts)

	// Group byte symbols of call data style words first so a whole argument is searched as one value.
	unitOf := make(map[string]int)
	for _, c := range conjuncts {
		for _, w := range concatNodes(c) {
			u := &unit{}
			for i, part := range w.Args() {
				if !part.IsSymbol() {
					continue
				}
				if _, taken := unitOf[part.Name()]; taken {
					continue
				}
				if _, assigned := model[part.Name()]; assigned {
					continue
				}
				u.symbols = append(u.symbols, part.Name())
				u.positions = append(u.positions, i)
			}
			if len(u.symbols) == 0 {
				continue
			}
			u.candidates = wordCandidates
			for _, name := range u.symbols {
				unitOf[name] = len(s.units)
			}
			s.units = append(s.units, u)
		}
	}

	// Remaining symbols are searched individually, in order of first appearance.
	for _, c := range conjuncts {
		symbols := c.Symbols()
		for _, name := range sortedNames(symbols) {
			if _, taken := unitOf[name]; taken {
				continue
			}
			if _, assigned := model[name]; assigned {
				continue
			}
			u := &unit{symbols: []string{name}, width: symbols[name].Width(), candidates: wordCandidates}
			if u.width == symbolic.ByteWidth {
				u.candidates = byteCandidates
			}
			unitOf[name] = len(s.units)
			s.units = append(s.units, u)
		}
	}

	// A handful of free bytes is enumerated exhaustively, one byte per unit.
	s.complete = true
	var freeBytes []string
	space := 1
	for _, u := range s.units {
		if u.positions == nil && u.width != symbolic.ByteWidth {
			s.complete = false
			break
		}
		for range u.symbols {
			if space *= 256; space > budget {
				s.complete = false
				break
			}
		}
		if !s.complete {
			break
		}
		freeBytes = append(freeBytes, u.symbols...)
	}
	if s.complete {
		s.units = make([]*unit, len(freeBytes))
		for i, name := range freeBytes {
			s.units[i] = &unit{symbols: []string{name}, width: symbolic.ByteWidth, candidates: allBytes}
			unitOf[name] = i
		}
	}

	s.ready = make([][]*symbolic.Bool, len(s.units))
	for _, c := range conjuncts {
		last := 0
		for _, name := range c.Vars() {
			if i, ok := unitOf[name]; ok && i > last {
				last = i
			}
		}
		if len(s.units) > 0 {
			s.ready[last] = append(s.ready[last], c)
		}
	}
	return s
}

// run executes the search, returning Sat, Unsat or Timeout. Running out of candidates only proves unsatisfiability
// when the candidates were the whole domain.
func (s *search) run() Status {
	if s.assign(0) {
		return Sat
	}
	if s.complete && !s.exhausted {
		return Unsat
	}
	return Timeout
}

// allBytes holds every byte value, in order.
var allBytes = func() []*uint256.Int {
	values := make([]*uint256.Int, 256)
	for i := range values {
		values[i] = uint256.NewInt(uint64(i))
	}
	return values
}()

// assign tries every candidate for unit i, recursing into the following units while all ready predicates hold.
func (s *search) assign(i int) bool {
	if i == len(s.units) {
		return true
	}
	u := s.units[i]
	for _, candidate := range u.candidates {
		s.steps++
		if s.steps > s.budget || (s.steps%256 == 0 && s.ctx.Err() != nil) {
			s.exhausted = true
			return false
		}

		u.apply(candidate, s.model)
		holds := true
		for _, c := range s.ready[i] {
			if !c.Eval(s.model) {
				holds = false
				break
			}
		}
		if holds && s.assign(i+1) {
			return true
		}
		if s.exhausted {
			return false
		}
	}
	u.clear(s.model)
	return false
}

// concatNodes returns the byte-composed words appearing in a predicate, in traversal order.
func concatNodes(c *symbolic.Bool) []*symbolic.BitVec {
	var out []*symbolic.BitVec
	seen := make(map[*symbolic.BitVec]struct{})
	var walkWord func(b *symbolic.BitVec)
	var walkBool func(c *symbolic.Bool)
	walkWord = func(b *symbolic.BitVec) {
		if _, ok := seen[b]; ok {
			return
		}
		seen[b] = struct{}{}
		if b.Op() == symbolic.OpConcat {
			out = append(out, b)
			return
		}
		for _, arg := range b.Args() {
			walkWord(arg)
		}
		if b.Cond() != nil {
			walkBool(b.Cond())
		}
	}
	walkBool = func(c *symbolic.Bool) {
		if a, b := c.Operands(); a != nil {
			walkWord(a)
			walkWord(b)
		}
		for _, arg := range c.Args() {
			walkBool(arg)
		}
	}
	walkBool(c)
	return out
}

// mineCandidates derives candidate values from the constants of the undecided predicates: each constant, its
// neighbours, the constants shifted by any offset added to a symbolic term, and the boundary values.
func mineCandidates(conjuncts []*symbolic.Bool) ([]*uint256.Int, []*uint256.Int) {
	var constants, offsets, factors []*uint256.Int
	bytes := newValueSet()
	for _, v := range []uint64{0, 1, 2, 0xff} {
		bytes.add(uint256.NewInt(v))
	}

	seen := make(map[*symbolic.BitVec]struct{})
	var walkWord func(b *symbolic.BitVec)
	var walkBool func(c *symbolic.Bool)
	walkWord = func(b *symbolic.BitVec) {
		if _, ok := seen[b]; ok {
			return
		}
		seen[b] = struct{}{}
		if b.IsConst() {
			if b.Width() == symbolic.ByteWidth {
				bytes.add(b.Value())
			} else {
				constants = append(constants, b.Value())
				bytes.add(new(uint256.Int).And(b.Value(), uint256.NewInt(0xff)))
			}
			return
		}
		if b.Op() == symbolic.OpAdd && b.Args()[1].IsConst() {
			offsets = append(offsets, b.Args()[1].Value())
		}
		if b.Op() == symbolic.OpMul && b.Args()[1].IsConst() && !b.Args()[1].Value().IsZero() {
			factors = append(factors, b.Args()[1].Value())
		}
		for _, arg := range b.Args() {
			walkWord(arg)
		}
		if b.Cond() != nil {
			walkBool(b.Cond())
		}
	}
	walkBool = func(c *symbolic.Bool) {
		if a, b := c.Operands(); a != nil {
			walkWord(a)
			walkWord(b)
		}
		for _, arg := range c.Args() {
			walkBool(arg)
		}
	}
	for _, c := range conjuncts {
		walkBool(c)
	}

	words := newValueSet()
	for _, v := range []uint64{0, 1, 2} {
		words.add(uint256.NewInt(v))
	}
	for _, k := range constants {
		words.add(k)
		words.add(new(uint256.Int).AddUint64(k, 1))
		words.add(new(uint256.Int).SubUint64(k, 1))
	}
	for _, k := range constants {
		for _, o := range offsets {
			words.add(new(uint256.Int).Sub(k, o))
			words.add(new(uint256.Int).Sub(new(uint256.Int).Sub(k, o), uint256.NewInt(1)))
		}
	}
	for _, k := range constants {
		for _, f := range factors {
			words.add(quotient(k, f))
		}
	}
	words.add(new(uint256.Int).Not(uint256.NewInt(0)))
	return words.values(), bytes.values()
}

// quotient returns a value x with x*f == k modulo 2^256 when one is easy to find: the exact quotient when f divides k,
// otherwise k times the inverse of f when f is odd. Otherwise it returns the truncated quotient.
func quotient(k, f *uint256.Int) *uint256.Int {
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(k, f, r)
	if r.IsZero() || f.Uint64()&1 == 0 {
		return q
	}

	// Newton iteration doubles the number of correct low bits of the inverse each step.
	inverse := new(uint256.Int).Set(f)
	two := uint256.NewInt(2)
	for i := 0; i < 8; i++ {
		step := new(uint256.Int).Mul(f, inverse)
		inverse.Mul(inverse, step.Sub(two, step))
	}
	return q.Mul(k, inverse)
}

// valueSet is an insertion-ordered set of candidate values, capped at maxCandidates.
type valueSet struct {
	seen  map[uint256.Int]struct{}
	order []*uint256.Int
}

func newValueSet() *valueSet {
	return &valueSet{seen: make(map[uint256.Int]struct{})}
}

func (v *valueSet) add(x *uint256.Int) {
	if len(v.order) >= maxCandidates {
		return
	}
	if _, ok := v.seen[*x]; ok {
		return
	}
	v.seen[*x] = struct{}{}
	v.order = append(v.order, x)
}

func (v *valueSet) values() []*uint256.Int {
	return v.order
}

func sortedNames(symbols map[string]*symbolic.BitVec) []string {
	names := make([]string, 0, len(symbols))
	for name := range symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
