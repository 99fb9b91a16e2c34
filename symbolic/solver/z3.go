//go:build z3

package solver

/*
#cgo LDFLAGS: -lz3
#include <stdlib.h>
#include <z3.h>
*/
import "C"

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"github.com/crytic/warden/symbolic"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Z3Solver decides path propositions with the Z3 SMT solver over the theory of bit-vectors. Keccak and EXP have no
// bit-vector encoding and are modeled as uninterpreted functions, so every model is verified by evaluation before it
// is reported and a model that only holds for the uninterpreted functions yields a Timeout. Unsat results are exact,
// as a proposition unsatisfiable for every interpretation is unsatisfiable for the real one.
type Z3Solver struct{}

// NewZ3Solver returns a Z3Solver.
func NewZ3Solver() *Z3Solver {
	return &Z3Solver{}
}

// Solve decides whether the proposition is satisfiable. Each query runs in its own Z3 context, so queries may be
// issued concurrently.
func (s *Z3Solver) Solve(ctx context.Context, proposition symbolic.Proposition) (Result, error) {
	if ctx.Err() != nil {
		return Result{Status: Timeout}, nil
	}
	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		if timeout = time.Until(deadline); timeout <= 0 {
			return Result{Status: Timeout}, nil
		}
	}

	z := newZ3Context(timeout)
	defer z.close()

	// Interrupt the search if the query is cancelled before the deadline fires inside Z3.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			C.Z3_interrupt(z.raw)
		case <-done:
		}
	}()
	defer wg.Wait()
	defer close(done)

	status, model, err := z.solve(proposition)
	if err != nil {
		return Result{}, err
	}
	if status != Sat {
		return Result{Status: status}, nil
	}

	// Models that rely on the uninterpreted functions do not hold for the real keccak or exponentiation.
	if !proposition.Eval(model) {
		return Result{Status: Timeout}, nil
	}
	return Result{Status: Sat, Model: model}, nil
}

// z3Error describes a failed Z3 API call.
type z3Error struct {
	code    int
	op      string
	message string
}

// Error returns the formatted error message.
func (e *z3Error) Error() string {
	return fmt.Sprintf("z3: %s: %s (code %d)", e.op, e.message, e.code)
}

// z3Context translates symbolic expressions into a single Z3 context. It is not safe for concurrent use.
type z3Context struct {
	raw C.Z3_context

	// timeout bounds each check. Zero leaves checks unbounded.
	timeout time.Duration

	word, byte C.Z3_sort

	// words and bools memoize translated nodes, as expressions share subterms heavily.
	words map[*symbolic.BitVec]C.Z3_ast
	bools map[*symbolic.Bool]C.Z3_ast

	// symbols holds the declared constants keyed by name.
	symbols map[string]C.Z3_ast

	// functions holds the uninterpreted functions keyed by name.
	functions map[string]C.Z3_func_decl

	// hashes holds every translated keccak application with its translated input.
	hashes []hashApplication
}

// hashApplication is a keccak node alongside the translation of its input.
type hashApplication struct {
	width  int
	input  C.Z3_ast
	output C.Z3_ast
}

// newZ3Context creates a Z3 context whose checks give up after timeout. A zero timeout leaves checks unbounded.
func newZ3Context(timeout time.Duration) *z3Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	return &z3Context{
		raw:       raw,
		timeout:   timeout,
		word:      C.Z3_mk_bv_sort(raw, symbolic.WordWidth),
		byte:      C.Z3_mk_bv_sort(raw, symbolic.ByteWidth),
		words:     make(map[*symbolic.BitVec]C.Z3_ast),
		bools:     make(map[*symbolic.Bool]C.Z3_ast),
		symbols:   make(map[string]C.Z3_ast),
		functions: make(map[string]C.Z3_func_decl),
	}
}

// setTimeout bounds checks of the solver, in milliseconds.
func (z *z3Context) setTimeout(solver C.Z3_solver) {
	if z.timeout <= 0 {
		return
	}
	params := C.Z3_mk_params(z.raw)
	C.Z3_params_inc_ref(z.raw, params)
	defer C.Z3_params_dec_ref(z.raw, params)

	name := C.CString("timeout")
	defer C.free(unsafe.Pointer(name))
	C.Z3_params_set_uint(z.raw, params, C.Z3_mk_string_symbol(z.raw, name), C.uint(max(z.timeout.Milliseconds(), 1)))
	C.Z3_solver_set_params(z.raw, solver, params)
}

// close deletes the context and every AST created in it.
func (z *z3Context) close() {
	C.Z3_del_context(z.raw)
}

// err returns the error of the last API call, or nil if it succeeded.
func (z *z3Context) err(op string) error {
	if code := C.Z3_get_error_code(z.raw); code != C.Z3_OK {
		return &z3Error{code: int(code), op: op, message: C.GoString(C.Z3_get_error_msg(z.raw, code))}
	}
	return nil
}

// solve asserts the proposition and checks it, returning the model of its symbols when satisfiable.
func (z *z3Context) solve(proposition symbolic.Proposition) (Status, symbolic.Model, error) {
	solver := C.Z3_mk_solver(z.raw)
	if err := z.err("Z3_mk_solver"); err != nil {
		return Timeout, nil, err
	}
	C.Z3_solver_inc_ref(z.raw, solver)
	defer C.Z3_solver_dec_ref(z.raw, solver)
	z.setTimeout(solver)

	symbols := make(map[string]*symbolic.BitVec)
	for _, c := range proposition.Conjuncts() {
		ast, err := z.boolean(c)
		if err != nil {
			return Timeout, nil, err
		}
		C.Z3_solver_assert(z.raw, solver, ast)
		for name, symbol := range c.Symbols() {
			symbols[name] = symbol
		}
	}
	for _, axiom := range z.hashAxioms() {
		C.Z3_solver_assert(z.raw, solver, axiom)
	}
	if err := z.err("Z3_solver_assert"); err != nil {
		return Timeout, nil, err
	}

	switch C.Z3_solver_check(z.raw, solver) {
	case C.Z3_L_FALSE:
		return Unsat, nil, nil
	case C.Z3_L_UNDEF:
		// Timeouts, interrupts and incomplete theories all leave the query undecided.
		return Timeout, nil, nil
	}

	model := C.Z3_solver_get_model(z.raw, solver)
	if err := z.err("Z3_solver_get_model"); err != nil {
		return Timeout, nil, err
	}
	C.Z3_model_inc_ref(z.raw, model)
	defer C.Z3_model_dec_ref(z.raw, model)

	values := make(symbolic.Model, len(symbols))
	for name, symbol := range symbols {
		var out C.Z3_ast
		if !C.Z3_model_eval(z.raw, model, z.symbol(symbol), true, &out) {
			return Timeout, nil, z.err("Z3_model_eval")
		}
		value := new(uint256.Int)
		if err := value.SetFromDecimal(C.GoString(C.Z3_get_numeral_string(z.raw, out))); err != nil {
			return Timeout, nil, errors.Wrapf(err, "z3 returned a non-numeral value for %v", name)
		}
		values[name] = value
	}
	return Sat, values, nil
}

// hashAxioms returns the properties the rest of the analysis assumes of keccak: distinct inputs of the same length
// never collide, and no digest is a small constant.
func (z *z3Context) hashAxioms() []C.Z3_ast {
	bound := z.numeral(new(uint256.Int).Lsh(uint256.NewInt(1), 128), z.word)
	axioms := make([]C.Z3_ast, 0, len(z.hashes))
	for i, a := range z.hashes {
		axioms = append(axioms, C.Z3_mk_bvult(z.raw, bound, a.output))
		for _, b := range z.hashes[i+1:] {
			if a.width != b.width {
				continue
			}
			axioms = append(axioms, C.Z3_mk_implies(z.raw,
				C.Z3_mk_eq(z.raw, a.output, b.output), C.Z3_mk_eq(z.raw, a.input, b.input)))
		}
	}
	return axioms
}

// numeral returns the constant v in the provided sort.
func (z *z3Context) numeral(v *uint256.Int, sort C.Z3_sort) C.Z3_ast {
	s := C.CString(v.Dec())
	defer C.free(unsafe.Pointer(s))
	return C.Z3_mk_numeral(z.raw, s, sort)
}

func (z *z3Context) uint(v uint64, sort C.Z3_sort) C.Z3_ast {
	return C.Z3_mk_unsigned_int64(z.raw, C.uint64_t(v), sort)
}

// symbol returns the constant declared for a symbol, declaring it on first use.
func (z *z3Context) symbol(b *symbolic.BitVec) C.Z3_ast {
	if ast, ok := z.symbols[b.Name()]; ok {
		return ast
	}
	sort := z.word
	if b.Width() == symbolic.ByteWidth {
		sort = z.byte
	}
	name := C.CString(b.Name())
	defer C.free(unsafe.Pointer(name))
	ast := C.Z3_mk_const(z.raw, C.Z3_mk_string_symbol(z.raw, name), sort)
	z.symbols[b.Name()] = ast
	return ast
}

// function returns the uninterpreted function with the provided name and signature, declaring it on first use.
func (z *z3Context) function(name string, domain []C.Z3_sort, rng C.Z3_sort) C.Z3_func_decl {
	if decl, ok := z.functions[name]; ok {
		return decl
	}
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	decl := C.Z3_mk_func_decl(z.raw, C.Z3_mk_string_symbol(z.raw, cName), C.uint(len(domain)), &domain[0], rng)
	z.functions[name] = decl
	return decl
}

// ite returns the word-level if-then-else.
func (z *z3Context) ite(cond, t, f C.Z3_ast) C.Z3_ast {
	return C.Z3_mk_ite(z.raw, cond, t, f)
}

// isZero returns the predicate a == 0 for a word.
func (z *z3Context) isZero(a C.Z3_ast) C.Z3_ast {
	return C.Z3_mk_eq(z.raw, a, z.uint(0, z.word))
}

// widen zero-extends a word to 512 bits.
func (z *z3Context) widen(a C.Z3_ast) C.Z3_ast {
	return C.Z3_mk_zero_ext(z.raw, symbolic.WordWidth, a)
}

// narrow truncates a 512-bit value to its low word.
func (z *z3Context) narrow(a C.Z3_ast) C.Z3_ast {
	return C.Z3_mk_extract(z.raw, symbolic.WordWidth-1, 0, a)
}

// bitvec translates a bit-vector expression, memoizing every node.
func (z *z3Context) bitvec(b *symbolic.BitVec) (C.Z3_ast, error) {
	if ast, ok := z.words[b]; ok {
		return ast, nil
	}
	args := make([]C.Z3_ast, len(b.Args()))
	for i, arg := range b.Args() {
		ast, err := z.bitvec(arg)
		if err != nil {
			return nil, err
		}
		args[i] = ast
	}

	var ast C.Z3_ast
	switch b.Op() {
	case symbolic.OpConst:
		sort := z.word
		if b.Width() == symbolic.ByteWidth {
			sort = z.byte
		}
		ast = z.numeral(b.Value(), sort)
	case symbolic.OpSymbol:
		ast = z.symbol(b)
	case symbolic.OpAdd:
		ast = C.Z3_mk_bvadd(z.raw, args[0], args[1])
	case symbolic.OpSub:
		ast = C.Z3_mk_bvsub(z.raw, args[0], args[1])
	case symbolic.OpMul:
		ast = C.Z3_mk_bvmul(z.raw, args[0], args[1])
	// The EVM defines division and remainder by zero as zero.
	case symbolic.OpDiv:
		ast = z.ite(z.isZero(args[1]), args[1], C.Z3_mk_bvudiv(z.raw, args[0], args[1]))
	case symbolic.OpSDiv:
		ast = z.ite(z.isZero(args[1]), args[1], C.Z3_mk_bvsdiv(z.raw, args[0], args[1]))
	case symbolic.OpMod:
		ast = z.ite(z.isZero(args[1]), args[1], C.Z3_mk_bvurem(z.raw, args[0], args[1]))
	case symbolic.OpSMod:
		ast = z.ite(z.isZero(args[1]), args[1], C.Z3_mk_bvsrem(z.raw, args[0], args[1]))
	case symbolic.OpAddMod:
		sum := C.Z3_mk_bvadd(z.raw, z.widen(args[0]), z.widen(args[1]))
		ast = z.ite(z.isZero(args[2]), args[2], z.narrow(C.Z3_mk_bvurem(z.raw, sum, z.widen(args[2]))))
	case symbolic.OpMulMod:
		product := C.Z3_mk_bvmul(z.raw, z.widen(args[0]), z.widen(args[1]))
		ast = z.ite(z.isZero(args[2]), args[2], z.narrow(C.Z3_mk_bvurem(z.raw, product, z.widen(args[2]))))
	case symbolic.OpExp:
		exp := z.function("exp", []C.Z3_sort{z.word, z.word}, z.word)
		ast = C.Z3_mk_app(z.raw, exp, 2, &args[0])
	case symbolic.OpSignExtend:
		ast = z.signExtend(args[0], args[1])
	case symbolic.OpAnd:
		ast = C.Z3_mk_bvand(z.raw, args[0], args[1])
	case symbolic.OpOr:
		ast = C.Z3_mk_bvor(z.raw, args[0], args[1])
	case symbolic.OpXor:
		ast = C.Z3_mk_bvxor(z.raw, args[0], args[1])
	case symbolic.OpNot:
		ast = C.Z3_mk_bvnot(z.raw, args[0])
	// Bit-vector shifts already saturate for shift amounts of 256 or more.
	case symbolic.OpShl:
		ast = C.Z3_mk_bvshl(z.raw, args[0], args[1])
	case symbolic.OpShr:
		ast = C.Z3_mk_bvlshr(z.raw, args[0], args[1])
	case symbolic.OpSar:
		ast = C.Z3_mk_bvashr(z.raw, args[0], args[1])
	case symbolic.OpByte:
		// byte(i, x) = (x >> (248 - 8i)) & 0xff for i < 32, else 0.
		shift := C.Z3_mk_bvmul(z.raw, C.Z3_mk_bvsub(z.raw, z.uint(31, z.word), args[0]), z.uint(8, z.word))
		selected := C.Z3_mk_bvand(z.raw, C.Z3_mk_bvlshr(z.raw, args[1], shift), z.uint(0xff, z.word))
		ast = z.ite(C.Z3_mk_bvult(z.raw, args[0], z.uint(32, z.word)), selected, z.uint(0, z.word))
	case symbolic.OpConcat:
		ast = args[0]
		for _, arg := range args[1:] {
			ast = C.Z3_mk_concat(z.raw, ast, arg)
		}
	case symbolic.OpExtract:
		hi := symbolic.WordWidth - 1 - symbolic.ByteWidth*b.Index()
		ast = C.Z3_mk_extract(z.raw, C.uint(hi), C.uint(hi-symbolic.ByteWidth+1), args[0])
	case symbolic.OpKeccak:
		input := args[0]
		for _, arg := range args[1:] {
			input = C.Z3_mk_concat(z.raw, input, arg)
		}
		width := len(args) * symbolic.ByteWidth
		domain := []C.Z3_sort{C.Z3_mk_bv_sort(z.raw, C.uint(width))}
		keccak := z.function("keccak256_"+strconv.Itoa(len(args)), domain, z.word)
		ast = C.Z3_mk_app(z.raw, keccak, 1, &input)
		z.hashes = append(z.hashes, hashApplication{width: width, input: input, output: ast})
	case symbolic.OpIte:
		cond, err := z.boolean(b.Cond())
		if err != nil {
			return nil, err
		}
		ast = z.ite(cond, args[0], args[1])
	default:
		return nil, errors.Errorf("z3: cannot translate operator %v", b.Op())
	}
	if err := z.err(b.Op().String()); err != nil {
		return nil, err
	}
	z.words[b] = ast
	return ast, nil
}

// signExtend translates signextend(byteNum, x) as a choice over the 31 byte positions that change the value.
func (z *z3Context) signExtend(byteNum, x C.Z3_ast) C.Z3_ast {
	ast := x
	for i := 30; i >= 0; i-- {
		bits := C.uint(symbolic.ByteWidth * (i + 1))
		low := C.Z3_mk_extract(z.raw, bits-1, 0, x)
		extended := C.Z3_mk_sign_ext(z.raw, symbolic.WordWidth-bits, low)
		ast = z.ite(C.Z3_mk_eq(z.raw, byteNum, z.uint(uint64(i), z.word)), extended, ast)
	}
	return ast
}

// boolean translates a predicate, memoizing every node.
func (z *z3Context) boolean(c *symbolic.Bool) (C.Z3_ast, error) {
	if ast, ok := z.bools[c]; ok {
		return ast, nil
	}

	var ast C.Z3_ast
	switch c.Op() {
	case symbolic.BoolConst:
		if c.IsTrue() {
			ast = C.Z3_mk_true(z.raw)
		} else {
			ast = C.Z3_mk_false(z.raw)
		}
	case symbolic.BoolEq, symbolic.BoolUlt, symbolic.BoolSlt:
		a, b := c.Operands()
		lhs, err := z.bitvec(a)
		if err != nil {
			return nil, err
		}
		rhs, err := z.bitvec(b)
		if err != nil {
			return nil, err
		}
		switch c.Op() {
		case symbolic.BoolEq:
			ast = C.Z3_mk_eq(z.raw, lhs, rhs)
		case symbolic.BoolUlt:
			ast = C.Z3_mk_bvult(z.raw, lhs, rhs)
		default:
			ast = C.Z3_mk_bvslt(z.raw, lhs, rhs)
		}
	case symbolic.BoolAnd, symbolic.BoolOr, symbolic.BoolNot:
		args := make([]C.Z3_ast, len(c.Args()))
		for i, arg := range c.Args() {
			translated, err := z.boolean(arg)
			if err != nil {
				return nil, err
			}
			args[i] = translated
		}
		switch c.Op() {
		case symbolic.BoolAnd:
			ast = C.Z3_mk_and(z.raw, C.uint(len(args)), &args[0])
		case symbolic.BoolOr:
			ast = C.Z3_mk_or(z.raw, C.uint(len(args)), &args[0])
		default:
			ast = C.Z3_mk_not(z.raw, args[0])
		}
	default:
		return nil, errors.Errorf("z3: cannot translate predicate operator %v", c.Op())
	}
	if err := z.err("predicate"); err != nil {
		return nil, err
	}
	z.bools[c] = ast
	return ast, nil
}
