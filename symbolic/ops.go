package symbolic

import (
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

var maxWord = new(uint256.Int).Not(uint256.NewInt(0))

// applyOp computes the concrete result of an operator over concrete operand values. It is shared by constant folding
// and by model evaluation so both agree on the EVM semantics of every operator.
func applyOp(op Op, index int, vals []*uint256.Int) *uint256.Int {
	z := new(uint256.Int)
	switch op {
	case OpAdd:
		return z.Add(vals[0], vals[1])
	case OpSub:
		return z.Sub(vals[0], vals[1])
	case OpMul:
		return z.Mul(vals[0], vals[1])
	case OpDiv:
		return z.Div(vals[0], vals[1])
	case OpSDiv:
		return z.SDiv(vals[0], vals[1])
	case OpMod:
		return z.Mod(vals[0], vals[1])
	case OpSMod:
		return z.SMod(vals[0], vals[1])
	case OpAddMod:
		return z.AddMod(vals[0], vals[1], vals[2])
	case OpMulMod:
		return z.MulMod(vals[0], vals[1], vals[2])
	case OpExp:
		return z.Exp(vals[0], vals[1])
	case OpSignExtend:
		// Operands are (byteNum, value), in EVM stack order.
		return z.ExtendSign(vals[1], vals[0])
	case OpAnd:
		return z.And(vals[0], vals[1])
	case OpOr:
		return z.Or(vals[0], vals[1])
	case OpXor:
		return z.Xor(vals[0], vals[1])
	case OpNot:
		return z.Not(vals[0])
	case OpShl:
		if !vals[1].LtUint64(256) {
			return z
		}
		return z.Lsh(vals[0], uint(vals[1].Uint64()))
	case OpShr:
		if !vals[1].LtUint64(256) {
			return z
		}
		return z.Rsh(vals[0], uint(vals[1].Uint64()))
	case OpSar:
		if !vals[1].LtUint64(256) {
			if vals[0].Sign() < 0 {
				return z.Set(maxWord)
			}
			return z
		}
		return z.SRsh(vals[0], uint(vals[1].Uint64()))
	case OpByte:
		// Operands are (index, value), in EVM stack order.
		z.Set(vals[1])
		return z.Byte(vals[0])
	case OpConcat:
		var buf [32]byte
		for i, v := range vals {
			buf[i] = byte(v.Uint64())
		}
		return z.SetBytes32(buf[:])
	case OpExtract:
		buf := vals[0].Bytes32()
		return z.SetUint64(uint64(buf[index]))
	case OpKeccak:
		data := make([]byte, len(vals))
		for i, v := range vals {
			data[i] = byte(v.Uint64())
		}
		return z.SetBytes(keccak256(data))
	}
	panic(fmt.Sprintf("cannot apply operator %v to concrete values", op))
}

// keccak256 returns the legacy Keccak-256 digest used by the EVM.
func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// fold returns a constant expression if every operand is constant, otherwise nil.
func fold(op Op, width int, index int, args ...*BitVec) *BitVec {
	vals := make([]*uint256.Int, len(args))
	for i, arg := range args {
		if arg.op != OpConst {
			return nil
		}
		vals[i] = &arg.value
	}
	return newConst(applyOp(op, index, vals), width)
}

// word zero-extends byte expressions so they may be used as 256-bit operands.
func word(b *BitVec) *BitVec {
	if b.width == ByteWidth {
		return ZeroExtend(b)
	}
	return b
}

// constRight orders the operands of a commutative operator so a constant operand is always on the right.
func constRight(a, b *BitVec) (*BitVec, *BitVec) {
	a, b = word(a), word(b)
	if a.op == OpConst && b.op != OpConst {
		return b, a
	}
	return a, b
}

func (b *BitVec) isConstValue(v uint64) bool {
	return b.op == OpConst && b.value.IsUint64() && b.value.Uint64() == v
}

// ZeroExtend widens an 8-bit expression to a 256-bit word.
func ZeroExtend(b *BitVec) *BitVec {
	if b.width == WordWidth {
		return b
	}
	parts := make([]*BitVec, 32)
	for i := 0; i < 31; i++ {
		parts[i] = ByteConst(0)
	}
	parts[31] = b
	return Word(parts)
}

// Add returns a + b.
func Add(a, b *BitVec) *BitVec {
	a, b = constRight(a, b)
	if r := fold(OpAdd, WordWidth, 0, a, b); r != nil {
		return r
	}
	if b.isConstValue(0) {
		return a
	}
	if a.op == OpAdd && a.args[1].op == OpConst && b.op == OpConst {
		return Add(a.args[0], Const(new(uint256.Int).Add(&a.args[1].value, &b.value)))
	}
	return newBitVec(OpAdd, WordWidth, a, b)
}

// Sub returns a - b.
func Sub(a, b *BitVec) *BitVec {
	a, b = word(a), word(b)
	if r := fold(OpSub, WordWidth, 0, a, b); r != nil {
		return r
	}
	if b.isConstValue(0) {
		return a
	}
	if a.Equal(b) {
		return ConstUint64(0)
	}
	if b.op == OpConst {
		// Subtracting a constant is adding its two's complement, which keeps offset chains in one form.
		return Add(a, Const(new(uint256.Int).Neg(&b.value)))
	}
	return newBitVec(OpSub, WordWidth, a, b)
}

// Mul returns a * b.
func Mul(a, b *BitVec) *BitVec {
	a, b = constRight(a, b)
	if r := fold(OpMul, WordWidth, 0, a, b); r != nil {
		return r
	}
	if b.isConstValue(0) {
		return b
	}
	if b.isConstValue(1) {
		return a
	}
	return newBitVec(OpMul, WordWidth, a, b)
}

// Div returns the unsigned quotient a / b, with division by zero yielding zero.
func Div(a, b *BitVec) *BitVec {
	a, b = word(a), word(b)
	if r := fold(OpDiv, WordWidth, 0, a, b); r != nil {
		return r
	}
	if b.isConstValue(1) {
		return a
	}
	if b.op == OpConst && !b.value.IsZero() {
		// Division by a power of two is a logical right shift.
		n := b.value.BitLen() - 1
		if new(uint256.Int).Lsh(uint256.NewInt(1), uint(n)).Eq(&b.value) {
			return Shr(a, ConstUint64(uint64(n)))
		}
	}
	return newBitVec(OpDiv, WordWidth, a, b)
}

// SDiv returns the signed quotient a / b.
func SDiv(a, b *BitVec) *BitVec {
	return binaryOp(OpSDiv, a, b)
}

// Mod returns the unsigned remainder a % b.
func Mod(a, b *BitVec) *BitVec {
	return binaryOp(OpMod, a, b)
}

// SMod returns the signed remainder a % b.
func SMod(a, b *BitVec) *BitVec {
	return binaryOp(OpSMod, a, b)
}

// Exp returns base ** exponent.
func Exp(base, exponent *BitVec) *BitVec {
	return binaryOp(OpExp, base, exponent)
}

// AddMod returns (a + b) % m computed without intermediate overflow.
func AddMod(a, b, m *BitVec) *BitVec {
	a, b, m = word(a), word(b), word(m)
	if r := fold(OpAddMod, WordWidth, 0, a, b, m); r != nil {
		return r
	}
	return newBitVec(OpAddMod, WordWidth, a, b, m)
}

// MulMod returns (a * b) % m computed without intermediate overflow.
func MulMod(a, b, m *BitVec) *BitVec {
	a, b, m = word(a), word(b), word(m)
	if r := fold(OpMulMod, WordWidth, 0, a, b, m); r != nil {
		return r
	}
	return newBitVec(OpMulMod, WordWidth, a, b, m)
}

// SignExtend extends the sign bit of byte byteNum (counted from the least significant byte) of x.
func SignExtend(byteNum, x *BitVec) *BitVec {
	byteNum, x = word(byteNum), word(x)
	if r := fold(OpSignExtend, WordWidth, 0, byteNum, x); r != nil {
		return r
	}
	if byteNum.op == OpConst && !byteNum.value.LtUint64(31) {
		return x
	}
	return newBitVec(OpSignExtend, WordWidth, byteNum, x)
}

// binaryOp constructs a non-commutative binary operator with constant folding only.
func binaryOp(op Op, a, b *BitVec) *BitVec {
	a, b = word(a), word(b)
	if r := fold(op, WordWidth, 0, a, b); r != nil {
		return r
	}
	return newBitVec(op, WordWidth, a, b)
}

// And returns the bitwise conjunction of a and b.
func And(a, b *BitVec) *BitVec {
	a, b = constRight(a, b)
	if r := fold(OpAnd, WordWidth, 0, a, b); r != nil {
		return r
	}
	if b.isConstValue(0) {
		return b
	}
	if b.op == OpConst && b.value.Eq(maxWord) {
		return a
	}
	if a.Equal(b) {
		return a
	}
	if b.op == OpConst {
		// Byte-aligned masks over byte-composed words select whole bytes.
		if a.op == OpConcat {
			mask := b.value.Bytes32()
			aligned := true
			for _, m := range mask {
				if m != 0 && m != 0xff {
					aligned = false
					break
				}
			}
			if aligned {
				parts := make([]*BitVec, 32)
				for i, m := range mask {
					if m == 0 {
						parts[i] = ByteConst(0)
					} else {
						parts[i] = a.args[i]
					}
				}
				return Word(parts)
			}
		}
		if a.op == OpAnd && a.args[1].op == OpConst {
			return And(a.args[0], Const(new(uint256.Int).And(&a.args[1].value, &b.value)))
		}
	}
	return newBitVec(OpAnd, WordWidth, a, b)
}

// Or returns the bitwise disjunction of a and b.
func Or(a, b *BitVec) *BitVec {
	a, b = constRight(a, b)
	if r := fold(OpOr, WordWidth, 0, a, b); r != nil {
		return r
	}
	if b.isConstValue(0) || a.Equal(b) {
		return a
	}
	if a.op == OpConcat && b.op == OpConcat {
		// Words whose bytes never overlap merge into a single word.
		parts := make([]*BitVec, 32)
		for i := range parts {
			switch {
			case a.args[i].isConstValue(0):
				parts[i] = b.args[i]
			case b.args[i].isConstValue(0):
				parts[i] = a.args[i]
			default:
				return newBitVec(OpOr, WordWidth, a, b)
			}
		}
		return Word(parts)
	}
	return newBitVec(OpOr, WordWidth, a, b)
}

// Xor returns the bitwise exclusive disjunction of a and b.
func Xor(a, b *BitVec) *BitVec {
	a, b = constRight(a, b)
	if r := fold(OpXor, WordWidth, 0, a, b); r != nil {
		return r
	}
	if b.isConstValue(0) {
		return a
	}
	if a.Equal(b) {
		return ConstUint64(0)
	}
	return newBitVec(OpXor, WordWidth, a, b)
}

// Not returns the bitwise negation of a.
func Not(a *BitVec) *BitVec {
	a = word(a)
	if r := fold(OpNot, WordWidth, 0, a); r != nil {
		return r
	}
	if a.op == OpNot {
		return a.args[0]
	}
	return newBitVec(OpNot, WordWidth, a)
}

// Shl returns x shifted left by n bits.
func Shl(x, n *BitVec) *BitVec {
	x, n = word(x), word(n)
	if r := fold(OpShl, WordWidth, 0, x, n); r != nil {
		return r
	}
	if n.isConstValue(0) {
		return x
	}
	if k, ok := byteShift(n); ok && x.op == OpConcat {
		parts := make([]*BitVec, 32)
		for i := range parts {
			if i+k < 32 {
				parts[i] = x.args[i+k]
			} else {
				parts[i] = ByteConst(0)
			}
		}
		return Word(parts)
	}
	return newBitVec(OpShl, WordWidth, x, n)
}

// Shr returns x logically shifted right by n bits.
func Shr(x, n *BitVec) *BitVec {
	x, n = word(x), word(n)
	if r := fold(OpShr, WordWidth, 0, x, n); r != nil {
		return r
	}
	if n.isConstValue(0) {
		return x
	}
	if k, ok := byteShift(n); ok && x.op == OpConcat {
		parts := make([]*BitVec, 32)
		for i := range parts {
			if i-k >= 0 {
				parts[i] = x.args[i-k]
			} else {
				parts[i] = ByteConst(0)
			}
		}
		return Word(parts)
	}
	return newBitVec(OpShr, WordWidth, x, n)
}

// Sar returns x arithmetically shifted right by n bits.
func Sar(x, n *BitVec) *BitVec {
	x, n = word(x), word(n)
	if r := fold(OpSar, WordWidth, 0, x, n); r != nil {
		return r
	}
	if n.isConstValue(0) {
		return x
	}
	return newBitVec(OpSar, WordWidth, x, n)
}

// byteShift reports the number of whole bytes a constant shift amount covers.
func byteShift(n *BitVec) (int, bool) {
	v, ok := n.Uint64()
	if !ok || v%8 != 0 || v >= 256 {
		return 0, false
	}
	return int(v / 8), true
}

// Byte returns the EVM BYTE of x at index i: the i-th most significant byte, zero-extended.
func Byte(i, x *BitVec) *BitVec {
	i, x = word(i), word(x)
	if r := fold(OpByte, WordWidth, 0, i, x); r != nil {
		return r
	}
	if v, ok := i.Uint64(); ok {
		if v >= 32 {
			return ConstUint64(0)
		}
		return ZeroExtend(ByteOf(x, int(v)))
	}
	return newBitVec(OpByte, WordWidth, i, x)
}

// Word composes a 256-bit word from 32 byte expressions, most significant first.
func Word(parts []*BitVec) *BitVec {
	if len(parts) != 32 {
		panic(fmt.Sprintf("word requires 32 byte parts, got %d", len(parts)))
	}
	for _, p := range parts {
		if p.width != ByteWidth {
			panic("word parts must be byte expressions")
		}
	}
	if r := fold(OpConcat, WordWidth, 0, parts...); r != nil {
		return r
	}

	// A word reassembled from every byte of another word in order is that word.
	source := parts[0]
	if source.op == OpExtract {
		source = source.args[0]
		for i, p := range parts {
			if p.op != OpExtract || p.index != i || !p.args[0].Equal(source) {
				source = nil
				break
			}
		}
		if source != nil {
			return source
		}
	}

	args := make([]*BitVec, 32)
	copy(args, parts)
	return newBitVec(OpConcat, WordWidth, args...)
}

// ByteOf extracts byte i (0 being the most significant) of a word as an 8-bit expression.
func ByteOf(x *BitVec, i int) *BitVec {
	if i < 0 || i >= 32 {
		panic(fmt.Sprintf("byte index %d out of range", i))
	}
	if x.width == ByteWidth {
		if i == 31 {
			return x
		}
		return ByteConst(0)
	}
	if x.op == OpConst {
		buf := x.value.Bytes32()
		return ByteConst(buf[i])
	}
	if x.op == OpConcat {
		return x.args[i]
	}
	b := newBitVecIndexed(OpExtract, ByteWidth, i, x)
	return b
}

// newBitVecIndexed constructs an indexed expression node.
func newBitVecIndexed(op Op, width int, index int, args ...*BitVec) *BitVec {
	b := &BitVec{op: op, width: width, index: index, args: args}
	b.computeHash()
	return b
}

// Keccak returns the Keccak-256 hash of the provided byte expressions. Concrete inputs are hashed eagerly; symbolic
// inputs produce an uninterpreted, injective hash term.
func Keccak(parts []*BitVec) *BitVec {
	for _, p := range parts {
		if p.width != ByteWidth {
			panic("keccak inputs must be byte expressions")
		}
	}
	if r := fold(OpKeccak, WordWidth, 0, parts...); r != nil {
		return r
	}
	args := make([]*BitVec, len(parts))
	copy(args, parts)
	return newBitVec(OpKeccak, WordWidth, args...)
}

// KeccakWords returns the Keccak-256 hash of the concatenation of the provided 256-bit words.
func KeccakWords(words ...*BitVec) *BitVec {
	parts := make([]*BitVec, 0, 32*len(words))
	for _, w := range words {
		w = word(w)
		for i := 0; i < 32; i++ {
			parts = append(parts, ByteOf(w, i))
		}
	}
	return Keccak(parts)
}

// Ite returns t if cond holds and f otherwise.
func Ite(cond *Bool, t, f *BitVec) *BitVec {
	if t.width != f.width {
		t, f = word(t), word(f)
	}
	if cond.op == BoolConst {
		if cond.value {
			return t
		}
		return f
	}
	if t.Equal(f) {
		return t
	}
	b := &BitVec{op: OpIte, width: t.width, cond: cond, args: []*BitVec{t, f}}
	b.computeHash()
	return b
}

// BoolToWord converts a condition to the EVM boolean word encoding: 1 if it holds, 0 otherwise.
func BoolToWord(cond *Bool) *BitVec {
	return Ite(cond, ConstUint64(1), ConstUint64(0))
}

// rebuild reconstructs an expression with the same operator over new operands, re-applying simplification.
func rebuild(b *BitVec, args []*BitVec, cond *Bool) *BitVec {
	switch b.op {
	case OpAdd:
		return Add(args[0], args[1])
	case OpSub:
		return Sub(args[0], args[1])
	case OpMul:
		return Mul(args[0], args[1])
	case OpDiv:
		return Div(args[0], args[1])
	case OpSDiv:
		return SDiv(args[0], args[1])
	case OpMod:
		return Mod(args[0], args[1])
	case OpSMod:
		return SMod(args[0], args[1])
	case OpAddMod:
		return AddMod(args[0], args[1], args[2])
	case OpMulMod:
		return MulMod(args[0], args[1], args[2])
	case OpExp:
		return Exp(args[0], args[1])
	case OpSignExtend:
		return SignExtend(args[0], args[1])
	case OpAnd:
		return And(args[0], args[1])
	case OpOr:
		return Or(args[0], args[1])
	case OpXor:
		return Xor(args[0], args[1])
	case OpNot:
		return Not(args[0])
	case OpShl:
		return Shl(args[0], args[1])
	case OpShr:
		return Shr(args[0], args[1])
	case OpSar:
		return Sar(args[0], args[1])
	case OpByte:
		return Byte(args[0], args[1])
	case OpConcat:
		return Word(args)
	case OpExtract:
		return ByteOf(args[0], b.index)
	case OpKeccak:
		return Keccak(args)
	case OpIte:
		return Ite(cond, args[0], args[1])
	}
	return b
}
