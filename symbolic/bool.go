package symbolic

import (
	"encoding/binary"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/holiman/uint256"
)

// BoolOp describes the operator at the root of a Bool expression.
type BoolOp uint8

const (
	BoolConst BoolOp = iota
	BoolEq
	BoolUlt
	BoolSlt
	BoolAnd
	BoolOr
	BoolNot
)

var boolOpNames = map[BoolOp]string{
	BoolEq:  "=",
	BoolUlt: "bvult",
	BoolSlt: "bvslt",
	BoolAnd: "and",
	BoolOr:  "or",
	BoolNot: "not",
}

// Bool is an immutable boolean predicate over bit-vector expressions.
type Bool struct {
	op    BoolOp
	value bool
	a, b  *BitVec
	args  []*Bool
	hash  uint64
}

var (
	// True is the constant true predicate.
	True = newBoolConst(true)
	// False is the constant false predicate.
	False = newBoolConst(false)
)

func newBoolConst(v bool) *Bool {
	c := &Bool{op: BoolConst, value: v}
	c.computeHash()
	return c
}

// BoolValue returns the constant predicate for v.
func BoolValue(v bool) *Bool {
	if v {
		return True
	}
	return False
}

func (c *Bool) computeHash() {
	d := xxhash.New()
	var buf [8]byte
	v := byte(0)
	if c.value {
		v = 1
	}
	_, _ = d.Write([]byte{0xb0, byte(c.op), v})
	for _, x := range []*BitVec{c.a, c.b} {
		if x != nil {
			binary.BigEndian.PutUint64(buf[:], x.hash)
			_, _ = d.Write(buf[:])
		}
	}
	for _, arg := range c.args {
		binary.BigEndian.PutUint64(buf[:], arg.hash)
		_, _ = d.Write(buf[:])
	}
	c.hash = d.Sum64()
}

func newComparison(op BoolOp, a, b *BitVec) *Bool {
	c := &Bool{op: op, a: a, b: b}
	c.computeHash()
	return c
}

func newConnective(op BoolOp, args ...*Bool) *Bool {
	c := &Bool{op: op, args: args}
	c.computeHash()
	return c
}

// sameWidth widens byte operands when they are compared against words.
func sameWidth(a, b *BitVec) (*BitVec, *BitVec) {
	if a.width != b.width {
		return word(a), word(b)
	}
	return a, b
}

// Eq returns the predicate a == b.
func Eq(a, b *BitVec) *Bool {
	a, b = sameWidth(a, b)
	if a.op == OpConst && b.op != OpConst {
		a, b = b, a
	}
	if a.op == OpConst && b.op == OpConst {
		return BoolValue(a.value.Eq(&b.value))
	}
	if a.Equal(b) {
		return True
	}

	if b.op == OpConst {
		switch a.op {
		case OpIte:
			t, f := a.args[0], a.args[1]
			if t.op == OpConst && f.op == OpConst {
				tv, fv := t.value.Eq(&b.value), f.value.Eq(&b.value)
				switch {
				case tv && fv:
					return True
				case tv:
					return a.cond
				case fv:
					return LNot(a.cond)
				default:
					return False
				}
			}
		case OpKeccak:
			// A hash digest never collides with a small constant such as a storage slot index.
			if b.value.BitLen() <= 128 {
				return False
			}
		case OpConcat:
			buf := b.value.Bytes32()
			parts := make([]*Bool, 32)
			for i := range parts {
				parts[i] = Eq(a.args[i], ByteConst(buf[i]))
			}
			return LAnd(parts...)
		case OpAdd:
			if a.args[1].op == OpConst {
				return Eq(a.args[0], Const(new(uint256.Int).Sub(&b.value, &a.args[1].value)))
			}
		case OpXor:
			if a.args[1].op == OpConst {
				return Eq(a.args[0], Const(new(uint256.Int).Xor(&b.value, &a.args[1].value)))
			}
		}
	}

	if a.op == OpKeccak && b.op == OpKeccak {
		if len(a.args) != len(b.args) {
			return False
		}
		parts := make([]*Bool, len(a.args))
		for i := range parts {
			parts[i] = Eq(a.args[i], b.args[i])
		}
		return LAnd(parts...)
	}
	if a.op == OpConcat && b.op == OpConcat {
		parts := make([]*Bool, 32)
		for i := range parts {
			parts[i] = Eq(a.args[i], b.args[i])
		}
		return LAnd(parts...)
	}

	if b.op != OpConst && a.hash > b.hash {
		a, b = b, a
	}
	return newComparison(BoolEq, a, b)
}

// Ult returns the predicate a < b over unsigned values.
func Ult(a, b *BitVec) *Bool {
	a, b = sameWidth(a, b)
	if a.op == OpConst && b.op == OpConst {
		return BoolValue(a.value.Lt(&b.value))
	}
	if b.isConstValue(0) || a.Equal(b) {
		return False
	}
	if a.isConstValue(0) {
		return LNot(Eq(b, a))
	}
	return newComparison(BoolUlt, a, b)
}

// Ugt returns the predicate a > b over unsigned values.
func Ugt(a, b *BitVec) *Bool {
	return Ult(b, a)
}

// Slt returns the predicate a < b over two's complement signed values.
func Slt(a, b *BitVec) *Bool {
	a, b = sameWidth(a, b)
	if a.op == OpConst && b.op == OpConst {
		return BoolValue(a.value.Slt(&b.value))
	}
	if a.Equal(b) {
		return False
	}
	return newComparison(BoolSlt, a, b)
}

// Sgt returns the predicate a > b over two's complement signed values.
func Sgt(a, b *BitVec) *Bool {
	return Slt(b, a)
}

// LAnd returns the logical conjunction of the provided predicates.
func LAnd(cs ...*Bool) *Bool {
	args := make([]*Bool, 0, len(cs))
	for _, c := range cs {
		switch {
		case c.op == BoolConst && !c.value:
			return False
		case c.op == BoolConst:
			continue
		case c.op == BoolAnd:
			args = append(args, c.args...)
		default:
			args = append(args, c)
		}
	}
	switch len(args) {
	case 0:
		return True
	case 1:
		return args[0]
	}
	return newConnective(BoolAnd, args...)
}

// LOr returns the logical disjunction of the provided predicates.
func LOr(cs ...*Bool) *Bool {
	args := make([]*Bool, 0, len(cs))
	for _, c := range cs {
		switch {
		case c.op == BoolConst && c.value:
			return True
		case c.op == BoolConst:
			continue
		case c.op == BoolOr:
			args = append(args, c.args...)
		default:
			args = append(args, c)
		}
	}
	switch len(args) {
	case 0:
		return False
	case 1:
		return args[0]
	}
	return newConnective(BoolOr, args...)
}

// LNot returns the logical negation of c.
func LNot(c *Bool) *Bool {
	switch c.op {
	case BoolConst:
		return BoolValue(!c.value)
	case BoolNot:
		return c.args[0]
	}
	return newConnective(BoolNot, c)
}

// Op returns the root operator of the predicate.
func (c *Bool) Op() BoolOp {
	return c.op
}

// IsConst indicates whether the predicate is a constant.
func (c *Bool) IsConst() bool {
	return c.op == BoolConst
}

// IsTrue indicates whether the predicate is the constant true.
func (c *Bool) IsTrue() bool {
	return c.op == BoolConst && c.value
}

// IsFalse indicates whether the predicate is the constant false.
func (c *Bool) IsFalse() bool {
	return c.op == BoolConst && !c.value
}

// Operands returns the compared expressions of a comparison predicate.
func (c *Bool) Operands() (*BitVec, *BitVec) {
	return c.a, c.b
}

// Args returns the sub-predicates of a connective. The returned slice must not be modified.
func (c *Bool) Args() []*Bool {
	return c.args
}

// Hash returns the structural hash of the predicate.
func (c *Bool) Hash() uint64 {
	return c.hash
}

// Equal indicates whether two predicates are structurally identical.
func (c *Bool) Equal(o *Bool) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil || c.hash != o.hash || c.op != o.op || c.value != o.value || len(c.args) != len(o.args) {
		return false
	}
	if c.a != nil && (!c.a.Equal(o.a) || !c.b.Equal(o.b)) {
		return false
	}
	for i := range c.args {
		if !c.args[i].Equal(o.args[i]) {
			return false
		}
	}
	return true
}

// String returns the canonical textual form of the predicate.
func (c *Bool) String() string {
	var sb strings.Builder
	c.write(&sb)
	return sb.String()
}

func (c *Bool) write(sb *strings.Builder) {
	if c.op == BoolConst {
		if c.value {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
		return
	}
	sb.WriteByte('(')
	sb.WriteString(boolOpNames[c.op])
	if c.a != nil {
		sb.WriteByte(' ')
		c.a.write(sb)
		sb.WriteByte(' ')
		c.b.write(sb)
	}
	for _, arg := range c.args {
		sb.WriteByte(' ')
		arg.write(sb)
	}
	sb.WriteByte(')')
}

// rebuildBool reconstructs a predicate with the same operator over new operands, re-applying simplification.
func rebuildBool(c *Bool, a, b *BitVec, args []*Bool) *Bool {
	switch c.op {
	case BoolEq:
		return Eq(a, b)
	case BoolUlt:
		return Ult(a, b)
	case BoolSlt:
		return Slt(a, b)
	case BoolAnd:
		return LAnd(args...)
	case BoolOr:
		return LOr(args...)
	case BoolNot:
		return LNot(args[0])
	}
	return c
}
