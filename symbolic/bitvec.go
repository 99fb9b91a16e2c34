package symbolic

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/holiman/uint256"
)

const (
	// WordWidth is the bit width of a stack word.
	WordWidth = 256
	// ByteWidth is the bit width of a single memory or call data byte.
	ByteWidth = 8
)

// Op describes the operator at the root of a BitVec expression.
type Op uint8

const (
	OpConst Op = iota
	OpSymbol
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpSDiv
	OpMod
	OpSMod
	OpAddMod
	OpMulMod
	OpExp
	OpSignExtend
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr
	OpSar
	OpByte
	OpConcat
	OpExtract
	OpKeccak
	OpIte
)

// opNames provides the canonical textual name of each operator.
var opNames = map[Op]string{
	OpConst:      "const",
	OpSymbol:     "symbol",
	OpAdd:        "bvadd",
	OpSub:        "bvsub",
	OpMul:        "bvmul",
	OpDiv:        "bvudiv",
	OpSDiv:       "bvsdiv",
	OpMod:        "bvurem",
	OpSMod:       "bvsmod",
	OpAddMod:     "addmod",
	OpMulMod:     "mulmod",
	OpExp:        "exp",
	OpSignExtend: "signextend",
	OpAnd:        "bvand",
	OpOr:         "bvor",
	OpXor:        "bvxor",
	OpNot:        "bvnot",
	OpShl:        "bvshl",
	OpShr:        "bvlshr",
	OpSar:        "bvashr",
	OpByte:       "byte",
	OpConcat:     "concat",
	OpExtract:    "extract",
	OpKeccak:     "keccak256",
	OpIte:        "ite",
}

// String returns the canonical name of the operator.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// BitVec is an immutable bit-vector expression. Expressions are either 256-bit words or 8-bit bytes. A BitVec is never
// mutated after construction, so it may be shared freely between forked states and goroutines.
type BitVec struct {
	// op is the root operator of the expression.
	op Op

	// width is the bit width of the expression, either WordWidth or ByteWidth.
	width int

	// value holds the concrete value for OpConst expressions.
	value uint256.Int

	// name holds the symbol name for OpSymbol expressions.
	name string

	// index holds the byte index for OpExtract expressions, 0 being the most significant byte.
	index int

	// args holds the operands of the expression.
	args []*BitVec

	// cond holds the condition of an OpIte expression.
	cond *Bool

	// hash is a structural hash computed at construction time.
	hash uint64
}

// newBitVec constructs a non-constant expression node and computes its structural hash.
func newBitVec(op Op, width int, args ...*BitVec) *BitVec {
	b := &BitVec{op: op, width: width, args: args}
	b.computeHash()
	return b
}

// computeHash derives the structural hash of the expression from its operator, payload and operand hashes.
func (b *BitVec) computeHash() {
	d := xxhash.New()
	var buf [8]byte
	_, _ = d.Write([]byte{byte(b.op), byte(b.width >> 8), byte(b.width)})
	switch b.op {
	case OpConst:
		v := b.value.Bytes32()
		_, _ = d.Write(v[:])
	case OpSymbol:
		_, _ = d.WriteString(b.name)
	case OpExtract:
		binary.BigEndian.PutUint64(buf[:], uint64(b.index))
		_, _ = d.Write(buf[:])
	}
	for _, arg := range b.args {
		binary.BigEndian.PutUint64(buf[:], arg.hash)
		_, _ = d.Write(buf[:])
	}
	if b.cond != nil {
		binary.BigEndian.PutUint64(buf[:], b.cond.hash)
		_, _ = d.Write(buf[:])
	}
	b.hash = d.Sum64()
}

// Const returns a 256-bit constant expression.
func Const(v *uint256.Int) *BitVec {
	return newConst(v, WordWidth)
}

// ConstUint64 returns a 256-bit constant expression from a uint64.
func ConstUint64(v uint64) *BitVec {
	return newConst(uint256.NewInt(v), WordWidth)
}

// ConstBytes returns a 256-bit constant expression from big-endian bytes. Inputs longer than 32 bytes are truncated
// to their least significant 32 bytes.
func ConstBytes(b []byte) *BitVec {
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	return newConst(new(uint256.Int).SetBytes(b), WordWidth)
}

// ByteConst returns an 8-bit constant expression.
func ByteConst(v byte) *BitVec {
	return newConst(uint256.NewInt(uint64(v)), ByteWidth)
}

// newConst constructs a constant expression of the provided width, masking the value to fit it.
func newConst(v *uint256.Int, width int) *BitVec {
	b := &BitVec{op: OpConst, width: width}
	b.value.Set(v)
	if width == ByteWidth {
		b.value.And(&b.value, uint256.NewInt(0xff))
	}
	b.computeHash()
	return b
}

// Symbol returns a free 256-bit symbol with the provided name.
func Symbol(name string) *BitVec {
	b := &BitVec{op: OpSymbol, width: WordWidth, name: name}
	b.computeHash()
	return b
}

// ByteSymbol returns a free 8-bit symbol with the provided name.
func ByteSymbol(name string) *BitVec {
	b := &BitVec{op: OpSymbol, width: ByteWidth, name: name}
	b.computeHash()
	return b
}

// Op returns the root operator of the expression.
func (b *BitVec) Op() Op {
	return b.op
}

// Width returns the bit width of the expression.
func (b *BitVec) Width() int {
	return b.width
}

// IsConst indicates whether the expression is a concrete value.
func (b *BitVec) IsConst() bool {
	return b.op == OpConst
}

// IsSymbol indicates whether the expression is a single free symbol.
func (b *BitVec) IsSymbol() bool {
	return b.op == OpSymbol
}

// Value returns a copy of the concrete value of the expression, or nil if it is not constant.
func (b *BitVec) Value() *uint256.Int {
	if b.op != OpConst {
		return nil
	}
	return new(uint256.Int).Set(&b.value)
}

// Uint64 returns the concrete value of the expression if it is constant and fits within a uint64.
func (b *BitVec) Uint64() (uint64, bool) {
	if b.op != OpConst || !b.value.IsUint64() {
		return 0, false
	}
	return b.value.Uint64(), true
}

// Name returns the symbol name of an OpSymbol expression, or an empty string otherwise.
func (b *BitVec) Name() string {
	return b.name
}

// Index returns the byte index of an OpExtract expression.
func (b *BitVec) Index() int {
	return b.index
}

// Args returns the operands of the expression. The returned slice must not be modified.
func (b *BitVec) Args() []*BitVec {
	return b.args
}

// Cond returns the condition of an OpIte expression.
func (b *BitVec) Cond() *Bool {
	return b.cond
}

// Hash returns the structural hash of the expression.
func (b *BitVec) Hash() uint64 {
	return b.hash
}

// Equal indicates whether two expressions are structurally identical.
func (b *BitVec) Equal(o *BitVec) bool {
	if b == o {
		return true
	}
	if b == nil || o == nil || b.hash != o.hash || b.op != o.op || b.width != o.width || len(b.args) != len(o.args) {
		return false
	}
	switch b.op {
	case OpConst:
		return b.value.Eq(&o.value)
	case OpSymbol:
		return b.name == o.name
	case OpExtract:
		if b.index != o.index {
			return false
		}
	}
	for i := range b.args {
		if !b.args[i].Equal(o.args[i]) {
			return false
		}
	}
	if b.cond != nil || o.cond != nil {
		return b.cond.Equal(o.cond)
	}
	return true
}

// String returns the canonical textual form of the expression.
func (b *BitVec) String() string {
	var sb strings.Builder
	b.write(&sb)
	return sb.String()
}

// write appends the canonical textual form of the expression to the provided builder.
func (b *BitVec) write(sb *strings.Builder) {
	switch b.op {
	case OpConst:
		if b.width == ByteWidth {
			sb.WriteString(fmt.Sprintf("#x%02x", b.value.Uint64()))
		} else {
			sb.WriteString(b.value.Hex())
		}
		return
	case OpSymbol:
		sb.WriteString(b.name)
		return
	}

	sb.WriteByte('(')
	sb.WriteString(b.op.String())
	if b.op == OpExtract {
		sb.WriteString(fmt.Sprintf(" %d", b.index))
	}
	if b.cond != nil {
		sb.WriteByte(' ')
		b.cond.write(sb)
	}
	for _, arg := range b.args {
		sb.WriteByte(' ')
		arg.write(sb)
	}
	sb.WriteByte(')')
}
