package symbolic

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calldataWord builds a word of 32 distinct byte symbols, as call data loads produce.
func calldataWord(prefix string) *BitVec {
	parts := make([]*BitVec, 32)
	for i := range parts {
		parts[i] = ByteSymbol(prefix + string(rune('a'+i%26)) + string(rune('a'+i/26)))
	}
	return Word(parts)
}

// TestConstantFolding ensures operators over constants fold into constants with EVM semantics.
func TestConstantFolding(t *testing.T) {
	tests := []struct {
		name     string
		expr     *BitVec
		expected uint64
	}{
		{"add", Add(ConstUint64(2), ConstUint64(3)), 5},
		{"sub wraps", Add(Sub(ConstUint64(0), ConstUint64(1)), ConstUint64(2)), 1},
		{"div by zero", Div(ConstUint64(7), ConstUint64(0)), 0},
		{"mod by zero", Mod(ConstUint64(7), ConstUint64(0)), 0},
		{"shl", Shl(ConstUint64(1), ConstUint64(8)), 256},
		{"shr overflow", Shr(ConstUint64(1), ConstUint64(300)), 0},
		{"byte", Byte(ConstUint64(31), ConstUint64(0xabcd)), 0xcd},
		{"exp", Exp(ConstUint64(2), ConstUint64(10)), 1024},
		{"bool to word", BoolToWord(Ult(ConstUint64(1), ConstUint64(2))), 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.True(t, test.expr.IsConst())
			v, ok := test.expr.Uint64()
			require.True(t, ok)
			assert.EqualValues(t, test.expected, v)
		})
	}
}

// TestIdentities ensures the structural rewrites keep expressions small without changing their meaning.
func TestIdentities(t *testing.T) {
	x := Symbol("x")
	assert.Same(t, x, Add(x, ConstUint64(0)))
	assert.Same(t, x, Mul(ConstUint64(1), x))
	assert.True(t, Sub(x, x).IsConst())
	assert.True(t, Xor(x, x).IsConst())
	assert.Same(t, x, Not(Not(x)))

	// Reassembling every byte of a word yields the word itself.
	parts := make([]*BitVec, 32)
	for i := range parts {
		parts[i] = ByteOf(x, i)
	}
	assert.True(t, Word(parts).Equal(x))

	// Chained constant additions collapse.
	assert.True(t, Add(Add(x, ConstUint64(1)), ConstUint64(2)).Equal(Add(x, ConstUint64(3))))
}

// TestSelectorExtraction ensures the dispatcher's selector computation folds to a constant when the leading call data
// bytes are concrete.
func TestSelectorExtraction(t *testing.T) {
	parts := make([]*BitVec, 32)
	selector := []byte{0xa9, 0x05, 0x9c, 0xbb}
	for i := range parts {
		if i < 4 {
			parts[i] = ByteConst(selector[i])
		} else {
			parts[i] = ByteSymbol("calldata_1_" + string(rune('a'+i)))
		}
	}
	word := Word(parts)

	shifted := Shr(word, ConstUint64(224))
	require.True(t, shifted.IsConst())
	v, _ := shifted.Uint64()
	assert.EqualValues(t, 0xa9059cbb, v)

	divided := And(Div(word, Exp(ConstUint64(2), ConstUint64(224))), ConstUint64(0xffffffff))
	require.True(t, divided.IsConst())
	v, _ = divided.Uint64()
	assert.EqualValues(t, 0xa9059cbb, v)
}

// TestConditionSimplification ensures EVM boolean encodings reduce back to the predicates they wrap.
func TestConditionSimplification(t *testing.T) {
	x, y := Symbol("x"), Symbol("y")
	lt := Ult(x, y)

	isZero := BoolToWord(Eq(BoolToWord(lt), ConstUint64(0)))
	assert.True(t, LNot(Eq(isZero, ConstUint64(0))).Equal(LNot(lt)))
	assert.True(t, Eq(BoolToWord(lt), ConstUint64(1)).Equal(lt))
	assert.True(t, LNot(LNot(lt)).Equal(lt))
	assert.True(t, Eq(x, y).Equal(Eq(y, x)))
}

// TestKeccakReasoning ensures hashes are treated as injective and never equal small constants.
func TestKeccakReasoning(t *testing.T) {
	k1 := KeccakWords(Symbol("a"), ConstUint64(1))
	k2 := KeccakWords(Symbol("b"), ConstUint64(1))
	k3 := KeccakWords(Symbol("b"), ConstUint64(2))

	assert.True(t, Eq(k1, ConstUint64(5)).IsFalse())
	assert.True(t, Eq(k2, k3).IsFalse())
	assert.Equal(t, []string{"a", "b"}, Eq(k1, k2).Vars())

	// Concrete hashes match the EVM digest of the empty input.
	empty := Keccak(nil)
	require.True(t, empty.IsConst())
	assert.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", empty.Value().Hex())
}

// TestEvalAndSubstitute ensures evaluation under a model agrees with substitution followed by folding.
func TestEvalAndSubstitute(t *testing.T) {
	x := Symbol("x")
	cd := calldataWord("cd")
	expr := Add(Mul(x, ConstUint64(3)), And(cd, ConstUint64(0xff)))
	model := Model{"x": uint256.NewInt(5), "cdfb": uint256.NewInt(0x1ff)}

	value := expr.Eval(model)
	substituted := expr.Substitute(model)
	require.True(t, substituted.IsConst())
	assert.True(t, value.Eq(substituted.Value()))
	assert.EqualValues(t, 15+0xff, value.Uint64())

	cond := Ite(Eq(x, ConstUint64(5)), ConstUint64(10), ConstUint64(20))
	assert.EqualValues(t, 10, cond.Eval(model).Uint64())
	assert.EqualValues(t, 20, cond.Eval(Model{}).Uint64())
}

// TestWordEquality ensures comparing a byte-composed word against a constant splits into per-byte predicates.
func TestWordEquality(t *testing.T) {
	cd := calldataWord("cd")
	eq := Eq(cd, ConstUint64(0x0102))
	require.Equal(t, BoolAnd, eq.Op())
	assert.Len(t, eq.Args(), 32)
	assert.Len(t, eq.Vars(), 32)
}
