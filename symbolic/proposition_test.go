package symbolic

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

// TestPropositionAppendIsPersistent ensures appending to a shared prefix never leaks predicates between forks.
func TestPropositionAppendIsPersistent(t *testing.T) {
	x := Symbol("x")
	base := NewProposition(Ult(x, ConstUint64(10)))

	left := base.Append(Eq(x, ConstUint64(1)))
	right := base.Append(Eq(x, ConstUint64(2)))

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, left.Len())
	assert.Equal(t, 2, right.Len())
	assert.False(t, left.Conjuncts()[1].Equal(right.Conjuncts()[1]))

	// Trivially true predicates are not recorded.
	assert.Equal(t, 1, base.Append(True).Len())
	assert.Equal(t, 4, left.Concat(right).Len())
}

// TestPropositionMentions ensures the structural symbol check finds symbols nested anywhere in a predicate.
func TestPropositionMentions(t *testing.T) {
	caller := Symbol("caller_3")
	owner := KeccakWords(Symbol("calldata_3_4"))
	p := NewProposition(
		Ult(Symbol("call_value_3"), ConstUint64(100)),
		LNot(Eq(Ite(Eq(And(caller, ConstUint64(0xff)), owner), ConstUint64(1), ConstUint64(0)), ConstUint64(0))),
	)

	assert.True(t, p.Mentions("caller_3"))
	assert.True(t, p.Mentions("calldata_3_4"))
	assert.False(t, p.Mentions("caller_4"))
	assert.Equal(t, []string{"call_value_3", "calldata_3_4", "caller_3"}, p.Vars())
}

// TestPropositionTriviallyFalse ensures contradictions are detected syntactically.
func TestPropositionTriviallyFalse(t *testing.T) {
	c := Ult(Symbol("calldatasize_1"), ConstUint64(4))
	assert.False(t, NewProposition(c).IsTriviallyFalse())
	assert.True(t, NewProposition(c, LNot(c)).IsTriviallyFalse())
	assert.True(t, NewProposition(Eq(ConstUint64(1), ConstUint64(2))).IsTriviallyFalse())
}

// TestPropositionEval ensures every predicate must hold for a model to satisfy the proposition.
func TestPropositionEval(t *testing.T) {
	x := Symbol("x")
	p := NewProposition(Ugt(x, ConstUint64(3)), Ult(x, ConstUint64(6)))
	assert.True(t, p.Eval(Model{"x": uint256.NewInt(4)}))
	assert.False(t, p.Eval(Model{"x": uint256.NewInt(6)}))
	assert.False(t, p.Eval(Model{}))
}
