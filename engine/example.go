package engine

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/crytic/warden/symbolic"
	"github.com/holiman/uint256"
)

// ExampleTransaction is a concrete transaction reproducing one step of a finding.
type ExampleTransaction struct {
	// From is the sender of the transaction.
	From common.Address `json:"from"`
	// To is the target of the transaction, nil for contract creation.
	To *common.Address `json:"to"`
	// Function is the name of the function invoked.
	Function string `json:"function"`
	// Input is the call data of the transaction.
	Input hexutil.Bytes `json:"input"`
	// Value is the value transferred with the transaction.
	Value *hexutil.Big `json:"value"`
}

// ExampleTransactionSequence concretizes the transaction sequence leading to state using a satisfying model. Callers
// that the model leaves unconstrained are reported as AttackerAddress.
func ExampleTransactionSequence(state *GlobalState, model symbolic.Model) []ExampleTransaction {
	tx := state.Transaction()
	sequence := append(append([]Transaction(nil), tx.WorldState().TransactionSequence...), tx)

	examples := make([]ExampleTransaction, 0, len(sequence))
	for _, t := range sequence {
		example := ExampleTransaction{
			From:     AttackerAddress,
			Function: t.FunctionName(),
			Input:    t.Calldata().Concretize(model),
			Value:    (*hexutil.Big)(evaluate(t.CallValue(), model).ToBig()),
		}
		if address, ok := WordAddress(t.Caller()); ok {
			example.From = address
		} else if v, ok := model[t.Caller().Name()]; ok {
			example.From = common.Address(v.Bytes20())
		}
		if !t.IsCreation() {
			to := t.Callee()
			example.To = &to
		}
		examples = append(examples, example)
	}
	return examples
}

// evaluate returns the value of an expression under a model, treating absent symbols as zero.
func evaluate(b *symbolic.BitVec, model symbolic.Model) *uint256.Int {
	if v := b.Value(); v != nil {
		return v
	}
	return b.Eval(model)
}
