package engine

import (
	"bytes"
	"sort"
	"sync/atomic"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/warden/symbolic"
)

// WorldState is a snapshot of every account after some sequence of transactions, together with the path condition
// under which that sequence completes. Once forked, a WorldState is frozen and must not be modified again, which
// allows concurrent transaction executions to fork the same parent safely.
type WorldState struct {
	// accounts maps addresses to the accounts they hold.
	accounts map[common.Address]*Account

	// TransactionSequence holds the transactions applied to reach this state, creation first.
	TransactionSequence []Transaction

	// Constraints is the path condition accumulated across TransactionSequence.
	Constraints symbolic.Proposition

	// Node is the final execution graph node of the last transaction, or nil for the genesis state.
	Node *Node

	// frozen indicates the state has been forked and is now read-only.
	frozen atomic.Bool
}

// NewWorldState returns an empty genesis WorldState.
func NewWorldState() *WorldState {
	return &WorldState{
		accounts:            make(map[common.Address]*Account),
		TransactionSequence: make([]Transaction, 0),
		Constraints:         symbolic.NewProposition(),
	}
}

// Fork returns a deep copy of the world state that may be freely modified. The receiver becomes frozen.
func (w *WorldState) Fork() *WorldState {
	w.frozen.Store(true)
	return w.clone()
}

// clone returns a deep copy of the world state without freezing the receiver. It is used to split a world state that
// is still being built by a single execution path.
func (w *WorldState) clone() *WorldState {
	accounts := make(map[common.Address]*Account, len(w.accounts))
	for address, account := range w.accounts {
		accounts[address] = account.Copy()
	}
	sequence := make([]Transaction, len(w.TransactionSequence))
	copy(sequence, w.TransactionSequence)

	return &WorldState{
		accounts:            accounts,
		TransactionSequence: sequence,
		Constraints:         w.Constraints,
		Node:                w.Node,
	}
}

// Frozen indicates whether the world state has been forked and is read-only.
func (w *WorldState) Frozen() bool {
	return w.frozen.Load()
}

// Account returns the account at the provided address, or nil if none exists.
func (w *WorldState) Account(address common.Address) *Account {
	return w.accounts[address]
}

// MutableAccount returns the account at the provided address for modification, or nil if none exists. It panics if
// the world state is frozen.
func (w *WorldState) MutableAccount(address common.Address) *Account {
	w.assertMutable()
	return w.accounts[address]
}

// PutAccount adds or replaces an account. It panics if the world state is frozen.
func (w *WorldState) PutAccount(account *Account) {
	w.assertMutable()
	w.accounts[account.Address] = account
}

// Accounts returns every account sorted by address.
func (w *WorldState) Accounts() []*Account {
	accounts := make([]*Account, 0, len(w.accounts))
	for _, account := range w.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i].Address[:], accounts[j].Address[:]) < 0
	})
	return accounts
}

// LastTransaction returns the most recently applied transaction, or nil for the genesis state.
func (w *WorldState) LastTransaction() Transaction {
	if len(w.TransactionSequence) == 0 {
		return nil
	}
	return w.TransactionSequence[len(w.TransactionSequence)-1]
}

// MessageCallCount returns the number of message call transactions applied, excluding contract creation.
func (w *WorldState) MessageCallCount() int {
	count := 0
	for _, tx := range w.TransactionSequence {
		if !tx.IsCreation() {
			count++
		}
	}
	return count
}

// assertMutable panics if the world state has been frozen by a fork.
func (w *WorldState) assertMutable() {
	if w.frozen.Load() {
		panic("attempted to modify a world state after it was forked")
	}
}
