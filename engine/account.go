package engine

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/warden/symbolic"
)

// storageEntry is a single write recorded in Storage.
type storageEntry struct {
	key   *symbolic.BitVec
	value *symbolic.BitVec
}

// Storage is the symbolic persistent storage of an account. Writes are kept in order so that reads of symbolic keys
// can be resolved against every earlier write. Slots that were never written read as zero.
type Storage struct {
	entries []storageEntry
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{entries: make([]storageEntry, 0)}
}

// Load returns the value stored at key. When the key may alias earlier symbolic writes the result is a conditional
// expression selecting the most recent matching write.
func (s *Storage) Load(key *symbolic.BitVec) *symbolic.BitVec {
	result := symbolic.ConstUint64(0)
	for _, entry := range s.entries {
		if entry.key.Equal(key) {
			result = entry.value
			continue
		}
		if entry.key.IsConst() && key.IsConst() {
			continue
		}
		cond := symbolic.Eq(entry.key, key)
		if cond.IsFalse() {
			continue
		}
		result = symbolic.Ite(cond, entry.value, result)
	}
	return result
}

// Store writes value at key. A previous write to a structurally identical key is superseded.
func (s *Storage) Store(key *symbolic.BitVec, value *symbolic.BitVec) {
	for i, entry := range s.entries {
		if entry.key.Equal(key) {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			break
		}
	}
	s.entries = append(s.entries, storageEntry{key: key, value: value})
}

// Len returns the number of distinct keys written.
func (s *Storage) Len() int {
	return len(s.entries)
}

// Copy returns an independent copy of the storage. Expressions are immutable and are shared.
func (s *Storage) Copy() *Storage {
	entries := make([]storageEntry, len(s.entries))
	copy(entries, s.entries)
	return &Storage{entries: entries}
}

// Account describes a contract or externally owned account in a WorldState.
type Account struct {
	// Address is the address of the account.
	Address common.Address

	// ContractName is the name of the contract deployed at the account, if any.
	ContractName string

	// Code is the disassembled runtime code of the account, or nil if it has none.
	Code *Disassembly

	// Balance is the symbolic balance of the account.
	Balance *symbolic.BitVec

	// Storage is the symbolic persistent storage of the account.
	Storage *Storage

	// Deleted indicates the account self-destructed. It is set at most once and never cleared.
	Deleted bool
}

// NewAccount returns an empty Account at the provided address.
func NewAccount(address common.Address, contractName string) *Account {
	return &Account{
		Address:      address,
		ContractName: contractName,
		Balance:      symbolic.ConstUint64(0),
		Storage:      NewStorage(),
	}
}

// HasCode indicates whether the account holds runtime code.
func (a *Account) HasCode() bool {
	return a.Code != nil && len(a.Code.Bytecode) > 0
}

// Copy returns an independent copy of the account.
func (a *Account) Copy() *Account {
	return &Account{
		Address:      a.Address,
		ContractName: a.ContractName,
		Code:         a.Code,
		Balance:      a.Balance,
		Storage:      a.Storage.Copy(),
		Deleted:      a.Deleted,
	}
}
