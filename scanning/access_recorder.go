package scanning

import (
	"context"
	"sync"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/symbolic"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// DynamicSlot is the access token of storage keys whose base slot cannot be determined.
const DynamicSlot = "dynamic"

// SlotToken returns the access token of a concrete storage slot.
func SlotToken(slot *uint256.Int) string {
	return slot.Hex()
}

// KeyToken returns the access token of a storage key. Concrete keys map to their own slot. Mapping and dynamic array
// accesses map to the base slot found inside their keccak term, or to the data area base when the hash was computed
// eagerly. Anything else maps to DynamicSlot.
func KeyToken(key *symbolic.BitVec) string {
	if v := key.Value(); v != nil {
		return SlotToken(v)
	}
	if base := baseSlot(key); base != nil {
		return SlotToken(base)
	}
	return DynamicSlot
}

// baseSlot searches a symbolic storage key for the slot it was derived from.
func baseSlot(key *symbolic.BitVec) *uint256.Int {
	switch key.Op() {
	case symbolic.OpKeccak:
		// keccak(k . p) for mappings, keccak(p) for dynamic arrays: the slot is the last word hashed
		parts := key.Args()
		if len(parts) < 32 {
			return nil
		}
		slot := symbolic.Word(parts[len(parts)-32:])
		if v := slot.Value(); v != nil {
			return v
		}
		return baseSlot(slot)
	case symbolic.OpAdd:
		args := key.Args()
		for _, arg := range args {
			if base := baseSlot(arg); base != nil {
				return base
			}
		}
		for _, arg := range args {
			if v := arg.Value(); v != nil {
				return v
			}
		}
	}
	return nil
}

// AccessRecorder is an engine.StorageAccessHook collecting the storage slots each function reads and writes.
type AccessRecorder struct {
	// reads maps function names to the tokens of the slots they read.
	reads map[string]map[string]struct{}

	// writes maps function names to the tokens of the slots they write.
	writes map[string]map[string]struct{}

	// lock guards reads and writes, since transactions may execute concurrently.
	lock sync.Mutex
}

// NewAccessRecorder returns an empty AccessRecorder.
func NewAccessRecorder() *AccessRecorder {
	return &AccessRecorder{
		reads:  make(map[string]map[string]struct{}),
		writes: make(map[string]map[string]struct{}),
	}
}

// OnStorageRead records an SLOAD of key by the function tx invokes.
func (p *AccessRecorder) OnStorageRead(tx engine.Transaction, key *symbolic.BitVec) {
	p.record(p.reads, tx.FunctionName(), KeyToken(key))
}

// OnStorageWrite records an SSTORE to key by the function tx invokes.
func (p *AccessRecorder) OnStorageWrite(tx engine.Transaction, key *symbolic.BitVec) {
	p.record(p.writes, tx.FunctionName(), KeyToken(key))
}

// record adds token to the set of function in sets.
func (p *AccessRecorder) record(sets map[string]map[string]struct{}, function string, token string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if _, ok := sets[function]; !ok {
		sets[function] = make(map[string]struct{})
	}
	sets[function][token] = struct{}{}
}

// register makes function known to the recorder even if it never accesses storage.
func (p *AccessRecorder) register(function string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, sets := range []map[string]map[string]struct{}{p.reads, p.writes} {
		if _, ok := sets[function]; !ok {
			sets[function] = make(map[string]struct{})
		}
	}
}

// AccessSets returns the sorted read and write tokens of every function observed.
func (p *AccessRecorder) AccessSets() (reads map[string][]string, writes map[string][]string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return flattenSets(p.reads), flattenSets(p.writes)
}

// flattenSets converts token sets into sorted lists.
func flattenSets(sets map[string]map[string]struct{}) map[string][]string {
	lists := make(map[string][]string, len(sets))
	for function, set := range sets {
		list := make([]string, 0, len(set))
		for token := range set {
			list = append(list, token)
		}
		slices.Sort(list)
		lists[function] = list
	}
	return lists
}

// RecordAccessSets executes every function once from state against the contract at target and returns the storage
// slots each one reads and writes. Accesses on paths that revert are included, since they still reveal which slots a
// function depends on. Recording never consults a solver.
func RecordAccessSets(ctx context.Context, config engine.Config, state *engine.WorldState, target common.Address, functions []engine.Function) (map[string][]string, map[string][]string, error) {
	config.PruneInfeasible = false
	interpreter := engine.NewInterpreter(config, nil)
	recorder := NewAccessRecorder()
	interpreter.SetStorageAccessHook(recorder)

	for _, function := range functions {
		recorder.register(function.Name)
		tx := engine.NewMessageCallTransaction(state, target, function)
		if _, err := interpreter.Execute(ctx, tx); err != nil {
			return nil, nil, errors.Wrapf(err, "could not record the storage accesses of function %v", function.Name)
		}
	}

	reads, writes := recorder.AccessSets()
	return reads, writes, nil
}
