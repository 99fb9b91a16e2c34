package storagelayout

import (
	"strconv"
	"strings"

	"github.com/crytic/warden/compilation/types"
	"github.com/crytic/warden/scanning/config"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
	"golang.org/x/exp/slices"
)

var (
	// ErrUnknownVariable indicates a state variable name that is neither in the storage layout nor pinned.
	ErrUnknownVariable = errors.Wrap(config.ErrConfiguration, "unknown state variable")

	// ErrUnsupportedType indicates a state variable whose storage location depends on runtime keys, such as a
	// mapping, and therefore has no fixed offsets.
	ErrUnsupportedType = errors.Wrap(config.ErrConfiguration, "unsupported state variable type")
)

// slotSize is the size of a storage slot in bytes.
const slotSize = 32

// Mapping maps state variable names to the storage offsets they occupy. Struct members are additionally addressable
// as "variable.member".
type Mapping struct {
	// offsets holds the offsets of every supported variable.
	offsets map[string][]*uint256.Int

	// unsupported holds the type label of every variable that cannot be mapped to fixed offsets.
	unsupported map[string]string
}

// NewMapping returns an empty Mapping.
func NewMapping() *Mapping {
	return &Mapping{
		offsets:     make(map[string][]*uint256.Int),
		unsupported: make(map[string]string),
	}
}

// FromSolcLayout builds a Mapping from a solc storage layout. Value types occupy one slot, static arrays and structs
// occupy consecutive slots, and dynamic arrays and byte strings map to their length slot and the first slot of their
// data area. Mappings are recorded as unsupported.
func FromSolcLayout(layout *types.StorageLayout) (*Mapping, error) {
	m := NewMapping()
	if layout == nil {
		return m, nil
	}
	for _, variable := range layout.Storage {
		// Shadowed variables of base contracts keep the first declaration
		if m.has(variable.Label) {
			continue
		}
		base, err := uint256.FromDecimal(variable.Slot)
		if err != nil {
			return nil, errors.Wrapf(config.ErrConfiguration, "invalid slot %q for state variable %v", variable.Slot, variable.Label)
		}
		if err = m.add(layout, variable.Label, base, variable.Type); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// add registers the offsets of a variable of the provided type starting at slot base.
func (m *Mapping) add(layout *types.StorageLayout, name string, base *uint256.Int, typeID string) error {
	storageType, ok := layout.Types[typeID]
	if !ok {
		return errors.Wrapf(config.ErrConfiguration, "missing type %v of state variable %v", typeID, name)
	}

	switch storageType.Encoding {
	case "mapping":
		m.unsupported[name] = storageType.Label
		return nil
	case "dynamic_array", "bytes":
		m.offsets[name] = []*uint256.Int{new(uint256.Int).Set(base), DataSlot(base)}
		return nil
	case "inplace":
	default:
		return errors.Wrapf(config.ErrConfiguration, "unknown encoding %v of state variable %v", storageType.Encoding, name)
	}

	size, err := strconv.ParseUint(storageType.NumberOfBytes, 10, 64)
	if err != nil {
		return errors.Wrapf(config.ErrConfiguration, "invalid size %q of state variable %v", storageType.NumberOfBytes, name)
	}
	slots := (size + slotSize - 1) / slotSize
	if slots == 0 {
		slots = 1
	}
	offsets := make([]*uint256.Int, 0, slots)
	for i := uint64(0); i < slots; i++ {
		offsets = append(offsets, new(uint256.Int).AddUint64(base, i))
	}
	m.offsets[name] = offsets

	// Struct members are addressable individually
	for _, member := range storageType.Members {
		memberSlot, err := uint256.FromDecimal(member.Slot)
		if err != nil {
			return errors.Wrapf(config.ErrConfiguration, "invalid slot %q for member %v.%v", member.Slot, name, member.Label)
		}
		if err = m.add(layout, name+"."+member.Label, new(uint256.Int).Add(base, memberSlot), member.Type); err != nil {
			return err
		}
	}
	return nil
}

// DataSlot returns the first slot of the data area of a dynamic array or byte string whose length lives at slot.
func DataSlot(slot *uint256.Int) *uint256.Int {
	key := slot.Bytes32()
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(key[:])
	return new(uint256.Int).SetBytes(hasher.Sum(nil))
}

// has returns whether a variable is known, supported or not.
func (m *Mapping) has(name string) bool {
	_, supported := m.offsets[name]
	_, unsupported := m.unsupported[name]
	return supported || unsupported
}

// Pin sets the offsets of a variable, overriding any offsets derived from a storage layout. Pinning an unsupported
// variable makes it supported.
func (m *Mapping) Pin(name string, offsets []*uint256.Int) {
	delete(m.unsupported, name)
	m.offsets[name] = offsets
}

// PinAll pins every variable of the provided configuration.
func (m *Mapping) PinAll(pinned map[string][]config.StorageOffset) {
	for name, configured := range pinned {
		offsets := make([]*uint256.Int, len(configured))
		for i := range configured {
			offsets[i] = new(uint256.Int).Set(&configured[i].Int)
		}
		m.Pin(name, offsets)
	}
}

// Offsets returns the storage offsets of a variable. Unknown names yield ErrUnknownVariable and mappings yield
// ErrUnsupportedType.
func (m *Mapping) Offsets(name string) ([]*uint256.Int, error) {
	if label, ok := m.unsupported[name]; ok {
		return nil, errors.Wrapf(ErrUnsupportedType, "cannot map %v of type %v to storage offsets", name, label)
	}
	offsets, ok := m.offsets[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownVariable, "%v", name)
	}
	result := make([]*uint256.Int, len(offsets))
	for i, offset := range offsets {
		result[i] = new(uint256.Int).Set(offset)
	}
	return result, nil
}

// Resolve returns the offsets of every provided variable, failing on the first one that cannot be mapped.
func (m *Mapping) Resolve(names []string) (map[string][]*uint256.Int, error) {
	resolved := make(map[string][]*uint256.Int, len(names))
	for _, name := range names {
		offsets, err := m.Offsets(name)
		if err != nil {
			return nil, err
		}
		resolved[name] = offsets
	}
	return resolved, nil
}

// Names returns the sorted names of all variables with known offsets.
func (m *Mapping) Names() []string {
	names := make([]string, 0, len(m.offsets))
	for name := range m.offsets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// VariableAt returns the name of the top-level variable occupying slot, if any. Names are searched in sorted order.
func (m *Mapping) VariableAt(slot *uint256.Int) (string, bool) {
	for _, name := range m.Names() {
		if strings.Contains(name, ".") {
			continue
		}
		for _, offset := range m.offsets[name] {
			if offset.Eq(slot) {
				return name, true
			}
		}
	}
	return "", false
}
