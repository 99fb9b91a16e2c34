package engine

import (
	"fmt"

	"github.com/crytic/medusa-geth/core/vm"
)

// Instruction describes a single decoded EVM instruction.
type Instruction struct {
	// Address is the byte offset of the instruction within the bytecode.
	Address uint64

	// Op is the opcode of the instruction.
	Op vm.OpCode

	// Argument holds the immediate data of PUSH instructions, zero-padded if the bytecode was truncated.
	Argument []byte
}

// String returns a human-readable form of the instruction.
func (i Instruction) String() string {
	if len(i.Argument) > 0 {
		return fmt.Sprintf("%d %v 0x%x", i.Address, i.Op, i.Argument)
	}
	return fmt.Sprintf("%d %v", i.Address, i.Op)
}

// Disassembly is the decoded form of a contract's bytecode.
type Disassembly struct {
	// Bytecode is the raw code that was decoded.
	Bytecode []byte

	// Instructions are the decoded instructions in code order.
	Instructions []Instruction

	// indexByAddress maps an instruction's byte offset to its index in Instructions.
	indexByAddress map[uint64]int
}

// Disassemble decodes bytecode into a list of instructions. PUSH data is skipped over so that bytes within immediate
// data are never treated as instructions.
func Disassemble(bytecode []byte) *Disassembly {
	d := &Disassembly{
		Bytecode:       bytecode,
		Instructions:   make([]Instruction, 0, len(bytecode)),
		indexByAddress: make(map[uint64]int),
	}

	for offset := 0; offset < len(bytecode); {
		op := vm.OpCode(bytecode[offset])
		instruction := Instruction{Address: uint64(offset), Op: op}

		operandCount := 0
		if op.IsPush() && op != vm.PUSH0 {
			operandCount = int(op) - int(vm.PUSH1) + 1
		}
		if operandCount > 0 {
			instruction.Argument = make([]byte, operandCount)
			start := offset + 1
			end := min(start+operandCount, len(bytecode))
			if start < end {
				copy(instruction.Argument, bytecode[start:end])
			}
		}

		d.indexByAddress[instruction.Address] = len(d.Instructions)
		d.Instructions = append(d.Instructions, instruction)
		offset += 1 + operandCount
	}
	return d
}

// IndexOf returns the index of the instruction at the provided byte offset.
func (d *Disassembly) IndexOf(address uint64) (int, bool) {
	index, ok := d.indexByAddress[address]
	return index, ok
}

// IsJumpDest indicates whether the provided byte offset holds a JUMPDEST instruction.
func (d *Disassembly) IsJumpDest(address uint64) bool {
	index, ok := d.indexByAddress[address]
	return ok && d.Instructions[index].Op == vm.JUMPDEST
}

// Selectors returns the four-byte values that the code compares against with an EQ shortly after pushing them. This
// is how compiled dispatchers route calls to public functions.
func (d *Disassembly) Selectors() [][4]byte {
	selectors := make([][4]byte, 0)
	seen := make(map[[4]byte]struct{})
	for i, instruction := range d.Instructions {
		if instruction.Op != vm.PUSH4 {
			continue
		}
		// The comparison is either immediately after the push or after a DUP of the calldata selector.
		for j := i + 1; j < len(d.Instructions) && j <= i+2; j++ {
			if d.Instructions[j].Op != vm.EQ {
				continue
			}
			var selector [4]byte
			copy(selector[:], instruction.Argument)
			if _, ok := seen[selector]; !ok {
				seen[selector] = struct{}{}
				selectors = append(selectors, selector)
			}
			break
		}
	}
	return selectors
}
