// Package asm provides a small EVM assembler for building test contracts without a compiler.
package asm

import (
	"fmt"

	"github.com/crytic/medusa-geth/core/vm"
)

// fixup is a PUSH2 placeholder awaiting a label address.
type fixup struct {
	position int
	label    string
}

// Program is an EVM program under construction. Methods return the receiver so calls can be chained.
type Program struct {
	code   []byte
	labels map[string]int
	fixups []fixup
}

// Entry routes a function selector to a label in a dispatcher.
type Entry struct {
	Selector [4]byte
	Label    string
}

// New returns an empty Program.
func New() *Program {
	return &Program{
		code:   make([]byte, 0),
		labels: make(map[string]int),
		fixups: make([]fixup, 0),
	}
}

// Op appends opcodes without immediates.
func (p *Program) Op(ops ...vm.OpCode) *Program {
	for _, op := range ops {
		p.code = append(p.code, byte(op))
	}
	return p
}

// Push appends the shortest PUSH of v.
func (p *Program) Push(v uint64) *Program {
	if v == 0 {
		return p.Op(vm.PUSH0)
	}
	data := make([]byte, 0, 8)
	for ; v > 0; v >>= 8 {
		data = append([]byte{byte(v)}, data...)
	}
	return p.PushBytes(data)
}

// PushBytes appends a PUSH of the provided immediate, between 1 and 32 bytes long.
func (p *Program) PushBytes(data []byte) *Program {
	if len(data) == 0 || len(data) > 32 {
		panic(fmt.Sprintf("invalid push length %d", len(data)))
	}
	p.code = append(p.code, byte(vm.PUSH1)+byte(len(data)-1))
	p.code = append(p.code, data...)
	return p
}

// PushLabel appends a PUSH2 of the address of a label, resolved when the program is assembled.
func (p *Program) PushLabel(label string) *Program {
	p.code = append(p.code, byte(vm.PUSH2), 0, 0)
	p.fixups = append(p.fixups, fixup{position: len(p.code) - 2, label: label})
	return p
}

// Label marks the current position with a JUMPDEST named label.
func (p *Program) Label(label string) *Program {
	if _, ok := p.labels[label]; ok {
		panic(fmt.Sprintf("duplicate label %v", label))
	}
	p.labels[label] = len(p.code)
	return p.Op(vm.JUMPDEST)
}

// Jump appends an unconditional jump to label.
func (p *Program) Jump(label string) *Program {
	return p.PushLabel(label).Op(vm.JUMP)
}

// JumpI appends a jump to label taken when the top of the stack is non-zero.
func (p *Program) JumpI(label string) *Program {
	return p.PushLabel(label).Op(vm.JUMPI)
}

// Revert appends an empty revert.
func (p *Program) Revert() *Program {
	return p.Op(vm.PUSH0, vm.PUSH0, vm.REVERT)
}

// Dispatch appends a function dispatcher that routes on the four-byte selector of the call data and reverts when no
// entry matches. The selector remains on the stack when a label is entered.
func (p *Program) Dispatch(entries ...Entry) *Program {
	p.Op(vm.PUSH0, vm.CALLDATALOAD).Push(0xe0).Op(vm.SHR)
	for _, entry := range entries {
		p.Op(vm.DUP1).PushBytes(entry.Selector[:]).Op(vm.EQ).JumpI(entry.Label)
	}
	return p.Revert()
}

// Len returns the current length of the program in bytes.
func (p *Program) Len() int {
	return len(p.code)
}

// Bytes assembles the program, resolving label references. It panics on unknown labels.
func (p *Program) Bytes() []byte {
	code := append([]byte(nil), p.code...)
	for _, f := range p.fixups {
		address, ok := p.labels[f.label]
		if !ok {
			panic(fmt.Sprintf("unknown label %v", f.label))
		}
		code[f.position] = byte(address >> 8)
		code[f.position+1] = byte(address)
	}
	return code
}

// deployerTailLength is the length of the code Deployer appends after the constructor body.
const deployerTailLength = 15

// Deployer returns creation code that runs the constructor body and then returns runtime as the deployed code. The
// constructor must fall through to its end.
func Deployer(constructor *Program, runtime []byte) []byte {
	body := constructor.Bytes()
	offset := len(body) + deployerTailLength
	size := len(runtime)

	tail := New().
		PushBytes([]byte{byte(size >> 8), byte(size)}).
		PushBytes([]byte{byte(offset >> 8), byte(offset)}).
		PushBytes([]byte{0}).
		Op(vm.CODECOPY).
		PushBytes([]byte{byte(size >> 8), byte(size)}).
		PushBytes([]byte{0}).
		Op(vm.RETURN).
		Bytes()

	code := make([]byte, 0, offset+size)
	code = append(code, body...)
	code = append(code, tail...)
	return append(code, runtime...)
}
