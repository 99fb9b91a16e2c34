package engine

import (
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/warden/symbolic"
	"github.com/pkg/errors"
)

var (
	// ErrStackUnderflow indicates an instruction required more operands than the stack held.
	ErrStackUnderflow = errors.New("stack underflow")

	// ErrStackOverflow indicates the stack would exceed MaxStackSize.
	ErrStackOverflow = errors.New("stack overflow")
)

// Memory is the byte-addressed volatile memory of an execution. Only concrete offsets are tracked.
type Memory struct {
	data map[uint64]*symbolic.BitVec
	size uint64
}

// NewMemory returns empty memory.
func NewMemory() *Memory {
	return &Memory{data: make(map[uint64]*symbolic.BitVec)}
}

// Size returns the active memory size in bytes, always a multiple of 32.
func (m *Memory) Size() uint64 {
	return m.size
}

// expand grows the active memory size to cover [offset, offset+length).
func (m *Memory) expand(offset uint64, length uint64) {
	if length == 0 {
		return
	}
	end := offset + length
	if end%32 != 0 {
		end += 32 - end%32
	}
	if end > m.size {
		m.size = end
	}
}

// LoadByte returns the byte at offset. Unwritten memory reads as zero.
func (m *Memory) LoadByte(offset uint64) *symbolic.BitVec {
	if b, ok := m.data[offset]; ok {
		return b
	}
	return symbolic.ByteConst(0)
}

// StoreByte writes an 8-bit expression at offset.
func (m *Memory) StoreByte(offset uint64, b *symbolic.BitVec) {
	m.data[offset] = b
	m.expand(offset, 1)
}

// Load returns length bytes starting at offset.
func (m *Memory) Load(offset uint64, length uint64) []*symbolic.BitVec {
	m.expand(offset, length)
	parts := make([]*symbolic.BitVec, length)
	for i := range parts {
		parts[i] = m.LoadByte(offset + uint64(i))
	}
	return parts
}

// LoadWord returns the 32-byte word starting at offset.
func (m *Memory) LoadWord(offset uint64) *symbolic.BitVec {
	return symbolic.Word(m.Load(offset, 32))
}

// StoreWord writes a 32-byte word starting at offset.
func (m *Memory) StoreWord(offset uint64, word *symbolic.BitVec) {
	word = symbolic.ZeroExtend(word)
	for i := 0; i < 32; i++ {
		m.data[offset+uint64(i)] = symbolic.ByteOf(word, i)
	}
	m.expand(offset, 32)
}

// Concrete returns length bytes starting at offset if all of them are concrete.
func (m *Memory) Concrete(offset uint64, length uint64) ([]byte, bool) {
	data := make([]byte, length)
	for i := range data {
		v, ok := m.LoadByte(offset + uint64(i)).Uint64()
		if !ok {
			return nil, false
		}
		data[i] = byte(v)
	}
	return data, true
}

// Copy returns an independent copy of the memory.
func (m *Memory) Copy() *Memory {
	data := make(map[uint64]*symbolic.BitVec, len(m.data))
	for k, v := range m.data {
		data[k] = v
	}
	return &Memory{data: data, size: m.size}
}

// MachineState is the per-path execution state of a single call frame.
type MachineState struct {
	// PC is the index of the next instruction to execute.
	PC int

	// Stack is the operand stack, top of stack last.
	Stack []*symbolic.BitVec

	// Memory is the volatile memory of the frame.
	Memory *Memory

	// Constraints is the path condition of this state.
	Constraints symbolic.Proposition

	// Depth is the call depth of the frame.
	Depth int

	// Steps counts the instructions executed on this path during the current transaction.
	Steps int

	// ReturnDataSize is the size of the data returned by the most recent call.
	ReturnDataSize *symbolic.BitVec

	// jumpCounts counts how often each jump edge was taken on this path.
	jumpCounts map[uint64]int
}

// NewMachineState returns the initial machine state under the provided path condition.
func NewMachineState(constraints symbolic.Proposition) *MachineState {
	return &MachineState{
		Stack:          make([]*symbolic.BitVec, 0, 32),
		Memory:         NewMemory(),
		Constraints:    constraints,
		ReturnDataSize: symbolic.ConstUint64(0),
		jumpCounts:     make(map[uint64]int),
	}
}

// Push pushes a value onto the stack.
func (m *MachineState) Push(v *symbolic.BitVec) error {
	if len(m.Stack) >= MaxStackSize {
		return ErrStackOverflow
	}
	m.Stack = append(m.Stack, symbolic.ZeroExtend(v))
	return nil
}

// Pop removes and returns the top of the stack.
func (m *MachineState) Pop() (*symbolic.BitVec, error) {
	if len(m.Stack) == 0 {
		return nil, ErrStackUnderflow
	}
	v := m.Stack[len(m.Stack)-1]
	m.Stack = m.Stack[:len(m.Stack)-1]
	return v, nil
}

// PopN removes and returns the top n stack items, top of stack first.
func (m *MachineState) PopN(n int) ([]*symbolic.BitVec, error) {
	if len(m.Stack) < n {
		return nil, ErrStackUnderflow
	}
	values := make([]*symbolic.BitVec, n)
	for i := range values {
		values[i] = m.Stack[len(m.Stack)-1-i]
	}
	m.Stack = m.Stack[:len(m.Stack)-n]
	return values, nil
}

// Peek returns the stack item at depth i without removing it, 0 being the top.
func (m *MachineState) Peek(i int) (*symbolic.BitVec, error) {
	if i >= len(m.Stack) {
		return nil, ErrStackUnderflow
	}
	return m.Stack[len(m.Stack)-1-i], nil
}

// countJump records that the jump from source to destination was taken and returns how often it has been taken on
// this path.
func (m *MachineState) countJump(source uint64, destination uint64) int {
	key := source<<32 | destination&0xffffffff
	m.jumpCounts[key]++
	return m.jumpCounts[key]
}

// Copy returns an independent copy of the machine state.
func (m *MachineState) Copy() *MachineState {
	stack := make([]*symbolic.BitVec, len(m.Stack), cap(m.Stack))
	copy(stack, m.Stack)
	jumpCounts := make(map[uint64]int, len(m.jumpCounts))
	for k, v := range m.jumpCounts {
		jumpCounts[k] = v
	}
	return &MachineState{
		PC:             m.PC,
		Stack:          stack,
		Memory:         m.Memory.Copy(),
		Constraints:    m.Constraints,
		Depth:          m.Depth,
		Steps:          m.Steps,
		ReturnDataSize: m.ReturnDataSize,
		jumpCounts:     jumpCounts,
	}
}

// Environment describes the context a frame executes in.
type Environment struct {
	// ActiveAccount is the address of the account whose code is executing.
	ActiveAccount common.Address

	// Code is the code being executed.
	Code *Disassembly

	// Transaction is the transaction being executed.
	Transaction Transaction
}

// GlobalState is the complete state of one execution path at one instruction. States recorded on graph nodes are
// snapshots: their machine state is a private copy and they do not retain the world state.
type GlobalState struct {
	// Machine is the machine state of the path.
	Machine *MachineState

	// World is the world state the path is modifying. It is nil on recorded snapshots.
	World *WorldState

	// Environment describes the executing frame.
	Environment Environment

	// Node is the graph node the state belongs to.
	Node *Node

	// pending holds the records of the path that are committed only if the transaction completes.
	pending *pendingRecords
}

// Transaction returns the transaction the state is executing.
func (g *GlobalState) Transaction() Transaction {
	return g.Environment.Transaction
}

// Instruction returns the instruction the state is about to execute.
func (g *GlobalState) Instruction() Instruction {
	instructions := g.Environment.Code.Instructions
	if g.Machine.PC < len(instructions) {
		return instructions[g.Machine.PC]
	}
	return Instruction{Address: uint64(len(g.Environment.Code.Bytecode))}
}

// Address returns the byte offset of the instruction the state is about to execute.
func (g *GlobalState) Address() uint64 {
	return g.Instruction().Address
}

// Constraints returns the path condition of the state.
func (g *GlobalState) Constraints() symbolic.Proposition {
	return g.Machine.Constraints
}

// snapshot returns a read-only copy of the state suitable for recording on a node.
func (g *GlobalState) snapshot() *GlobalState {
	return &GlobalState{
		Machine:     g.Machine.Copy(),
		Environment: g.Environment,
		Node:        g.Node,
	}
}

// fork returns an independent copy of a live state, sharing the world state copy semantics of the path.
func (g *GlobalState) fork(world *WorldState) *GlobalState {
	return &GlobalState{
		Machine:     g.Machine.Copy(),
		World:       world,
		Environment: g.Environment,
		Node:        g.Node,
		pending:     g.pending.copy(),
	}
}
