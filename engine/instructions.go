package engine

import (
	"fmt"
	"strings"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/warden/compilation/abiutils"
	"github.com/crytic/warden/symbolic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// outcome describes what happened to a path after executing one instruction.
type outcome int

const (
	outcomeContinue outcome = iota
	outcomeFork
	outcomeComplete
	outcomeRevert
	outcomeExhausted
)

// Opcodes introduced after the fork the opcode table names are pinned to.
const (
	opPrevRandao  vm.OpCode = 0x44
	opBlobHash    vm.OpCode = 0x49
	opBlobBaseFee vm.OpCode = 0x4a
	opTLoad       vm.OpCode = 0x5c
	opTStore      vm.OpCode = 0x5d
	opMCopy       vm.OpCode = 0x5e
)

// maxMemoryCopy bounds the length of concrete memory copies and call return buffers.
const maxMemoryCopy = 1 << 16

// maxPrecompile is the highest precompiled contract address.
const maxPrecompile = 0x0a

var (
	errInvalidJump   = errors.New("invalid jump destination")
	errInvalidOpcode = errors.New("invalid opcode")
)

// binaryOps maps two-operand opcodes to their semantics. The first argument is the top of the stack.
var binaryOps = map[vm.OpCode]func(a, b *symbolic.BitVec) *symbolic.BitVec{
	vm.ADD:        symbolic.Add,
	vm.MUL:        symbolic.Mul,
	vm.SUB:        symbolic.Sub,
	vm.DIV:        symbolic.Div,
	vm.SDIV:       symbolic.SDiv,
	vm.MOD:        symbolic.Mod,
	vm.SMOD:       symbolic.SMod,
	vm.EXP:        symbolic.Exp,
	vm.SIGNEXTEND: symbolic.SignExtend,
	vm.AND:        symbolic.And,
	vm.OR:         symbolic.Or,
	vm.XOR:        symbolic.Xor,
	vm.BYTE:       symbolic.Byte,
	vm.LT: func(a, b *symbolic.BitVec) *symbolic.BitVec {
		return symbolic.BoolToWord(symbolic.Ult(a, b))
	},
	vm.GT: func(a, b *symbolic.BitVec) *symbolic.BitVec {
		return symbolic.BoolToWord(symbolic.Ugt(a, b))
	},
	vm.SLT: func(a, b *symbolic.BitVec) *symbolic.BitVec {
		return symbolic.BoolToWord(symbolic.Slt(a, b))
	},
	vm.SGT: func(a, b *symbolic.BitVec) *symbolic.BitVec {
		return symbolic.BoolToWord(symbolic.Sgt(a, b))
	},
	vm.EQ: func(a, b *symbolic.BitVec) *symbolic.BitVec {
		return symbolic.BoolToWord(symbolic.Eq(a, b))
	},
	vm.SHL: func(shift, value *symbolic.BitVec) *symbolic.BitVec {
		return symbolic.Shl(value, shift)
	},
	vm.SHR: func(shift, value *symbolic.BitVec) *symbolic.BitVec {
		return symbolic.Shr(value, shift)
	},
	vm.SAR: func(shift, value *symbolic.BitVec) *symbolic.BitVec {
		return symbolic.Sar(value, shift)
	},
}

// step executes a single instruction on g.
func (e *execution) step(g *GlobalState, instruction Instruction) ([]*GlobalState, outcome, error) {
	m := g.Machine
	op := instruction.Op

	if fn, ok := binaryOps[op]; ok {
		args, err := m.PopN(2)
		if err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m, fn(args[0], args[1]))
	}

	switch {
	case op == vm.PUSH0:
		return e.next(m, symbolic.ConstUint64(0))
	case op.IsPush():
		return e.next(m, symbolic.ConstBytes(instruction.Argument))
	case op >= vm.DUP1 && op <= vm.DUP16:
		v, err := m.Peek(int(op - vm.DUP1))
		if err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m, v)
	case op >= vm.SWAP1 && op <= vm.SWAP16:
		n := int(op-vm.SWAP1) + 1
		if len(m.Stack) <= n {
			return nil, outcomeContinue, ErrStackUnderflow
		}
		top := len(m.Stack) - 1
		m.Stack[top], m.Stack[top-n] = m.Stack[top-n], m.Stack[top]
		return e.next(m)
	case op >= vm.LOG0 && op <= vm.LOG4:
		if _, err := m.PopN(2 + int(op-vm.LOG0)); err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m)
	}

	tx := g.Transaction()
	switch op {
	case vm.STOP:
		return nil, outcomeComplete, nil
	case vm.ADDMOD, vm.MULMOD:
		args, err := m.PopN(3)
		if err != nil {
			return nil, outcomeContinue, err
		}
		if op == vm.ADDMOD {
			return e.next(m, symbolic.AddMod(args[0], args[1], args[2]))
		}
		return e.next(m, symbolic.MulMod(args[0], args[1], args[2]))
	case vm.ISZERO:
		a, err := m.Pop()
		if err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m, symbolic.BoolToWord(symbolic.Eq(a, symbolic.ConstUint64(0))))
	case vm.NOT:
		a, err := m.Pop()
		if err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m, symbolic.Not(a))
	case vm.KECCAK256:
		args, err := m.PopN(2)
		if err != nil {
			return nil, outcomeContinue, err
		}
		offset, length, ok := concreteRange(args[0], args[1])
		if !ok {
			return e.next(m, e.fresh(g, instruction))
		}
		return e.next(m, symbolic.Keccak(m.Memory.Load(offset, length)))

	// Environment
	case vm.ADDRESS:
		return e.next(m, AddressWord(g.Environment.ActiveAccount))
	case vm.BALANCE:
		address, err := m.Pop()
		if err != nil {
			return nil, outcomeContinue, err
		}
		if account := e.knownAccount(g, address); account != nil {
			return e.next(m, account.Balance)
		}
		return e.next(m, e.fresh(g, instruction))
	case vm.SELFBALANCE:
		return e.next(m, g.World.Account(g.Environment.ActiveAccount).Balance)
	case vm.ORIGIN:
		return e.next(m, tx.Origin())
	case vm.CALLER:
		return e.next(m, tx.Caller())
	case vm.CALLVALUE:
		return e.next(m, tx.CallValue())
	case vm.GASPRICE:
		return e.next(m, tx.GasPrice())
	case vm.CALLDATALOAD:
		offset, err := m.Pop()
		if err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m, tx.Calldata().Load(offset))
	case vm.CALLDATASIZE:
		return e.next(m, tx.Calldata().Size())
	case vm.CALLDATACOPY:
		args, err := m.PopN(3)
		if err != nil {
			return nil, outcomeContinue, err
		}
		e.copyToMemory(m, args[0], args[2], func(i uint64) *symbolic.BitVec {
			return tx.Calldata().ByteAt(symbolic.Add(args[1], symbolic.ConstUint64(i)))
		})
		return e.next(m)
	case vm.CODESIZE:
		return e.next(m, symbolic.ConstUint64(uint64(len(g.Environment.Code.Bytecode))))
	case vm.CODECOPY:
		args, err := m.PopN(3)
		if err != nil {
			return nil, outcomeContinue, err
		}
		source, ok := args[1].Uint64()
		if !ok {
			return e.next(m)
		}
		code := g.Environment.Code.Bytecode
		e.copyToMemory(m, args[0], args[2], func(i uint64) *symbolic.BitVec {
			if source+i < uint64(len(code)) {
				return symbolic.ByteConst(code[source+i])
			}
			return symbolic.ByteConst(0)
		})
		return e.next(m)
	case vm.EXTCODESIZE:
		address, err := m.Pop()
		if err != nil {
			return nil, outcomeContinue, err
		}
		if account := e.knownAccount(g, address); account != nil && account.Code != nil {
			return e.next(m, symbolic.ConstUint64(uint64(len(account.Code.Bytecode))))
		}
		return e.next(m, e.fresh(g, instruction))
	case vm.EXTCODECOPY:
		if _, err := m.PopN(4); err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m)
	case vm.EXTCODEHASH, vm.BLOCKHASH, opBlobHash:
		if _, err := m.Pop(); err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m, e.fresh(g, instruction))
	case vm.RETURNDATASIZE:
		return e.next(m, m.ReturnDataSize)
	case vm.RETURNDATACOPY:
		args, err := m.PopN(3)
		if err != nil {
			return nil, outcomeContinue, err
		}
		name := e.freshName(g, instruction)
		e.copyToMemory(m, args[0], args[2], func(i uint64) *symbolic.BitVec {
			return symbolic.ByteSymbol(fmt.Sprintf("%s_%d", name, i))
		})
		return e.next(m)
	case vm.GASLIMIT:
		return e.next(m, symbolic.ConstUint64(tx.GasLimit()))
	case vm.COINBASE, vm.TIMESTAMP, vm.NUMBER, opPrevRandao, vm.CHAINID, vm.BASEFEE, opBlobBaseFee:
		return e.next(m, symbolic.Symbol(fmt.Sprintf("%s_%d", strings.ToLower(op.String()), tx.ID())))
	case vm.GAS:
		return e.next(m, e.fresh(g, instruction))

	// Memory and storage
	case vm.POP:
		if _, err := m.Pop(); err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m)
	case vm.MLOAD:
		offset, err := m.Pop()
		if err != nil {
			return nil, outcomeContinue, err
		}
		if o, ok := offset.Uint64(); ok {
			return e.next(m, m.Memory.LoadWord(o))
		}
		return e.next(m, e.fresh(g, instruction))
	case vm.MSTORE, vm.MSTORE8:
		args, err := m.PopN(2)
		if err != nil {
			return nil, outcomeContinue, err
		}
		// Writes to symbolic offsets are not tracked.
		if o, ok := args[0].Uint64(); ok {
			if op == vm.MSTORE {
				m.Memory.StoreWord(o, args[1])
			} else {
				m.Memory.StoreByte(o, symbolic.ByteOf(args[1], 31))
			}
		}
		return e.next(m)
	case opMCopy:
		args, err := m.PopN(3)
		if err != nil {
			return nil, outcomeContinue, err
		}
		source, ok := args[1].Uint64()
		if !ok {
			return e.next(m)
		}
		// Read the source fully before writing so overlapping ranges copy correctly.
		if length, ok := args[2].Uint64(); ok && length <= maxMemoryCopy {
			data := m.Memory.Load(source, length)
			e.copyToMemory(m, args[0], args[2], func(i uint64) *symbolic.BitVec {
				return data[i]
			})
		}
		return e.next(m)
	case vm.MSIZE:
		return e.next(m, symbolic.ConstUint64(m.Memory.Size()))
	case vm.SLOAD:
		key, err := m.Pop()
		if err != nil {
			return nil, outcomeContinue, err
		}
		if e.hook != nil {
			e.hook.OnStorageRead(tx, key)
		}
		return e.next(m, g.World.Account(g.Environment.ActiveAccount).Storage.Load(key))
	case vm.SSTORE:
		args, err := m.PopN(2)
		if err != nil {
			return nil, outcomeContinue, err
		}
		g.World.MutableAccount(g.Environment.ActiveAccount).Storage.Store(args[0], args[1])
		if e.hook != nil {
			e.hook.OnStorageWrite(tx, args[0])
		}
		g.pending.storageWrites = append(g.pending.storageWrites, &StorageWrite{
			State:       e.observe(g),
			Offset:      args[0],
			Value:       args[1],
			Constraints: m.Constraints,
		})
		return e.next(m)
	case opTLoad:
		if _, err := m.Pop(); err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m, e.fresh(g, instruction))
	case opTStore:
		if _, err := m.PopN(2); err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m)

	// Control flow
	case vm.JUMP:
		destination, err := m.Pop()
		if err != nil {
			return nil, outcomeContinue, err
		}
		target, address, err := e.jumpTarget(g, destination)
		if err != nil {
			return nil, outcomeContinue, err
		}
		if target < 0 {
			return nil, outcomeExhausted, nil
		}
		if m.countJump(instruction.Address, address) > e.config.LoopBound {
			return nil, outcomeExhausted, nil
		}
		from := g.Node
		m.PC = target
		e.enterNode(g, from, UnconditionalJump, nil)
		return nil, outcomeContinue, nil
	case vm.JUMPI:
		return e.jumpi(g, instruction)
	case vm.JUMPDEST:
		return e.next(m)
	case vm.PC:
		return e.next(m, symbolic.ConstUint64(instruction.Address))

	// Calls and contract creation
	case vm.CREATE, vm.CREATE2:
		n := 3
		if op == vm.CREATE2 {
			n = 4
		}
		if _, err := m.PopN(n); err != nil {
			return nil, outcomeContinue, err
		}
		return e.next(m, e.fresh(g, instruction))
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
		return e.call(g, instruction)

	// Halting
	case vm.RETURN:
		args, err := m.PopN(2)
		if err != nil {
			return nil, outcomeContinue, err
		}
		if creation, ok := tx.(*ContractCreationTransaction); ok {
			return nil, e.installRuntimeCode(g, creation, args[0], args[1]), nil
		}
		return nil, outcomeComplete, nil
	case vm.REVERT:
		args, err := m.PopN(2)
		if err != nil {
			return nil, outcomeContinue, err
		}
		if e.logger.Level() <= zerolog.TraceLevel {
			e.traceRevertReason(m, args[0], args[1])
		}
		return nil, outcomeRevert, nil
	case vm.SELFDESTRUCT:
		beneficiary, err := m.Pop()
		if err != nil {
			return nil, outcomeContinue, err
		}
		account := g.World.MutableAccount(g.Environment.ActiveAccount)
		g.pending.selfDestructs = append(g.pending.selfDestructs, &SelfDestruct{
			State:       e.observe(g),
			Beneficiary: beneficiary,
			Constraints: m.Constraints,
		})
		account.Deleted = true
		account.Balance = symbolic.ConstUint64(0)
		return nil, outcomeComplete, nil
	}

	return nil, outcomeContinue, errors.Wrapf(errInvalidOpcode, "%v", op)
}

// next pushes values and advances the program counter.
func (e *execution) next(m *MachineState, values ...*symbolic.BitVec) ([]*GlobalState, outcome, error) {
	for _, v := range values {
		if err := m.Push(v); err != nil {
			return nil, outcomeContinue, err
		}
	}
	m.PC++
	return nil, outcomeContinue, nil
}

// freshName returns a symbol name unique to the instruction being executed on this path.
func (e *execution) freshName(g *GlobalState, instruction Instruction) string {
	return fmt.Sprintf("%s_%d_%d_%d", strings.ToLower(instruction.Op.String()), e.tx.ID(), instruction.Address, g.Machine.Steps)
}

// fresh returns a new unconstrained symbol for the result of the instruction being executed.
func (e *execution) fresh(g *GlobalState, instruction Instruction) *symbolic.BitVec {
	return symbolic.Symbol(e.freshName(g, instruction))
}

// knownAccount returns the live account a concrete address refers to, or nil.
func (e *execution) knownAccount(g *GlobalState, address *symbolic.BitVec) *Account {
	a, ok := WordAddress(address)
	if !ok {
		return nil
	}
	account := g.World.Account(a)
	if account == nil || account.Deleted {
		return nil
	}
	return account
}

// traceRevertReason logs the decoded revert reason of a path when its revert data is concrete.
func (e *execution) traceRevertReason(m *MachineState, offset *symbolic.BitVec, length *symbolic.BitVec) {
	o, l, ok := concreteRange(offset, length)
	if !ok {
		return
	}
	data := make([]byte, 0, l)
	for _, b := range m.Memory.Load(o, l) {
		v, ok := b.Uint64()
		if !ok {
			return
		}
		data = append(data, byte(v))
	}
	if reason, ok := abiutils.GetRevertReason(data); ok {
		e.logger.Trace("Path of tx ", e.tx.ID(), " (", e.tx.FunctionName(), ") reverted: ", reason)
	}
}

// concreteRange returns a memory range if both offset and length are concrete and the length is bounded.
func concreteRange(offset *symbolic.BitVec, length *symbolic.BitVec) (uint64, uint64, bool) {
	o, ok := offset.Uint64()
	if !ok {
		return 0, 0, false
	}
	l, ok := length.Uint64()
	if !ok || l > maxMemoryCopy {
		return 0, 0, false
	}
	return o, l, true
}

// copyToMemory writes length bytes produced by source to memory at offset. Copies with a symbolic destination or
// length are not tracked.
func (e *execution) copyToMemory(m *MachineState, offset *symbolic.BitVec, length *symbolic.BitVec, source func(i uint64) *symbolic.BitVec) {
	o, l, ok := concreteRange(offset, length)
	if !ok {
		return
	}
	for i := uint64(0); i < l; i++ {
		m.Memory.StoreByte(o+i, source(i))
	}
}

// jumpTarget resolves a jump destination to an instruction index. A negative index with a nil error means the
// destination is symbolic and cannot be followed.
func (e *execution) jumpTarget(g *GlobalState, destination *symbolic.BitVec) (int, uint64, error) {
	address, ok := destination.Uint64()
	if !ok {
		if destination.IsConst() {
			return 0, 0, errInvalidJump
		}
		return -1, 0, nil
	}
	code := g.Environment.Code
	if !code.IsJumpDest(address) {
		return 0, 0, errors.Wrapf(errInvalidJump, "%d", address)
	}
	index, _ := code.IndexOf(address)
	return index, address, nil
}

// jumpi executes a conditional jump, forking the path when the condition is symbolic.
func (e *execution) jumpi(g *GlobalState, instruction Instruction) ([]*GlobalState, outcome, error) {
	m := g.Machine
	args, err := m.PopN(2)
	if err != nil {
		return nil, outcomeContinue, err
	}
	destination, condition := args[0], args[1]

	if condition.IsConst() {
		if condition.Value().IsZero() {
			m.PC++
			return nil, outcomeContinue, nil
		}
		target, address, err := e.jumpTarget(g, destination)
		if err != nil {
			return nil, outcomeContinue, err
		}
		if target < 0 || m.countJump(instruction.Address, address) > e.config.LoopBound {
			return nil, outcomeExhausted, nil
		}
		from := g.Node
		m.PC = target
		e.enterNode(g, from, ConditionalJump, nil)
		return nil, outcomeContinue, nil
	}

	type branch struct {
		condition *symbolic.Bool
		target    int
		address   uint64
		taken     bool
	}
	zero := symbolic.ConstUint64(0)
	branches := make([]branch, 0, 2)

	// An invalid or symbolic destination halts the taken branch, leaving only the fall-through.
	target, address, err := e.jumpTarget(g, destination)
	if err == nil && target >= 0 {
		branches = append(branches, branch{
			condition: symbolic.LNot(symbolic.Eq(condition, zero)),
			target:    target,
			address:   address,
			taken:     true,
		})
	}
	branches = append(branches, branch{
		condition: symbolic.Eq(condition, zero),
		target:    m.PC + 1,
		address:   instruction.Address + 1,
	})

	feasible := make([]branch, 0, len(branches))
	for _, b := range branches {
		if e.feasible(m, b.condition) {
			feasible = append(feasible, b)
		} else {
			e.result.Stats.Pruned++
		}
	}
	if len(feasible) == 0 {
		return nil, outcomeRevert, nil
	}

	// Every branch but the last works on a copy; the last reuses g.
	from := g.Node
	states := make([]*GlobalState, len(feasible))
	for i := range feasible {
		if i == len(feasible)-1 {
			states[i] = g
		} else {
			states[i] = g.fork(g.World.clone())
		}
	}

	forks := make([]*GlobalState, 0, len(feasible))
	for i, b := range feasible {
		s := states[i]
		if b.taken && s.Machine.countJump(instruction.Address, b.address) > e.config.LoopBound {
			e.exhaust(s, "loop bound reached at "+instruction.String())
			continue
		}
		s.Machine.Constraints = s.Machine.Constraints.Append(b.condition)
		s.Machine.PC = b.target
		e.enterNode(s, from, ConditionalJump, b.condition)
		forks = append(forks, s)
	}
	return forks, outcomeFork, nil
}

// call executes a CALL-family instruction. The callee is not executed: its success flag, return data and return
// data size are fresh symbols.
func (e *execution) call(g *GlobalState, instruction Instruction) ([]*GlobalState, outcome, error) {
	m := g.Machine
	op := instruction.Op
	n := 6
	if op == vm.CALL || op == vm.CALLCODE {
		n = 7
	}
	args, err := m.PopN(n)
	if err != nil {
		return nil, outcomeContinue, err
	}

	callee := args[1]
	value := symbolic.ConstUint64(0)
	if n == 7 {
		value = args[2]
	}
	outOffset, outLength := args[n-2], args[n-1]

	if !isPrecompile(callee) {
		g.pending.externalCalls = append(g.pending.externalCalls, &ExternalCall{
			State:       e.observe(g),
			Op:          op,
			Callee:      callee,
			Value:       value,
			Constraints: m.Constraints,
		})
	}

	name := e.freshName(g, instruction)
	e.copyToMemory(m, outOffset, outLength, func(i uint64) *symbolic.BitVec {
		return symbolic.ByteSymbol(fmt.Sprintf("returndata_%s_%d", name, i))
	})
	m.ReturnDataSize = symbolic.Symbol("returndatasize_" + name)
	return e.next(m, symbolic.Symbol("retval_"+name))
}

// isPrecompile indicates whether a concrete callee is a precompiled contract.
func isPrecompile(callee *symbolic.BitVec) bool {
	v, ok := callee.Uint64()
	return ok && v >= 1 && v <= maxPrecompile
}

// installRuntimeCode sets the code of a newly created contract from the memory returned by its constructor. Bytes
// that are not concrete (such as immutables computed from symbols) are zeroed.
func (e *execution) installRuntimeCode(g *GlobalState, tx *ContractCreationTransaction, offset *symbolic.BitVec, length *symbolic.BitVec) outcome {
	account := g.World.MutableAccount(g.Environment.ActiveAccount)

	var runtime []byte
	if o, l, ok := concreteRange(offset, length); ok && l > 0 {
		runtime = make([]byte, l)
		for i, b := range g.Machine.Memory.Load(o, l) {
			if v, ok := b.Uint64(); ok {
				runtime[i] = byte(v)
			}
		}
	}
	if len(runtime) == 0 {
		runtime = tx.RuntimeCode
	}
	if len(runtime) == 0 {
		e.logger.Debug("Constructor of ", tx.ContractName, " returned no runtime code")
		return outcomeExhausted
	}
	account.Code = Disassemble(runtime)
	return outcomeComplete
}
