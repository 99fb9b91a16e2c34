package engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/warden/symbolic"
)

// transactionCounter issues unique transaction ids across all concurrent executions.
var transactionCounter atomic.Uint64

// NextTransactionID returns a fresh, process-wide unique transaction id.
func NextTransactionID() uint64 {
	return transactionCounter.Add(1)
}

// CallerSymbolName returns the name of the caller symbol of the transaction with the provided id.
func CallerSymbolName(txID uint64) string {
	return fmt.Sprintf("caller_%d", txID)
}

// CalldataSymbolName returns the name of the byte symbol at index of the call data of the transaction with the
// provided id.
func CalldataSymbolName(txID uint64, index uint64) string {
	return fmt.Sprintf("calldata_%d_%d", txID, index)
}

// CalldataSizeSymbolName returns the name of the call data size symbol of the transaction with the provided id.
func CalldataSizeSymbolName(txID uint64) string {
	return fmt.Sprintf("calldatasize_%d", txID)
}

// Transaction describes a symbolic transaction applied to a WorldState.
type Transaction interface {
	// ID returns the unique id of the transaction.
	ID() uint64
	// Caller returns the message sender.
	Caller() *symbolic.BitVec
	// Origin returns the transaction origin.
	Origin() *symbolic.BitVec
	// CallValue returns the value transferred with the transaction.
	CallValue() *symbolic.BitVec
	// GasPrice returns the gas price of the transaction.
	GasPrice() *symbolic.BitVec
	// GasLimit returns the gas limit of the transaction.
	GasLimit() uint64
	// Calldata returns the input data of the transaction.
	Calldata() *Calldata
	// Callee returns the address of the account the transaction targets.
	Callee() common.Address
	// WorldState returns the state the transaction is applied to.
	WorldState() *WorldState
	// FunctionName returns the name of the function the transaction invokes.
	FunctionName() string
	// IsCreation indicates whether the transaction deploys a contract.
	IsCreation() bool
	// Setup returns the constraints that hold at the start of the transaction.
	Setup() symbolic.Proposition
}

// baseTransaction holds the fields common to every Transaction variant.
type baseTransaction struct {
	id           uint64
	caller       *symbolic.BitVec
	origin       *symbolic.BitVec
	callValue    *symbolic.BitVec
	gasPrice     *symbolic.BitVec
	calldata     *Calldata
	callee       common.Address
	worldState   *WorldState
	functionName string
}

func (t *baseTransaction) ID() uint64                  { return t.id }
func (t *baseTransaction) Caller() *symbolic.BitVec    { return t.caller }
func (t *baseTransaction) Origin() *symbolic.BitVec    { return t.origin }
func (t *baseTransaction) CallValue() *symbolic.BitVec { return t.callValue }
func (t *baseTransaction) GasPrice() *symbolic.BitVec  { return t.gasPrice }
func (t *baseTransaction) GasLimit() uint64            { return BlockGasLimit }
func (t *baseTransaction) Calldata() *Calldata         { return t.calldata }
func (t *baseTransaction) Callee() common.Address      { return t.callee }
func (t *baseTransaction) WorldState() *WorldState     { return t.worldState }
func (t *baseTransaction) FunctionName() string        { return t.functionName }

// String returns a short description of the transaction.
func (t *baseTransaction) String() string {
	return fmt.Sprintf("tx %d (%v)", t.id, t.functionName)
}

// MessageCallTransaction invokes a public function of an existing contract. Its caller, origin, value, gas price and
// call data arguments are fresh symbols; the function selector prefix of the call data is concrete.
type MessageCallTransaction struct {
	baseTransaction

	// Function is the function being invoked.
	Function Function
}

// NewMessageCallTransaction returns a message call to function fn of the contract at callee, applied to world.
func NewMessageCallTransaction(world *WorldState, callee common.Address, fn Function) *MessageCallTransaction {
	id := NextTransactionID()
	return &MessageCallTransaction{
		baseTransaction: baseTransaction{
			id:           id,
			caller:       symbolic.Symbol(CallerSymbolName(id)),
			origin:       symbolic.Symbol(fmt.Sprintf("origin_%d", id)),
			callValue:    symbolic.Symbol(fmt.Sprintf("call_value_%d", id)),
			gasPrice:     symbolic.Symbol(fmt.Sprintf("gas_price_%d", id)),
			calldata:     NewSymbolicCalldata(id, fn.Selector[:]),
			callee:       callee,
			worldState:   world,
			functionName: fn.Name,
		},
		Function: fn,
	}
}

// IsCreation always returns false for message calls.
func (t *MessageCallTransaction) IsCreation() bool {
	return false
}

// Setup constrains the call data to be long enough to hold the function selector.
func (t *MessageCallTransaction) Setup() symbolic.Proposition {
	return symbolic.NewProposition(
		symbolic.LNot(symbolic.Ult(t.calldata.Size(), symbolic.ConstUint64(uint64(len(t.Function.Selector))))),
	)
}

// ContractCreationTransaction deploys a contract. It is always sent by CreatorAddress with empty call data.
type ContractCreationTransaction struct {
	baseTransaction

	// ContractName is the name of the contract being deployed.
	ContractName string

	// InitCode is the creation bytecode that is executed.
	InitCode []byte

	// RuntimeCode, if set, is installed when the runtime code returned by the constructor cannot be determined
	// concretely.
	RuntimeCode []byte
}

// NewContractCreationTransaction returns a transaction deploying contractName at callee on world.
func NewContractCreationTransaction(world *WorldState, callee common.Address, contractName string, initCode []byte, runtimeCode []byte) *ContractCreationTransaction {
	id := NextTransactionID()
	return &ContractCreationTransaction{
		baseTransaction: baseTransaction{
			id:           id,
			caller:       AddressWord(CreatorAddress),
			origin:       AddressWord(CreatorAddress),
			callValue:    symbolic.Symbol(fmt.Sprintf("call_value_%d", id)),
			gasPrice:     symbolic.Symbol(fmt.Sprintf("gas_price_%d", id)),
			calldata:     NewConcreteCalldata(id, nil),
			callee:       callee,
			worldState:   world,
			functionName: ConstructorName,
		},
		ContractName: contractName,
		InitCode:     initCode,
		RuntimeCode:  runtimeCode,
	}
}

// IsCreation always returns true for contract creations.
func (t *ContractCreationTransaction) IsCreation() bool {
	return true
}

// Setup returns no constraints for contract creations.
func (t *ContractCreationTransaction) Setup() symbolic.Proposition {
	return symbolic.NewProposition()
}

// maxConcreteCalldata bounds the length of call data produced when concretizing a model.
const maxConcreteCalldata = 4096

// Calldata is the input data of a transaction. A concrete prefix (typically the function selector) may be followed
// by symbolic bytes; reads past the end of fully concrete call data return zero.
type Calldata struct {
	txID     uint64
	prefix   []byte
	concrete bool
	size     *symbolic.BitVec
}

// NewSymbolicCalldata returns call data with a concrete prefix followed by symbolic bytes of symbolic length.
func NewSymbolicCalldata(txID uint64, prefix []byte) *Calldata {
	return &Calldata{
		txID:   txID,
		prefix: append([]byte(nil), prefix...),
		size:   symbolic.Symbol(CalldataSizeSymbolName(txID)),
	}
}

// NewConcreteCalldata returns fully concrete call data.
func NewConcreteCalldata(txID uint64, data []byte) *Calldata {
	return &Calldata{
		txID:     txID,
		prefix:   append([]byte(nil), data...),
		concrete: true,
		size:     symbolic.ConstUint64(uint64(len(data))),
	}
}

// Size returns the length of the call data.
func (c *Calldata) Size() *symbolic.BitVec {
	return c.size
}

// ByteAt returns the call data byte at offset as an 8-bit expression.
func (c *Calldata) ByteAt(offset *symbolic.BitVec) *symbolic.BitVec {
	if index, ok := offset.Uint64(); ok {
		if index < uint64(len(c.prefix)) {
			return symbolic.ByteConst(c.prefix[index])
		}
		if c.concrete {
			return symbolic.ByteConst(0)
		}
		return symbolic.ByteSymbol(CalldataSymbolName(c.txID, index))
	}
	if c.concrete && len(c.prefix) == 0 {
		return symbolic.ByteConst(0)
	}
	return symbolic.ByteSymbol(fmt.Sprintf("calldata_%d_[%016x]", c.txID, offset.Hash()))
}

// Load returns the 32-byte word of call data starting at offset.
func (c *Calldata) Load(offset *symbolic.BitVec) *symbolic.BitVec {
	parts := make([]*symbolic.BitVec, 32)
	for i := range parts {
		parts[i] = c.ByteAt(symbolic.Add(offset, symbolic.ConstUint64(uint64(i))))
	}
	return symbolic.Word(parts)
}

// Concretize returns the concrete call data described by a model. Bytes absent from the model are zero.
func (c *Calldata) Concretize(model symbolic.Model) []byte {
	if c.concrete {
		return append([]byte(nil), c.prefix...)
	}
	size := uint64(len(c.prefix))
	if v := model.Get(c.size.Name()); v.IsUint64() && v.Uint64() > size {
		size = min(v.Uint64(), maxConcreteCalldata)
	}

	// Bytes the model depends on are always included, even when the size was left free.
	prefix := fmt.Sprintf("calldata_%d_", c.txID)
	for _, name := range model.Names() {
		index, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
		if !strings.HasPrefix(name, prefix) || err != nil {
			continue
		}
		if index < maxConcreteCalldata && index+1 > size {
			size = index + 1
		}
	}
	data := make([]byte, size)
	copy(data, c.prefix)
	for i := uint64(len(c.prefix)); i < size; i++ {
		data[i] = byte(model.Get(CalldataSymbolName(c.txID, i)).Uint64())
	}
	return data
}
