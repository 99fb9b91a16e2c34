package engine

import (
	"sort"
	"sync"

	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/warden/symbolic"
)

// JumpType describes how control flowed along an Edge.
type JumpType int

const (
	// ConditionalJump is a JUMPI whose condition was symbolic or concrete.
	ConditionalJump JumpType = iota
	// UnconditionalJump is a JUMP.
	UnconditionalJump
	// TransactionBoundary links the last node of one transaction to the first node of the next.
	TransactionBoundary
	// CallJump enters a called frame.
	CallJump
	// ReturnJump returns from a called frame.
	ReturnJump
)

// String returns a human-readable form of the jump type.
func (j JumpType) String() string {
	switch j {
	case ConditionalJump:
		return "conditional"
	case UnconditionalJump:
		return "unconditional"
	case TransactionBoundary:
		return "transaction"
	case CallJump:
		return "call"
	case ReturnJump:
		return "return"
	default:
		return "unknown"
	}
}

// Node is a basic block of execution within one transaction.
type Node struct {
	// ID is the graph-wide id of the node, assigned in creation order when the node is merged into a Graph.
	ID uint64

	// ContractName is the name of the contract executing.
	ContractName string

	// FunctionName is the name of the function the transaction invoked.
	FunctionName string

	// StartAddress is the byte offset of the first instruction of the node.
	StartAddress uint64

	// TransactionID is the id of the transaction the node belongs to.
	TransactionID uint64

	// States are snapshots taken at the entry of the node and at every observable instruction within it.
	States []*GlobalState

	// Constraints is the path condition at the entry of the node.
	Constraints symbolic.Proposition
}

// Edge is a control flow transfer between two nodes.
type Edge struct {
	// From is the source node.
	From *Node
	// To is the destination node.
	To *Node
	// Kind describes how control was transferred.
	Kind JumpType
	// Condition is the branch predicate of a conditional jump, or nil.
	Condition *symbolic.Bool
}

// StorageWrite records an SSTORE executed on a path that completed its transaction.
type StorageWrite struct {
	// State is the snapshot of the state executing the SSTORE.
	State *GlobalState
	// Offset is the storage key written.
	Offset *symbolic.BitVec
	// Value is the value written.
	Value *symbolic.BitVec
	// Constraints is the path condition at the SSTORE.
	Constraints symbolic.Proposition
}

// ExternalCall records a CALL-family instruction executed on a path that completed its transaction.
type ExternalCall struct {
	// State is the snapshot of the state executing the call.
	State *GlobalState
	// Op is the call opcode.
	Op vm.OpCode
	// Callee is the called address.
	Callee *symbolic.BitVec
	// Value is the value transferred, zero for calls that cannot transfer value.
	Value *symbolic.BitVec
	// Constraints is the path condition at the call.
	Constraints symbolic.Proposition
}

// SelfDestruct records a SELFDESTRUCT executed on a path that completed its transaction.
type SelfDestruct struct {
	// State is the snapshot of the state executing the SELFDESTRUCT.
	State *GlobalState
	// Beneficiary is the address receiving the balance.
	Beneficiary *symbolic.BitVec
	// Constraints is the path condition at the SELFDESTRUCT.
	Constraints symbolic.Proposition
}

// pendingRecords holds the records of one path until its transaction completes.
type pendingRecords struct {
	storageWrites []*StorageWrite
	externalCalls []*ExternalCall
	selfDestructs []*SelfDestruct
}

// copy returns an independent copy of the pending records. The records themselves are shared.
func (p *pendingRecords) copy() *pendingRecords {
	return &pendingRecords{
		storageWrites: append([]*StorageWrite(nil), p.storageWrites...),
		externalCalls: append([]*ExternalCall(nil), p.externalCalls...),
		selfDestructs: append([]*SelfDestruct(nil), p.selfDestructs...),
	}
}

// Trace is the graph fragment produced by executing a single transaction. It is owned by one execution and merged
// into the shared Graph afterwards.
type Trace struct {
	// Nodes are the nodes created, in creation order.
	Nodes []*Node
	// Edges are the edges created.
	Edges []*Edge
	// StorageWrites are the storage writes of completed paths.
	StorageWrites []*StorageWrite
	// ExternalCalls are the external calls of completed paths.
	ExternalCalls []*ExternalCall
	// SelfDestructs are the self-destructs of completed paths.
	SelfDestructs []*SelfDestruct
}

// NewTrace returns an empty Trace.
func NewTrace() *Trace {
	return &Trace{
		Nodes:         make([]*Node, 0),
		Edges:         make([]*Edge, 0),
		StorageWrites: make([]*StorageWrite, 0),
		ExternalCalls: make([]*ExternalCall, 0),
		SelfDestructs: make([]*SelfDestruct, 0),
	}
}

// commit moves the pending records of a completed path into the trace.
func (t *Trace) commit(p *pendingRecords) {
	t.StorageWrites = append(t.StorageWrites, p.storageWrites...)
	t.ExternalCalls = append(t.ExternalCalls, p.externalCalls...)
	t.SelfDestructs = append(t.SelfDestructs, p.selfDestructs...)
}

// Graph is the execution graph accumulated across every transaction of an analysis. It is safe for concurrent use.
type Graph struct {
	mu            sync.Mutex
	nextNodeID    uint64
	nodes         []*Node
	edges         []*Edge
	storageWrites []*StorageWrite
	externalCalls []*ExternalCall
	selfDestructs []*SelfDestruct
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:         make([]*Node, 0),
		edges:         make([]*Edge, 0),
		storageWrites: make([]*StorageWrite, 0),
		externalCalls: make([]*ExternalCall, 0),
		selfDestructs: make([]*SelfDestruct, 0),
	}
}

// Merge adds a trace to the graph, assigning node ids in the trace's creation order.
func (g *Graph) Merge(t *Trace) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, node := range t.Nodes {
		g.nextNodeID++
		node.ID = g.nextNodeID
		g.nodes = append(g.nodes, node)
	}
	g.edges = append(g.edges, t.Edges...)
	g.storageWrites = append(g.storageWrites, t.StorageWrites...)
	g.externalCalls = append(g.externalCalls, t.ExternalCalls...)
	g.selfDestructs = append(g.selfDestructs, t.SelfDestructs...)
}

// Nodes returns every node in id order.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Node(nil), g.nodes...)
}

// Edges returns every edge.
func (g *Graph) Edges() []*Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Edge(nil), g.edges...)
}

// StorageWrites returns every storage write ordered by the id of the node it occurred in.
func (g *Graph) StorageWrites() []*StorageWrite {
	g.mu.Lock()
	writes := append([]*StorageWrite(nil), g.storageWrites...)
	g.mu.Unlock()
	sort.SliceStable(writes, func(i, j int) bool {
		return writes[i].State.Node.ID < writes[j].State.Node.ID
	})
	return writes
}

// ExternalCalls returns every external call ordered by the id of the node it occurred in.
func (g *Graph) ExternalCalls() []*ExternalCall {
	g.mu.Lock()
	calls := append([]*ExternalCall(nil), g.externalCalls...)
	g.mu.Unlock()
	sort.SliceStable(calls, func(i, j int) bool {
		return calls[i].State.Node.ID < calls[j].State.Node.ID
	})
	return calls
}

// SelfDestructs returns every self-destruct ordered by the id of the node it occurred in.
func (g *Graph) SelfDestructs() []*SelfDestruct {
	g.mu.Lock()
	destructs := append([]*SelfDestruct(nil), g.selfDestructs...)
	g.mu.Unlock()
	sort.SliceStable(destructs, func(i, j int) bool {
		return destructs[i].State.Node.ID < destructs[j].State.Node.ID
	})
	return destructs
}
