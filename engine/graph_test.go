package engine

import (
	"testing"

	"github.com/crytic/warden/symbolic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// traceWithWrite returns a trace of nodeCount nodes with a storage write recorded on the last node.
func traceWithWrite(nodeCount int, slot uint64) *Trace {
	trace := NewTrace()
	for i := 0; i < nodeCount; i++ {
		trace.Nodes = append(trace.Nodes, &Node{FunctionName: "f"})
	}
	state := &GlobalState{Node: trace.Nodes[nodeCount-1]}
	trace.StorageWrites = append(trace.StorageWrites, &StorageWrite{
		State:  state,
		Offset: symbolic.ConstUint64(slot),
		Value:  symbolic.ConstUint64(1),
	})
	return trace
}

// TestGraphMerge ensures node ids follow merge order and records are returned in node order.
func TestGraphMerge(t *testing.T) {
	graph := NewGraph()
	first := traceWithWrite(3, 1)
	second := traceWithWrite(2, 2)

	// Record the later write first to verify ordering by node id
	second.StorageWrites[0].State.Node = second.Nodes[0]
	graph.Merge(first)
	graph.Merge(second)

	nodes := graph.Nodes()
	require.Len(t, nodes, 5)
	for i, node := range nodes {
		assert.EqualValues(t, i+1, node.ID)
	}

	writes := graph.StorageWrites()
	require.Len(t, writes, 2)
	assert.EqualValues(t, 3, writes[0].State.Node.ID)
	assert.EqualValues(t, 4, writes[1].State.Node.ID)
	assert.Empty(t, graph.SelfDestructs())
	assert.Empty(t, graph.ExternalCalls())
}
