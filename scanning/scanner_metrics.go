package scanning

import "github.com/crytic/warden/engine"

// ScannerMetrics tracks the exploration performed by a Scanner. It is only updated between rounds.
type ScannerMetrics struct {
	// rounds is the number of message call rounds executed.
	rounds int

	// transactions is the number of transactions executed, creation included.
	transactions int

	// deadStatesDropped is the number of open states dropped because the target self-destructed.
	deadStatesDropped int

	// prunedBranches is the number of open states not extended for lack of candidates.
	prunedBranches int

	// failedTransactions is the number of transactions whose execution failed.
	failedTransactions int

	// execution aggregates how the paths of every transaction ended.
	execution engine.ExecutionStats
}

// NewScannerMetrics returns empty ScannerMetrics.
func NewScannerMetrics() *ScannerMetrics {
	return &ScannerMetrics{}
}

// addCreation records the execution of the creation transaction.
func (m *ScannerMetrics) addCreation(stats engine.ExecutionStats) {
	m.transactions++
	m.execution.Add(stats)
}

// addRound records the outcome of a round.
func (m *ScannerMetrics) addRound(stats RoundStats) {
	m.rounds++
	m.transactions += stats.Transactions
	m.deadStatesDropped += stats.DeadStatesDropped
	m.prunedBranches += stats.PrunedBranches
	m.failedTransactions += stats.FailedTransactions
	m.execution.Add(stats.Execution)
}

// Rounds returns the number of message call rounds executed.
func (m *ScannerMetrics) Rounds() int {
	return m.rounds
}

// Transactions returns the number of transactions executed, creation included.
func (m *ScannerMetrics) Transactions() int {
	return m.transactions
}

// DeadStatesDropped returns the number of open states dropped because the target self-destructed.
func (m *ScannerMetrics) DeadStatesDropped() int {
	return m.deadStatesDropped
}

// PrunedBranches returns the number of open states not extended for lack of candidates.
func (m *ScannerMetrics) PrunedBranches() int {
	return m.prunedBranches
}

// FailedTransactions returns the number of transactions whose execution failed.
func (m *ScannerMetrics) FailedTransactions() int {
	return m.failedTransactions
}

// Execution returns how the paths of every transaction ended.
func (m *ScannerMetrics) Execution() engine.ExecutionStats {
	return m.execution
}
