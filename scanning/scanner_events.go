package scanning

import (
	"github.com/crytic/warden/analysis"
	"github.com/crytic/warden/events"
)

// ScannerEvents defines event emitters for a Scanner.
type ScannerEvents struct {
	// ScanStarting emits events when the Scanner has deployed the target and is about to begin exploration rounds.
	ScanStarting events.EventEmitter[ScanStartingEvent]

	// RoundFinished emits events when the Scanner has finished a round of message calls.
	RoundFinished events.EventEmitter[RoundFinishedEvent]

	// ScanStopping emits events when the Scanner is exiting, whether it succeeded or not.
	ScanStopping events.EventEmitter[ScanStoppingEvent]
}

// ScanStartingEvent describes an event where a scanning.Scanner has deployed the target contract and analyzed the
// dependencies of its functions.
type ScanStartingEvent struct {
	// Scanner represents the instance of the scanning.Scanner for which the event occurred.
	Scanner *Scanner
}

// RoundFinishedEvent describes an event where a scanning.Scanner has executed one more message call on every open
// state.
type RoundFinishedEvent struct {
	// Scanner represents the instance of the scanning.Scanner for which the event occurred.
	Scanner *Scanner

	// Round is the one-based index of the round.
	Round int

	// Stats describes the outcome of the round.
	Stats RoundStats

	// OpenStates is the number of open states left for the next round.
	OpenStates int
}

// ScanStoppingEvent describes an event where a scanning.Scanner is exiting.
type ScanStoppingEvent struct {
	// Scanner represents the instance of the scanning.Scanner for which the event occurred.
	Scanner *Scanner

	// Report is the report of the scan, or nil if the scan failed.
	Report *analysis.Report

	// Err describes a potential error returned by the scan.
	Err error
}
