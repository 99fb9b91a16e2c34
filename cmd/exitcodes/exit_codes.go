package exitcodes

const (
	// ================================
	// Platform-universal exit codes
	// ================================

	// ExitCodeSuccess indicates no errors or failures had occurred.
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates some type of general error occurred.
	ExitCodeGeneralError = 1

	// ================================
	// Application-specific exit codes
	// ================================
	// Note: Despite not being standardized, exit codes 2-5 are often used for common use cases, so we avoid them.

	// ExitCodeHandledError indicates that an error occurred and was already logged, so it should not be printed again.
	ExitCodeHandledError = 6

	// ExitCodeViolationsFound indicates the scan completed and reported at least one violation.
	ExitCodeViolationsFound = 7
)
