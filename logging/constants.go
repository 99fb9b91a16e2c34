package logging

// SERVICE_KEY is the structured log key identifying which service emitted an event
const SERVICE_KEY = "service"

// These constants are used to identify the various services that may do some logging
const (
	// CLI_SERVICE is the constant used to identify the cmd package
	CLI_SERVICE = "cli"
	// COMPILATION_SERVICE is the constant used to identify the compilation package
	COMPILATION_SERVICE = "compilation"
	// SCANNING_SERVICE is the constant used to identify the scanning package
	SCANNING_SERVICE = "scanning"
	// ENGINE_SERVICE is the constant used to identify the symbolic execution engine
	ENGINE_SERVICE = "engine"
	// ANALYSIS_SERVICE is the constant used to identify the query layer running checks over the execution graph
	ANALYSIS_SERVICE = "analysis"
	// SOLVER_SERVICE is the constant used to identify constraint solving
	SOLVER_SERVICE = "solver"
)
