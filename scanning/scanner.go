package scanning

import (
	"context"
	"time"

	"github.com/crytic/warden/analysis"
	"github.com/crytic/warden/compilation"
	compilationTypes "github.com/crytic/warden/compilation/types"
	"github.com/crytic/warden/engine"
	"github.com/crytic/warden/logging"
	"github.com/crytic/warden/logging/colors"
	"github.com/crytic/warden/scanning/config"
	"github.com/crytic/warden/scanning/dependency"
	"github.com/crytic/warden/scanning/integrations/slither"
	"github.com/crytic/warden/scanning/storagelayout"
	"github.com/crytic/warden/symbolic/solver"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Scanner explores the transaction sequences of a single contract symbolically and runs the configured checks over
// the resulting execution graph.
type Scanner struct {
	// ctx describes the context for the scan, used to cancel running operations.
	ctx context.Context
	// ctxCancelFunc describes a function which can be used to cancel the operations ctx tracks.
	ctxCancelFunc context.CancelFunc

	// config describes the project configuration which the scan is targeting.
	config config.ProjectConfig

	// compilations describes the compiled targets produced by the compilation config.
	compilations []compilationTypes.Compilation
	// contractName is the name of the scanned contract.
	contractName string
	// contract is the compiled form of the scanned contract.
	contract *compilationTypes.CompiledContract
	// constructorArgs are the encoded constructor arguments appended to the init bytecode.
	constructorArgs []byte

	// layout maps state variable names to storage offsets.
	layout *storagelayout.Mapping
	// functions are the public functions of the contract. They are discovered from the deployed code if the
	// compilation provides no ABI.
	functions []engine.Function

	// graph is the execution graph of the current scan.
	graph *engine.Graph
	// metrics represents the metrics of the current scan.
	metrics *ScannerMetrics
	// record is the dependency classification used to schedule message calls.
	record *dependency.Record

	// Events describes the event system for the Scanner.
	Events ScannerEvents

	// logger describes the Scanner's log object that can be used to log important events
	logger *logging.Logger
}

// NewScanner returns an instance of a new Scanner provided a project configuration, or an error if one is
// encountered while compiling the target or resolving the configured state variables. Every configuration problem
// is reported here, before any transaction executes.
func NewScanner(projectConfig config.ProjectConfig) (*Scanner, error) {
	logger := logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.SCANNING_SERVICE)

	// Validate our provided config
	err := projectConfig.Validate()
	if err != nil {
		logger.Error("Invalid configuration", err)
		return nil, err
	}
	constructorArgs, err := projectConfig.Scanning.DecodeConstructorArgs()
	if err != nil {
		return nil, err
	}

	// Compile the targets specified in the compilation config
	compilationLogger := logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.COMPILATION_SERVICE)
	compilationLogger.Info("Compiling targets with ", colors.Bold, projectConfig.Compilation.Platform, colors.Reset)
	compilations, _, err := projectConfig.Compilation.Compile()
	if err != nil {
		compilationLogger.Error("Failed to compile target", err)
		return nil, err
	}
	compilation.NotifyArtifactHashStatus(compilations, projectConfig.Scanning.CacheDirectory, compilationLogger)

	s := &Scanner{
		config:          projectConfig,
		compilations:    compilations,
		constructorArgs: constructorArgs,
		logger:          logger,
	}
	if err = s.selectContract(); err != nil {
		return nil, err
	}
	if err = s.resolveLayout(); err != nil {
		return nil, err
	}

	// Without an ABI, functions are discovered from the dispatcher of the runtime code, or of the deployed code
	// once creation has run.
	if len(s.contract.Abi.Methods) > 0 {
		s.functions = engine.FunctionsFromABI(&s.contract.Abi)
	} else if runtime := s.contract.StrippedRuntimeBytecode(); len(runtime) > 0 {
		s.functions = engine.DiscoverFunctions(engine.Disassemble(runtime))
	}
	if len(s.functions) > 0 {
		if _, _, err = s.configuredAccessSets(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// selectContract picks the configured target contract, or the only deployable one if none is configured.
func (s *Scanner) selectContract() error {
	name := s.config.Scanning.TargetContract
	if name == "" {
		names := compilationTypes.ContractNames(s.compilations)
		if len(names) != 1 {
			return errors.Wrapf(config.ErrConfiguration, "a target contract must be specified, found %d deployable contracts %v", len(names), names)
		}
		name = names[0]
	}

	contract, ok := compilationTypes.FindContract(s.compilations, name)
	if !ok || len(contract.InitBytecode) == 0 {
		return errors.Wrapf(config.ErrConfiguration, "target contract %v was not found or is not deployable", name)
	}
	s.contractName = name
	s.contract = contract
	return nil
}

// resolveLayout builds the storage offset mapping and ensures every state variable the checks reference maps to
// fixed offsets.
func (s *Scanner) resolveLayout() error {
	layout, err := storagelayout.FromSolcLayout(s.contract.StorageLayout)
	if err != nil {
		return err
	}
	layout.PinAll(s.config.Scanning.StorageOffsets)
	if _, err = layout.Resolve(s.config.Scanning.Checks.TargetVariables()); err != nil {
		return err
	}
	s.layout = layout
	return nil
}

// ContractName returns the name of the scanned contract.
func (s *Scanner) ContractName() string {
	return s.contractName
}

// Functions returns the public functions of the scanned contract.
func (s *Scanner) Functions() []engine.Function {
	return slices.Clone(s.functions)
}

// Graph returns the execution graph of the current or last scan.
func (s *Scanner) Graph() *engine.Graph {
	return s.graph
}

// Metrics returns the metrics of the current or last scan.
func (s *Scanner) Metrics() *ScannerMetrics {
	return s.metrics
}

// DependencyRecord returns the dependency classification of the current or last scan.
func (s *Scanner) DependencyRecord() *dependency.Record {
	return s.record
}

// functionNamed returns the function whose signature or name without parameters is name.
func (s *Scanner) functionNamed(name string) (engine.Function, bool) {
	for _, function := range s.functions {
		if function.Name == name {
			return function, true
		}
	}
	for _, function := range s.functions {
		if function.ShortName() == name {
			return function, true
		}
	}
	return engine.Function{}, false
}

// accessTokens converts configured storage entries, either offsets or state variable names, to access tokens.
func (s *Scanner) accessTokens(entries []string) ([]string, error) {
	tokens := make([]string, 0, len(entries))
	for _, entry := range entries {
		if offset, err := config.ParseStorageOffset(entry); err == nil {
			tokens = append(tokens, SlotToken(&offset.Int))
			continue
		}
		offsets, err := s.layout.Offsets(entry)
		if err != nil {
			return nil, err
		}
		for _, offset := range offsets {
			tokens = append(tokens, SlotToken(offset))
		}
	}
	return tokens, nil
}

// configuredAccessSets returns the read and write sets declared in the configuration, keyed by function signature.
func (s *Scanner) configuredAccessSets() (map[string][]string, map[string][]string, error) {
	reads := make(map[string][]string)
	writes := make(map[string][]string)
	for name, access := range s.config.Scanning.FunctionAccess {
		function, ok := s.functionNamed(name)
		if !ok {
			return nil, nil, errors.Wrapf(config.ErrConfiguration, "function access declared for unknown function %v", name)
		}
		readTokens, err := s.accessTokens(access.Reads)
		if err != nil {
			return nil, nil, err
		}
		writeTokens, err := s.accessTokens(access.Writes)
		if err != nil {
			return nil, nil, err
		}
		reads[function.Name] = append(reads[function.Name], readTokens...)
		writes[function.Name] = append(writes[function.Name], writeTokens...)
	}
	return reads, writes, nil
}

// mergeAccessSets adds the sets of source to target.
func mergeAccessSets(target map[string][]string, source map[string][]string) {
	for function, tokens := range source {
		target[function] = append(target[function], tokens...)
	}
}

// analyzeDependencies merges the configured, recorded and slither-derived access sets of every function and classifies
// their dependencies.
func (s *Scanner) analyzeDependencies(deployed *engine.WorldState, interpreterConfig engine.Config) (*dependency.Record, error) {
	reads, writes, err := s.configuredAccessSets()
	if err != nil {
		return nil, err
	}

	if s.config.Scanning.AccessRecordingEnabled {
		recordedReads, recordedWrites, err := RecordAccessSets(s.ctx, interpreterConfig, deployed, engine.TargetAddress, s.functions)
		if err != nil {
			return nil, err
		}
		mergeAccessSets(reads, recordedReads)
		mergeAccessSets(writes, recordedWrites)
	}

	if s.config.Scanning.SlitherEnabled {
		platformConfig, err := s.config.Compilation.GetPlatformConfig()
		if err != nil {
			return nil, err
		}
		slitherData, err := slither.RunPrinter(platformConfig.GetTarget())
		if err != nil {
			// Slither only refines scheduling, so the scan goes on without it
			s.logger.Warn("Failed to run slither, continuing without its function relations", err)
		} else {
			slitherReads, slitherWrites := slitherData.AccessSets(s.contractName)
			mergeAccessSets(reads, slitherReads)
			mergeAccessSets(writes, slitherWrites)
		}
	}

	return dependency.Analyze(reads, writes), nil
}

// checks returns the configured checks, in a fixed order.
func (s *Scanner) checks() ([]analysis.Check, error) {
	checks := make([]analysis.Check, 0)
	for _, field := range s.config.Scanning.Checks.UnrestrictedWrite {
		offsets, err := s.layout.Offsets(field)
		if err != nil {
			return nil, err
		}
		checks = append(checks, analysis.NewUnrestrictedWriteCheck(field, offsets))
	}
	for _, field := range s.config.Scanning.Checks.Immutable {
		offsets, err := s.layout.Offsets(field)
		if err != nil {
			return nil, err
		}
		checks = append(checks, analysis.NewImmutableCheck(field, offsets))
	}
	if s.config.Scanning.Checks.SelfDestruct {
		checks = append(checks, analysis.NewTerminalOpCheck(analysis.SelfDestructOp))
	}
	if s.config.Scanning.Checks.ExternalCall {
		checks = append(checks, analysis.NewTerminalOpCheck(analysis.ExternalCallOp))
	}
	return checks, nil
}

// createSolver builds the solver stack: the default decision procedure behind an in-memory cache, behind an on-disk
// store when a cache directory is configured. The returned function releases the stack.
func (s *Scanner) createSolver() (solver.Solver, func(), error) {
	if !solver.Z3Available {
		s.logger.Debug("Built without Z3, deciding queries with the search solver only")
	}
	cached, err := solver.NewCachedSolver(solver.NewDefaultSolver(s.config.Scanning.SolverBudget), s.config.Scanning.SolverCacheSize)
	if err != nil {
		return nil, nil, err
	}
	if s.config.Scanning.CacheDirectory == "" {
		return cached, func() {}, nil
	}

	persistent, err := solver.NewPersistentSolver(cached, s.config.Scanning.CacheDirectory, compilation.ContractHash(s.contractName, s.contract))
	if err != nil {
		return nil, nil, err
	}
	return persistent, func() {
		if err := persistent.Close(); err != nil {
			s.logger.Warn("Failed to persist solver results", err)
		}
	}, nil
}

// Start deploys the contract, explores message call sequences up to the configured depth and runs the configured
// checks. It returns the report of the scan, or an error if the scan could not complete.
func (s *Scanner) Start(ctx context.Context) (*analysis.Report, error) {
	// Create our running context (allows us to cancel across threads)
	s.ctx, s.ctxCancelFunc = context.WithCancel(ctx)
	defer s.ctxCancelFunc()

	report, err := s.run()
	if err == nil && s.config.Scanning.ReportDirectory != "" {
		err = report.WriteToDirectory(s.config.Scanning.ReportDirectory)
		if err != nil {
			report = nil
		}
	}

	// Publish a scan stopping event.
	s.Events.ScanStopping.Publish(ScanStoppingEvent{Scanner: s, Report: report, Err: err})
	if err != nil {
		return nil, err
	}
	s.logReport(report)
	return report, nil
}

// run performs the scan.
func (s *Scanner) run() (*analysis.Report, error) {
	s.graph = engine.NewGraph()
	s.metrics = NewScannerMetrics()
	report := analysis.NewReport(s.contractName)
	report.CompilerVersion = s.contract.CompilerVersion()

	checks, err := s.checks()
	if err != nil {
		return nil, err
	}
	slv, closeSolver, err := s.createSolver()
	if err != nil {
		return nil, err
	}
	defer closeSolver()

	solverTimeout := time.Duration(s.config.Scanning.SolverTimeout) * time.Millisecond
	interpreterConfig := engine.Config{
		MaxInstructions: s.config.Scanning.MaxInstructions,
		LoopBound:       s.config.Scanning.LoopBound,
		PruneInfeasible: s.config.Scanning.PruneInfeasible,
		PruneTimeout:    solverTimeout,
	}
	interpreter := engine.NewInterpreter(interpreterConfig, slv)

	// Contract creation runs exactly once, before anything else
	s.logger.Info("Deploying ", colors.Bold, s.contractName, colors.Reset)
	creation := engine.NewContractCreationTransaction(engine.NewWorldState(), engine.TargetAddress, s.contractName,
		s.contract.DeploymentBytecode(s.constructorArgs), s.contract.RuntimeBytecode)
	result, err := interpreter.Execute(s.ctx, creation)
	if err != nil {
		return nil, errors.Wrapf(err, "could not deploy %v", s.contractName)
	}
	s.graph.Merge(result.Trace)
	s.metrics.addCreation(result.Stats)
	openStates := result.OpenStates
	if len(openStates) == 0 {
		s.logger.Warn("No path of the constructor of ", s.contractName, " completes, nothing to explore")
	}

	// Dependency analysis needs the deployed state
	if len(openStates) > 0 {
		if len(s.functions) == 0 {
			if account := openStates[0].Account(engine.TargetAddress); account != nil && account.HasCode() {
				s.functions = engine.DiscoverFunctions(account.Code)
			}
		}
		s.record, err = s.analyzeDependencies(openStates[0], interpreterConfig)
		if err != nil {
			return nil, err
		}
	} else {
		s.record = dependency.Analyze(nil, nil)
	}
	s.logger.Debug("Function dependencies:\n", s.record.String())

	s.Events.ScanStarting.Publish(ScanStartingEvent{Scanner: s})

	// Exploration rounds
	scheduler := NewScheduler(interpreter, s.graph, engine.TargetAddress, s.functions, s.config.Scanning.Workers)
	budget := s.config.Scanning.MaxTransactions
	for round := 1; round <= budget && len(openStates) > 0; round++ {
		var stats RoundStats
		openStates, stats, err = scheduler.Advance(s.ctx, openStates, s.record, budget)
		if err != nil {
			return nil, err
		}
		s.metrics.addRound(stats)
		s.logger.Info("round: ", colors.Bold, round, "/", budget, colors.Reset,
			", txs: ", stats.Transactions, ", open states: ", len(openStates),
			", pruned: ", stats.PrunedBranches, ", dead: ", stats.DeadStatesDropped)
		s.Events.RoundFinished.Publish(RoundFinishedEvent{Scanner: s, Round: round, Stats: stats, OpenStates: len(openStates)})
	}
	report.DepthLimitReached = len(openStates) > 0
	report.Rounds = s.metrics.Rounds()
	report.Transactions = s.metrics.Transactions()
	report.PrunedBranches = s.metrics.PrunedBranches()
	report.DeadStatesDropped = s.metrics.DeadStatesDropped()

	// Checks only read the finished graph
	rc := analysis.NewRunContext(s.graph, slv, solverTimeout, s.config.Scanning.Workers)
	violations, err := analysis.Run(s.ctx, rc, checks)
	if err != nil {
		return nil, err
	}
	report.AddRunContext(rc, violations)
	return report, nil
}

// logReport prints a summary of the report.
func (s *Scanner) logReport(report *analysis.Report) {
	s.logger.Info("Scan of ", colors.Bold, s.contractName, colors.Reset, " finished after ", report.Transactions,
		" transactions in ", report.Rounds, " rounds")
	if report.DepthLimitReached {
		s.logger.Info("Depth limit reached with open states remaining")
	}
	for _, t := range report.Timeouts {
		s.logger.Warn("Inconclusive query in ", t.Check, " at ", t.Function, ":", t.Address)
	}
	if len(report.Violations) == 0 {
		s.logger.Info(colors.GreenBold, "No violations found", colors.Reset)
		return
	}
	for _, v := range report.Violations {
		s.logger.Warn(colors.RedBold, "[", v.Title, "]", colors.Reset, " ", v.Contract, ".", v.Function, " at ", v.Address)
	}
}

// Stop stops a running operation invoked by the Start method. This method may return before complete operation
// teardown occurs.
func (s *Scanner) Stop() {
	// Call the cancel function on our running context to stop all working goroutines
	if s.ctxCancelFunc != nil {
		s.ctxCancelFunc()
	}
}
