package config

import (
	"github.com/crytic/warden/compilation"
	"github.com/rs/zerolog"
)

// GetDefaultProjectConfig obtains a default configuration for a project. It populates a default compilation config
// based on the provided platform, or a nil one if an empty string is provided.
func GetDefaultProjectConfig(platform string) (*ProjectConfig, error) {
	var (
		compilationConfig *compilation.CompilationConfig
		err               error
	)
	if platform != "" {
		compilationConfig, err = compilation.NewCompilationConfig(platform)
		if err != nil {
			return nil, err
		}
	}

	// Create a project configuration
	projectConfig := &ProjectConfig{
		Scanning: ScanningConfig{
			TargetContract:  "",
			ConstructorArgs: "",
			Checks: ChecksConfig{
				UnrestrictedWrite: []string{},
				Immutable:         []string{},
				SelfDestruct:      true,
				ExternalCall:      false,
			},
			StorageOffsets:         map[string][]StorageOffset{},
			MaxTransactions:        2,
			Workers:                10,
			SolverTimeout:          10_000,
			SolverBudget:           0,
			SolverCacheSize:        4096,
			CacheDirectory:         "",
			MaxInstructions:        25_000,
			LoopBound:              3,
			PruneInfeasible:        true,
			AccessRecordingEnabled: true,
			SlitherEnabled:         false,
			FunctionAccess:         map[string]FunctionAccessConfig{},
			ReportDirectory:        "",
		},
		Compilation: compilationConfig,
		Logging: LoggingConfig{
			Level:                zerolog.InfoLevel,
			EnableConsoleLogging: true,
			LogDirectory:         "",
		},
	}

	// Return the project configuration
	return projectConfig, nil
}
