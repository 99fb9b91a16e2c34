package cmd

import (
	"fmt"

	"github.com/crytic/warden/scanning/config"
	"github.com/spf13/cobra"
)

// addScanFlags adds the various flags for the scan command
func addScanFlags() error {
	// Get the default project config and throw an error if we cant
	defaultConfig, err := config.GetDefaultProjectConfig(DefaultCompilationPlatform)
	if err != nil {
		return err
	}

	// Prevent alphabetical sorting of usage message
	scanCmd.Flags().SortFlags = false

	// Config file
	scanCmd.Flags().String("config", "", "path to config file")

	// Target
	scanCmd.Flags().String("target", "", TargetFlagDescription)

	// Target contract
	scanCmd.Flags().String("contract", "", "name of the contract to scan (required if the project compiles more than one deployable contract)")

	// Number of workers
	scanCmd.Flags().Int("workers", 0,
		fmt.Sprintf("number of concurrent transactions and solver queries (unless a config file is provided, default is %d)", defaultConfig.Scanning.Workers))

	// Transaction budget
	scanCmd.Flags().Int("max-transactions", 0,
		fmt.Sprintf("maximum number of message calls in a sequence (unless a config file is provided, default is %d)", defaultConfig.Scanning.MaxTransactions))

	// Solver timeout
	scanCmd.Flags().Int("solver-timeout", 0,
		fmt.Sprintf("per-query solver timeout in milliseconds (unless a config file is provided, default is %d)", defaultConfig.Scanning.SolverTimeout))

	// Checks
	scanCmd.Flags().StringSlice("unrestricted-write", []string{},
		"state variables that must not be writable by an arbitrary caller")
	scanCmd.Flags().StringSlice("immutable", []string{},
		"state variables that must not change after their first write")
	scanCmd.Flags().Bool("selfdestruct", false,
		fmt.Sprintf("enable the unrestricted selfdestruct check (unless a config file is provided, default is %t)", defaultConfig.Scanning.Checks.SelfDestruct))
	scanCmd.Flags().Bool("external-call", false,
		fmt.Sprintf("enable the unrestricted external call check (unless a config file is provided, default is %t)", defaultConfig.Scanning.Checks.ExternalCall))

	// Dependency sources
	scanCmd.Flags().Bool("slither", false,
		fmt.Sprintf("use slither to infer function relations (unless a config file is provided, default is %t)", defaultConfig.Scanning.SlitherEnabled))

	// Output
	scanCmd.Flags().String("report-dir", "", "directory where the JSON and markdown reports are written")
	scanCmd.Flags().String("format", "text", "format of the report printed once the scan finishes (text, json or markdown)")
	return nil
}

// updateProjectConfigWithScanFlags will update the given projectConfig with any CLI arguments that were provided to
// the scan command
func updateProjectConfigWithScanFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error

	// Update the compilation target
	err = updateCompilationTarget(cmd, projectConfig)
	if err != nil {
		return err
	}

	// Update the target contract
	if cmd.Flags().Changed("contract") {
		projectConfig.Scanning.TargetContract, err = cmd.Flags().GetString("contract")
		if err != nil {
			return err
		}
	}

	// Update number of workers
	if cmd.Flags().Changed("workers") {
		projectConfig.Scanning.Workers, err = cmd.Flags().GetInt("workers")
		if err != nil {
			return err
		}
	}

	// Update the transaction budget
	if cmd.Flags().Changed("max-transactions") {
		projectConfig.Scanning.MaxTransactions, err = cmd.Flags().GetInt("max-transactions")
		if err != nil {
			return err
		}
	}

	// Update the solver timeout
	if cmd.Flags().Changed("solver-timeout") {
		projectConfig.Scanning.SolverTimeout, err = cmd.Flags().GetInt("solver-timeout")
		if err != nil {
			return err
		}
	}

	// Update the checks
	if cmd.Flags().Changed("unrestricted-write") {
		projectConfig.Scanning.Checks.UnrestrictedWrite, err = cmd.Flags().GetStringSlice("unrestricted-write")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("immutable") {
		projectConfig.Scanning.Checks.Immutable, err = cmd.Flags().GetStringSlice("immutable")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("selfdestruct") {
		projectConfig.Scanning.Checks.SelfDestruct, err = cmd.Flags().GetBool("selfdestruct")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("external-call") {
		projectConfig.Scanning.Checks.ExternalCall, err = cmd.Flags().GetBool("external-call")
		if err != nil {
			return err
		}
	}

	// Update slither enablement
	if cmd.Flags().Changed("slither") {
		projectConfig.Scanning.SlitherEnabled, err = cmd.Flags().GetBool("slither")
		if err != nil {
			return err
		}
	}

	// Update the report directory
	if cmd.Flags().Changed("report-dir") {
		projectConfig.Scanning.ReportDirectory, err = cmd.Flags().GetString("report-dir")
		if err != nil {
			return err
		}
	}
	return nil
}
