package cmd

import (
	"github.com/crytic/warden/scanning/config"
	"github.com/spf13/cobra"
)

// addInitFlags adds the various flags for the init command
func addInitFlags() error {
	// Output path for configuration
	initCmd.Flags().String("out", "", "output path for the new project configuration file")

	// Target file / directory
	initCmd.Flags().String("target", "", TargetFlagDescription)

	// Target contract
	initCmd.Flags().String("contract", "", "name of the contract to scan")

	// Overwrite
	initCmd.Flags().Bool("force", false, "overwrite an existing project configuration")
	return nil
}

// updateProjectConfigWithInitFlags will update the given projectConfig with any CLI arguments that were provided to the init command
func updateProjectConfigWithInitFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	// Update target if necessary
	err := updateCompilationTarget(cmd, projectConfig)
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
	return nil
}
