package cmd

import (
	"github.com/crytic/warden/logging"
	"github.com/crytic/warden/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cmdLogger is the logger used by the cmd package. It always writes to the console, regardless of the project's
// logging configuration.
var cmdLogger = logging.NewConsoleLogger(zerolog.InfoLevel).NewSubLogger(logging.SERVICE_KEY, logging.CLI_SERVICE)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "A dependency-aware symbolic vulnerability scanner for EVM contracts",
	Long: "warden symbolically explores transaction sequences of an EVM contract, scheduling only the calls that can " +
		"affect each other through storage, and reports unrestricted writes, tainted immutable state variables and " +
		"unprotected self-destructs and external calls.",
	Version: version.GetInfo().Short(),
}

// Execute runs the root command, dispatching to the requested sub-command.
func Execute() error {
	return rootCmd.Execute()
}
