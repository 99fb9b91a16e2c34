package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/crytic/warden/cmd/exitcodes"
	"github.com/crytic/warden/scanning"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// scanCmd represents the command provider for scanning
var scanCmd = &cobra.Command{
	Use:               "scan",
	Short:             "Scans a contract for vulnerabilities",
	Long:              `Compiles the project, symbolically explores transaction sequences of the target contract and runs the configured checks`,
	Args:              cmdValidateScanArgs,
	ValidArgsFunction: cmdValidScanArgs,
	RunE:              cmdRunScan,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	// Add all the flags allowed for the scan command
	err := addScanFlags()
	if err != nil {
		cmdLogger.Panic("Failed to initialize the scan command", err)
	}

	// Add the scan command and its associated flags to the root command
	rootCmd.AddCommand(scanCmd)
}

// cmdValidScanArgs will return which flags are valid for dynamic completion for the scan command
func cmdValidScanArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return unusedFlags(cmd), cobra.ShellCompDirectiveNoFileComp
}

// cmdValidateScanArgs makes sure that there are no positional arguments provided to the scan command
func cmdValidateScanArgs(cmd *cobra.Command, args []string) error {
	// Make sure we have no positional args
	if err := cobra.NoArgs(cmd, args); err != nil {
		err = fmt.Errorf("scan does not accept any positional arguments, only flags and their associated values")
		cmdLogger.Error("Failed to validate args to the scan command", err)
		return err
	}
	return nil
}

// cmdRunScan executes the CLI scan command. The project configuration is read from --config, the default config
// file, or the defaults, in that order, and then updated with the provided flags.
func cmdRunScan(cmd *cobra.Command, args []string) error {
	projectConfig, configPath, err := loadProjectConfig(cmd)
	if err != nil {
		cmdLogger.Error("Failed to run the scan command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	// Update the project configuration given whatever flags were set using the CLI
	err = updateProjectConfigWithScanFlags(cmd, projectConfig)
	if err != nil {
		cmdLogger.Error("Failed to run the scan command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	// Change our working directory to the parent directory of the project configuration file, since compilation
	// targets may be relative to it.
	err = os.Chdir(filepath.Dir(configPath))
	if err != nil {
		cmdLogger.Error("Failed to run the scan command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	logFile, err := setupLogging(projectConfig.Logging)
	if err != nil {
		cmdLogger.Error("Failed to set up logging", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer logFile.Close()

	scanner, err := scanning.NewScanner(*projectConfig)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	// Stop our scan on keyboard interrupts
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	unsubscribe := scanner.Events.ScanStopping.Subscribe(func(event scanning.ScanStoppingEvent) {
		if errors.Is(event.Err, context.Canceled) {
			cmdLogger.Warn("Scan interrupted, no report was produced")
		}
	})
	defer unsubscribe()

	report, err := scanner.Start(ctx)
	if err != nil {
		cmdLogger.Error("Scan failed", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}

	// Print the report
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	switch format {
	case "json":
		b, err := report.JSON()
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	case "markdown":
		fmt.Println(report.Markdown())
	default:
		fmt.Println(report.Text())
	}

	// If we have violations, we'll want to return a special exit code
	if len(report.Violations) > 0 {
		return exitcodes.NewErrorWithExitCode(nil, exitcodes.ExitCodeViolationsFound)
	}
	return nil
}
