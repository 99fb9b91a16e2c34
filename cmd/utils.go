package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/crytic/warden/logging"
	"github.com/crytic/warden/logging/colors"
	"github.com/crytic/warden/scanning/config"
	"github.com/crytic/warden/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// updateCompilationTarget will update the compilation target in the projectConfig if the --target flag is used in the
// command
func updateCompilationTarget(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	if !cmd.Flags().Changed("target") {
		return nil
	}
	newTarget, err := cmd.Flags().GetString("target")
	if err != nil {
		return err
	}
	if projectConfig.Compilation == nil {
		return fmt.Errorf("cannot set the target of a project configuration without a compilation config")
	}
	return projectConfig.Compilation.SetTarget(newTarget)
}

// unusedFlags returns the flags of cmd that have not been set yet, prefixed with "--" for shell completion.
func unusedFlags(cmd *cobra.Command) []string {
	var flags []string
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			flags = append(flags, "--"+flag.Name)
		}
	})
	return flags
}

// loadProjectConfig resolves the project configuration of a command:
// #1: If --config was used, the file must exist and is read.
// #2: Otherwise the default config file in the working directory is read if it exists.
// #3: Otherwise the default project configuration for the default compilation platform is used.
// The returned path is the configuration file path, whether it exists or not.
func loadProjectConfig(cmd *cobra.Command) (*config.ProjectConfig, string, error) {
	configFlagUsed := cmd.Flags().Changed("config")
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}
	if !configFlagUsed {
		workingDirectory, err := os.Getwd()
		if err != nil {
			return nil, "", err
		}
		configPath = filepath.Join(workingDirectory, DefaultProjectConfigFilename)
	}

	_, existenceError := os.Stat(configPath)
	if existenceError == nil {
		cmdLogger.Info("Reading the configuration file at: ", colors.Bold, configPath, colors.Reset)
		projectConfig, err := config.ReadProjectConfigFromFile(configPath)
		return projectConfig, configPath, err
	}
	if configFlagUsed {
		return nil, "", existenceError
	}

	cmdLogger.Warn(fmt.Sprintf("Unable to find the config file at %v, will use the default project configuration for the "+
		"%v compilation platform instead", configPath, DefaultCompilationPlatform))
	projectConfig, err := config.GetDefaultProjectConfig(DefaultCompilationPlatform)
	return projectConfig, configPath, err
}

// setupLogging replaces the global logger with one following the provided logging configuration. Console output is
// colorized and log files receive structured output. The returned closer releases the log file, if any.
func setupLogging(loggingConfig config.LoggingConfig) (io.Closer, error) {
	logger := logging.NewLogger(loggingConfig.Level)
	if loggingConfig.EnableConsoleLogging {
		logger.AddWriter(os.Stdout, logging.UNSTRUCTURED, true)
	}

	var file *os.File
	if loggingConfig.LogDirectory != "" {
		var err error
		filename := fmt.Sprintf("warden-%v.log", time.Now().Unix())
		file, err = utils.CreateFile(loggingConfig.LogDirectory, filename)
		if err != nil {
			return nil, err
		}
		logger.AddWriter(file, logging.STRUCTURED, false)
	}

	logging.GlobalLogger = logger
	if file == nil {
		return io.NopCloser(nil), nil
	}
	return file, nil
}
