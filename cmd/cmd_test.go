package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crytic/warden/cmd/exitcodes"
	"github.com/crytic/warden/logging"
	"github.com/crytic/warden/scanning/config"
	"github.com/crytic/warden/utils/testutils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInitAndLoadProjectConfig ensures init writes a configuration for the requested platform, refuses to overwrite
// it, and that the scan command picks it up from the working directory.
func TestInitAndLoadProjectConfig(t *testing.T) {
	directory := t.TempDir()
	outputPath := filepath.Join(directory, DefaultProjectConfigFilename)

	rootCmd.SetArgs([]string{"init", "bytecode", "--out", outputPath, "--target", "Ownable.bin", "--contract", "Ownable"})
	require.NoError(t, rootCmd.Execute())

	projectConfig, err := config.ReadProjectConfigFromFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "bytecode", projectConfig.Compilation.Platform)
	assert.Equal(t, "Ownable", projectConfig.Scanning.TargetContract)
	platformConfig, err := projectConfig.Compilation.GetPlatformConfig()
	require.NoError(t, err)
	assert.Equal(t, "Ownable.bin", platformConfig.GetTarget())

	// A second init does not overwrite the file
	rootCmd.SetArgs([]string{"init", "bytecode", "--out", outputPath})
	assert.Error(t, rootCmd.Execute())

	// The scan command finds the configuration in the working directory
	testutils.ExecuteInDirectory(t, directory, func() {
		loaded, path, err := loadProjectConfig(scanCmd)
		require.NoError(t, err)
		assert.Equal(t, DefaultProjectConfigFilename, filepath.Base(path))
		assert.Equal(t, "Ownable", loaded.Scanning.TargetContract)
	})

	// Unsupported platforms are rejected
	rootCmd.SetArgs([]string{"init", "truffle", "--out", filepath.Join(directory, "other.json")})
	assert.Error(t, rootCmd.Execute())
}

// TestSetupLogging ensures a log file receiving structured output is created in the configured directory.
func TestSetupLogging(t *testing.T) {
	previous := logging.GlobalLogger
	defer func() {
		logging.GlobalLogger = previous
	}()

	directory := filepath.Join(t.TempDir(), "logs")
	closer, err := setupLogging(config.LoggingConfig{Level: zerolog.InfoLevel, LogDirectory: directory})
	require.NoError(t, err)
	logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.CLI_SERVICE).Info("scan starting")
	require.NoError(t, closer.Close())

	entries, err := os.ReadDir(directory)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(directory, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"cli"`)
	assert.Contains(t, string(data), "scan starting")
}

// TestExitCodes ensures exit codes are found through wrapped errors.
func TestExitCodes(t *testing.T) {
	err, code := exitcodes.GetInnerErrorAndExitCode(nil)
	assert.NoError(t, err)
	assert.Equal(t, exitcodes.ExitCodeSuccess, code)

	inner := errors.New("scan failed")
	err, code = exitcodes.GetInnerErrorAndExitCode(errors.WithStack(exitcodes.NewErrorWithExitCode(inner, exitcodes.ExitCodeHandledError)))
	assert.Equal(t, inner, err)
	assert.Equal(t, exitcodes.ExitCodeHandledError, code)

	_, code = exitcodes.GetInnerErrorAndExitCode(inner)
	assert.Equal(t, exitcodes.ExitCodeGeneralError, code)
}
