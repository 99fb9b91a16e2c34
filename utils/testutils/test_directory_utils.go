package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ExecuteInDirectory executes the given method in a given test directory. It changes the current working directory
// to the directory specified, runs the provided method, then restores the working directory. This wraps tests so
// any file artifacts generated do not end up in the codebase directories.
func ExecuteInDirectory(t *testing.T, testPath string, method func()) {
	// Backup our old working directory
	cwd, err := os.Getwd()
	require.NoError(t, err)

	// Change to the directory of the test path, or the test path itself if it is a directory
	testDirectory := testPath
	testPathInfo, err := os.Stat(testPath)
	require.NoError(t, err)
	if !testPathInfo.IsDir() {
		testDirectory = filepath.Dir(testPath)
	}
	require.NoError(t, os.Chdir(testDirectory))

	// Restore our working directory even if the method fails the test
	defer func() {
		require.NoError(t, os.Chdir(cwd))
	}()
	method()
}
