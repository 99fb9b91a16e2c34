package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/crytic/warden/logging/colors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddAndRemoveWriter will test the Logger.AddWriter and Logger.RemoveWriter functions to ensure that they work as
// expected.
func TestAddAndRemoveWriter(t *testing.T) {
	// Create a base logger
	logger := NewLogger(zerolog.InfoLevel)

	// Add three types of writers
	logger.AddWriter(os.Stdout, UNSTRUCTURED, true)
	logger.AddWriter(os.Stderr, UNSTRUCTURED, false)
	logger.AddWriter(os.Stdin, STRUCTURED, false)

	// We should expect the underlying data structures are correctly updated
	assert.Equal(t, 1, len(logger.unstructuredWriters))
	assert.Equal(t, 1, len(logger.unstructuredColorWriters))
	assert.Equal(t, 1, len(logger.structuredWriters))

	// Duplicate writers are ignored
	logger.AddWriter(os.Stdout, UNSTRUCTURED, true)
	logger.AddWriter(os.Stderr, UNSTRUCTURED, false)
	logger.AddWriter(os.Stdin, STRUCTURED, false)
	assert.Equal(t, 1, len(logger.unstructuredWriters))
	assert.Equal(t, 1, len(logger.unstructuredColorWriters))
	assert.Equal(t, 1, len(logger.structuredWriters))

	// Remove each writer
	logger.RemoveWriter(os.Stdout, UNSTRUCTURED, true)
	logger.RemoveWriter(os.Stderr, UNSTRUCTURED, false)
	logger.RemoveWriter(os.Stdin, STRUCTURED, false)
	assert.Equal(t, 0, len(logger.unstructuredWriters))
	assert.Equal(t, 0, len(logger.unstructuredColorWriters))
	assert.Equal(t, 0, len(logger.structuredWriters))
}

// TestSubLoggerContext ensures sub-loggers tag structured output with their service and honor the log level.
func TestSubLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.InfoLevel)
	logger.AddWriter(&buf, STRUCTURED, false)

	sub := logger.NewSubLogger(SERVICE_KEY, ENGINE_SERVICE)
	sub.Debug("hidden")
	sub.Warn("dead contract, skipping ", "0x1234", errors.New("boom"), StructuredLogInfo{"round": 2})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	assert.Equal(t, "warn", event["level"])
	assert.Equal(t, ENGINE_SERVICE, event[SERVICE_KEY])
	assert.Equal(t, "dead contract, skipping 0x1234", event["message"])
	assert.Equal(t, "boom", event["error"])
	assert.EqualValues(t, 2, event["info"].(map[string]any)["round"])
}

// TestDisabledColors verifies the behavior of the unstructured colored logger when colors are disabled, ensuring that
// it does not output colors when the color feature is turned off.
func TestDisabledColors(t *testing.T) {
	// Create a base logger
	logger := NewLogger(zerolog.InfoLevel)

	// Add colorized logger
	var buf bytes.Buffer
	logger.AddWriter(&buf, UNSTRUCTURED, true)

	// Disable colors and log msg
	colors.DisableColor()
	logger.Info(colors.Green, "foo")

	// Ensure that msg doesn't include colors afterwards
	prefix := fmt.Sprintf("%s %s", colors.LEFT_ARROW, "foo")
	assert.Contains(t, buf.String(), prefix)
	assert.NotContains(t, buf.String(), "\x1b[")
}
