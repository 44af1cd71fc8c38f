package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBeforeInitDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("not initialised yet")
		Named("extraction").Debug("still fine")
	})
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init("loud", "json", "stdout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestInitWritesJSONToFile(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	path := filepath.Join(t.TempDir(), "service.log")
	require.NoError(t, Init("info", "json", path))

	Info("report processed")
	Debug("dropped at info level")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"report processed"`)
	assert.NotContains(t, string(data), "dropped at info level")
	assert.Same(t, Log, GetLogger())
}
