package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultLoggerIsUsableBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("before init", zap.String("k", "v"))
		Named("component").Debug("still fine")
	})
}

func TestInit(t *testing.T) {
	original := Log
	t.Cleanup(func() { Log = original })

	t.Run("invalid level", func(t *testing.T) {
		err := Init("loud", "json", "stdout")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("invalid format", func(t *testing.T) {
		err := Init("info", "xml", "stdout")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported log format")
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		require.NoError(t, Init("debug", "json", path))

		Info("written to file", zap.Int("n", 1))
		Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "written to file")
		assert.Contains(t, string(data), `"service":"model-bridge-experiments"`)
	})
}
