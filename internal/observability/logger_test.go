package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ticketbot/internal/config"
)

func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	initializeLogger(cfg, zapcore.AddSync(buf))
	return buf
}

// resetGlobalLogger restores the package globals between tests.
func resetGlobalLogger() {
	once = sync.Once{}
	globalLogger.Store(nil)
}

func TestInitializeLogger(t *testing.T) {
	t.Run("console with colors", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "ticketbot",
			Colors:      config.ColorConfig{Info: "green"},
		})

		GetLogger().Info("session started")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "session started")
		assert.Contains(t, output, colorGreen+"INFO"+colorReset)
	})

	t.Run("json", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "api"})

		GetLogger().Warn("step failed", zap.String("step", "login"))
		Sync()

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "api", entry["logger"])
		assert.Equal(t, "step failed", entry["msg"])
		assert.Equal(t, "login", entry["step"])
	})

	t.Run("level filters debug", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "warn", Format: "json"})

		GetLogger().Debug("hidden")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("file sink", func(t *testing.T) {
		resetGlobalLogger()
		path := filepath.Join(t.TempDir(), "ticketbot.log")
		setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})

		GetLogger().Error("written to file")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "written to file")
	})

	t.Run("only the first call has effect", func(t *testing.T) {
		resetGlobalLogger()
		buf1 := setupTestLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "first"})
		logger1 := GetLogger()
		buf2 := setupTestLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "second"})

		assert.Same(t, logger1, GetLogger())
		GetLogger().Info("hello")
		Sync()
		assert.Contains(t, buf1.String(), "first")
		assert.Empty(t, buf2.String())
	})
}

func TestGetLogger_BeforeInitialize(t *testing.T) {
	resetGlobalLogger()
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() {
		logger.Info("dropped")
		Sync()
	})
}
