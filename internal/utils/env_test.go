package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("CHAT_TEST_INT", "42")
	t.Setenv("CHAT_TEST_BAD_INT", "forty")
	t.Setenv("CHAT_TEST_FLOAT", "2.5")
	t.Setenv("CHAT_TEST_DUR", "45s")

	assert.Equal(t, "fallback", GetEnv("CHAT_TEST_MISSING", "fallback"))
	assert.Equal(t, 42, GetEnvInt("CHAT_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("CHAT_TEST_BAD_INT", 1))
	assert.Equal(t, 2.5, GetEnvFloat("CHAT_TEST_FLOAT", 1))
	assert.Equal(t, 45*time.Second, GetEnvDuration("CHAT_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("CHAT_TEST_MISSING", time.Second))
}

func TestNewLoggerLevel(t *testing.T) {
	log, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = NewLogger("nonsense")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))

	// A directory exists but cannot be read as a .env file.
	assert.Error(t, LoadEnv(dir))

	path := filepath.Join(dir, "chat.env")
	require.NoError(t, os.WriteFile(path, []byte("CHAT_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CHAT_TEST_DOTENV") })
	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "loaded", GetEnv("CHAT_TEST_DOTENV", ""))
}
