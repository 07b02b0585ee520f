package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"food_detector/internal/config"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := New(&config.Config{LogFile: path, LogLevel: "debug"})

	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	log.WithField("component", "test").Info("Logger initialized")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Logger initialized")
	assert.Contains(t, string(data), "component=test")
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log := New(&config.Config{LogLevel: "chatty"})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNew_UnwritableFileKeepsStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "app.log")
	log := New(&config.Config{LogFile: path, LogLevel: "info"})
	assert.Equal(t, os.Stdout, log.Out)
}
