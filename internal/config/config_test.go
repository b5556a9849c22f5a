package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 10*time.Second, c.ScanTimeout)
	assert.Equal(t, 30*time.Second, c.ConnectTimeout)
	assert.Equal(t, uint32(4096), c.HistorySize)
	assert.Equal(t, 65536, c.PTYBufferSize)
	assert.True(t, c.Colorize)
	assert.False(t, c.SummaryOnExit)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gattwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
connect_timeout: 5s
colorize: false
summary_on_exit: true
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 5*time.Second, c.ConnectTimeout)
	assert.Equal(t, 10*time.Second, c.ScanTimeout, "untouched keys MUST keep their defaults")
	assert.False(t, c.Colorize)
	assert.True(t, c.SummaryOnExit)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: shouting\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	c := Default()
	c.LogLevel = "warning"

	logger := c.NewLogger()
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}
