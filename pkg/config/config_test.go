package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capls.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
servers:
  - name: analytics
    command: analytics-server
    args: ["-v"]
    env: ["LOG_LEVEL=debug"]
    call_timeout: 45s
  - name: local
    command: ./bin/demo
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 2)

	analytics, ok := cfg.Lookup("analytics")
	require.True(t, ok)
	assert.Equal(t, "analytics-server", analytics.Command)
	assert.Equal(t, []string{"-v"}, analytics.Args)
	assert.Equal(t, 45*time.Second, analytics.CallTimeout)

	_, ok = cfg.Lookup("missing")
	assert.False(t, ok)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeConfig(t, `
servers:
  - name: a
    command: one
  - name: a
    command: two
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate server name")
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	path := writeConfig(t, `
servers:
  - name: broken
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
