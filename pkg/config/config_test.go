package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "codex", cfg.Agent.Binary)
	assert.Equal(t, 30*time.Minute, cfg.Agent.TurnTimeout.Std())
	assert.Equal(t, 3, cfg.Agent.MaxRetries)
	assert.Equal(t, 50, cfg.Loop.MaxIterations)
	assert.Equal(t, "task", cfg.Git.BranchPrefix)
	assert.True(t, cfg.Loop.Step)
	assert.True(t, cfg.Loop.AutoApprove)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, StateDir), 0o755))
	yaml := `
agent:
  binary: mycodex
  turn_timeout: 10m
  max_retries: 5
  retry_delay: 1s
git:
  branch_prefix: feature
loop:
  max_iterations: 7
  step: false
metrics_addr: "127.0.0.1:9464"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateDir, ConfigFilename), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "mycodex", cfg.Agent.Binary)
	assert.Equal(t, 10*time.Minute, cfg.Agent.TurnTimeout.Std())
	assert.Equal(t, 5, cfg.Agent.MaxRetries)
	assert.Equal(t, time.Second, cfg.Agent.RetryDelay.Std())
	assert.Equal(t, "feature", cfg.Git.BranchPrefix)
	assert.Equal(t, 7, cfg.Loop.MaxIterations)
	assert.False(t, cfg.Loop.Step)
	assert.Equal(t, "127.0.0.1:9464", cfg.MetricsAddr)
	// Untouched fields keep defaults.
	assert.Equal(t, 60*time.Second, cfg.Git.CommandTimeout.Std())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, StateDir), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, StateDir, ConfigFilename),
		[]byte("agent:\n  max_retries: 0\n"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, StateDir), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, StateDir, ConfigFilename),
		[]byte("agent: [unclosed"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestResolveRoleDirRelativeToInstall(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	got := ResolveRoleDir("role")
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, filepath.Join(filepath.Dir(exe), "role"), got)
}

func TestResolveRoleDirKeepsAbsolute(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "role")
	assert.Equal(t, abs, ResolveRoleDir(abs))
	assert.Empty(t, ResolveRoleDir(""))
}
