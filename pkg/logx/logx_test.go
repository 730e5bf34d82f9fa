package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureOnce(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink()

	require.NoError(t, sink.Configure(dir, false))
	assert.True(t, sink.Configured())

	// Second configure must be a no-op, not an error.
	other := t.TempDir()
	require.NoError(t, sink.Configure(other, true))

	sink.Logger("test").Info("hello %s", "world")
	require.NoError(t, sink.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "log file should be created in the first directory")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
	assert.Contains(t, string(data), "[test] INFO")

	otherEntries, err := os.ReadDir(other)
	require.NoError(t, err)
	assert.Empty(t, otherEntries, "second Configure must not open a file")
}

func TestDebugSuppressedByDefault(t *testing.T) {
	dir := t.TempDir()
	sink := NewSink()
	require.NoError(t, sink.Configure(dir, false))

	logger := sink.Logger("test")
	logger.Debug("invisible")
	sink.SetDebug(true)
	logger.Debug("visible")
	require.NoError(t, sink.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "invisible")
	assert.Contains(t, string(data), "visible")
}

func TestWrapNil(t *testing.T) {
	logger := NewLogger("test")
	assert.NoError(t, logger.Wrap(nil, "ignored"))
}

func TestErrorfReturnsError(t *testing.T) {
	logger := NewLogger("test")
	err := logger.Errorf("boom: %d", 7)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "boom: 7"))
}
