package contextdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTaskID(t *testing.T) {
	d := New(t.TempDir())
	require.NoError(t, d.Ensure())

	// Absent file is not an error.
	id, err := d.ReadTaskID()
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, os.WriteFile(d.TaskIDPath(), []byte("  T-001\n"), 0o644))
	id, err = d.ReadTaskID()
	require.NoError(t, err)
	assert.Equal(t, "T-001", id)

	// Whitespace-only content reads as empty.
	require.NoError(t, os.WriteFile(d.TaskIDPath(), []byte(" \n\t"), 0o644))
	id, err = d.ReadTaskID()
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestArtifactPaths(t *testing.T) {
	d := New("/work")
	assert.Equal(t, filepath.Join("/work", "context", "AI_Task_Brief_T-7.md"), d.BriefPath("T-7"))
	assert.Equal(t, filepath.Join("/work", "context", "Execution_Log_T-7.md"), d.ExecutionLogPath("T-7"))
	assert.Equal(t, filepath.Join("context", "AI_Task_Brief_T-7.md"), d.BriefRel("T-7"))
	assert.Equal(t, filepath.Join("context", "Execution_Log_T-7.md"), d.ExecutionLogRel("T-7"))
}

func TestConsumeFeedbackAtMostOnce(t *testing.T) {
	d := New(t.TempDir())
	require.NoError(t, d.Ensure())

	// Nothing pending.
	text, err := d.ConsumeFeedback()
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, d.WriteFeedback("use table-driven tests"))
	text, err = d.ConsumeFeedback()
	require.NoError(t, err)
	assert.Equal(t, "use table-driven tests", text)

	// Second consume finds nothing; the file was deleted.
	text, err = d.ConsumeFeedback()
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.False(t, HasArtifact(d.FeedbackPath()))
}
