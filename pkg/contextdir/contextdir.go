// Package contextdir manages the shared context directory that the external
// agent and the orchestrator communicate through: the current task id file,
// the deterministic per-task artifacts, and the one-shot feedback file.
//
// The orchestrator never mutates task artifacts; it only owns the status and
// feedback files.
package contextdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Well-known names inside the workspace.
const (
	DirName        = "context"
	TaskIDFilename = "current_task_id.txt"
	FeedbackName   = "user_feedback.txt"

	briefPrefix = "AI_Task_Brief_"
	logPrefix   = "Execution_Log_"
)

// Dir provides path and I/O helpers for one workspace's context directory.
type Dir struct {
	workDir string
}

// New returns a Dir for the given workspace.
func New(workDir string) *Dir {
	return &Dir{workDir: workDir}
}

// Path returns the context directory itself.
func (d *Dir) Path() string {
	return filepath.Join(d.workDir, DirName)
}

// Ensure creates the context directory if it does not exist.
func (d *Dir) Ensure() error {
	if err := os.MkdirAll(d.Path(), 0o755); err != nil {
		return fmt.Errorf("failed to create context directory: %w", err)
	}
	return nil
}

// TaskIDPath returns the shared status file path.
func (d *Dir) TaskIDPath() string {
	return filepath.Join(d.Path(), TaskIDFilename)
}

// ReadTaskID returns the trimmed content of the status file, or "" when the
// file is absent or empty.
func (d *Dir) ReadTaskID() (string, error) {
	data, err := os.ReadFile(d.TaskIDPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", d.TaskIDPath(), err)
	}
	return strings.TrimSpace(string(data)), nil
}

// BriefPath returns the planner brief artifact path for a task
// (AI_Task_Brief_<taskID>.md).
func (d *Dir) BriefPath(taskID string) string {
	return filepath.Join(d.Path(), briefPrefix+taskID+".md")
}

// ExecutionLogPath returns the executor log artifact path for a task:
// Execution_Log_<taskID>.md.
func (d *Dir) ExecutionLogPath(taskID string) string {
	return filepath.Join(d.Path(), logPrefix+taskID+".md")
}

// BriefRel and ExecutionLogRel return the artifact paths relative to the
// workspace, for prompts and diagnostics.
func (d *Dir) BriefRel(taskID string) string {
	return filepath.Join(DirName, briefPrefix+taskID+".md")
}

func (d *Dir) ExecutionLogRel(taskID string) string {
	return filepath.Join(DirName, logPrefix+taskID+".md")
}

// HasArtifact reports whether the artifact at path exists.
func HasArtifact(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FeedbackPath returns the one-shot user feedback file path.
func (d *Dir) FeedbackPath() string {
	return filepath.Join(d.Path(), FeedbackName)
}

// WriteFeedback stores operator feedback for the next review turn.
func (d *Dir) WriteFeedback(text string) error {
	if err := os.WriteFile(d.FeedbackPath(), []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write feedback file: %w", err)
	}
	return nil
}

// ConsumeFeedback reads and deletes the feedback file, giving at-most-once
// delivery. Returns "" when no feedback is pending.
func (d *Dir) ConsumeFeedback() (string, error) {
	data, err := os.ReadFile(d.FeedbackPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read feedback file: %w", err)
	}
	if err := os.Remove(d.FeedbackPath()); err != nil {
		return "", fmt.Errorf("failed to delete feedback file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
