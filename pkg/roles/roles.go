// Package roles defines the three agent roles the orchestrator cycles
// through and the per-role dispatch table: how to build each role's prompt
// and which artifact the role is required to produce.
package roles

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ace/pkg/contextdir"
)

// Role is the closed set of agent roles.
type Role string

const (
	// RolePlanner turns a task id into a task brief.
	RolePlanner Role = "planner"
	// RoleExecutor performs the task and writes the execution log.
	RoleExecutor Role = "executor"
	// RoleReviewer reviews the log and writes the next task id.
	RoleReviewer Role = "reviewer"
)

// All returns every role in cycle order.
func All() []Role {
	return []Role{RolePlanner, RoleExecutor, RoleReviewer}
}

// Parse validates a role name.
func Parse(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RolePlanner:
		return RolePlanner, nil
	case RoleExecutor:
		return RoleExecutor, nil
	case RoleReviewer:
		return RoleReviewer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// behavior couples a role to its prompt construction and required artifact.
// A nil artifact func means the role has no file postcondition of its own
// (the reviewer's postcondition is the shared status file, checked by the
// controller).
type behavior struct {
	prompt   func(d *contextdir.Dir, taskID string) string
	artifact func(d *contextdir.Dir, taskID string) string
}

var table = map[Role]behavior{
	RolePlanner: {
		prompt:   plannerPrompt,
		artifact: func(d *contextdir.Dir, taskID string) string { return d.BriefPath(taskID) },
	},
	RoleExecutor: {
		prompt:   executorPrompt,
		artifact: func(d *contextdir.Dir, taskID string) string { return d.ExecutionLogPath(taskID) },
	},
	RoleReviewer: {
		prompt: reviewPrompt,
	},
}

// Prompt builds the role's task text for one turn.
func (r Role) Prompt(d *contextdir.Dir, taskID string) string {
	return table[r].prompt(d, taskID)
}

// RequiredArtifact returns the file the role must have produced after its
// turn, or "" when the role has no artifact postcondition.
func (r Role) RequiredArtifact(d *contextdir.Dir, taskID string) string {
	if table[r].artifact == nil {
		return ""
	}
	return table[r].artifact(d, taskID)
}

func plannerPrompt(_ *contextdir.Dir, taskID string) string {
	return "task_id: " + taskID
}

func executorPrompt(_ *contextdir.Dir, taskID string) string {
	return "task_id: " + taskID
}

func reviewPrompt(d *contextdir.Dir, taskID string) string {
	return fmt.Sprintf(
		"task_id: %s has been marked complete by the executor.\n"+
			"Review `./%s` and update `./%s`.\n"+
			"If every task is done, write `finish` to `./%s`.",
		taskID,
		d.ExecutionLogRel(taskID),
		filepath.Join(contextdir.DirName, contextdir.TaskIDFilename),
		filepath.Join(contextdir.DirName, contextdir.TaskIDFilename),
	)
}

// BootstrapPrompt is the reviewer prompt for a fresh project.
func BootstrapPrompt(goal string) string {
	return fmt.Sprintf(
		"This is a new project.\n"+
			"**Ultimate goal:** %s\n\n"+
			"The project is currently empty. Initialize `context/System_State_Snapshot.md`.\n"+
			"Based on the ultimate goal, create an initial `context/Project_Roadmap.md`,\n"+
			"break the goal into tasks and set the first task id.",
		goal,
	)
}

// ResumePrompt is the reviewer prompt for continuing an existing project.
// instructions, when non-empty, carries new operator directions.
func ResumePrompt(instructions string) string {
	prompt := "This is an existing project; we are continuing previous work.\n\n" +
		"Read `./context/System_State_Snapshot.md` and `./context/Project_Roadmap.md`\n" +
		"to understand the current state and progress.\n\n" +
		"Then check `./context/current_task_id.txt` to confirm the current task.\n" +
		"Update the snapshot and roadmap if needed, then set the next task id to execute."
	if instructions != "" {
		prompt += "\n\n**New operator instructions:**\n" + instructions +
			"\n\nAdjust the project goals and task planning according to these instructions."
	}
	return prompt
}

// AppendFeedback injects pending operator feedback into a review prompt.
func AppendFeedback(prompt, feedback string) string {
	if feedback == "" {
		return prompt
	}
	return prompt + "\n\n**Operator feedback:**\n" + feedback +
		"\n\nTake this feedback into account during the review and reflect it in the next task."
}

// DefinitionFilename is where the agent CLI reads its role instructions
// inside the workspace.
const DefinitionFilename = "AGENTS.md"

// Install copies the role's definition file from roleDir into the workspace
// so the agent process picks up its instructions. This must happen before
// every turn; roles share the single AGENTS.md slot.
func Install(roleDir string, role Role, workDir string) error {
	src := filepath.Join(roleDir, string(role)+".md")
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("role definition not found: %s: %w", src, err)
	}
	defer in.Close()

	dst := filepath.Join(workDir, DefinitionFilename)
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy role definition to %s: %w", dst, err)
	}
	return nil
}
