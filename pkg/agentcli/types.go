// Package agentcli runs one role turn of the external agent CLI as a child
// process: it feeds the task text in, streams the newline-delimited JSON
// event output, and recovers the final agent message plus the session
// handle, with timeout, retry, and cancellation handling.
package agentcli

import (
	"time"
)

// TurnOptions describes a single role turn.
type TurnOptions struct {
	// Role is the agent role name ("planner", "executor", "reviewer").
	// The caller must have installed the role definition into the
	// workspace before invoking.
	Role string

	// WorkDir is the workspace the agent operates on.
	WorkDir string

	// Task is the task text. May be large and contain newlines; the
	// transport decision routes it via stdin when needed.
	Task string

	// ResumeSession, when non-empty, resumes a prior conversational
	// context instead of starting a fresh one.
	ResumeSession string

	// Piped indicates the orchestrator's own stdin is not a terminal;
	// it forces stdin transport for the task text.
	Piped bool
}

// TurnResult is the outcome of a successful role turn.
type TurnResult struct {
	// Message is the final agent_message text (later messages supersede
	// earlier ones).
	Message string

	// ThreadID is the captured session handle, or "" when the stream
	// never announced one.
	ThreadID string

	// Duration covers the successful attempt only.
	Duration time.Duration

	// Attempts is how many attempts were made, including the successful one.
	Attempts int
}

// RetryPolicy bounds the transient-failure retries of one turn.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget (first try included).
	MaxAttempts int

	// Delay is the fixed sleep between attempts.
	Delay time.Duration
}

// DefaultRetryPolicy matches the orchestrator defaults: three attempts,
// five seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second}
}
