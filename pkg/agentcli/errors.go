package agentcli

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a turn attempt failed.
type FailureKind int

const (
	// FailureLaunch means the child process could not be started.
	FailureLaunch FailureKind = iota
	// FailureTimeout means the per-turn ceiling expired.
	FailureTimeout
	// FailureExit means the child exited non-zero.
	FailureExit
	// FailureNoResponse means the child exited zero without emitting any
	// agent_message event.
	FailureNoResponse
)

func (k FailureKind) String() string {
	switch k {
	case FailureLaunch:
		return "launch failed"
	case FailureTimeout:
		return "timed out"
	case FailureExit:
		return "non-zero exit"
	case FailureNoResponse:
		return "no agent message"
	default:
		return "unknown"
	}
}

// TurnError is a single failed attempt at a role turn. Every kind is
// transient at this layer; the retry loop decides when the budget is spent.
type TurnError struct {
	Kind     FailureKind
	Role     string
	ExitCode int
	Err      error
}

func (e *TurnError) Error() string {
	msg := fmt.Sprintf("%s turn %s", e.Role, e.Kind)
	if e.Kind == FailureExit {
		msg = fmt.Sprintf("%s (exit %d)", msg, e.ExitCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// ExhaustedError is the terminal error after the retry budget is spent.
// The workflow controller treats it as fatal for the whole run.
type ExhaustedError struct {
	Role     string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s turn failed after %d attempts: %v", e.Role, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted reports whether err is a terminal retry-exhaustion error.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}
