package workflow

import "strings"

// Signal is the reviewer's verdict, read back from the status file after
// every review turn.
type Signal int

const (
	// SignalContinue carries the next task id.
	SignalContinue Signal = iota
	// SignalFinish ends the run successfully.
	SignalFinish
	// SignalAbort ends the run as unrecoverable.
	SignalAbort
)

func (s Signal) String() string {
	switch s {
	case SignalContinue:
		return "continue"
	case SignalFinish:
		return "finish"
	case SignalAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Classify interprets the status file's content. The finish and abort
// sentinels match case-insensitively on the trimmed content; anything else
// is the next task id, returned alongside SignalContinue.
func Classify(status string) (Signal, string) {
	trimmed := strings.TrimSpace(status)
	switch strings.ToLower(trimmed) {
	case "finish":
		return SignalFinish, ""
	case "abort":
		return SignalAbort, ""
	default:
		return SignalContinue, trimmed
	}
}
