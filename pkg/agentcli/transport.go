package agentcli

import "strings"

// MaxArgLength is the task-text length beyond which the command line is not
// trusted to carry it.
const MaxArgLength = 800

// UseStdin decides whether the task text travels over the child's stdin
// instead of as a command-line argument. The decision is a pure function of
// the text's shape and the piping flag: piped input, embedded newlines,
// backslashes, and long texts all hit platform argument-length or escaping
// limits somewhere, so they go through stdin everywhere.
func UseStdin(task string, piped bool) bool {
	if piped {
		return true
	}
	if strings.ContainsRune(task, '\n') {
		return true
	}
	if strings.ContainsRune(task, '\\') {
		return true
	}
	return len(task) > MaxArgLength
}

// stdinReasons names why stdin transport was chosen, for the turn log.
func stdinReasons(task string, piped bool) []string {
	var reasons []string
	if piped {
		reasons = append(reasons, "piped input")
	}
	if strings.ContainsRune(task, '\n') {
		reasons = append(reasons, "newline")
	}
	if strings.ContainsRune(task, '\\') {
		reasons = append(reasons, "backslash")
	}
	if len(task) > MaxArgLength {
		reasons = append(reasons, "length>800")
	}
	return reasons
}
