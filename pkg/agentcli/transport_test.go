package agentcli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUseStdin(t *testing.T) {
	tests := []struct {
		name  string
		task  string
		piped bool
		want  bool
	}{
		{"short plain text", "task_id: T-001", false, false},
		{"piped forces stdin", "task_id: T-001", true, true},
		{"embedded newline", "line one\nline two", false, true},
		{"backslash", `path C:\repo`, false, true},
		{"exactly at limit", strings.Repeat("a", MaxArgLength), false, false},
		{"over the limit", strings.Repeat("a", MaxArgLength+1), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UseStdin(tt.task, tt.piped))
		})
	}
}

func TestStdinReasonsNamesEveryTrigger(t *testing.T) {
	reasons := stdinReasons("a\\b\n"+strings.Repeat("x", MaxArgLength), true)
	assert.Len(t, reasons, 4)
}
