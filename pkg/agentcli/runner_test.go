package agentcli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ace/pkg/logx"
)

// writeFakeAgent installs an executable shell script standing in for the
// agent CLI and returns its path.
func writeFakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newTestRunner(binary string, retry RetryPolicy, timeout time.Duration) *Runner {
	return NewRunner(RunnerConfig{
		Binary:      binary,
		TurnTimeout: timeout,
		Retry:       retry,
		Stderr:      os.Stderr,
	}, logx.NewLogger("test"), nil, nil)
}

func TestInvokeSuccess(t *testing.T) {
	bin := writeFakeAgent(t, `
echo '{"type":"thread.started","thread_id":"th-77"}'
echo '{"type":"item.completed","item":{"type":"agent_message","text":"first"}}'
echo '{"type":"item.completed","item":{"type":"agent_message","text":"second"}}'
`)
	r := newTestRunner(bin, RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}, 10*time.Second)

	result, err := r.Invoke(context.Background(), TurnOptions{
		Role:    "planner",
		WorkDir: t.TempDir(),
		Task:    "task_id: T-001",
	})
	require.NoError(t, err)
	assert.Equal(t, "second", result.Message)
	assert.Equal(t, "th-77", result.ThreadID)
	assert.Equal(t, 1, result.Attempts)
}

func TestInvokeRetriesThenSucceeds(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "attempts")
	bin := writeFakeAgent(t, `
n=$(cat "$ACE_TEST_COUNTER" 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > "$ACE_TEST_COUNTER"
if [ "$n" -lt 3 ]; then
  exit 1
fi
echo '{"type":"thread.started","thread_id":"th-1"}'
echo '{"type":"item.completed","item":{"type":"agent_message","text":"recovered"}}'
`)
	t.Setenv("ACE_TEST_COUNTER", counter)

	r := newTestRunner(bin, RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Millisecond}, 10*time.Second)
	result, err := r.Invoke(context.Background(), TurnOptions{
		Role:    "executor",
		WorkDir: t.TempDir(),
		Task:    "task_id: T-001",
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Message)
	assert.Equal(t, 3, result.Attempts)
}

func TestInvokeExhaustsRetries(t *testing.T) {
	bin := writeFakeAgent(t, `exit 2`)
	r := newTestRunner(bin, RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}, 10*time.Second)

	_, err := r.Invoke(context.Background(), TurnOptions{
		Role:    "reviewer",
		WorkDir: t.TempDir(),
		Task:    "task_id: T-001",
	})
	require.Error(t, err)
	assert.True(t, IsExhausted(err))

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, FailureExit, turnErr.Kind)
	assert.Equal(t, 2, turnErr.ExitCode)
}

func TestInvokeNoAgentMessageIsFailure(t *testing.T) {
	bin := writeFakeAgent(t, `
echo '{"type":"thread.started","thread_id":"th-1"}'
echo '{"type":"item.completed","item":{"type":"command_execution","text":"ls"}}'
`)
	r := newTestRunner(bin, RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}, 10*time.Second)

	_, err := r.Invoke(context.Background(), TurnOptions{
		Role:    "planner",
		WorkDir: t.TempDir(),
		Task:    "task_id: T-001",
	})
	require.Error(t, err)

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, FailureNoResponse, turnErr.Kind)
}

func TestInvokeStdinTransport(t *testing.T) {
	captured := filepath.Join(t.TempDir(), "stdin")
	bin := writeFakeAgent(t, `
cat > "$ACE_TEST_STDIN"
echo '{"type":"item.completed","item":{"type":"agent_message","text":"ok"}}'
`)
	t.Setenv("ACE_TEST_STDIN", captured)

	task := "line one\nline two"
	r := newTestRunner(bin, RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}, 10*time.Second)
	result, err := r.Invoke(context.Background(), TurnOptions{
		Role:    "executor",
		WorkDir: t.TempDir(),
		Task:    task,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Message)

	data, err := os.ReadFile(captured)
	require.NoError(t, err)
	assert.Equal(t, task, string(data))
}

func TestInvokeTimeout(t *testing.T) {
	bin := writeFakeAgent(t, `sleep 10`)
	r := newTestRunner(bin, RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}, 150*time.Millisecond)

	start := time.Now()
	_, err := r.Invoke(context.Background(), TurnOptions{
		Role:    "planner",
		WorkDir: t.TempDir(),
		Task:    "task_id: T-001",
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 8*time.Second)

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, FailureTimeout, turnErr.Kind)
}

func TestInvokeTimeoutDespiteLingeringGrandchild(t *testing.T) {
	// The backgrounded grandchild inherits stdout and outlives the
	// agent; SIGTERM plus the kill grace must still bound the turn.
	bin := writeFakeAgent(t, `
sleep 30 &
sleep 30
`)
	r := newTestRunner(bin, RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}, 150*time.Millisecond)

	start := time.Now()
	_, err := r.Invoke(context.Background(), TurnOptions{
		Role:    "planner",
		WorkDir: t.TempDir(),
		Task:    "task_id: T-001",
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 8*time.Second)

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, FailureTimeout, turnErr.Kind)
}

func TestInvokeLingeringGrandchildAfterCleanExit(t *testing.T) {
	// The agent answers and exits zero but leaves a child holding the
	// stdout pipe. The turn succeeds once the grace window elapses.
	bin := writeFakeAgent(t, `
echo '{"type":"thread.started","thread_id":"th-1"}'
echo '{"type":"item.completed","item":{"type":"agent_message","text":"ok"}}'
sleep 30 &
`)
	r := newTestRunner(bin, RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}, 30*time.Second)

	start := time.Now()
	result, err := r.Invoke(context.Background(), TurnOptions{
		Role:    "executor",
		WorkDir: t.TempDir(),
		Task:    "task_id: T-001",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Message)
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestInvokeCancelledNotRetried(t *testing.T) {
	bin := writeFakeAgent(t, `sleep 10`)
	r := newTestRunner(bin, RetryPolicy{MaxAttempts: 3, Delay: time.Second}, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Invoke(ctx, TurnOptions{
		Role:    "planner",
		WorkDir: t.TempDir(),
		Task:    "task_id: T-001",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	// One attempt only: no retry sleeps after cancellation.
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestBuildArgs(t *testing.T) {
	r := NewRunner(RunnerConfig{
		Binary:   "codex",
		Model:    "gpt-5",
		FullAuto: true,
	}, logx.NewLogger("test"), nil, nil)

	fresh := r.buildArgs(TurnOptions{WorkDir: "/work", Task: "do it"}, false)
	assert.Equal(t, []string{"e", "--json", "-m", "gpt-5", "-C", "/work", "--full-auto", "do it"}, fresh)

	viaStdin := r.buildArgs(TurnOptions{WorkDir: "/work", Task: "multi\nline"}, true)
	assert.Equal(t, "-", viaStdin[len(viaStdin)-1])

	resumed := r.buildArgs(TurnOptions{WorkDir: "/work", Task: "next", ResumeSession: "th-5"}, false)
	assert.Equal(t, []string{"e", "--skip-git-repo-check", "--json", "-C", "/work", "resume", "th-5", "next"}, resumed)
}
