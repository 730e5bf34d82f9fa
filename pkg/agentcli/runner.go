package agentcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"ace/pkg/logx"
	"ace/pkg/metrics"
	"ace/pkg/utils"
)

// killGrace is how long a timed-out or cancelled child gets between
// SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Binary is the agent CLI executable, resolved via PATH.
	Binary string

	// Model overrides the CLI's default model when non-empty. Only
	// applied to fresh sessions; resumed sessions keep their model.
	Model string

	// FullAuto lets the agent run without per-command approval.
	FullAuto bool

	// TurnTimeout is the wall-clock ceiling for one attempt.
	TurnTimeout time.Duration

	// Retry bounds the transient-failure retries.
	Retry RetryPolicy

	// Stderr receives the child's stderr unbuffered. Defaults to the
	// process stderr.
	Stderr io.Writer
}

// Runner invokes the agent CLI for role turns.
type Runner struct {
	cfg      RunnerConfig
	logger   *logx.Logger
	recorder *metrics.Recorder
	tokens   *utils.TokenCounter
}

// NewRunner creates a runner. recorder and tokens may be nil.
func NewRunner(cfg RunnerConfig, logger *logx.Logger, recorder *metrics.Recorder, tokens *utils.TokenCounter) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "codex"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		recorder: recorder,
		tokens:   tokens,
	}
}

// Invoke runs one role turn, retrying transient failures up to the policy's
// budget. Context cancellation aborts immediately and is never retried.
func (r *Runner) Invoke(ctx context.Context, opts TurnOptions) (*TurnResult, error) {
	if r.tokens != nil {
		n := r.tokens.CountTokens(opts.Task)
		if r.recorder != nil {
			r.recorder.ObservePromptTokens(opts.Role, n)
		}
		r.logger.Debug("%s prompt: ~%d tokens", opts.Role, n)
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			r.logger.Warn("%s turn attempt %d/%d after: %v",
				opts.Role, attempt, r.cfg.Retry.MaxAttempts, lastErr)
			if r.recorder != nil {
				r.recorder.ObserveRetry(opts.Role)
			}
			if err := sleepCtx(ctx, r.cfg.Retry.Delay); err != nil {
				return nil, err
			}
		}

		result, err := r.attempt(ctx, opts)
		if err == nil {
			result.Attempts = attempt
			if r.recorder != nil {
				r.recorder.ObserveTurn(opts.Role, true, result.Duration)
			}
			return result, nil
		}
		if ctx.Err() != nil {
			// Cancelled from above, not a turn failure.
			return nil, ctx.Err()
		}
		lastErr = err
	}

	if r.recorder != nil {
		r.recorder.ObserveTurn(opts.Role, false, 0)
	}
	return nil, &ExhaustedError{
		Role:     opts.Role,
		Attempts: r.cfg.Retry.MaxAttempts,
		Last:     lastErr,
	}
}

// attempt runs the CLI once and folds its event stream.
func (r *Runner) attempt(ctx context.Context, opts TurnOptions) (*TurnResult, error) {
	useStdin := UseStdin(opts.Task, opts.Piped)
	args := r.buildArgs(opts, useStdin)

	attemptCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.TurnTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.TurnTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(attemptCtx, r.cfg.Binary, args...)
	cmd.Dir = opts.WorkDir
	cmd.Stderr = r.cfg.Stderr
	// Graceful stop first; SIGKILL follows after the grace window.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	if useStdin {
		cmd.Stdin = strings.NewReader(opts.Task)
		r.logger.Debug("%s task via stdin (%s)",
			opts.Role, strings.Join(stdinReasons(opts.Task, opts.Piped), ", "))
	}

	var collector Collector
	parser := NewStreamParser(func(ev StreamEvent) {
		collector.Observe(ev)
		if ev.Type == EventError && ev.Message != "" {
			r.logger.Warn("%s agent error event: %s", opts.Role, ev.Message)
		}
	}, func(parseErr error) {
		r.logger.Debug("%s unparseable event line: %v", opts.Role, parseErr)
	})

	// Stdout flows through an exec-managed pipe so Wait owns the pipe
	// lifecycle: on timeout or cancel, WaitDelay force-closes it even
	// when a spawned grandchild still holds the write end. The parse
	// runs concurrently with Wait for the same reason.
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	r.logger.Info("%s turn: %s %s", opts.Role, r.cfg.Binary, strings.Join(args, " "))
	start := time.Now()

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, &TurnError{Kind: FailureLaunch, Role: opts.Role, Err: err}
	}

	parseDone := make(chan error, 1)
	go func() {
		parseDone <- parser.ParseReader(pr)
	}()

	waitErr := cmd.Wait()
	pw.Close()
	parseErr := <-parseDone
	duration := time.Since(start)

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// Exit status was zero; an orphaned grandchild merely kept the
		// pipe open past the grace window. The stream is complete.
		waitErr = nil
	}

	if waitErr != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, &TurnError{
				Kind: FailureTimeout,
				Role: opts.Role,
				Err:  fmt.Errorf("exceeded %s", r.cfg.TurnTimeout),
			}
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, &TurnError{
				Kind:     FailureExit,
				Role:     opts.Role,
				ExitCode: exitErr.ExitCode(),
				Err:      waitErr,
			}
		}
		return nil, &TurnError{Kind: FailureLaunch, Role: opts.Role, Err: waitErr}
	}
	if parseErr != nil {
		return nil, &TurnError{Kind: FailureNoResponse, Role: opts.Role, Err: parseErr}
	}
	if !collector.Responded() {
		return nil, &TurnError{
			Kind: FailureNoResponse,
			Role: opts.Role,
			Err:  fmt.Errorf("exit 0 after %d event lines", parser.LineCount()),
		}
	}

	r.logger.Info("%s turn done in %s (session %s)",
		opts.Role, utils.FormatDuration(duration), orNone(collector.ThreadID()))

	return &TurnResult{
		Message:  collector.Message(),
		ThreadID: collector.ThreadID(),
		Duration: duration,
	}, nil
}

// buildArgs assembles the CLI argument list. The task travels as the last
// positional argument, or as "-" when stdin transport is in use.
func (r *Runner) buildArgs(opts TurnOptions, useStdin bool) []string {
	target := opts.Task
	if useStdin {
		target = "-"
	}

	if opts.ResumeSession != "" {
		return []string{
			"e", "--skip-git-repo-check", "--json",
			"-C", opts.WorkDir,
			"resume", opts.ResumeSession,
			target,
		}
	}

	args := []string{"e", "--json"}
	if r.cfg.Model != "" {
		args = append(args, "-m", r.cfg.Model)
	}
	if opts.WorkDir != "" {
		args = append(args, "-C", opts.WorkDir)
	}
	if r.cfg.FullAuto {
		args = append(args, "--full-auto")
	}
	return append(args, target)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
