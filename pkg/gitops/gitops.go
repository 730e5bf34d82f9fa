// Package gitops wraps the git primitives the orchestrator needs to make
// each iteration durable: repository validation, branch creation with
// collision avoidance, and stage-and-commit checkpoints.
//
// Every subcommand runs under a bounded timeout. A stale index.lock left by
// an interrupted run is cleared before staging or committing; a lock that
// cannot be cleared surfaces as ErrRepositoryLocked rather than being
// retried forever.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ace/pkg/logx"
)

// Sentinel errors of the checkpoint layer.
var (
	// ErrNotARepository indicates the directory is not inside a git work tree.
	ErrNotARepository = errors.New("not a git repository")

	// ErrRepositoryLocked indicates an index.lock that could not be cleared.
	ErrRepositoryLocked = errors.New("repository index is locked")
)

// CommandError reports a failed or timed-out git subcommand.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s failed (exit %d): %s", strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
}

const stderrExcerptLen = 400

// Client executes git operations against one working tree.
type Client struct {
	dir     string
	timeout time.Duration
	logger  *logx.Logger
}

// NewClient creates a checkpointer for the given working tree. timeout bounds
// every individual git subcommand.
func NewClient(dir string, timeout time.Duration, logger *logx.Logger) *Client {
	if logger == nil {
		logger = logx.NewLogger("gitops")
	}
	return &Client{dir: dir, timeout: timeout, logger: logger}
}

// run executes one git subcommand with the client's timeout.
func (c *Client) run(ctx context.Context, args ...string) (stdout, stderr string, exitCode int, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	stdout = strings.TrimSpace(outBuf.String())
	stderr = strings.TrimSpace(errBuf.String())

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return stdout, stderr, -1, &CommandError{Args: args, ExitCode: -1, Stderr: "timed out after " + c.timeout.String()}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is reported through exitCode; callers decide
			// whether that is an error for their operation.
			return stdout, stderr, exitErr.ExitCode(), nil
		}
		return stdout, stderr, -1, &CommandError{Args: args, ExitCode: -1, Stderr: err.Error()}
	}
	return stdout, stderr, 0, nil
}

// commandError builds a CommandError with a bounded stderr excerpt.
func commandError(args []string, exitCode int, stderr string) *CommandError {
	if len(stderr) > stderrExcerptLen {
		stderr = stderr[:stderrExcerptLen]
	}
	return &CommandError{Args: args, ExitCode: exitCode, Stderr: stderr}
}

// EnsureRepo confirms dir is inside a git working tree.
func (c *Client) EnsureRepo(ctx context.Context) error {
	out, _, code, err := c.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return err
	}
	if code != 0 || out != "true" {
		return fmt.Errorf("%w: %s", ErrNotARepository, c.dir)
	}
	return nil
}

// CurrentBranch returns the active branch name.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, stderr, code, err := c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", commandError([]string{"rev-parse", "--abbrev-ref", "HEAD"}, code, stderr)
	}
	if out == "" || out == "HEAD" {
		return "", fmt.Errorf("no branch resolvable (detached HEAD?)")
	}
	return out, nil
}

// branchExists reports whether a local branch with this name exists.
func (c *Client) branchExists(ctx context.Context, name string) (bool, error) {
	_, _, code, err := c.run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// CreateBranch creates and switches to a new branch. If the desired name is
// taken, a numeric suffix (-1, -2, ...) is appended until an unused name is
// found, so the call never fails on a collision. Returns the actual name.
func (c *Client) CreateBranch(ctx context.Context, desired, base string) (string, error) {
	actual := desired
	for suffix := 1; ; suffix++ {
		exists, err := c.branchExists(ctx, actual)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		actual = fmt.Sprintf("%s-%d", desired, suffix)
	}

	args := []string{"checkout", "-b", actual}
	if base != "" {
		args = append(args, base)
	}
	_, stderr, code, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", commandError(args, code, stderr)
	}
	c.logger.Info("Created branch %s", actual)
	return actual, nil
}

// StageAll stages every tracked and untracked change (git add -A).
func (c *Client) StageAll(ctx context.Context) error {
	if err := c.clearStaleLock(); err != nil {
		return err
	}
	return c.runStaging(ctx, "add", "-A")
}

// runStaging runs a mutating command, clearing a stale lock and retrying
// once when git reports the index as locked.
func (c *Client) runStaging(ctx context.Context, args ...string) error {
	_, stderr, code, err := c.run(ctx, args...)
	if err != nil {
		return err
	}
	if code == 0 {
		return nil
	}
	if !strings.Contains(stderr, "index.lock") {
		return commandError(args, code, stderr)
	}

	// Locked: clear and retry exactly once.
	if err := c.clearStaleLock(); err != nil {
		return err
	}
	_, stderr, code, err = c.run(ctx, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		if strings.Contains(stderr, "index.lock") {
			return fmt.Errorf("%w: %s", ErrRepositoryLocked, stderr)
		}
		return commandError(args, code, stderr)
	}
	return nil
}

// clearStaleLock removes an index.lock left behind by an interrupted run.
// Our process never holds the lock while this is called, so an existing lock
// file is stale by definition.
func (c *Client) clearStaleLock() error {
	lock := filepath.Join(c.dir, ".git", "index.lock")
	info, err := os.Stat(lock)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", lock, err)
	}

	c.logger.Warn("Clearing stale index.lock (age %s)", time.Since(info.ModTime()).Round(time.Second))
	if err := os.Remove(lock); err != nil {
		return fmt.Errorf("%w: cannot remove %s: %v", ErrRepositoryLocked, lock, err)
	}
	return nil
}

// Commit commits staged changes and returns the new commit hash. An empty
// diff is a normal outcome: ok is false and no error is returned.
func (c *Client) Commit(ctx context.Context, message string) (hash string, ok bool, err error) {
	if err := c.clearStaleLock(); err != nil {
		return "", false, err
	}

	args := []string{"commit", "-m", message}
	out, stderr, code, err := c.run(ctx, args...)
	if err != nil {
		return "", false, err
	}
	if code != 0 {
		if strings.Contains(out, "nothing to commit") || strings.Contains(stderr, "nothing to commit") {
			return "", false, nil
		}
		if strings.Contains(stderr, "index.lock") {
			return "", false, fmt.Errorf("%w: %s", ErrRepositoryLocked, stderr)
		}
		return "", false, commandError(args, code, stderr)
	}

	hashOut, stderr, code, err := c.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", false, err
	}
	if code != 0 {
		return "", false, commandError([]string{"rev-parse", "HEAD"}, code, stderr)
	}
	return hashOut, true, nil
}

// StageAndCommit stages everything and commits. The primary entry point used
// by the workflow controller after each iteration.
func (c *Client) StageAndCommit(ctx context.Context, message string) (hash string, ok bool, err error) {
	if err := c.StageAll(ctx); err != nil {
		return "", false, err
	}
	return c.Commit(ctx, message)
}
