// Package workflow drives the plan/execute/review iteration loop: it runs
// the role turns through the agent CLI, enforces each role's artifact
// postcondition, reads the reviewer's verdict, checkpoints the worktree, and
// decides when the session ends.
package workflow

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"ace/pkg/agentcli"
	"ace/pkg/config"
	"ace/pkg/console"
	"ace/pkg/contextdir"
	"ace/pkg/logx"
	"ace/pkg/metrics"
	"ace/pkg/persistence"
	"ace/pkg/roles"
	"ace/pkg/utils"
)

// Mode selects how the session's first review turn is framed.
type Mode string

const (
	// ModeInit bootstraps a fresh project from a goal statement.
	ModeInit Mode = "init"
	// ModeResume continues an existing project, optionally with new
	// operator instructions.
	ModeResume Mode = "resume"
)

// Invoker runs one agent turn. *agentcli.Runner is the production
// implementation.
type Invoker interface {
	Invoke(ctx context.Context, opts agentcli.TurnOptions) (*agentcli.TurnResult, error)
}

// Checkpointer is the git layer the loop commits through. *gitops.Client is
// the production implementation.
type Checkpointer interface {
	EnsureRepo(ctx context.Context) error
	CurrentBranch(ctx context.Context) (string, error)
	CreateBranch(ctx context.Context, desired, base string) (string, error)
	StageAndCommit(ctx context.Context, message string) (hash string, ok bool, err error)
}

// History records runs and iterations. *persistence.Store is the production
// implementation; a nil History disables recording.
type History interface {
	BeginRun(mode, branch, goal string) (string, error)
	RecordIteration(it *persistence.Iteration) error
	FinishRun(runID, outcome string) error
}

// Outcome is how a session ended.
type Outcome int

const (
	// OutcomeFinished means the reviewer declared all tasks done.
	OutcomeFinished Outcome = iota
	// OutcomeAborted means the reviewer declared the work unrecoverable.
	OutcomeAborted
	// OutcomeMaxIterations means the iteration ceiling was reached.
	OutcomeMaxIterations
	// OutcomeUserQuit means the operator quit at a step pause.
	OutcomeUserQuit
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinished:
		return "finished"
	case OutcomeAborted:
		return "aborted"
	case OutcomeMaxIterations:
		return "max_iterations"
	case OutcomeUserQuit:
		return "user_quit"
	default:
		return "unknown"
	}
}

// Result summarizes a completed session.
type Result struct {
	Outcome    Outcome
	Iterations int
	Branch     string
	RunID      string
	Elapsed    time.Duration
}

// Options configures a Controller.
type Options struct {
	Config  config.Config
	WorkDir string

	// Mode and its parameter: Goal for init, Instructions for resume.
	Mode         Mode
	Goal         string
	Instructions string

	// Piped marks non-terminal stdin; it forces stdin transport for task
	// text and disables step pauses.
	Piped bool

	// Input is where step-pause responses are read from. Defaults to a
	// reader that always continues.
	Input io.Reader

	Agent    Invoker
	Git      Checkpointer
	History  History
	Recorder *metrics.Recorder
	Console  *console.Console
	Logger   *logx.Logger
}

// Controller runs the iteration loop.
type Controller struct {
	opts  Options
	cdir  *contextdir.Dir
	input *bufio.Reader

	stepEnabled bool
}

// New creates a controller. Agent, Git, Console, and Logger are required.
func New(opts Options) *Controller {
	input := opts.Input
	if input == nil {
		input = strings.NewReader("")
	}
	return &Controller{
		opts:        opts,
		cdir:        contextdir.New(opts.WorkDir),
		input:       bufio.NewReader(input),
		stepEnabled: opts.Config.Loop.Step && !opts.Piped,
	}
}

// Run executes the whole session. A context cancellation surfaces as
// ctx.Err(); every other error is fatal to the run.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	ui := c.opts.Console
	logger := c.opts.Logger

	if err := c.cdir.Ensure(); err != nil {
		return nil, err
	}
	if err := c.opts.Git.EnsureRepo(ctx); err != nil {
		return nil, err
	}

	ui.Banner(fmt.Sprintf("ACE session (%s)", c.opts.Mode))

	// The session opens with a review turn that establishes (or
	// re-establishes) the current task.
	taskID, signal, err := c.openingReview(ctx)
	if err != nil {
		return nil, err
	}

	branch, err := c.opts.Git.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if signal == SignalContinue && c.opts.Config.Loop.NewBranch {
		desired := c.opts.Config.Git.BranchPrefix + "/" + branchSlug(taskID)
		branch, err = c.opts.Git.CreateBranch(ctx, desired, "")
		if err != nil {
			return nil, err
		}
		ui.Info("working on branch %s", branch)
	}

	runID := c.beginHistory(branch)

	result := &Result{Branch: branch, RunID: runID}
	switch signal {
	case SignalFinish:
		result.Outcome = OutcomeFinished
	case SignalAbort:
		result.Outcome = OutcomeAborted
	case SignalContinue:
		if err := c.iterate(ctx, taskID, result); err != nil {
			if ctx.Err() != nil {
				c.finishHistory(runID, persistence.OutcomeInterrupted)
			} else {
				c.finishHistory(runID, persistence.OutcomeError)
			}
			return nil, err
		}
	}

	result.Elapsed = time.Since(start)
	c.finishHistory(runID, historyOutcome(result.Outcome))
	c.report(result)
	logger.Info("session over: %s after %d iterations in %s",
		result.Outcome, result.Iterations, utils.FormatDuration(result.Elapsed))
	return result, nil
}

// openingReview runs the session's first review turn and reads the task
// verdict it produced.
func (c *Controller) openingReview(ctx context.Context) (string, Signal, error) {
	var prompt string
	switch c.opts.Mode {
	case ModeInit:
		prompt = roles.BootstrapPrompt(c.opts.Goal)
	default:
		prompt = roles.ResumePrompt(c.opts.Instructions)
	}

	if _, err := c.runTurn(ctx, roles.RoleReviewer, prompt); err != nil {
		return "", 0, err
	}

	status, err := c.cdir.ReadTaskID()
	if err != nil {
		return "", 0, err
	}
	if status == "" {
		return "", 0, fmt.Errorf("reviewer did not produce %s", c.cdir.TaskIDPath())
	}

	signal, taskID := Classify(status)
	return taskID, signal, nil
}

// iterate runs plan/execute/review cycles until a stop signal, operator
// quit, or the iteration ceiling.
func (c *Controller) iterate(ctx context.Context, taskID string, result *Result) error {
	ui := c.opts.Console
	maxIter := c.opts.Config.Loop.MaxIterations

	for iter := 1; iter <= maxIter; iter++ {
		iterStart := time.Now()
		ui.Rule()
		ui.Step("iteration %d/%d: task %s", iter, maxIter, taskID)

		planner, err := c.runTaskTurn(ctx, roles.RolePlanner, taskID)
		if err != nil {
			return err
		}
		executor, err := c.runTaskTurn(ctx, roles.RoleExecutor, taskID)
		if err != nil {
			return err
		}
		reviewer, err := c.reviewTurn(ctx, taskID)
		if err != nil {
			return err
		}

		status, err := c.cdir.ReadTaskID()
		if err != nil {
			return err
		}
		if status == "" {
			return fmt.Errorf("reviewer left %s empty", c.cdir.TaskIDPath())
		}
		signal, nextTask := Classify(status)
		if signal == SignalContinue && nextTask == taskID {
			ui.Warn("task %s was not advanced; the reviewer re-issued it", taskID)
			c.opts.Logger.Warn("iteration %d: task id unchanged (%s)", iter, taskID)
		}

		result.Iterations = iter

		// The operator gets the pause before the checkpoint so a quit
		// leaves the worktree exactly as the agents left it.
		quit, err := c.stepPause()
		if err != nil {
			return err
		}
		if quit {
			c.observeIteration("user_quit")
			result.Outcome = OutcomeUserQuit
			return nil
		}

		hash, err := c.checkpoint(ctx, iter, taskID, planner.ThreadID, executor.ThreadID)
		if err != nil {
			return err
		}

		c.recordIteration(&persistence.Iteration{
			RunID:           result.RunID,
			Seq:             iter,
			TaskID:          taskID,
			PlannerSession:  planner.ThreadID,
			ExecutorSession: executor.ThreadID,
			ReviewerSession: reviewer.ThreadID,
			CommitHash:      hash,
			Outcome:         signal.String(),
			Duration:        time.Since(iterStart),
		})
		c.observeIteration(signal.String())
		ui.Info("iteration %d done in %s", iter, utils.FormatDuration(time.Since(iterStart)))

		switch signal {
		case SignalFinish:
			result.Outcome = OutcomeFinished
			return nil
		case SignalAbort:
			result.Outcome = OutcomeAborted
			return nil
		}
		taskID = nextTask
	}

	c.opts.Console.Warn("iteration ceiling (%d) reached", maxIter)
	result.Outcome = OutcomeMaxIterations
	return nil
}

// runTaskTurn runs a role turn whose prompt and artifact derive from the
// task id, and enforces the artifact postcondition.
func (c *Controller) runTaskTurn(ctx context.Context, role roles.Role, taskID string) (*agentcli.TurnResult, error) {
	result, err := c.runTurn(ctx, role, role.Prompt(c.cdir, taskID))
	if err != nil {
		return nil, err
	}

	if artifact := role.RequiredArtifact(c.cdir, taskID); artifact != "" {
		if !contextdir.HasArtifact(artifact) {
			return nil, fmt.Errorf("%s turn completed without producing %s", role, artifact)
		}
	}
	return result, nil
}

// reviewTurn runs the per-iteration review, folding in any pending operator
// feedback. The feedback file is consumed exactly once.
func (c *Controller) reviewTurn(ctx context.Context, taskID string) (*agentcli.TurnResult, error) {
	prompt := roles.RoleReviewer.Prompt(c.cdir, taskID)

	feedback, err := c.cdir.ConsumeFeedback()
	if err != nil {
		return nil, err
	}
	if feedback != "" {
		c.opts.Console.Info("delivering operator feedback to the reviewer")
		prompt = roles.AppendFeedback(prompt, feedback)
	}

	return c.runTurn(ctx, roles.RoleReviewer, prompt)
}

// runTurn installs the role definition and invokes the agent. Every turn is
// a fresh conversation; session handles are recorded, not resumed.
func (c *Controller) runTurn(ctx context.Context, role roles.Role, prompt string) (*agentcli.TurnResult, error) {
	if err := roles.Install(c.opts.Config.Agent.RoleDir, role, c.opts.WorkDir); err != nil {
		return nil, err
	}

	c.opts.Console.Phase("turn", string(role))
	result, err := c.opts.Agent.Invoke(ctx, agentcli.TurnOptions{
		Role:    string(role),
		WorkDir: c.opts.WorkDir,
		Task:    prompt,
		Piped:   c.opts.Piped,
	})
	if err != nil {
		return nil, err
	}

	if result.ThreadID == "" {
		c.opts.Logger.Warn("no session handle captured from %s turn", role)
	}
	c.opts.Console.Info("%s done in %s", role, utils.FormatDuration(result.Duration))
	if msg := strings.TrimSpace(result.Message); msg != "" {
		c.opts.Logger.Debug("%s says: %s", role, msg)
	}
	return result, nil
}

// stepPause waits for the operator between iterations. Empty input
// continues, "q" quits, and anything else is queued as feedback for the
// next review turn.
func (c *Controller) stepPause() (bool, error) {
	if !c.stepEnabled {
		return false, nil
	}

	ui := c.opts.Console
	ui.Hint("press Enter to continue, 'q' to quit, or type feedback for the reviewer")

	line, err := c.input.ReadString('\n')
	if err == io.EOF && line == "" {
		// A closed input stream means nobody is attending; quit like 'q'.
		ui.Info("input closed; quitting")
		return true, nil
	}
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read step input: %w", err)
	}

	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case strings.EqualFold(line, "q"):
		ui.Info("quitting at operator request")
		return true, nil
	default:
		if err := c.cdir.WriteFeedback(line); err != nil {
			return false, err
		}
		ui.Info("feedback queued for the next review")
		return false, nil
	}
}

// checkpoint stages and commits the worktree. The session handles go into
// the commit body so a checkpoint can be traced back to its agent sessions.
// A clean tree is a normal outcome, not an error.
func (c *Controller) checkpoint(ctx context.Context, iter int, taskID, plannerSID, executorSID string) (string, error) {
	message := fmt.Sprintf(
		"ACE checkpoint: iteration %d (%s)\n\nplanner_session: %s\nexecutor_session: %s",
		iter, taskID, orNone(plannerSID), orNone(executorSID))
	hash, ok, err := c.opts.Git.StageAndCommit(ctx, message)
	if err != nil {
		c.observeCheckpoint("error")
		return "", fmt.Errorf("checkpoint failed: %w", err)
	}
	if !ok {
		c.observeCheckpoint("empty")
		c.opts.Logger.Info("iteration %d: nothing to commit", iter)
		return "", nil
	}
	c.observeCheckpoint("committed")
	c.opts.Console.Success("checkpoint %s", shortHash(hash))
	return hash, nil
}

func (c *Controller) report(result *Result) {
	ui := c.opts.Console
	ui.Rule()
	switch result.Outcome {
	case OutcomeFinished:
		ui.Done()
	case OutcomeAborted:
		ui.Aborted()
	case OutcomeMaxIterations:
		ui.Warn("stopped at the iteration ceiling")
	case OutcomeUserQuit:
		ui.Info("stopped by operator")
	}
	ui.Info("%d iteration(s) in %s on branch %s",
		result.Iterations, utils.FormatDuration(result.Elapsed), result.Branch)
}

func (c *Controller) beginHistory(branch string) string {
	if c.opts.History == nil {
		return ""
	}
	runID, err := c.opts.History.BeginRun(string(c.opts.Mode), branch, c.opts.Goal)
	if err != nil {
		c.opts.Logger.Warn("run history unavailable: %v", err)
		return ""
	}
	return runID
}

func (c *Controller) finishHistory(runID, outcome string) {
	if c.opts.History == nil || runID == "" {
		return
	}
	if err := c.opts.History.FinishRun(runID, outcome); err != nil {
		c.opts.Logger.Warn("failed to record run outcome: %v", err)
	}
}

func (c *Controller) recordIteration(it *persistence.Iteration) {
	if c.opts.History == nil || it.RunID == "" {
		return
	}
	if err := c.opts.History.RecordIteration(it); err != nil {
		c.opts.Logger.Warn("failed to record iteration %d: %v", it.Seq, err)
	}
}

func (c *Controller) observeIteration(outcome string) {
	if c.opts.Recorder != nil {
		c.opts.Recorder.ObserveIteration(outcome)
	}
}

func (c *Controller) observeCheckpoint(result string) {
	if c.opts.Recorder != nil {
		c.opts.Recorder.ObserveCheckpoint(result)
	}
}

func historyOutcome(o Outcome) string {
	switch o {
	case OutcomeFinished:
		return persistence.OutcomeFinished
	case OutcomeAborted:
		return persistence.OutcomeAborted
	case OutcomeMaxIterations:
		return persistence.OutcomeMaxIterations
	case OutcomeUserQuit:
		return persistence.OutcomeUserQuit
	default:
		return persistence.OutcomeError
	}
}

// branchSlug makes a task id safe for use in a branch name.
func branchSlug(taskID string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, strings.TrimSpace(taskID))
	slug = strings.Trim(slug, "-.")
	if slug == "" {
		return "session"
	}
	return slug
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
