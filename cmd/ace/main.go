// Command ace drives an agent CLI through plan/execute/review iterations
// against a git worktree, committing a checkpoint after every cycle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"ace/pkg/agentcli"
	"ace/pkg/config"
	"ace/pkg/console"
	"ace/pkg/gitops"
	"ace/pkg/logx"
	"ace/pkg/metrics"
	"ace/pkg/persistence"
	"ace/pkg/utils"
	"ace/pkg/version"
	"ace/pkg/workflow"
)

// Interrupt maps to the conventional 128+SIGINT code.
const exitInterrupted = 130

type cliFlags struct {
	goal          string
	resume        bool
	requirement   string
	workDir       string
	model         string
	branchPrefix  string
	maxIterations int
	newBranch     bool
	step          bool
	noStep        bool
	yolo          bool
	noYolo        bool
	metricsAddr   string
	tee           bool
	debug         bool
	showVersion   bool
}

func parseFlags(args []string) (*cliFlags, map[string]bool, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("ace", flag.ContinueOnError)

	fs.StringVar(&f.goal, "i", "", "initialize a new project with this goal")
	fs.StringVar(&f.goal, "init", "", "initialize a new project with this goal")
	fs.BoolVar(&f.resume, "r", false, "resume an existing project")
	fs.BoolVar(&f.resume, "resume", false, "resume an existing project")
	fs.StringVar(&f.requirement, "R", "", "new instructions for a resumed project")
	fs.StringVar(&f.requirement, "requirement", "", "new instructions for a resumed project")
	fs.StringVar(&f.workDir, "d", "", "workspace directory (default: current directory)")
	fs.StringVar(&f.workDir, "usr-cwd", "", "workspace directory (default: current directory)")
	fs.StringVar(&f.model, "m", "", "agent model override")
	fs.StringVar(&f.model, "model", "", "agent model override")
	fs.StringVar(&f.branchPrefix, "branch-prefix", "", "prefix for dedicated task branches")
	fs.IntVar(&f.maxIterations, "max-iterations", 0, "iteration ceiling")
	fs.BoolVar(&f.newBranch, "b", false, "create a dedicated task branch")
	fs.BoolVar(&f.newBranch, "new-branch", false, "create a dedicated task branch")
	fs.BoolVar(&f.step, "s", false, "pause for operator input after each iteration")
	fs.BoolVar(&f.step, "step", false, "pause for operator input after each iteration")
	fs.BoolVar(&f.noStep, "no-step", false, "run all iterations without pausing")
	fs.BoolVar(&f.yolo, "yolo", false, "run the agent without command confirmation")
	fs.BoolVar(&f.noYolo, "no-yolo", false, "require agent command confirmation")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	fs.BoolVar(&f.tee, "tee", false, "mirror the log file to stderr")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&f.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// overlay applies explicitly set flags on top of the file-loaded config.
func overlay(cfg *config.Config, f *cliFlags, set map[string]bool) {
	if set["m"] || set["model"] {
		cfg.Agent.Model = f.model
	}
	if set["branch-prefix"] {
		cfg.Git.BranchPrefix = f.branchPrefix
	}
	if set["max-iterations"] {
		cfg.Loop.MaxIterations = f.maxIterations
	}
	if set["b"] || set["new-branch"] {
		cfg.Loop.NewBranch = f.newBranch
	}
	if set["s"] || set["step"] {
		cfg.Loop.Step = true
	}
	if set["no-step"] {
		cfg.Loop.Step = false
	}
	if set["yolo"] {
		cfg.Loop.AutoApprove = true
	}
	if set["no-yolo"] {
		cfg.Loop.AutoApprove = false
	}
	if set["metrics-addr"] {
		cfg.MetricsAddr = f.metricsAddr
	}
	if set["tee"] {
		cfg.TeeLogs = true
	}
	if set["debug"] {
		cfg.Debug = true
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := console.New()

	f, set, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if f.showVersion {
		fmt.Println(version.String())
		return 0
	}

	var mode workflow.Mode
	switch {
	case f.goal != "" && f.resume:
		ui.Error("-i and -r are mutually exclusive")
		return 2
	case f.goal != "":
		mode = workflow.ModeInit
	case f.resume:
		mode = workflow.ModeResume
	default:
		ui.Error("one of -i <goal> or -r is required")
		return 2
	}
	if f.requirement != "" && mode != workflow.ModeResume {
		ui.Error("-R only applies to resumed projects")
		return 2
	}

	workDir := f.workDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			ui.Error("cannot determine working directory: %v", err)
			return 1
		}
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		ui.Error("bad workspace path: %v", err)
		return 1
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		ui.Error("config: %v", err)
		return 1
	}
	overlay(&cfg, f, set)
	cfg.Agent.RoleDir = config.ResolveRoleDir(cfg.Agent.RoleDir)

	if _, err := exec.LookPath(cfg.Agent.Binary); err != nil {
		ui.Error("agent binary %q not found in PATH", cfg.Agent.Binary)
		return 1
	}

	sink := logx.NewSink()
	sink.SetDebug(cfg.Debug)
	if err := sink.Configure(config.LogDir(workDir), cfg.TeeLogs); err != nil {
		ui.Error("logging: %v", err)
		return 1
	}
	defer func() { _ = sink.Close() }()
	logger := sink.Logger("main")
	logger.Info("%s starting in %s (mode=%s)", version.String(), workDir, mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	piped := !term.IsTerminal(int(os.Stdin.Fd()))
	if piped {
		logger.Info("stdin is not a terminal; running unattended")
	}

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, sink.Logger("metrics"))
	}

	tokens, err := utils.NewTokenCounter()
	if err != nil {
		logger.Warn("token estimates unavailable: %v", err)
	}

	store, err := persistence.Open(config.HistoryDBPath(workDir), sink.Logger("persistence"))
	if err != nil {
		// History is best-effort; the loop runs without it.
		logger.Warn("run history disabled: %v", err)
	} else {
		defer func() { _ = store.Close() }()
	}

	runner := agentcli.NewRunner(agentcli.RunnerConfig{
		Binary:      cfg.Agent.Binary,
		Model:       cfg.Agent.Model,
		FullAuto:    cfg.Loop.AutoApprove,
		TurnTimeout: cfg.Agent.TurnTimeout.Std(),
		Retry: agentcli.RetryPolicy{
			MaxAttempts: cfg.Agent.MaxRetries,
			Delay:       cfg.Agent.RetryDelay.Std(),
		},
	}, sink.Logger("agent"), recorder, tokens)

	git := gitops.NewClient(workDir, cfg.Git.CommandTimeout.Std(), sink.Logger("git"))

	opts := workflow.Options{
		Config:       cfg,
		WorkDir:      workDir,
		Mode:         mode,
		Goal:         f.goal,
		Instructions: f.requirement,
		Piped:        piped,
		Input:        os.Stdin,
		Agent:        runner,
		Git:          git,
		Recorder:     recorder,
		Console:      ui,
		Logger:       sink.Logger("workflow"),
	}
	if store != nil {
		opts.History = store
	}

	result, err := workflow.New(opts).Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			ui.Warn("interrupted")
			logger.Warn("session interrupted: %v", err)
			return exitInterrupted
		}
		ui.Error("%v", err)
		logger.Error("session failed: %v", err)
		return 1
	}

	switch result.Outcome {
	case workflow.OutcomeFinished, workflow.OutcomeUserQuit:
		return 0
	default:
		return 1
	}
}

// startMetricsServer exposes /metrics until the context ends. Serving is
// best-effort; a dead listener never stops the run.
func startMetricsServer(ctx context.Context, addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics on http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
