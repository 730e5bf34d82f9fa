// Package config provides configuration loading and defaults for the
// orchestrator. Settings live in an optional `.ace/ace.yaml` inside the
// workspace; command-line flags are merged on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Well-known names under the workspace directory.
const (
	StateDir       = ".ace"
	ConfigFilename = "ace.yaml"
	HistoryDBName  = "history.db"
	LogDirName     = "logs"
)

// Config holds every tunable of an orchestrator run.
type Config struct {
	// Agent is the external agent CLI configuration.
	Agent AgentConfig `yaml:"agent"`

	// Git configures the checkpoint layer.
	Git GitConfig `yaml:"git"`

	// Loop configures the workflow controller.
	Loop LoopConfig `yaml:"loop"`

	// MetricsAddr, when non-empty, enables the Prometheus endpoint
	// (e.g. "127.0.0.1:9464").
	MetricsAddr string `yaml:"metrics_addr"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`

	// TeeLogs mirrors the log file to stderr.
	TeeLogs bool `yaml:"tee_logs"`
}

// AgentConfig describes how to invoke the external agent process.
type AgentConfig struct {
	// Binary is the agent CLI executable name or path.
	Binary string `yaml:"binary"`

	// Model is passed to the agent CLI when non-empty.
	Model string `yaml:"model"`

	// RoleDir holds the per-role definition files (<role>.md).
	RoleDir string `yaml:"role_dir"`

	// TurnTimeout bounds a single role turn.
	TurnTimeout Duration `yaml:"turn_timeout"`

	// MaxRetries is the per-turn transient-failure retry budget.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the fixed sleep between attempts.
	RetryDelay Duration `yaml:"retry_delay"`
}

// GitConfig describes the checkpoint layer.
type GitConfig struct {
	// CommandTimeout bounds every git subcommand.
	CommandTimeout Duration `yaml:"command_timeout"`

	// BranchPrefix prefixes dedicated task branches.
	BranchPrefix string `yaml:"branch_prefix"`
}

// LoopConfig describes the workflow controller.
type LoopConfig struct {
	// MaxIterations is the iteration ceiling before giving up.
	MaxIterations int `yaml:"max_iterations"`

	// Step pauses for operator feedback after each iteration.
	Step bool `yaml:"step"`

	// AutoApprove runs the agent with command confirmation disabled.
	AutoApprove bool `yaml:"auto_approve"`

	// NewBranch creates a dedicated task branch during init.
	NewBranch bool `yaml:"new_branch"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Binary:      "codex",
			RoleDir:     "role",
			TurnTimeout: Duration(30 * time.Minute),
			MaxRetries:  3,
			RetryDelay:  Duration(5 * time.Second),
		},
		Git: GitConfig{
			CommandTimeout: Duration(60 * time.Second),
			BranchPrefix:   "task",
		},
		Loop: LoopConfig{
			MaxIterations: 50,
			Step:          true,
			AutoApprove:   true,
		},
	}
}

// Load returns the defaults overlaid with `.ace/ace.yaml` from workDir when
// that file exists. A missing file is not an error; a malformed one is.
func Load(workDir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(workDir, StateDir, ConfigFilename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary must not be empty")
	}
	if c.Agent.TurnTimeout <= 0 {
		return fmt.Errorf("agent.turn_timeout must be positive")
	}
	if c.Agent.MaxRetries < 1 {
		return fmt.Errorf("agent.max_retries must be at least 1")
	}
	if c.Agent.RetryDelay < 0 {
		return fmt.Errorf("agent.retry_delay must not be negative")
	}
	if c.Git.CommandTimeout <= 0 {
		return fmt.Errorf("git.command_timeout must be positive")
	}
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be at least 1")
	}
	return nil
}

// ResolveRoleDir makes a relative role directory absolute against the
// orchestrator's own install directory, so a run pointed at a workspace
// elsewhere still finds the role definitions. Absolute paths pass through.
func ResolveRoleDir(dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return dir
	}
	return filepath.Join(filepath.Dir(exe), dir)
}

// LogDir returns the log directory for a workspace.
func LogDir(workDir string) string {
	return filepath.Join(workDir, StateDir, LogDirName)
}

// HistoryDBPath returns the run-history database path for a workspace.
func HistoryDBPath(workDir string) string {
	return filepath.Join(workDir, StateDir, HistoryDBName)
}
