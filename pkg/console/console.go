// Package console provides colored progress output for the orchestrator CLI.
// It renders the human-facing run narration (banners, phase separators,
// status lines); structured logging is pkg/logx's job.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ANSI escape sequences.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	red    = "\033[91m"
	green  = "\033[92m"
	yellow = "\033[93m"
	blue   = "\033[94m"
	cyan   = "\033[96m"
	gray   = "\033[90m"
)

// Console writes colored status lines to a single output stream.
type Console struct {
	out   io.Writer
	color bool
}

// New returns a console writing to stdout, with color enabled only when
// stdout is a terminal.
func New() *Console {
	return &Console{
		out:   os.Stdout,
		color: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// NewWithWriter returns a console writing to w. Color is disabled; intended
// for tests and non-terminal output.
func NewWithWriter(w io.Writer) *Console {
	return &Console{out: w}
}

func (c *Console) paint(code, s string) string {
	if !c.color {
		return s
	}
	return code + s + reset
}

func (c *Console) line(prefix, code, msg string) {
	fmt.Fprintf(c.out, "%s %s\n", c.paint(code, prefix), msg)
}

func (c *Console) Info(format string, args ...any) {
	c.line("[INFO]", blue, fmt.Sprintf(format, args...))
}

func (c *Console) Step(format string, args ...any) {
	c.line("[STEP]", cyan+bold, fmt.Sprintf(format, args...))
}

func (c *Console) Success(format string, args ...any) {
	c.line("[OK]", green+bold, fmt.Sprintf(format, args...))
}

func (c *Console) Warn(format string, args ...any) {
	c.line("[WARN]", yellow, fmt.Sprintf(format, args...))
}

func (c *Console) Error(format string, args ...any) {
	c.line("[ERROR]", red+bold, fmt.Sprintf(format, args...))
}

// Banner prints a prominent section header.
func (c *Console) Banner(title string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(c.out, "\n%s\n", c.paint(cyan, rule))
	fmt.Fprintf(c.out, "%s\n", c.paint(cyan+bold, "  "+title))
	fmt.Fprintf(c.out, "%s\n\n", c.paint(cyan, rule))
}

// Phase prints a role-turn separator.
func (c *Console) Phase(name, role string) {
	rule := strings.Repeat("─", 50)
	fmt.Fprintf(c.out, "\n%s\n", c.paint(yellow, rule))
	fmt.Fprintf(c.out, "%s %s\n", c.paint(yellow+bold, "▶ "+name), c.paint(gray, "[role: "+role+"]"))
	fmt.Fprintf(c.out, "%s\n\n", c.paint(yellow, rule))
}

// Done prints the successful-completion trailer.
func (c *Console) Done() {
	rule := strings.Repeat("═", 60)
	fmt.Fprintf(c.out, "\n%s\n", c.paint(green, rule))
	fmt.Fprintf(c.out, "%s\n", c.paint(green+bold, "  ✓ ALL TASKS COMPLETED - PROJECT RELEASED"))
	fmt.Fprintf(c.out, "%s\n\n", c.paint(green, rule))
}

// Aborted prints the reviewer-abort trailer.
func (c *Console) Aborted() {
	rule := strings.Repeat("═", 60)
	fmt.Fprintf(c.out, "\n%s\n", c.paint(red, rule))
	fmt.Fprintf(c.out, "%s\n", c.paint(red+bold, "  ✗ PROJECT ABORTED - TERMINATED BY REVIEWER"))
	fmt.Fprintf(c.out, "%s\n\n", c.paint(red, rule))
}

// Rule prints a thin divider used around the iteration timing summary.
func (c *Console) Rule() {
	c.Info("%s", strings.Repeat("─", 40))
}

// PromptPrefix returns the step-pause input prompt, colored when possible.
func (c *Console) PromptPrefix() string {
	return c.paint(yellow, "> ")
}

// Hint prints a dim auxiliary line, such as step-pause instructions.
func (c *Console) Hint(format string, args ...any) {
	fmt.Fprintf(c.out, "%s\n", c.paint(cyan, fmt.Sprintf(format, args...)))
}
