// Package logx provides structured logging for the orchestrator.
//
// Unlike a process-wide logger, all logging goes through an explicit Sink
// that is constructed once and injected into every component that logs.
// The Sink can optionally be bound to a log file under the workspace; the
// binding happens at most once and later Configure calls are no-ops.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level identifies the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

// Sink is the shared destination for all loggers of one orchestrator run.
type Sink struct {
	mu         sync.Mutex
	out        io.Writer
	file       *os.File
	configured bool
	debug      bool
}

// NewSink returns a sink writing to stderr only.
func NewSink() *Sink {
	return &Sink{out: os.Stderr}
}

// SetDebug toggles emission of debug-level lines.
func (s *Sink) SetDebug(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = enabled
}

// Configure binds the sink to a log file under dir. With tee, lines go to
// both the file and stderr; otherwise the file becomes the sole destination.
// Configure is effective exactly once per sink; every later call is a no-op
// so components cannot re-point a live run's logs.
func (s *Sink) Configure(dir string, tee bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configured {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("ace-%s.log", time.Now().UTC().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	s.file = file
	if tee {
		s.out = io.MultiWriter(os.Stderr, file)
	} else {
		s.out = file
	}
	s.configured = true
	return nil
}

// Configured reports whether the sink has been bound to a file.
func (s *Sink) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// Close releases the log file if one was opened.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.out = os.Stderr
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

func (s *Sink) write(component string, level Level, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if level == LevelDebug && !s.debug {
		return
	}

	timestamp := time.Now().UTC().Format(timestampFormat)
	message := fmt.Sprintf(format, args...)
	fmt.Fprintf(s.out, "[%s] [%s] %s: %s\n", timestamp, component, level, message)
}

// Logger is a component-scoped view of a Sink.
type Logger struct {
	component string
	sink      *Sink
}

// Logger returns a logger that stamps every line with the component name.
func (s *Sink) Logger(component string) *Logger {
	return &Logger{component: component, sink: s}
}

// NewLogger returns a logger over a fresh stderr-only sink. Intended for
// tests and tools that do not carry a shared sink.
func NewLogger(component string) *Logger {
	return NewSink().Logger(component)
}

func (l *Logger) Debug(format string, args ...any) {
	l.sink.write(l.component, LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.sink.write(l.component, LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.sink.write(l.component, LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.sink.write(l.component, LevelError, format, args...)
}

// Errorf logs and returns the formatted error.
// Use this when you need both logging and error returning:
//
//	err := logx.Errorf(logger, "setup failed: %w", err)
func (l *Logger) Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	l.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns the wrapped error.
func (l *Logger) Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	l.Error("%s", wrapped.Error())
	return wrapped
}

// WithComponent returns a logger on the same sink under a different name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, sink: l.sink}
}
