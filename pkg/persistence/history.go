package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run outcomes.
const (
	OutcomeRunning       = "running"
	OutcomeFinished      = "finished"
	OutcomeAborted       = "aborted"
	OutcomeMaxIterations = "max_iterations"
	OutcomeUserQuit      = "user_quit"
	OutcomeInterrupted   = "interrupted"
	OutcomeError         = "error"
)

// Run is one orchestrator session.
type Run struct {
	ID         string
	Mode       string // "init" or "resume"
	Branch     string
	Goal       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    string
	Iterations int
}

// Iteration is one plan/execute/review cycle within a run.
type Iteration struct {
	RunID           string
	Seq             int
	TaskID          string
	PlannerSession  string
	ExecutorSession string
	ReviewerSession string
	CommitHash      string
	Outcome         string
	Duration        time.Duration
	RecordedAt      time.Time
}

// BeginRun records the start of a session and returns its id.
func (s *Store) BeginRun(mode, branch, goal string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, mode, branch, goal, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, mode, branch, goal, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	s.logger.Debug("run %s started (mode=%s branch=%s)", id, mode, branch)
	return id, nil
}

// RecordIteration appends one completed iteration to a run.
func (s *Store) RecordIteration(it *Iteration) error {
	_, err := s.db.Exec(
		`INSERT INTO iterations
		   (run_id, seq, task_id, planner_session, executor_session, reviewer_session,
		    commit_hash, outcome, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.RunID, it.Seq, it.TaskID,
		it.PlannerSession, it.ExecutorSession, it.ReviewerSession,
		it.CommitHash, it.Outcome, it.Duration.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record iteration %d: %w", it.Seq, err)
	}
	_, err = s.db.Exec(`UPDATE runs SET iterations = ? WHERE id = ?`, it.Seq, it.RunID)
	if err != nil {
		return fmt.Errorf("failed to update run iteration count: %w", err)
	}
	return nil
}

// FinishRun records a run's final outcome.
func (s *Store) FinishRun(runID, outcome string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET outcome = ?, finished_at = ? WHERE id = ?`,
		outcome, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run outcome: %w", err)
	}
	s.logger.Debug("run %s finished: %s", runID, outcome)
	return nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, mode, branch, goal, started_at, finished_at, outcome, iterations
		   FROM runs WHERE id = ?`, runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	return run, nil
}

// RecentRuns returns the most recently started runs, newest first.
func (s *Store) RecentRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, mode, branch, goal, started_at, finished_at, outcome, iterations
		   FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// RunIterations returns a run's iterations in order.
func (s *Store) RunIterations(runID string) ([]*Iteration, error) {
	rows, err := s.db.Query(
		`SELECT run_id, seq, task_id, planner_session, executor_session, reviewer_session,
		        commit_hash, outcome, duration_ms, recorded_at
		   FROM iterations WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var iterations []*Iteration
	for rows.Next() {
		var it Iteration
		var durationMS int64
		err := rows.Scan(
			&it.RunID, &it.Seq, &it.TaskID,
			&it.PlannerSession, &it.ExecutorSession, &it.ReviewerSession,
			&it.CommitHash, &it.Outcome, &durationMS, &it.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		it.Duration = time.Duration(durationMS) * time.Millisecond
		iterations = append(iterations, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate iterations: %w", err)
	}
	return iterations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var finished sql.NullTime
	err := row.Scan(
		&run.ID, &run.Mode, &run.Branch, &run.Goal,
		&run.StartedAt, &finished, &run.Outcome, &run.Iterations,
	)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
