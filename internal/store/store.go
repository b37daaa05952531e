// Package store keeps the history of analysis runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

// Run states.
const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("store: run not found")

// Run is one recorded invocation of the pipeline. Config and Summary are
// stored as JSON documents.
type Run struct {
	ID         string          `json:"id" yaml:"id"`
	Status     Status          `json:"status" yaml:"status"`
	Config     json.RawMessage `json:"config,omitempty" yaml:"-"`
	Summary    json.RawMessage `json:"summary,omitempty" yaml:"-"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Duration is the wall time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status Status `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 100

// Store persists run history.
type Store interface {
	// CreateRun records a new running run with its configuration.
	CreateRun(ctx context.Context, config any) (*Run, error)
	// CompleteRun marks a run complete and stores its summary.
	CompleteRun(ctx context.Context, runID string, summary any) error
	// FailRun marks a run failed with the cause.
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

func limit(f RunFilter) int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
