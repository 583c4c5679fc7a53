package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of a recorded script run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ResultStatus represents the outcome of a single recorded instruction
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusFailure ResultStatus = "failure"
	ResultStatusSkipped ResultStatus = "skipped"
)

// Run represents one execution of an instruction script
type Run struct {
	ID           string     `json:"id"`
	ScriptPath   string     `json:"script_path"`
	WPPath       string     `json:"wp_path"`
	Status       RunStatus  `json:"status"`
	Instructions int        `json:"instructions"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Duration returns the wall time of a finished run, or zero.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// InstructionResult is the recorded outcome of one script line
type InstructionResult struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	Line      int           `json:"line"`
	Source    string        `json:"source"`
	Action    string        `json:"action"`
	Options   string        `json:"options"` // JSON object
	Status    ResultStatus  `json:"status"`
	Error     *string       `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store defines the interface for the run history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, completedAt time.Time, errMsg *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Instruction result operations
	AddResult(ctx context.Context, result *InstructionResult) error
	ListResults(ctx context.Context, runID string) ([]*InstructionResult, error)
}
