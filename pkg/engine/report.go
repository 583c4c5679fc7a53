package engine

import (
	"time"

	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

// RunStatus is the state of a run as reported to observers and the history.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed" // stopped at a failed or rejected instruction
)

// Step is the outcome of one instruction.
type Step struct {
	Line     int                 `json:"line"`
	Source   string              `json:"source"`
	Action   string              `json:"action"`
	Options  instruction.Options `json:"options,omitempty"`
	Status   instruction.Status  `json:"status"`
	Err      error               `json:"-"`
	Duration time.Duration       `json:"duration"`
}

// Error returns the step error message, or an empty string.
func (s Step) Error() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Report is the outcome of a run.
type Report struct {
	RunID       string    `json:"run_id"`
	Status      RunStatus `json:"status"`
	Success     bool      `json:"success"`
	Steps       []Step    `json:"steps"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Err         error     `json:"-"`
}

// Counts returns how many steps succeeded, were skipped and failed.
func (r *Report) Counts() (succeeded, skipped, failed int) {
	for _, s := range r.Steps {
		switch s.Status {
		case instruction.StatusSuccess:
			succeeded++
		case instruction.StatusSkipped:
			skipped++
		default:
			failed++
		}
	}
	return succeeded, skipped, failed
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

func (r *Report) finish(err error) {
	r.CompletedAt = time.Now()
	r.Err = err
	r.Success = err == nil
	r.Status = RunStatusFailed
	if r.Success {
		r.Status = RunStatusSucceeded
	}
}
