package engine

import (
	"context"
	"time"

	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

// Environment is the expensive external system some instruction types need.
// Load is called at most once per run, right before the first instruction
// that requires it.
type Environment interface {
	// IsLoaded reports whether Load has already succeeded.
	IsLoaded() bool

	// Load bootstraps the environment at path. overrides replace configuration
	// values found on disk. Loading an already loaded environment is a no-op.
	Load(ctx context.Context, path string, overrides map[string]string) error
}

// Gate decides whether a prepared instruction may run.
type Gate interface {
	// Check returns the reasons the instruction is denied, or none. An error
	// means the decision itself could not be made.
	Check(ctx context.Context, req GateRequest) ([]string, error)
}

// GateRequest describes a prepared instruction to a Gate.
type GateRequest struct {
	Action  string              `json:"action"`
	Options instruction.Options `json:"options"`
	Line    int                 `json:"line"`
	Source  string              `json:"source"`
	Path    string              `json:"path"`
}

// RunInfo describes a run as it starts.
type RunInfo struct {
	ID           string
	Args         instruction.GlobalArgs
	Instructions int
	StartedAt    time.Time
}

// Observer receives run progress. Implementations must not block for long:
// they are called inline between instructions.
type Observer interface {
	RunStarted(ctx context.Context, info RunInfo)
	StepFinished(ctx context.Context, runID string, step Step)
	RunFinished(ctx context.Context, report *Report)
}

// Observers fans out to several observers in order.
func Observers(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) RunStarted(ctx context.Context, info RunInfo) {
	for _, o := range m {
		o.RunStarted(ctx, info)
	}
}

func (m multiObserver) StepFinished(ctx context.Context, runID string, step Step) {
	for _, o := range m {
		o.StepFinished(ctx, runID, step)
	}
}

func (m multiObserver) RunFinished(ctx context.Context, report *Report) {
	for _, o := range m {
		o.RunFinished(ctx, report)
	}
}

type nopObserver struct{}

func (nopObserver) RunStarted(context.Context, RunInfo)        {}
func (nopObserver) StepFinished(context.Context, string, Step) {}
func (nopObserver) RunFinished(context.Context, *Report)       {}
