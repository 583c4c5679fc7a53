package stores

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/wpinstructions/wpinstructions/pkg/engine"
	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

// Recorder writes run history to a Store as the engine reports progress.
// History is best effort: store errors are logged and never fail a run.
type Recorder struct {
	store      Store
	scriptPath string
	logger     zerolog.Logger
}

// NewRecorder creates a Recorder that attributes runs to scriptPath.
func NewRecorder(store Store, scriptPath string, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:      store,
		scriptPath: scriptPath,
		logger:     logger.With().Str("component", "history").Logger(),
	}
}

// RunStarted implements engine.Observer.
func (r *Recorder) RunStarted(ctx context.Context, info engine.RunInfo) {
	run := &Run{
		ID:           info.ID,
		ScriptPath:   r.scriptPath,
		WPPath:       info.Args.Path,
		Status:       RunStatusRunning,
		Instructions: info.Instructions,
		StartedAt:    info.StartedAt,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		r.logger.Warn().Err(err).Str("run_id", info.ID).Msg("Failed to record run start")
	}
}

// StepFinished implements engine.Observer.
func (r *Recorder) StepFinished(ctx context.Context, runID string, step engine.Step) {
	options := "{}"
	if len(step.Options) > 0 {
		data, err := json.Marshal(step.Options)
		if err != nil {
			r.logger.Warn().Err(err).Int("line", step.Line).Msg("Failed to encode instruction options")
		} else {
			options = string(data)
		}
	}

	result := &InstructionResult{
		RunID:    runID,
		Line:     step.Line,
		Source:   step.Source,
		Action:   step.Action,
		Options:  options,
		Status:   resultStatus(step.Status),
		Error:    optional(step.Error()),
		Duration: step.Duration,
	}
	if err := r.store.AddResult(ctx, result); err != nil {
		r.logger.Warn().Err(err).Str("run_id", runID).Int("line", step.Line).Msg("Failed to record instruction result")
	}
}

// RunFinished implements engine.Observer.
func (r *Recorder) RunFinished(ctx context.Context, report *engine.Report) {
	status := RunStatusSucceeded
	if !report.Success {
		status = RunStatusFailed
	}

	var errMsg *string
	if report.Err != nil {
		errMsg = optional(report.Err.Error())
	}

	if err := r.store.FinishRun(ctx, report.RunID, status, report.CompletedAt, errMsg); err != nil {
		r.logger.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to record run result")
	}
}

func resultStatus(s instruction.Status) ResultStatus {
	switch s {
	case instruction.StatusSuccess:
		return ResultStatusSuccess
	case instruction.StatusSkipped:
		return ResultStatusSkipped
	default:
		return ResultStatusFailure
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
