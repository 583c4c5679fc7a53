package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

const tracerName = "github.com/wpinstructions/wpinstructions/pkg/engine"

// Engine runs instruction scripts one line at a time.
type Engine struct {
	registry *instruction.Registry
	env      Environment
	gate     Gate
	observer Observer
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnvironment sets the environment loaded on demand by instructions that need it.
func WithEnvironment(env Environment) Option {
	return func(e *Engine) {
		e.env = env
	}
}

// WithGate sets the policy gate consulted before each instruction runs.
func WithGate(gate Gate) Option {
	return func(e *Engine) {
		e.gate = gate
	}
}

// WithObserver adds an observer. Multiple observers are called in the order added.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o == nil {
			return
		}
		if existing, ok := e.observer.(multiObserver); ok {
			e.observer = append(existing, o)
			return
		}
		e.observer = multiObserver{o}
	}
}

// WithTracer sets the tracer used for run and instruction spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine dispatching through reg.
func New(reg *instruction.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		observer: nopObserver{},
		tracer:   otel.Tracer(tracerName),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "engine").Logger()
	return e
}

// Line is a script line that can become an instruction.
type Line struct {
	Number int
	Text   string
}

// Split returns the instruction lines of script. Blank lines and lines whose
// first non-space character is '#' are dropped. Inline comments are not
// recognized.
func Split(script string) []Line {
	var lines []Line
	for i, text := range strings.Split(script, "\n") {
		text = strings.TrimRight(text, "\r")
		trimmed := strings.TrimSpace(text)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, Line{Number: i + 1, Text: text})
	}
	return lines
}

// Build parses every instruction line of script once.
func (e *Engine) Build(script string) []*instruction.Instruction {
	lines := Split(script)
	out := make([]*instruction.Instruction, 0, len(lines))
	for _, l := range lines {
		inst := instruction.New(l.Number, l.Text)
		if p := inst.Parsed(); len(p.Dropped) > 0 {
			e.logger.Debug().
				Int("line", l.Number).
				Strs("dropped", p.Dropped).
				Msg("clauses without a recognized verb were ignored")
		}
		out = append(out, inst)
	}
	return out
}

// Prepare parses and prepares every instruction of script without running
// anything. All unknown actions are reported, joined into one error.
func (e *Engine) Prepare(script string) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
		Steps:     []Step{},
	}

	var errs []error
	for _, inst := range e.Build(script) {
		step := Step{Line: inst.Line(), Source: inst.Source(), Action: inst.Action()}
		if err := inst.Prepare(e.registry); err != nil {
			step.Status = instruction.StatusFailure
			step.Err = NewUnknownTypeError(inst.Action(), err).WithInstruction(inst.Line(), inst.Source())
			errs = append(errs, step.Err)
		} else {
			step.Options = inst.Options()
			step.Status = instruction.StatusSuccess
		}
		report.Steps = append(report.Steps, step)
	}

	err := errors.Join(errs...)
	report.finish(err)
	return report, err
}

// Run executes script against args. It stops at the first failed
// instruction; instructions already run are not undone. The returned error
// is the failing step's error and is also recorded in the report.
func (e *Engine) Run(ctx context.Context, script string, args instruction.GlobalArgs) (*Report, error) {
	insts := e.Build(script)

	report := &Report{
		RunID:     uuid.New().String(),
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
		Steps:     []Step{},
	}

	ctx, span := e.tracer.Start(ctx, "script.run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("run.instructions", len(insts)),
	))
	defer span.End()

	log := e.logger.With().Str("run_id", report.RunID).Logger()
	log.Info().Int("instructions", len(insts)).Str("path", args.Path).Msg("Starting run")

	e.observer.RunStarted(ctx, RunInfo{
		ID:           report.RunID,
		Args:         args,
		Instructions: len(insts),
		StartedAt:    report.StartedAt,
	})

	var runErr error
	for _, inst := range insts {
		step := e.step(ctx, log, inst, args)
		report.Steps = append(report.Steps, step)
		e.observer.StepFinished(ctx, report.RunID, step)

		if step.Status == instruction.StatusFailure {
			runErr = step.Err
			break
		}
	}

	report.finish(runErr)
	span.SetAttributes(attribute.String("run.status", string(report.Status)))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.Error().Err(runErr).Dur("duration", report.Duration()).Msg("Run failed")
	} else {
		span.SetStatus(codes.Ok, "")
		log.Info().Int("instructions", len(report.Steps)).Dur("duration", report.Duration()).Msg("Run succeeded")
	}

	e.observer.RunFinished(ctx, report)
	return report, runErr
}

// step takes one instruction through prepare, gate, environment and run.
// The returned step has a non-nil Err exactly when its status is Failure.
func (e *Engine) step(ctx context.Context, log zerolog.Logger, inst *instruction.Instruction, args instruction.GlobalArgs) Step {
	start := time.Now()
	step := Step{Line: inst.Line(), Source: inst.Source(), Action: inst.Action()}

	ctx, span := e.tracer.Start(ctx, "instruction.run", trace.WithAttributes(
		attribute.Int("instruction.line", inst.Line()),
		attribute.String("instruction.action", inst.Action()),
	))
	defer span.End()

	fail := func(err *EngineError) Step {
		step.Status = instruction.StatusFailure
		step.Err = err.WithInstruction(inst.Line(), inst.Source())
		step.Duration = time.Since(start)
		span.RecordError(step.Err)
		span.SetStatus(codes.Error, err.Message)
		span.SetAttributes(
			attribute.String("error.class", string(err.Class)),
			attribute.String("error.code", err.Code),
		)
		return step
	}

	if err := inst.Prepare(e.registry); err != nil {
		return fail(NewUnknownTypeError(inst.Action(), err))
	}
	step.Options = inst.Options()

	log.Debug().
		Int("line", inst.Line()).
		Str("action", inst.Action()).
		Str("options", step.Options.String()).
		Msg("Prepared instruction")

	if e.gate != nil {
		reasons, err := e.gate.Check(ctx, GateRequest{
			Action:  inst.Action(),
			Options: inst.Options(),
			Line:    inst.Line(),
			Source:  inst.Source(),
			Path:    args.Path,
		})
		if err != nil {
			inst.MarkFailed()
			return fail(NewPolicyError("policy evaluation failed", err).WithCode(ErrCodePolicyEvalFailed))
		}
		if len(reasons) > 0 {
			inst.MarkFailed()
			return fail(NewPolicyError(strings.Join(reasons, "; "), nil).WithDetail("reasons", reasons))
		}
	}

	if inst.Type().RequiresEnvironment() {
		if err := e.ensureEnvironment(ctx, log, args); err != nil {
			inst.MarkFailed()
			return fail(err)
		}
	}

	status, err := inst.Run(ctx, args)
	step.Status = status
	step.Duration = time.Since(start)
	span.SetAttributes(attribute.String("instruction.status", status.String()))

	switch status {
	case instruction.StatusSuccess:
		log.Info().Int("line", inst.Line()).Str("action", inst.Action()).Dur("duration", step.Duration).Msg("Instruction succeeded")
	case instruction.StatusSkipped:
		log.Warn().Int("line", inst.Line()).Str("source", inst.Source()).Msg("Instruction skipped")
	default:
		if err == nil {
			err = errors.New("instruction reported failure")
		}
		return fail(NewExecutionError(fmt.Sprintf("%s failed", inst.Action()), err))
	}

	span.SetStatus(codes.Ok, "")
	return step
}

func (e *Engine) ensureEnvironment(ctx context.Context, log zerolog.Logger, args instruction.GlobalArgs) *EngineError {
	if e.env == nil {
		return NewEnvironmentError("instruction requires an environment but none is configured", nil).WithCode(ErrCodeEnvMissing)
	}
	if e.env.IsLoaded() {
		return nil
	}

	log.Info().Str("path", args.Path).Msg("Loading environment")
	if err := e.env.Load(ctx, args.Path, args.EnvironmentOverrides()); err != nil {
		return NewEnvironmentError("environment could not be loaded", err)
	}
	return nil
}
