package instruction

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownType is returned when an action has no registered type.
var ErrUnknownType = errors.New("unknown instruction type")

// ErrLifecycle is returned when an instruction is prepared or run out of order.
var ErrLifecycle = errors.New("invalid instruction lifecycle transition")

// State is the lifecycle position of an Instruction.
type State int

const (
	// StateParsed is the state of a freshly parsed instruction.
	StateParsed State = iota

	// StatePrepared means the type was found and the options resolved.
	StatePrepared

	// StateExecuted means Run returned.
	StateExecuted
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StatePrepared:
		return "prepared"
	case StateExecuted:
		return "executed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Instruction binds a parsed line to its registered type.
type Instruction struct {
	line    int
	parsed  Parsed
	kind    Type
	options Options
	state   State
	status  Status
}

// New parses a script line. line is the 1-based line number in the script.
func New(line int, text string) *Instruction {
	return &Instruction{
		line:   line,
		parsed: Parse(text),
		state:  StateParsed,
	}
}

// Prepare looks the action up in the registry and resolves the clauses into
// options. Canonicalization never runs for an unknown action.
func (i *Instruction) Prepare(reg *Registry) error {
	if i.state != StateParsed {
		return fmt.Errorf("%w: prepare from state %s", ErrLifecycle, i.state)
	}

	t, ok := reg.Lookup(i.parsed.Action)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, i.parsed.Action)
	}

	i.kind = t
	i.options = Resolve(t, i.parsed.Clauses)
	i.state = StatePrepared

	return nil
}

// Run executes the prepared instruction once. The options handed to the type
// are a copy, so a type cannot alter what the instruction reports.
func (i *Instruction) Run(ctx context.Context, args GlobalArgs) (Status, error) {
	if i.state != StatePrepared {
		return StatusFailure, fmt.Errorf("%w: run from state %s", ErrLifecycle, i.state)
	}

	status, err := i.kind.Run(ctx, i.options.Clone(), args)
	if err != nil {
		status = StatusFailure
	} else if verr := status.Validate(); verr != nil {
		status, err = StatusFailure, verr
	}

	i.state = StateExecuted
	i.status = status

	return status, err
}

// Line returns the 1-based line number in the script.
func (i *Instruction) Line() int {
	return i.line
}

// Action returns the parsed action.
func (i *Instruction) Action() string {
	return i.parsed.Action
}

// Source returns the line text the instruction was parsed from.
func (i *Instruction) Source() string {
	return i.parsed.Source
}

// Parsed returns the parse result.
func (i *Instruction) Parsed() Parsed {
	return i.parsed
}

// Type returns the registered type, or nil before Prepare succeeded.
func (i *Instruction) Type() Type {
	return i.kind
}

// Options returns a copy of the resolved options, or nil before Prepare succeeded.
func (i *Instruction) Options() Options {
	if i.options == nil {
		return nil
	}
	return i.options.Clone()
}

// State returns the lifecycle state.
func (i *Instruction) State() State {
	return i.state
}

// Status returns the run outcome. It is meaningful only in StateExecuted.
func (i *Instruction) Status() Status {
	return i.status
}

// MarkFailed moves a prepared instruction to executed with a failure status
// without running it, for failures that happen around the run such as an
// environment that cannot be loaded.
func (i *Instruction) MarkFailed() {
	if i.state == StatePrepared {
		i.state = StateExecuted
		i.status = StatusFailure
	}
}
