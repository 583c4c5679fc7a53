package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an instruction failure.
type ErrorClass string

const (
	// ErrorClassUnknownType indicates the action has no registered instruction type.
	ErrorClassUnknownType ErrorClass = "unknown_instruction_type"

	// ErrorClassEnvironment indicates the environment required by the
	// instruction could not be loaded.
	ErrorClassEnvironment ErrorClass = "environment"

	// ErrorClassExecution indicates the instruction type reported a failure.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassPolicy indicates a policy denied the instruction before it ran.
	ErrorClassPolicy ErrorClass = "policy"
)

// Common error codes.
const (
	ErrCodeUnknownType       = "UNKNOWN_INSTRUCTION_TYPE"
	ErrCodeEnvLoadFailed     = "ENV_LOAD_FAILED"
	ErrCodeEnvMissing        = "ENV_NOT_CONFIGURED"
	ErrCodeInstructionFailed = "INSTRUCTION_FAILED"
	ErrCodePolicyDenied      = "POLICY_DENIED"
	ErrCodePolicyEvalFailed  = "POLICY_EVALUATION_FAILED"
)

// EngineError is a classified failure tied to the script line that caused it.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Line is the 1-based script line of the failing instruction.
	Line int `json:"line,omitempty"`

	// Source is the text of the failing instruction.
	Source string `json:"source,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Source != "" {
		msg += fmt.Sprintf(" (line %d: %q)", e.Line, e.Source)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewUnknownTypeError creates an unknown instruction type error.
func NewUnknownTypeError(action string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassUnknownType,
		Message: fmt.Sprintf("no instruction type registered for action %q", action),
		Code:    ErrCodeUnknownType,
		Err:     err,
	}
}

// NewEnvironmentError creates an environment load error. When the cause
// carries its own code (see Coder) that code is used.
func NewEnvironmentError(message string, err error) *EngineError {
	code := ErrCodeEnvLoadFailed
	var coded Coder
	if errors.As(err, &coded) {
		code = coded.Code()
	}
	return &EngineError{
		Class:   ErrorClassEnvironment,
		Message: message,
		Code:    code,
		Err:     err,
	}
}

// NewExecutionError creates an instruction execution error.
func NewExecutionError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassExecution,
		Message: message,
		Code:    ErrCodeInstructionFailed,
		Err:     err,
	}
}

// NewPolicyError creates a policy error.
func NewPolicyError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPolicy,
		Message: message,
		Code:    ErrCodePolicyDenied,
		Err:     err,
	}
}

// WithInstruction adds the failing line to an error.
func (e *EngineError) WithInstruction(line int, source string) *EngineError {
	e.Line = line
	e.Source = source
	return e
}

// WithCode sets the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Coder is implemented by collaborator errors that carry a machine-readable code.
type Coder interface {
	Code() string
}

// IsUnknownType returns true if the error is an unknown instruction type error.
func IsUnknownType(err error) bool {
	return hasClass(err, ErrorClassUnknownType)
}

// IsEnvironment returns true if the error is an environment load error.
func IsEnvironment(err error) bool {
	return hasClass(err, ErrorClassEnvironment)
}

// IsExecution returns true if the error is an instruction execution error.
func IsExecution(err error) bool {
	return hasClass(err, ErrorClassExecution)
}

// IsPolicy returns true if the error is a policy error.
func IsPolicy(err error) bool {
	return hasClass(err, ErrorClassPolicy)
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}
