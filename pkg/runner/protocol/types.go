// Package protocol defines the JSON-over-stdio protocol spoken between
// wpinstructions and the isolated wp-runner process.
//
// Every message is one JSON object on its own line. The runner announces
// itself with READY, then answers each CMD with zero or more EVENT messages
// followed by exactly one DONE or ERROR. EXIT is sent before the runner stops.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReady indicates the runner is ready to receive commands
	MessageTypeReady MessageType = "READY"
	// MessageTypeCommand indicates a command from the controller
	MessageTypeCommand MessageType = "CMD"
	// MessageTypeEvent carries one line of command output
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeDone indicates the command ran to completion
	MessageTypeDone MessageType = "DONE"
	// MessageTypeError indicates the command could not be run
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit indicates the runner is exiting
	MessageTypeExit MessageType = "EXIT"
)

// CommandType represents the type of command to execute.
type CommandType string

const (
	// CommandTypeExec executes a program
	CommandTypeExec CommandType = "exec"
	// CommandTypeWP executes a wp-cli command against a WordPress path
	CommandTypeWP CommandType = "wp"
)

// Message is the envelope for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent when the runner is ready to receive commands.
type ReadyMessage struct {
	Version  string            `json:"version"`
	Platform string            `json:"platform"`
	Arch     string            `json:"arch"`
	PID      int               `json:"pid"`
	Caps     map[string]bool   `json:"capabilities"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CommandMessage contains a command to execute.
type CommandMessage struct {
	ID       string            `json:"id"`
	Type     CommandType       `json:"type"`
	Timeout  int               `json:"timeout"` // seconds
	Params   json.RawMessage   `json:"params"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EventMessage carries progress output during command execution.
type EventMessage struct {
	CommandID string `json:"command_id"`
	Level     string `json:"level"` // info, warn, debug
	Message   string `json:"message"`
}

// DoneMessage indicates the command finished. A non-zero exit code is still
// a DONE: the process ran.
type DoneMessage struct {
	CommandID string          `json:"command_id"`
	Result    json.RawMessage `json:"result"`
	Duration  float64         `json:"duration"` // seconds
}

// ErrorMessage indicates the command could not be run at all.
type ErrorMessage struct {
	CommandID string            `json:"command_id,omitempty"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// ExitMessage is sent before the runner terminates.
type ExitMessage struct {
	Reason        string `json:"reason"`
	ExitCode      int    `json:"exit_code"`
	CommandsTotal int    `json:"commands_total"`
}

// ExecParams contains parameters for program execution.
type ExecParams struct {
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	WorkDir     string            `json:"work_dir,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Shell       string            `json:"shell,omitempty"` // used when Args is empty, defaults to /bin/sh
	StreamLines bool              `json:"stream_lines"`
}

// WPParams contains parameters for a wp-cli invocation.
type WPParams struct {
	Binary    string            `json:"binary,omitempty"` // defaults to "wp"
	Path      string            `json:"path"`
	Args      []string          `json:"args"`
	AllowRoot bool              `json:"allow_root,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// ExecResult contains the result of a program execution.
type ExecResult struct {
	ExitCode int     `json:"exit_code"`
	Stdout   string  `json:"stdout,omitempty"`
	Stderr   string  `json:"stderr,omitempty"`
	Duration float64 `json:"duration"`
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeCommand, MessageTypeEvent,
		MessageTypeDone, MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the command type is valid.
func (ct CommandType) Validate() error {
	switch ct {
	case CommandTypeExec, CommandTypeWP:
		return nil
	default:
		return fmt.Errorf("invalid command type: %s", ct)
	}
}

// Validate checks if the command message is valid.
func (cmd *CommandMessage) Validate() error {
	if cmd.ID == "" {
		return fmt.Errorf("command ID is required")
	}
	if err := cmd.Type.Validate(); err != nil {
		return err
	}
	if cmd.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if len(cmd.Params) == 0 {
		return fmt.Errorf("command params are required")
	}
	return nil
}

// Validate checks if the event message is valid.
func (evt *EventMessage) Validate() error {
	if evt.CommandID == "" {
		return fmt.Errorf("command ID is required")
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	switch evt.Level {
	case "info", "warn", "debug":
		return nil
	default:
		return fmt.Errorf("invalid event level: %s", evt.Level)
	}
}

// Validate checks the wp-cli parameters.
func (p *WPParams) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("path is required")
	}
	if len(p.Args) == 0 {
		return fmt.Errorf("wp-cli arguments are required")
	}
	return nil
}
