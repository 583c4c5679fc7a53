package handlers

import (
	"context"
	"fmt"

	"github.com/wpinstructions/wpinstructions/pkg/runner/protocol"
)

// DefaultWPBinary is the wp-cli executable looked up in PATH.
const DefaultWPBinary = "wp"

// WPHandler runs wp-cli against a WordPress path.
type WPHandler struct {
	Exec ExecHandler
}

// Handle runs wp-cli with params.Args, pinned to params.Path.
func (h *WPHandler) Handle(ctx context.Context, commandID string, params *protocol.WPParams, eventCh chan<- *protocol.EventMessage) (*protocol.ExecResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return h.Exec.Handle(ctx, commandID, &protocol.ExecParams{
		Command:     binary(params),
		Args:        WPArgs(params),
		WorkDir:     params.Path,
		Env:         params.Env,
		StreamLines: true,
	}, eventCh)
}

// WPArgs returns the full wp-cli argument list for params.
func WPArgs(params *protocol.WPParams) []string {
	args := make([]string, 0, len(params.Args)+2)
	args = append(args, params.Args...)
	args = append(args, fmt.Sprintf("--path=%s", params.Path))
	if params.AllowRoot {
		args = append(args, "--allow-root")
	}
	return args
}

func binary(params *protocol.WPParams) string {
	if params.Binary != "" {
		return params.Binary
	}
	return DefaultWPBinary
}
