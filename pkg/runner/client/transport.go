package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ProcessTransport runs the runner as a local child process.
type ProcessTransport struct {
	// Path is the runner executable.
	Path string
	// Args are passed to the runner.
	Args []string
	// Stderr receives the runner's diagnostics. Defaults to os.Stderr.
	Stderr io.Writer

	cmd *exec.Cmd
}

// Start launches the runner process.
func (t *ProcessTransport) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	if t.Path == "" {
		return nil, nil, fmt.Errorf("runner path is required")
	}

	cmd := exec.CommandContext(ctx, t.Path, t.Args...)
	if t.Stderr != nil {
		cmd.Stderr = t.Stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", t.Path, err)
	}
	t.cmd = cmd

	return stdin, stdout, nil
}

// Kill stops the process. Close still has to reap it.
func (t *ProcessTransport) Kill() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Kill()
}

// Close waits for the process to exit.
func (t *ProcessTransport) Close() error {
	if t.cmd == nil {
		return nil
	}
	err := t.cmd.Wait()
	t.cmd = nil
	return err
}
