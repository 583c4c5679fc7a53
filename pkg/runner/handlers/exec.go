// Package handlers implements the commands the runner can execute.
package handlers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/wpinstructions/wpinstructions/pkg/runner/protocol"
)

// ExecHandler runs programs.
type ExecHandler struct{}

// Handle runs the program described by params. A non-zero exit code is
// reported in the result, not as an error. When StreamLines is set and
// eventCh is non-nil, every stdout line is also sent as an info event and
// every stderr line as a warn event.
func (h *ExecHandler) Handle(ctx context.Context, commandID string, params *protocol.ExecParams, eventCh chan<- *protocol.EventMessage) (*protocol.ExecResult, error) {
	if params.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	var cmd *exec.Cmd
	if len(params.Args) > 0 {
		cmd = exec.CommandContext(ctx, params.Command, params.Args...)
	} else {
		shell := params.Shell
		if shell == "" {
			shell = "/bin/sh"
		}
		cmd = exec.CommandContext(ctx, shell, "-c", params.Command)
	}

	if params.WorkDir != "" {
		cmd.Dir = params.WorkDir
	}

	if len(params.Env) > 0 {
		keys := make([]string, 0, len(params.Env))
		for k := range params.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		env := os.Environ()
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, params.Env[k]))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	if params.StreamLines && eventCh != nil {
		outR, outW := io.Pipe()
		errR, errW := io.Pipe()
		cmd.Stdout = io.MultiWriter(&stdout, outW)
		cmd.Stderr = io.MultiWriter(&stderr, errW)

		wg.Add(2)
		go streamLines(&wg, outR, commandID, "info", eventCh)
		go streamLines(&wg, errR, commandID, "warn", eventCh)
		defer func() {
			outW.Close()
			errW.Close()
			wg.Wait()
		}()
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()

	result := &protocol.ExecResult{
		Duration: time.Since(start).Seconds(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}

func streamLines(wg *sync.WaitGroup, r io.Reader, commandID, level string, eventCh chan<- *protocol.EventMessage) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		eventCh <- &protocol.EventMessage{
			CommandID: commandID,
			Level:     level,
			Message:   sc.Text(),
		}
	}
	// drain so the writer never blocks
	_, _ = io.Copy(io.Discard, r)
}
