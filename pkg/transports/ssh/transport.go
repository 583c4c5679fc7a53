// Package ssh starts wp-runner on another host so wpinstructions can drive a
// remote WordPress install. RunnerTransport implements client.Transport from
// package runner/client: the runner's stdin and stdout are the stdin and
// stdout of an SSH session.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// DefaultRemoteDir is where an uploaded runner is placed when RemotePath is empty.
const DefaultRemoteDir = "/tmp"

// RunnerTransport runs wp-runner over SSH.
type RunnerTransport struct {
	// Config describes the host.
	Config *Config

	// LocalBinary, when set, is uploaded over SFTP before the runner starts
	// and removed again by Close.
	LocalBinary string

	// RemotePath is the runner executable on the host. With LocalBinary set
	// it defaults to a unique name under DefaultRemoteDir.
	RemotePath string

	// Args are passed to the runner.
	Args []string

	// Stderr receives the runner's diagnostics. Defaults to os.Stderr.
	Stderr io.Writer

	// Logger receives connection and upload logs.
	Logger zerolog.Logger

	client   *Client
	session  *ssh.Session
	uploaded string
}

// Start connects, uploads the runner if requested, and starts it.
func (t *RunnerTransport) Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	if t.Config == nil {
		return nil, nil, fmt.Errorf("ssh config is required")
	}

	client, err := NewClient(t.Config, t.Logger)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}
	t.client = client

	remote := t.RemotePath
	if t.LocalBinary != "" {
		if remote == "" {
			remote = DefaultRemoteDir + "/wp-runner-" + uuid.New().String()
		}
		if err := client.Upload(ctx, t.LocalBinary, remote, 0o755); err != nil {
			_ = t.cleanup()
			return nil, nil, err
		}
		t.uploaded = remote
	}
	if remote == "" {
		_ = t.cleanup()
		return nil, nil, fmt.Errorf("remote runner path is required")
	}

	session, err := client.NewSession()
	if err != nil {
		_ = t.cleanup()
		return nil, nil, err
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		_ = t.cleanup()
		return nil, nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		_ = t.cleanup()
		return nil, nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	if t.Stderr != nil {
		session.Stderr = t.Stderr
	} else {
		session.Stderr = os.Stderr
	}

	command := shellJoin(append([]string{remote}, t.Args...))
	if err := session.Start(command); err != nil {
		_ = session.Close()
		_ = t.cleanup()
		return nil, nil, &TransportError{Op: "exec", Host: t.Config.Address(), Err: err}
	}
	t.session = session

	t.Logger.Debug().Str("command", command).Msg("Remote runner started")

	return stdin, io.NopCloser(stdout), nil
}

// Kill signals the runner and closes its session. Close still removes the
// uploaded binary and the connection.
func (t *RunnerTransport) Kill() error {
	if t.session == nil {
		return nil
	}
	_ = t.session.Signal(ssh.SIGKILL)
	return t.session.Close()
}

// Close waits for the runner to exit, removes an uploaded binary and closes
// the connection.
func (t *RunnerTransport) Close() error {
	var errs []error
	if t.session != nil {
		if err := t.session.Wait(); err != nil {
			errs = append(errs, &TransportError{Op: "wait", Host: t.Config.Address(), Err: err})
		}
		t.session = nil
	}
	if err := t.cleanup(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (t *RunnerTransport) cleanup() error {
	if t.client == nil {
		return nil
	}
	var errs []error
	if t.uploaded != "" {
		if err := t.client.Remove(t.uploaded); err != nil {
			errs = append(errs, err)
		}
		t.uploaded = ""
	}
	if err := t.client.Close(); err != nil {
		errs = append(errs, err)
	}
	t.client = nil
	return errors.Join(errs...)
}

// shellJoin quotes words for a POSIX shell.
func shellJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		if w != "" && strings.IndexFunc(w, needsQuote) < 0 {
			quoted[i] = w
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(w, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:@%+,", r)
}
