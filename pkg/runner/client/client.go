// Package client talks to a wp-runner process over its JSON stdio protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/wpinstructions/wpinstructions/pkg/runner/protocol"
)

// Transport starts a runner process and exposes its standard streams.
type Transport interface {
	// Start launches the runner.
	Start(ctx context.Context) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
	// Close waits for the runner to exit after stdin was closed.
	Close() error
}

// Killer is implemented by transports that can stop a runner which does not
// exit when its stdin closes.
type Killer interface {
	Kill() error
}

var (
	// ErrClosed is returned once Close was called.
	ErrClosed = errors.New("client is closed")

	// ErrNotStarted is returned by Execute before a successful Start.
	ErrNotStarted = errors.New("runner not started")
)

// CommandError is an ERROR answer from the runner: the command could not be
// run at all.
type CommandError struct {
	CommandID string
	Code      string
	Message   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %s - %s", e.CommandID, e.Code, e.Message)
}

// Config contains client configuration options.
type Config struct {
	Transport Transport

	// StartupTimeout bounds the wait for READY. Defaults to 10 seconds.
	StartupTimeout time.Duration
}

type inbound struct {
	msg *protocol.Message
	err error
}

// Client drives one runner process, one command at a time.
type Client struct {
	cfg Config

	mu      sync.Mutex
	encoder *protocol.Encoder
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	msgs    chan inbound
	quit    chan struct{}
	ready   *protocol.ReadyMessage
	broken  error
	started bool
	closed  bool
}

// New creates a client. The runner is not started until Start is called.
func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg}, nil
}

// Start launches the runner and waits for its READY message. Starting a
// started client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrClosed
	case c.started:
		return nil
	}

	stdin, stdout, err := c.cfg.Transport.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start runner: %w", err)
	}
	c.stdin, c.stdout = stdin, stdout
	c.encoder = protocol.NewEncoder(stdin)
	c.msgs = make(chan inbound, 16)
	c.quit = make(chan struct{})
	go read(protocol.NewDecoder(stdout), c.msgs, c.quit)

	ready, err := c.awaitReady(ctx)
	if err != nil {
		c.abort()
		return err
	}
	c.ready = ready
	c.started = true
	return nil
}

func (c *Client) awaitReady(ctx context.Context) (*protocol.ReadyMessage, error) {
	timer := time.NewTimer(c.cfg.StartupTimeout)
	defer timer.Stop()

	var in inbound
	select {
	case in = <-c.msgs:
	case <-timer.C:
		return nil, fmt.Errorf("no READY from runner within %s", c.cfg.StartupTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if in.err != nil {
		return nil, fmt.Errorf("failed to receive READY: %w", in.err)
	}

	ready := new(protocol.ReadyMessage)
	if err := in.msg.As(protocol.MessageTypeReady, ready); err != nil {
		return nil, fmt.Errorf("failed to receive READY: %w", err)
	}
	return ready, nil
}

// abort tears down a runner that never became ready so the next Start
// launches a fresh one.
func (c *Client) abort() {
	close(c.quit)
	_ = c.stdin.Close()
	if k, ok := c.cfg.Transport.(Killer); ok {
		_ = k.Kill()
	}
	_ = c.cfg.Transport.Close()
	_ = c.stdout.Close()
	c.stdin, c.stdout, c.encoder, c.msgs, c.quit = nil, nil, nil, nil, nil
}

// read forwards decoded messages until the stream fails, then repeats the
// failure to every later receive. After quit it only drains the stream so
// the runner never blocks writing EXIT.
func read(dec *protocol.Decoder, msgs chan<- inbound, quit <-chan struct{}) {
	for {
		msg, err := dec.Decode()
		if err != nil {
			for {
				select {
				case msgs <- inbound{err: err}:
				case <-quit:
					return
				}
			}
		}
		select {
		case msgs <- inbound{msg: msg}:
		case <-quit:
		}
	}
}

// Execute sends cmd and waits for its DONE or ERROR. Output events are
// forwarded to eventCh when it is non-nil. A cancelled ctx abandons the
// command and leaves the client unusable, since the runner may still answer.
func (c *Client) Execute(ctx context.Context, cmd *protocol.CommandMessage, eventCh chan<- *protocol.EventMessage) (*protocol.DoneMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return nil, ErrClosed
	case !c.started:
		return nil, ErrNotStarted
	case c.broken != nil:
		return nil, fmt.Errorf("runner abandoned: %w", c.broken)
	}

	if err := c.encoder.EncodeCommand(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	for {
		var in inbound
		select {
		case in = <-c.msgs:
		case <-ctx.Done():
			c.broken = ctx.Err()
			return nil, ctx.Err()
		}
		if in.err != nil {
			return nil, fmt.Errorf("failed to read response: %w", in.err)
		}

		done, err := c.handle(cmd.ID, in.msg, eventCh)
		if done != nil || err != nil {
			return done, err
		}
	}
}

// handle processes one answer to command id. It returns nil, nil for output
// events.
func (c *Client) handle(id string, msg *protocol.Message, eventCh chan<- *protocol.EventMessage) (*protocol.DoneMessage, error) {
	switch msg.Type {
	case protocol.MessageTypeEvent:
		event := new(protocol.EventMessage)
		if err := msg.As(protocol.MessageTypeEvent, event); err != nil {
			return nil, err
		}
		if eventCh != nil {
			eventCh <- event
		}
		return nil, nil

	case protocol.MessageTypeDone:
		done := new(protocol.DoneMessage)
		if err := msg.As(protocol.MessageTypeDone, done); err != nil {
			return nil, err
		}
		if done.CommandID != id {
			return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", id, done.CommandID)
		}
		return done, nil

	case protocol.MessageTypeError:
		answer := new(protocol.ErrorMessage)
		if err := msg.As(protocol.MessageTypeError, answer); err != nil {
			return nil, err
		}
		if answer.CommandID != "" && answer.CommandID != id {
			return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", id, answer.CommandID)
		}
		return nil, &CommandError{CommandID: id, Code: answer.Code, Message: answer.Message}

	case protocol.MessageTypeExit:
		return nil, errors.New("runner exited unexpectedly")

	default:
		return nil, fmt.Errorf("%w: %s while waiting for %s", protocol.ErrUnexpectedMessage, msg.Type, id)
	}
}

// Ready returns the READY message received during startup.
func (c *Client) Ready() *protocol.ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Close closes the runner's stdin, which makes it exit, and waits for it.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.quit != nil {
		close(c.quit)
	}

	var errs []error
	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
		}
	}
	if c.started {
		if err := c.cfg.Transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("runner did not exit cleanly: %w", err))
		}
	}
	if c.stdout != nil {
		if err := c.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
			errs = append(errs, fmt.Errorf("failed to close stdout: %w", err))
		}
	}
	return errors.Join(errs...)
}
