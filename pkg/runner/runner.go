// Package runner executes wp-cli and helper programs on behalf of
// instruction types.
//
// Two implementations share one interface. Local runs commands in-process.
// Isolated hands every command to a separate wp-runner process over the
// JSON stdio protocol in package protocol, so a misbehaving WordPress
// install cannot take the interpreter down with it.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wpinstructions/wpinstructions/pkg/runner/client"
	"github.com/wpinstructions/wpinstructions/pkg/runner/handlers"
	"github.com/wpinstructions/wpinstructions/pkg/runner/protocol"
)

// Runner executes commands. Implementations block until the command exits.
type Runner interface {
	// WP runs wp-cli against the WordPress install at path.
	WP(ctx context.Context, path string, args ...string) (*Result, error)

	// Exec runs a program in dir.
	Exec(ctx context.Context, dir, name string, args ...string) (*Result, error)
}

// Result is the outcome of a command that ran.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout with surrounding whitespace removed.
func (r *Result) Output() string {
	return strings.TrimSpace(r.Stdout)
}

// ExitError is returned when a command exits with a non-zero code.
type ExitError struct {
	Command string
	Result  *Result
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("%s: exit code %d", e.Command, e.Result.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", e.Command, e.Result.ExitCode, msg)
}

// Config configures both runner implementations.
type Config struct {
	// WPBinary is the wp-cli executable. Defaults to "wp".
	WPBinary string

	// AllowRoot passes --allow-root to wp-cli.
	AllowRoot bool

	// Timeout bounds each command. Zero means no limit.
	Timeout time.Duration

	// Logger receives command output at debug level.
	Logger zerolog.Logger

	// OnCommand is called after every command with its kind ("wp" or
	// "exec"), result and error. result is nil when the command could not
	// be started.
	OnCommand func(kind string, result *Result, err error)
}

func (c *Config) wpParams(path string, args []string) *protocol.WPParams {
	return &protocol.WPParams{
		Binary:    c.WPBinary,
		Path:      path,
		Args:      args,
		AllowRoot: c.AllowRoot,
	}
}

func (c *Config) finish(kind, command string, res *protocol.ExecResult, err error) (*Result, error) {
	var result *Result
	if res != nil {
		result = &Result{
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Duration: time.Duration(res.Duration * float64(time.Second)),
		}
		if err == nil && res.ExitCode != 0 {
			err = &ExitError{Command: command, Result: result}
		}
	}
	if c.OnCommand != nil {
		c.OnCommand(kind, result, err)
	}
	return result, err
}

// logEvents logs forwarded output until eventCh is closed.
func logEvents(log zerolog.Logger, eventCh <-chan *protocol.EventMessage, done chan<- struct{}) {
	defer close(done)
	for evt := range eventCh {
		e := log.Debug()
		if evt.Level == "warn" {
			e = log.Warn()
		}
		e.Str("command_id", evt.CommandID).Msg(evt.Message)
	}
}

// Local runs commands in the current process.
type Local struct {
	cfg  Config
	log  zerolog.Logger
	exec handlers.ExecHandler
	wp   handlers.WPHandler
}

// NewLocal creates an in-process runner.
func NewLocal(cfg Config) *Local {
	return &Local{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "runner").Logger(),
	}
}

// WP runs wp-cli.
func (l *Local) WP(ctx context.Context, path string, args ...string) (*Result, error) {
	params := l.cfg.wpParams(path, args)
	return l.run(ctx, string(protocol.CommandTypeWP), "wp "+strings.Join(args, " "), func(ctx context.Context, id string, ch chan<- *protocol.EventMessage) (*protocol.ExecResult, error) {
		return l.wp.Handle(ctx, id, params, ch)
	})
}

// Exec runs a program.
func (l *Local) Exec(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	params := &protocol.ExecParams{Command: name, Args: args, WorkDir: dir, StreamLines: true}
	return l.run(ctx, string(protocol.CommandTypeExec), name+" "+strings.Join(args, " "), func(ctx context.Context, id string, ch chan<- *protocol.EventMessage) (*protocol.ExecResult, error) {
		return l.exec.Handle(ctx, id, params, ch)
	})
}

func (l *Local) run(ctx context.Context, kind, command string, fn func(context.Context, string, chan<- *protocol.EventMessage) (*protocol.ExecResult, error)) (*Result, error) {
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	id := uuid.New().String()
	l.log.Debug().Str("command_id", id).Str("command", command).Msg("Running command")

	eventCh := make(chan *protocol.EventMessage, 16)
	done := make(chan struct{})
	go logEvents(l.log, eventCh, done)

	res, err := fn(ctx, id, eventCh)
	close(eventCh)
	<-done

	return l.cfg.finish(kind, command, res, err)
}

// Isolated runs commands in a separate wp-runner process, started on first
// use and reused for every later command.
type Isolated struct {
	cfg       Config
	log       zerolog.Logger
	transport client.Transport

	mu     sync.Mutex
	client *client.Client
}

// NewIsolated creates a runner delegating to the process started by transport.
func NewIsolated(cfg Config, transport client.Transport) *Isolated {
	return &Isolated{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "runner").Bool("isolated", true).Logger(),
		transport: transport,
	}
}

// WP runs wp-cli in the runner process.
func (r *Isolated) WP(ctx context.Context, path string, args ...string) (*Result, error) {
	return r.send(ctx, protocol.CommandTypeWP, "wp "+strings.Join(args, " "), r.cfg.wpParams(path, args))
}

// Exec runs a program in the runner process.
func (r *Isolated) Exec(ctx context.Context, dir, name string, args ...string) (*Result, error) {
	return r.send(ctx, protocol.CommandTypeExec, name+" "+strings.Join(args, " "), &protocol.ExecParams{
		Command:     name,
		Args:        args,
		WorkDir:     dir,
		StreamLines: true,
	})
}

func (r *Isolated) send(ctx context.Context, kind protocol.CommandType, command string, params interface{}) (*Result, error) {
	c, err := r.start(ctx)
	if err != nil {
		return r.cfg.finish(string(kind), command, nil, err)
	}

	raw, err := jsonParams(params)
	if err != nil {
		return r.cfg.finish(string(kind), command, nil, err)
	}

	cmd := &protocol.CommandMessage{
		ID:      uuid.New().String(),
		Type:    kind,
		Timeout: int(r.cfg.Timeout / time.Second),
		Params:  raw,
	}
	r.log.Debug().Str("command_id", cmd.ID).Str("command", command).Msg("Sending command")

	eventCh := make(chan *protocol.EventMessage, 16)
	done := make(chan struct{})
	go logEvents(r.log, eventCh, done)

	reply, err := c.Execute(ctx, cmd, eventCh)
	close(eventCh)
	<-done
	if err != nil {
		return r.cfg.finish(string(kind), command, nil, err)
	}

	var res protocol.ExecResult
	if err := protocol.ParseParams(reply.Result, &res); err != nil {
		return r.cfg.finish(string(kind), command, nil, err)
	}
	return r.cfg.finish(string(kind), command, &res, nil)
}

func (r *Isolated) start(ctx context.Context) (*client.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	c, err := client.New(client.Config{Transport: r.transport})
	if err != nil {
		return nil, err
	}
	// the process outlives the command that started it
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		_ = c.Close()
		return nil, err
	}

	if ready := c.Ready(); ready != nil {
		r.log.Debug().Str("version", ready.Version).Int("pid", ready.PID).Msg("Runner ready")
	}
	r.client = c
	return c, nil
}

func jsonParams(params interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}

// Close stops the runner process if it was started.
func (r *Isolated) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
