package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/wpinstructions/wpinstructions/pkg/runner/handlers"
	"github.com/wpinstructions/wpinstructions/pkg/runner/protocol"
)

// Version is reported in the READY message.
const Version = "1.0.0"

// Server answers protocol commands read from an input stream. It is the
// body of the wp-runner binary.
type Server struct {
	encoder *protocol.Encoder
	decoder *protocol.Decoder

	// TTL bounds the lifetime of the server. Zero means no limit.
	TTL time.Duration

	exec handlers.ExecHandler
	wp   handlers.WPHandler

	commands int
}

// NewServer creates a server reading commands from r and answering on w.
func NewServer(r io.Reader, w io.Writer) *Server {
	return &Server{
		encoder: protocol.NewEncoder(w),
		decoder: protocol.NewDecoder(r),
	}
}

// Serve announces READY and processes commands until the input closes, the
// TTL expires or a protocol error occurs. It sends EXIT and returns the exit
// code the process should use.
func (s *Server) Serve(ctx context.Context) int {
	if s.TTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.TTL)
		defer cancel()
	}

	if err := s.sendReady(); err != nil {
		return 1
	}

	reason, code := "completed", 0
	for {
		if ctx.Err() != nil {
			reason = "ttl_expired"
			break
		}

		err := s.processNextCommand(ctx)
		if errors.Is(err, io.EOF) {
			reason = "stdin_closed"
			break
		}
		if err != nil {
			_ = s.encoder.EncodeError(&protocol.ErrorMessage{
				Code:    "PROTOCOL_ERROR",
				Message: err.Error(),
			})
			reason, code = "error", 1
			break
		}
	}

	_ = s.encoder.EncodeExit(&protocol.ExitMessage{
		Reason:        reason,
		ExitCode:      code,
		CommandsTotal: s.commands,
	})
	return code
}

func (s *Server) sendReady() error {
	host, _ := os.Hostname()
	return s.encoder.EncodeReady(&protocol.ReadyMessage{
		Version:  Version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Caps: map[string]bool{
			string(protocol.CommandTypeExec): true,
			string(protocol.CommandTypeWP):   true,
		},
		Metadata: map[string]string{
			"hostname": host,
			"ttl":      s.TTL.String(),
		},
	})
}

// processNextCommand returns an error only for protocol failures. Command
// failures are reported to the peer as ERROR messages.
func (s *Server) processNextCommand(ctx context.Context) error {
	cmd, err := s.decoder.DecodeCommand()
	if err != nil {
		return err
	}
	s.commands++

	cmdCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Second)
		defer cancel()
	}

	eventCh := make(chan *protocol.EventMessage, 16)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for evt := range eventCh {
			_ = s.encoder.EncodeEvent(evt)
		}
	}()

	start := time.Now()
	result, err := s.handleCommand(cmdCtx, cmd, eventCh)
	close(eventCh)
	<-forwarded

	if err != nil {
		return s.encoder.EncodeError(&protocol.ErrorMessage{
			CommandID: cmd.ID,
			Code:      "EXEC_FAILED",
			Message:   err.Error(),
		})
	}

	return s.encoder.EncodeDone(&protocol.DoneMessage{
		CommandID: cmd.ID,
		Result:    result,
		Duration:  time.Since(start).Seconds(),
	})
}

func (s *Server) handleCommand(ctx context.Context, cmd *protocol.CommandMessage, eventCh chan<- *protocol.EventMessage) (json.RawMessage, error) {
	var (
		result *protocol.ExecResult
		err    error
	)

	switch cmd.Type {
	case protocol.CommandTypeExec:
		var params protocol.ExecParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err = s.exec.Handle(ctx, cmd.ID, &params, eventCh)

	case protocol.CommandTypeWP:
		var params protocol.WPParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err = s.wp.Handle(ctx, cmd.ID, &params, eventCh)

	default:
		return nil, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}

	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
