package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// MaxLineSize bounds a single encoded message. wp-cli output such as plugin
// lists or exports travels inside one DONE line.
const MaxLineSize = 10 << 20

var (
	// ErrEmptyLine is returned for a blank line on the stream.
	ErrEmptyLine = errors.New("empty line")

	// ErrUnexpectedMessage is returned when a message of another type than
	// the one required arrives.
	ErrUnexpectedMessage = errors.New("unexpected message")
)

// Encoder writes one message per line. Writes are serialized so output
// events can be sent while a command is still running.
type Encoder struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
	now func() time.Time
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	buf := bufio.NewWriter(w)
	return &Encoder{
		buf: buf,
		enc: json.NewEncoder(buf),
		now: time.Now,
	}
}

// Encode wraps data in an envelope of type msgType and writes it.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return err
	}

	env := Message{Type: msgType, Timestamp: e.now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		env.Data = raw
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// json.Encoder terminates every value with a newline.
	if err := e.enc.Encode(&env); err != nil {
		return fmt.Errorf("failed to write %s: %w", msgType, err)
	}
	return e.buf.Flush()
}

// EncodeReady sends READY.
func (e *Encoder) EncodeReady(ready *ReadyMessage) error {
	return e.Encode(MessageTypeReady, ready)
}

// EncodeCommand validates cmd and sends it as CMD.
func (e *Encoder) EncodeCommand(cmd *CommandMessage) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	return e.Encode(MessageTypeCommand, cmd)
}

// EncodeEvent validates event and sends it as EVENT.
func (e *Encoder) EncodeEvent(event *EventMessage) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return e.Encode(MessageTypeEvent, event)
}

// EncodeDone sends DONE.
func (e *Encoder) EncodeDone(done *DoneMessage) error {
	return e.Encode(MessageTypeDone, done)
}

// EncodeError sends ERROR.
func (e *Encoder) EncodeError(msg *ErrorMessage) error {
	return e.Encode(MessageTypeError, msg)
}

// EncodeExit sends EXIT.
func (e *Encoder) EncodeExit(exit *ExitMessage) error {
	return e.Encode(MessageTypeExit, exit)
}

// Decoder reads messages written by an Encoder.
type Decoder struct {
	lines *bufio.Scanner
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 64<<10), MaxLineSize)
	return &Decoder{lines: lines}
}

// Decode reads the next envelope. A cleanly closed stream yields io.EOF.
func (d *Decoder) Decode() (*Message, error) {
	if !d.lines.Scan() {
		if err := d.lines.Err(); err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		return nil, io.EOF
	}

	line := d.lines.Bytes()
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}

	msg := new(Message)
	if err := json.Unmarshal(line, msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodeCommand reads the next message and requires it to be a valid CMD.
func (d *Decoder) DecodeCommand() (*CommandMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}

	cmd := new(CommandMessage)
	if err := msg.As(MessageTypeCommand, cmd); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	return cmd, nil
}

// As decodes the payload into target after checking the envelope type.
func (m *Message) As(want MessageType, target interface{}) error {
	if m.Type != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, m.Type, want)
	}
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, target); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", want, err)
	}
	return nil
}

// ParseParams decodes a command payload or result into target.
func ParseParams(params json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("failed to parse params: %w", err)
	}
	return nil
}
