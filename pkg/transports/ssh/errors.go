package ssh

import "errors"

// ErrNotConnected is returned for operations on a closed or unconnected client.
var ErrNotConnected = errors.New("not connected")

// TransportError is a failed SSH or SFTP operation against Host.
type TransportError struct {
	Op   string // connect, handshake, session, exec, upload, remove, ...
	Host string
	Err  error

	// Auth is set when the server rejected the credentials or the host key
	// did not match.
	Auth bool
}

func (e *TransportError) Error() string {
	msg := "ssh " + e.Op
	if e.Host != "" {
		msg += " " + e.Host
	}
	return msg + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
