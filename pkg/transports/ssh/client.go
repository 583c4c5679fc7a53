package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is one SSH connection to a host.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewClient validates config and returns an unconnected client.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Address()).Logger(),
	}, nil
}

// Connect dials the host. Connecting a connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return c.fail("connect", err, true)
	}

	address := c.config.Address()
	c.logger.Debug().Msg("Establishing SSH connection")

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return c.fail("connect", err, false)
	}

	// The handshake honours ctx through the connection deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return c.fail("handshake", err, true)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.logger.Info().Msg("SSH connection established")
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return c.fail("disconnect", err, false)
	}
	return nil
}

func (c *Client) conn() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, c.fail("session", ErrNotConnected, false)
	}
	return c.client, nil
}

// NewSession opens a session on the connection.
func (c *Client) NewSession() (*ssh.Session, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, c.fail("session", err, false)
	}
	return session, nil
}

func (c *Client) sftp() (*sftp.Client, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, c.fail("sftp", err, false)
	}
	return sc, nil
}

// Upload copies the local file to remotePath over SFTP and sets mode.
// Missing remote directories are created.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	start := time.Now()

	local, err := os.Open(localPath)
	if err != nil {
		return c.fail("upload", fmt.Errorf("failed to open local file: %w", err), false)
	}
	defer local.Close()

	sc, err := c.sftp()
	if err != nil {
		return err
	}
	defer sc.Close()

	if err := sc.MkdirAll(path.Dir(remotePath)); err != nil {
		return c.fail("upload", fmt.Errorf("failed to create remote directory: %w", err), false)
	}

	remote, err := sc.Create(remotePath)
	if err != nil {
		return c.fail("upload", fmt.Errorf("failed to create remote file: %w", err), false)
	}
	defer remote.Close()

	n, err := copyWithContext(ctx, remote, local)
	if err != nil {
		return c.fail("upload", fmt.Errorf("failed to copy file: %w", err), false)
	}

	if err := sc.Chmod(remotePath, mode); err != nil {
		return c.fail("upload", fmt.Errorf("failed to set file mode: %w", err), false)
	}

	c.logger.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", n).
		Dur("duration", time.Since(start)).
		Msg("File uploaded")

	return nil
}

// Remove deletes a remote file over SFTP.
func (c *Client) Remove(remotePath string) error {
	sc, err := c.sftp()
	if err != nil {
		return err
	}
	defer sc.Close()

	if err := sc.Remove(remotePath); err != nil {
		return c.fail("remove", err, false)
	}
	return nil
}

func (c *Client) fail(op string, err error, auth bool) error {
	return &TransportError{Op: op, Host: c.config.Address(), Err: err, Auth: auth}
}

// copyWithContext copies src to dst in chunks, stopping when ctx is done.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
