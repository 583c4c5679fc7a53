package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/wpinstructions/wpinstructions/pkg/runner"
)

// testSSHServer is an SSH server that answers "exec" with an in-process
// wp-runner and serves SFTP from the local filesystem.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey

	mu       sync.Mutex
	commands []string
	// seen records whether the exec'd path existed when the runner started.
	seen map[string]os.FileMode
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	hostKey, signer, err := generateTestKey()
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "deploy" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &testSSHServer{
		listener: listener,
		config:   config,
		hostKey:  hostKey,
		seen:     make(map[string]os.FileMode),
	}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })

	return s
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				return
			}
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)

			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			binary := strings.Fields(payload.Command)[0]
			if info, err := os.Stat(binary); err == nil {
				s.seen[binary] = info.Mode().Perm()
			}
			s.mu.Unlock()

			code := runner.NewServer(channel, channel).Serve(context.Background())
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
			return

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)

			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			_ = server.Serve()
			_ = server.Close()
			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) clientConfig(t *testing.T) *Config {
	t.Helper()
	host, port, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig(host, "deploy")
	cfg.Port, _ = strconv.Atoi(port)
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"
	cfg.StrictHostKeyChecking = false
	cfg.ConnectionTimeout = 5 * time.Second
	return cfg
}

func generateTestKey() (ssh.PublicKey, ssh.Signer, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}
	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}
	return publicKey, signer, nil
}

func TestRunnerTransportUploadsAndRuns(t *testing.T) {
	server := newTestSSHServer(t)

	dir := t.TempDir()
	local := filepath.Join(dir, "wp-runner")
	if err := os.WriteFile(local, []byte("#!/bin/sh\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	remote := filepath.Join(dir, "remote", "bin", "wp-runner")

	transport := &RunnerTransport{
		Config:      server.clientConfig(t),
		LocalBinary: local,
		RemotePath:  remote,
		Args:        []string{"-ttl", "10m"},
		Logger:      zerolog.Nop(),
	}
	r := runner.NewIsolated(runner.Config{Logger: zerolog.Nop()}, transport)

	res, err := r.Exec(context.Background(), dir, "echo", "over ssh")
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.Output() != "over ssh" {
		t.Errorf("stdout = %q", res.Stdout)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if want := remote + " -ttl 10m"; len(server.commands) != 1 || server.commands[0] != want {
		t.Errorf("commands = %q, want %q", server.commands, want)
	}
	if mode := server.seen[remote]; mode != 0o755 {
		t.Errorf("uploaded mode = %v, want 0755", mode)
	}
	if _, err := os.Stat(remote); !os.IsNotExist(err) {
		t.Errorf("uploaded runner not removed: %v", err)
	}
}

func TestRunnerTransportPreinstalledRunner(t *testing.T) {
	server := newTestSSHServer(t)

	transport := &RunnerTransport{
		Config:     server.clientConfig(t),
		RemotePath: "/usr/local/bin/wp-runner",
		Logger:     zerolog.Nop(),
	}
	r := runner.NewIsolated(runner.Config{Logger: zerolog.Nop()}, transport)
	defer r.Close()

	if _, err := r.Exec(context.Background(), "", "true"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
}

func TestRunnerTransportErrors(t *testing.T) {
	server := newTestSSHServer(t)

	tests := []struct {
		name      string
		transport func() *RunnerTransport
	}{
		{
			name:      "no config",
			transport: func() *RunnerTransport { return &RunnerTransport{RemotePath: "wp-runner"} },
		},
		{
			name: "no remote path",
			transport: func() *RunnerTransport {
				return &RunnerTransport{Config: server.clientConfig(t), Logger: zerolog.Nop()}
			},
		},
		{
			name: "wrong password",
			transport: func() *RunnerTransport {
				cfg := server.clientConfig(t)
				cfg.Password = "nope"
				return &RunnerTransport{Config: cfg, RemotePath: "wp-runner", Logger: zerolog.Nop()}
			},
		},
		{
			name: "missing local binary",
			transport: func() *RunnerTransport {
				return &RunnerTransport{
					Config:      server.clientConfig(t),
					LocalBinary: filepath.Join(t.TempDir(), "missing"),
					Logger:      zerolog.Nop(),
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := tt.transport()
			if _, _, err := tr.Start(context.Background()); err == nil {
				t.Fatal("Start() error = nil")
			}
			if err := tr.Close(); err != nil {
				t.Errorf("Close() after failed Start = %v", err)
			}
		})
	}
}

func TestClientHostKeyChecking(t *testing.T) {
	server := newTestSSHServer(t)
	addr := server.listener.Addr().String()

	write := func(t *testing.T, key ssh.PublicKey) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "known_hosts")
		line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
		if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("known host", func(t *testing.T) {
		cfg := server.clientConfig(t)
		cfg.StrictHostKeyChecking = true
		cfg.KnownHostsPath = write(t, server.hostKey)

		c, err := NewClient(cfg, zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		_ = c.Close()
	})

	t.Run("changed key", func(t *testing.T) {
		other, _, err := generateTestKey()
		if err != nil {
			t.Fatal(err)
		}
		cfg := server.clientConfig(t)
		cfg.StrictHostKeyChecking = true
		cfg.KnownHostsPath = write(t, other)

		c, err := NewClient(cfg, zerolog.Nop())
		if err != nil {
			t.Fatal(err)
		}
		err = c.Connect(context.Background())
		if err == nil {
			_ = c.Close()
			t.Fatal("Connect() error = nil for a mismatched host key")
		}
		var terr *TransportError
		if !errors.As(err, &terr) || !terr.Auth {
			t.Errorf("Connect() error = %v, want a handshake error", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "key", modify: func(c *Config) { c.PrivateKeyPath = keyPath }},
		{name: "password", modify: func(c *Config) { c.AuthMethod = AuthMethodPassword; c.Password = "x" }},
		{name: "missing host", modify: func(c *Config) { c.Host = "" }, wantErr: "host is required"},
		{name: "bad port", modify: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port"},
		{name: "missing user", modify: func(c *Config) { c.User = "" }, wantErr: "user is required"},
		{name: "no password", modify: func(c *Config) { c.AuthMethod = AuthMethodPassword }, wantErr: "password is required"},
		{name: "missing key file", modify: func(c *Config) { c.PrivateKeyPath = keyPath + ".missing" }, wantErr: "not found"},
		{name: "agent", modify: func(c *Config) { c.AuthMethod = "agent" }, wantErr: "unsupported auth method"},
		{name: "strict without known hosts", modify: func(c *Config) { c.PrivateKeyPath = keyPath; c.KnownHostsPath = "" }, wantErr: "known_hosts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("wp.example.test", "deploy")
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				if _, err := cfg.BuildSSHClientConfig(); err != nil && !strings.Contains(err.Error(), "known_hosts") {
					t.Errorf("BuildSSHClientConfig() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestShellJoin(t *testing.T) {
	tests := []struct {
		words []string
		want  string
	}{
		{words: []string{"/usr/bin/wp-runner", "-ttl", "10m"}, want: "/usr/bin/wp-runner -ttl 10m"},
		{words: []string{"/opt/my runner"}, want: "'/opt/my runner'"},
		{words: []string{"a", "it's"}, want: `a 'it'\''s'`},
		{words: []string{"a", ""}, want: "a ''"},
		{words: []string{"$(rm -rf /)"}, want: "'$(rm -rf /)'"},
	}

	for _, tt := range tests {
		if got := shellJoin(tt.words); got != tt.want {
			t.Errorf("shellJoin(%q) = %q, want %q", tt.words, got, tt.want)
		}
	}
}

func TestAddress(t *testing.T) {
	if got := (&Config{Host: "::1", Port: 2222}).Address(); got != "[::1]:2222" {
		t.Errorf("Address() = %q", got)
	}
	if got := DefaultConfig("wp.example.test", "u").Address(); got != "wp.example.test:22" {
		t.Errorf("Address() = %q", got)
	}
}
