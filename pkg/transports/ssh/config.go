package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the client authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// defaultKeys are tried in order when key auth has no PrivateKeyPath.
var defaultKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Config describes how to reach the host running wp-runner.
type Config struct {
	Host string
	Port int
	User string

	AuthMethod           AuthMethod
	Password             string
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath is checked when StrictHostKeyChecking is set. Without
	// it any host key is accepted.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration
}

// DefaultConfig uses port 22, the user's keys and ~/.ssh/known_hosts.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(sshDir(), "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
	}
}

func sshDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".ssh")
}

// Validate checks c and fills in a default private key for key auth.
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("host is required")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.User == "":
		return errors.New("user is required")
	case c.ConnectionTimeout <= 0:
		return errors.New("connection timeout must be positive")
	case c.StrictHostKeyChecking && c.KnownHostsPath == "":
		return errors.New("known_hosts path is required for strict host key checking")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return errors.New("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			c.PrivateKeyPath = findDefaultKey()
		}
		if c.PrivateKeyPath == "" {
			return errors.New("private key path is required: no key found in ~/.ssh")
		}
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
	return nil
}

func findDefaultKey() string {
	dir := sshDir()
	for _, name := range defaultKeys {
		if path := filepath.Join(dir, name); fileExists(path) {
			return path
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// BuildSSHClientConfig turns c into an ssh.ClientConfig.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// keyboard-interactive covers servers with PasswordAuthentication off
		answer := func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil

	case AuthMethodKey:
		pem, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		var signer ssh.Signer
		if c.PrivateKeyPassphrase == "" {
			signer, err = ssh.ParsePrivateKey(pem)
		} else {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.PrivateKeyPassphrase))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// Address returns host:port, bracketing IPv6 hosts.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
