package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wpinstructions/wpinstructions/pkg/bridge"
	"github.com/wpinstructions/wpinstructions/pkg/config"
	"github.com/wpinstructions/wpinstructions/pkg/engine"
	"github.com/wpinstructions/wpinstructions/pkg/instruction"
	"github.com/wpinstructions/wpinstructions/pkg/runner"
	"github.com/wpinstructions/wpinstructions/pkg/runner/client"
	"github.com/wpinstructions/wpinstructions/pkg/stores"
	"github.com/wpinstructions/wpinstructions/pkg/telemetry"
	"github.com/wpinstructions/wpinstructions/pkg/transports/ssh"
	"github.com/wpinstructions/wpinstructions/pkg/wordpress"
)

// app holds the collaborators shared by the commands of one invocation.
type app struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	registry  *instruction.Registry
	bridge    *bridge.WordPress
	runner    runner.Runner

	closers []func() error
}

// loadSettings reads the settings file named by --config and applies the
// global flags.
func loadSettings() (*config.Settings, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}

	s, err := loader.Load(configPath)
	if err != nil {
		return nil, err
	}

	if verbose {
		s.Logging.Level = "debug"
	}
	return s, nil
}

// newApp builds telemetry, the environment bridge, the command runner and
// the registry of WordPress actions from s.
func newApp(s *config.Settings) (*app, error) {
	tel, err := telemetry.New(s.Telemetry(appVersion))
	if err != nil {
		return nil, err
	}

	// The global level set at startup would otherwise hide debug output.
	if lvl := tel.Logger.GetLevel(); lvl < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
	}

	a := &app{
		settings:  s,
		telemetry: tel,
		logger:    tel.Logger,
		registry:  instruction.NewRegistry(),
	}

	a.bridge = bridge.New(&bridge.MySQLConnector{}, bridge.WithLogger(a.logger))
	a.closers = append(a.closers, a.bridge.Close)

	cfg := runner.Config{
		WPBinary:  s.WPCli,
		AllowRoot: s.Runner.AllowRoot,
		Timeout:   s.Runner.Timeout,
		Logger:    a.logger,
		OnCommand: tel.Metrics.ObserveCommand,
	}
	switch {
	case s.Runner.SSH.Remote():
		isolated := runner.NewIsolated(cfg, remoteTransport(s.Runner, a.logger))
		a.closers = append(a.closers, isolated.Close)
		a.runner = isolated
	case s.Runner.Isolate:
		isolated := runner.NewIsolated(cfg, &client.ProcessTransport{Path: s.Runner.Path})
		a.closers = append(a.closers, isolated.Close)
		a.runner = isolated
	default:
		a.runner = runner.NewLocal(cfg)
	}

	wordpress.RegisterAll(a.registry, wordpress.Deps{
		Runner: a.runner,
		Env:    a.bridge,
		Logger: a.logger,
	})

	return a, nil
}

// remoteTransport starts wp-runner on the host named by the ssh settings.
func remoteTransport(rs config.RunnerSettings, logger zerolog.Logger) *ssh.RunnerTransport {
	cfg := ssh.DefaultConfig(rs.SSH.Host, rs.SSH.User)
	if rs.SSH.Port != 0 {
		cfg.Port = rs.SSH.Port
	}
	if rs.SSH.Password != "" {
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = rs.SSH.Password
	}
	if rs.SSH.Key != "" {
		cfg.PrivateKeyPath = expandHome(rs.SSH.Key)
	}
	if rs.SSH.KnownHosts != "" {
		cfg.KnownHostsPath = expandHome(rs.SSH.KnownHosts)
	}
	cfg.StrictHostKeyChecking = !rs.SSH.Insecure

	t := &ssh.RunnerTransport{
		Config:     cfg,
		RemotePath: rs.SSH.RemotePath,
		Logger:     logger,
	}
	if rs.SSH.Upload {
		t.LocalBinary = rs.Path
		if found, err := exec.LookPath(rs.Path); err == nil {
			t.LocalBinary = found
		}
	} else if t.RemotePath == "" {
		t.RemotePath = rs.Path
	}
	return t
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// engine creates an engine wired to the bridge, the tracer and the metrics.
func (a *app) engine(opts ...engine.Option) *engine.Engine {
	base := []engine.Option{
		engine.WithEnvironment(a.bridge),
		engine.WithLogger(a.logger),
		engine.WithTracer(a.telemetry.Tracer),
		engine.WithObserver(a.telemetry.Metrics),
	}
	return engine.New(a.registry, append(base, opts...)...)
}

// openHistory opens and migrates the run history database.
func (a *app) openHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := openStore(ctx, a.settings.History.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// close releases everything newApp and openHistory acquired, then flushes
// telemetry.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush telemetry: %w", err))
	}
	return errors.Join(errs...)
}
