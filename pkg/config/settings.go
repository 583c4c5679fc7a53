package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wpinstructions/wpinstructions/pkg/instruction"
	"github.com/wpinstructions/wpinstructions/pkg/telemetry"
)

// DefaultFile is the settings file looked up in the working directory.
const DefaultFile = ".wpinstructions.yaml"

// DefaultScript is the instruction file run when none is given.
const DefaultScript = "WPInstructions"

// Settings is the configuration of the wpinstructions CLI.
type Settings struct {
	Script    string          `yaml:"script" validate:"required"`
	WPCli     string          `yaml:"wp_cli" validate:"required"`
	Runner    RunnerSettings  `yaml:"runner"`
	WordPress WordPress       `yaml:"wordpress"`
	History   HistorySettings `yaml:"history"`
	Policy    string          `yaml:"policy"` // comma separated files, directories or builtin:<name>
	Logging   LoggingSettings `yaml:"logging"`
	Metrics   MetricsSettings `yaml:"metrics"`
	Tracing   TracingSettings `yaml:"tracing"`
}

// RunnerSettings configures how commands are executed.
type RunnerSettings struct {
	Isolate   bool          `yaml:"isolate"`
	Path      string        `yaml:"path" validate:"required_if=Isolate true"`
	Timeout   time.Duration `yaml:"timeout" validate:"gte=0"`
	AllowRoot bool          `yaml:"allow_root"`
	SSH       SSHSettings   `yaml:"ssh"`
}

// SSHSettings points the isolated runner at a remote host. An empty Host
// keeps the runner local.
type SSHSettings struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User       string `yaml:"user" validate:"required_with=Host"`
	Password   string `yaml:"password"`
	Key        string `yaml:"key"`
	KnownHosts string `yaml:"known_hosts"`
	Insecure   bool   `yaml:"insecure"`
	// Upload copies the local runner binary (Runner.Path) to the host
	// before it starts. Otherwise RemotePath must already exist there.
	Upload     bool   `yaml:"upload"`
	RemotePath string `yaml:"remote_path"`
}

// Remote reports whether the runner is started over SSH.
func (s SSHSettings) Remote() bool {
	return s.Host != ""
}

// WordPress holds defaults for the arguments of a run.
type WordPress struct {
	Path             string `yaml:"path"`
	DBHost           string `yaml:"db_host"`
	ConfigDBHost     string `yaml:"config_db_host"`
	ConfigDBName     string `yaml:"config_db_name"`
	ConfigDBUser     string `yaml:"config_db_user"`
	ConfigDBPassword string `yaml:"config_db_password"`
	SiteURL          string `yaml:"site_url" validate:"omitempty,url"`
	HomeURL          string `yaml:"home_url" validate:"omitempty,url"`
}

// HistorySettings configures the run history database.
type HistorySettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// LoggingSettings configures logging.
type LoggingSettings struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output"`
}

// MetricsSettings configures the metrics textfile.
type MetricsSettings struct {
	File      string `yaml:"file"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Default returns the settings used when no file is present.
func Default() *Settings {
	return &Settings{
		Script: DefaultScript,
		WPCli:  "wp",
		Runner: RunnerSettings{
			Path: "wp-runner",
		},
		History: HistorySettings{
			Path: filepath.Join(".wpinstructions", "history.db"),
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsSettings{
			Namespace: "wpinstructions",
		},
		Tracing: TracingSettings{
			Exporter:     "stdout",
			Insecure:     true,
			SamplingRate: 1,
		},
	}
}

// Loader reads settings files.
type Loader struct {
	schema   *Schema
	validate *validator.Validate
}

// NewLoader creates a loader with the embedded schema.
func NewLoader() (*Loader, error) {
	schema, err := NewSchema()
	if err != nil {
		return nil, err
	}
	return &Loader{
		schema:   schema,
		validate: validator.New(),
	}, nil
}

// Load reads the settings file at path on top of the defaults. An empty
// path loads DefaultFile if it exists, and the defaults otherwise.
func (l *Loader) Load(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			s := Default()
			return s, l.Validate(s)
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	return l.Parse(path, data)
}

// Parse decodes a settings document named filename on top of the defaults.
func (l *Loader) Parse(filename string, data []byte) (*Settings, error) {
	if err := l.schema.CheckYAML(filename, data); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", filename, err)
	}

	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}

	if err := l.Validate(s); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", filename, err)
	}
	return s, nil
}

// Validate checks the struct constraints of s.
func (l *Loader) Validate(s *Settings) error {
	if err := l.validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			out := make(ValidationErrors, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				out = append(out, ValidationError{
					Path:    fieldPath(fe.Namespace()),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
			return out
		}
		return err
	}
	return nil
}

// fieldPath turns "Settings.Runner.Path" into "Runner.Path".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// GlobalArgs returns the run arguments configured in the settings file.
func (s *Settings) GlobalArgs() instruction.GlobalArgs {
	return instruction.GlobalArgs{
		Path:             s.WordPress.Path,
		DBHost:           s.WordPress.DBHost,
		ConfigDBHost:     s.WordPress.ConfigDBHost,
		ConfigDBName:     s.WordPress.ConfigDBName,
		ConfigDBUser:     s.WordPress.ConfigDBUser,
		ConfigDBPassword: s.WordPress.ConfigDBPassword,
		SiteURL:          s.WordPress.SiteURL,
		HomeURL:          s.WordPress.HomeURL,
	}
}

// PolicyPaths splits the comma separated policy setting.
func (s *Settings) PolicyPaths() []string {
	var paths []string
	for _, p := range strings.Split(s.Policy, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Telemetry converts the settings to a telemetry configuration.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version

	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format
	cfg.Logging.Output = s.Logging.Output

	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.Insecure = s.Tracing.Insecure
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate

	cfg.Metrics.Enabled = s.Metrics.File != ""
	cfg.Metrics.Namespace = s.Metrics.Namespace
	cfg.Metrics.TextfilePath = s.Metrics.File

	return cfg
}
