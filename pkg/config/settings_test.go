package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	return l
}

const fullSettings = `
script: deploy/WPInstructions
wp_cli: /usr/local/bin/wp
runner:
  isolate: true
  path: /usr/local/bin/wp-runner
  timeout: 2m30s
  allow_root: true
  ssh:
    host: wp.example.test
    port: 2222
    user: deploy
    key: ~/.ssh/deploy
    upload: true
wordpress:
  path: /var/www/html
  config_db_host: mysql
  config_db_name: wordpress
  config_db_user: wp
  config_db_password: secret
  site_url: https://example.test
history:
  enabled: true
  path: /var/lib/wpinstructions/history.db
policy: policies/wordpress.rego
logging:
  level: debug
  format: json
metrics:
  file: /var/lib/node_exporter/wp.prom
  namespace: wp
tracing:
  enabled: true
  exporter: otlp
  endpoint: otel:4317
  sampling_rate: 0.5
`

func TestParseFullSettings(t *testing.T) {
	s, err := newTestLoader(t).Parse("settings.yaml", []byte(fullSettings))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if s.Script != "deploy/WPInstructions" || s.WPCli != "/usr/local/bin/wp" {
		t.Errorf("script settings = %q, %q", s.Script, s.WPCli)
	}
	if !s.Runner.Isolate || s.Runner.Timeout != 150*time.Second || !s.Runner.AllowRoot {
		t.Errorf("Runner = %+v", s.Runner)
	}
	if ssh := s.Runner.SSH; !ssh.Remote() || ssh.Port != 2222 || ssh.User != "deploy" || !ssh.Upload {
		t.Errorf("Runner.SSH = %+v", ssh)
	}
	if !s.History.Enabled || s.Policy != "policies/wordpress.rego" {
		t.Errorf("History = %+v, Policy = %q", s.History, s.Policy)
	}
	if s.Tracing.Exporter != "otlp" || s.Tracing.SamplingRate != 0.5 {
		t.Errorf("Tracing = %+v", s.Tracing)
	}

	args := s.GlobalArgs()
	if args.Path != "/var/www/html" || args.ConfigDBPassword != "secret" || args.SiteURL != "https://example.test" {
		t.Errorf("GlobalArgs() = %+v", args)
	}

	tel := s.Telemetry("1.2.3")
	if err := tel.Validate(); err != nil {
		t.Errorf("Telemetry().Validate() error = %v", err)
	}
	if !tel.Metrics.Enabled || tel.Metrics.Namespace != "wp" || tel.Logging.Format != "json" || tel.ServiceVersion != "1.2.3" {
		t.Errorf("Telemetry() = %+v", tel)
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	s, err := newTestLoader(t).Parse("settings.yaml", []byte("policy: deny.rego\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	def := Default()
	if s.Script != def.Script || s.WPCli != def.WPCli || s.Logging != def.Logging || s.Metrics != def.Metrics {
		t.Errorf("defaults lost: %+v", s)
	}
	if s.Telemetry("dev").Metrics.Enabled {
		t.Error("metrics enabled without a file")
	}
}

func TestParseEmptyDocument(t *testing.T) {
	s, err := newTestLoader(t).Parse("settings.yaml", []byte("\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.Script != DefaultScript {
		t.Errorf("Script = %q", s.Script)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantPath string
	}{
		{name: "unknown field", doc: "scrpt: x\n"},
		{name: "unknown nested field", doc: "runner:\n  retries: 3\n"},
		{name: "bad level", doc: "logging:\n  level: loud\n", wantPath: "logging.level"},
		{name: "bad timeout", doc: "runner:\n  timeout: soon\n", wantPath: "runner.timeout"},
		{name: "numeric timeout", doc: "runner:\n  timeout: 30\n", wantPath: "runner.timeout"},
		{name: "sampling rate", doc: "tracing:\n  sampling_rate: 2\n", wantPath: "tracing.sampling_rate"},
		{name: "bad namespace", doc: "metrics:\n  namespace: wp-metrics\n", wantPath: "metrics.namespace"},
		{name: "isolate without path", doc: "runner:\n  isolate: true\n  path: \"\"\n", wantPath: "Runner.Path"},
		{name: "otlp without endpoint", doc: "tracing:\n  exporter: otlp\n", wantPath: "Tracing.Endpoint"},
		{name: "history without path", doc: "history:\n  enabled: true\n  path: \"\"\n", wantPath: "History.Path"},
		{name: "bad url", doc: "wordpress:\n  home_url: not a url\n", wantPath: "WordPress.HomeURL"},
		{name: "ssh port", doc: "runner:\n  ssh:\n    host: wp\n    user: u\n    port: 0\n", wantPath: "runner.ssh.port"},
		{name: "ssh without user", doc: "runner:\n  ssh:\n    host: wp\n", wantPath: "Runner.SSH.User"},
		{name: "bad yaml", doc: "runner: [\n"},
	}

	l := newTestLoader(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse("settings.yaml", []byte(tt.doc))
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if tt.wantPath == "" {
				return
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error %v is not ValidationErrors", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Path == tt.wantPath {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not name %s", verrs, tt.wantPath)
			}
		})
	}
}

func TestPolicyPaths(t *testing.T) {
	tests := []struct {
		policy string
		want   []string
	}{
		{policy: "", want: nil},
		{policy: "deny.rego", want: []string{"deny.rego"}},
		{policy: " policies/ , builtin:pinned-versions,,", want: []string{"policies/", "builtin:pinned-versions"}},
	}
	for _, tt := range tests {
		got := (&Settings{Policy: tt.policy}).PolicyPaths()
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("PolicyPaths(%q) = %q, want %q", tt.policy, got, tt.want)
		}
	}
}

func TestSchemaErrorPosition(t *testing.T) {
	schema, err := NewSchema()
	if err != nil {
		t.Fatal(err)
	}

	err = schema.CheckYAML("site.yaml", []byte("script: WPInstructions\ntracing:\n  sampling_rate: 2\n"))
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		t.Fatalf("CheckYAML() error = %v", err)
	}
	for _, ve := range verrs {
		if ve.File == "site.yaml" && ve.Line == 3 && strings.HasPrefix(ve.Error(), "site.yaml:3:") {
			return
		}
	}
	t.Errorf("no error positioned at site.yaml:3 in %v", verrs)
}

func TestLoad(t *testing.T) {
	l := newTestLoader(t)

	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(path, []byte("wp_cli: wp-cli.phar\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		s, err := l.Load(path)
		if err != nil || s.WPCli != "wp-cli.phar" {
			t.Errorf("Load() = %+v, %v", s, err)
		}
	})

	t.Run("explicit missing file", func(t *testing.T) {
		if _, err := l.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("Load() expected error")
		}
	})

	t.Run("default file absent", func(t *testing.T) {
		t.Chdir(t.TempDir())
		s, err := l.Load("")
		if err != nil || s.Script != DefaultScript {
			t.Errorf("Load() = %+v, %v", s, err)
		}
	})

	t.Run("default file present", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, DefaultFile), []byte("script: site.wpi\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Chdir(dir)
		s, err := l.Load("")
		if err != nil || s.Script != "site.wpi" {
			t.Errorf("Load() = %+v, %v", s, err)
		}
	})
}

func TestValidationErrorString(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{Message: "bad"}, "bad"},
		{ValidationError{Path: "runner.timeout", Message: "bad"}, "runner.timeout: bad"},
		{ValidationError{File: "a.yaml", Line: 2, Column: 3, Message: "bad"}, "a.yaml:2:3: bad"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}

	errs := ValidationErrors{{Message: "one"}, {Message: "two"}}
	if errs.Error() != "one; two" {
		t.Errorf("ValidationErrors.Error() = %q", errs.Error())
	}
}
