package policy

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wpinstructions/wpinstructions/pkg/engine"
	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

const noAkismet = `package test.no_akismet

import rego.v1

deny contains msg if {
	input.action == "install plugin"
	input.options["plugin name"] == "akismet"
	msg := "akismet is not allowed"
}

deny contains {"message": "objects carry a message"} if {
	input.action == "install plugin"
	input.options["plugin name"] == "akismet"
}

warn contains msg if {
	input.action == "install plugin"
	msg := sprintf("line %d installs %s", [input.line, input.options["plugin name"]])
}
`

func newTestGate(t *testing.T, policies ...Policy) *Gate {
	t.Helper()
	g, err := NewGate(context.Background(), policies, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	return g
}

func pluginRequest(name string) engine.GateRequest {
	return engine.GateRequest{
		Action:  "install plugin",
		Options: instruction.Options{"plugin name": name, "plugin version": "latest", "plugin url": ""},
		Line:    4,
		Source:  "Install plugin " + name,
		Path:    "/srv/www/",
	}
}

func TestGateCheck(t *testing.T) {
	g := newTestGate(t, Policy{Name: "no-akismet", Rego: noAkismet})

	tests := []struct {
		name string
		req  engine.GateRequest
		want []string
	}{
		{
			name: "denied",
			req:  pluginRequest("akismet"),
			want: []string{"akismet is not allowed", "objects carry a message"},
		},
		{
			name: "warned only",
			req:  pluginRequest("jetpack"),
		},
		{
			name: "other action",
			req:  engine.GateRequest{Action: "activate plugin", Options: instruction.Options{"plugin name": "akismet"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Check(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Check() = %v, want %v", got, tt.want)
			}
			for _, w := range tt.want {
				found := false
				for _, g := range got {
					found = found || g == w
				}
				if !found {
					t.Errorf("Check() = %v, missing %q", got, w)
				}
			}
		})
	}
}

func TestGateEvaluateWarnings(t *testing.T) {
	g := newTestGate(t, Policy{Name: "no-akismet", Rego: noAkismet})

	decision, err := g.Evaluate(context.Background(), pluginRequest("jetpack"))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !decision.Allowed() {
		t.Errorf("Allowed() = false, denials %v", decision.Denials())
	}
	if want := []string{"line 4 installs jetpack"}; !reflect.DeepEqual(decision.Warnings(), want) {
		t.Errorf("Warnings() = %v, want %v", decision.Warnings(), want)
	}
	if decision.Violations[0].Policy != "no-akismet" || decision.Violations[0].Severity != SeverityWarning {
		t.Errorf("violation = %+v", decision.Violations[0])
	}
}

func TestGateMultiplePolicies(t *testing.T) {
	onlyWarn := Policy{Name: "only-warn", Rego: `package test.only_warn

import rego.v1

warn contains "always" if true
`}
	g := newTestGate(t, Policy{Name: "no-akismet", Rego: noAkismet}, onlyWarn)
	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g.Len())
	}

	decision, err := g.Evaluate(context.Background(), pluginRequest("akismet"))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(decision.Denials()) != 2 || len(decision.Warnings()) != 2 {
		t.Errorf("denials = %v, warnings = %v", decision.Denials(), decision.Warnings())
	}
}

func TestNewGateErrors(t *testing.T) {
	tests := []struct {
		name string
		rego string
	}{
		{name: "syntax", rego: "package broken\n\ndeny contains msg if {"},
		{name: "no package", rego: "deny contains \"x\" if true"},
		{name: "unsafe variable", rego: "package unsafe\n\nimport rego.v1\n\ndeny contains msg if { x == 1 }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGate(context.Background(), []Policy{{Name: tt.name, Rego: tt.rego}}, zerolog.Nop())
			if err == nil {
				t.Fatal("NewGate() error = nil")
			}
			if !strings.Contains(err.Error(), tt.name) {
				t.Errorf("error %q does not name the policy", err)
			}
		})
	}
}

func TestGateStrictBuiltinErrors(t *testing.T) {
	g := newTestGate(t, Policy{Name: "numbers", Rego: `package test.numbers

import rego.v1

deny contains "too many" if to_number(input.options.count) > 3
`})

	_, err := g.Check(context.Background(), engine.GateRequest{
		Action:  "install plugin",
		Options: instruction.Options{"count": "many"},
	})
	if err == nil {
		t.Fatal("Check() error = nil, want a builtin error")
	}
	if !strings.Contains(err.Error(), "numbers") {
		t.Errorf("error %q does not name the policy", err)
	}
}

func TestBuiltinPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   string
		req      engine.GateRequest
		wantDeny bool
		wantWarn bool
	}{
		{
			name:   "default password",
			policy: "default-credentials",
			req: engine.GateRequest{Action: "install wordpress", Line: 1, Options: instruction.Options{
				"admin password": "password", "admin email": "ops@example.test",
			}},
			wantDeny: true,
		},
		{
			name:   "placeholder email",
			policy: "default-credentials",
			req: engine.GateRequest{Action: "add site", Line: 2, Options: instruction.Options{
				"admin password": "s3cret", "admin email": "test@test.com",
			}},
			wantWarn: true,
		},
		{
			name:   "credentials of other actions",
			policy: "default-credentials",
			req:    engine.GateRequest{Action: "install plugin", Options: instruction.Options{"admin password": "password"}},
		},
		{
			name:     "latest plugin",
			policy:   "pinned-versions",
			req:      pluginRequest("akismet"),
			wantDeny: true,
		},
		{
			name:   "pinned theme",
			policy: "pinned-versions",
			req:    engine.GateRequest{Action: "install theme", Options: instruction.Options{"theme version": "4.0.0"}},
		},
		{
			name:   "latest from url",
			policy: "pinned-versions",
			req: engine.GateRequest{Action: "install plugin", Options: instruction.Options{
				"plugin version": "latest", "plugin url": "https://example.test/p.zip",
			}},
		},
		{
			name:     "latest core",
			policy:   "pinned-versions",
			req:      engine.GateRequest{Action: "install wordpress", Options: instruction.Options{"version": "latest"}},
			wantDeny: true,
		},
		{
			name:     "plain http",
			policy:   "trusted-sources",
			req:      engine.GateRequest{Action: "install theme", Options: instruction.Options{"theme url": "HTTP://example.test/t.zip"}},
			wantDeny: true,
		},
		{
			name:   "https",
			policy: "trusted-sources",
			req:    engine.GateRequest{Action: "install plugin", Options: instruction.Options{"plugin url": "https://example.test/p.zip"}},
		},
		{
			name:   "git",
			policy: "trusted-sources",
			req:    engine.GateRequest{Action: "install plugin", Options: instruction.Options{"plugin url": "git@github.com:acme/p.git"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Builtin(tt.policy)
			if err != nil {
				t.Fatalf("Builtin() error = %v", err)
			}
			decision, err := newTestGate(t, p).Evaluate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got := len(decision.Denials()) > 0; got != tt.wantDeny {
				t.Errorf("denied = %v, want %v (%v)", got, tt.wantDeny, decision.Violations)
			}
			if got := len(decision.Warnings()) > 0; got != tt.wantWarn {
				t.Errorf("warned = %v, want %v (%v)", got, tt.wantWarn, decision.Violations)
			}
		})
	}
}

func TestBuiltinUnknown(t *testing.T) {
	if _, err := Builtin("nope"); err == nil {
		t.Error("Builtin(nope) error = nil")
	}
	if want := []string{"default-credentials", "pinned-versions", "trusted-sources"}; !reflect.DeepEqual(BuiltinNames(), want) {
		t.Errorf("BuiltinNames() = %v", BuiltinNames())
	}
}

func TestGateInEngine(t *testing.T) {
	reg := instruction.NewRegistry()
	ran := 0
	reg.Register(&instruction.Func{
		Descriptor: instruction.Descriptor{
			Name:           "install plugin",
			DefaultOptions: instruction.Options{"plugin name": "", "plugin version": "latest", "plugin url": ""},
		},
		RunFunc: func(ctx context.Context, opts instruction.Options, args instruction.GlobalArgs) (instruction.Status, error) {
			ran++
			return instruction.StatusSuccess, nil
		},
	})

	eng := engine.New(reg, engine.WithGate(newTestGate(t, Policy{Name: "no-akismet", Rego: noAkismet})))
	report, err := eng.Run(context.Background(), "install plugin where plugin name is jetpack\ninstall plugin where plugin name is akismet\n", instruction.GlobalArgs{})
	if err == nil {
		t.Fatal("Run() error = nil, want a policy error")
	}
	if !errors.Is(err, &engine.EngineError{Class: engine.ErrorClassPolicy, Code: engine.ErrCodePolicyDenied}) {
		t.Errorf("Run() error = %v, want %s", err, engine.ErrCodePolicyDenied)
	}
	if ran != 1 || report.Success {
		t.Errorf("ran = %d, success = %v", ran, report.Success)
	}
}
